package timeline

// ConflictError signals that the expected instant state was not observed at
// transition time: another writer already moved the instant, or an instant
// with the same timestamp already completed. Recoverable by re-snapshotting
// and retrying under optimistic concurrency control.
type ConflictError string

func (e ConflictError) Error() string {
	return "timeline conflict: " + string(e)
}

// InstantNotFoundError is returned when an operation references an instant
// that has no file on the timeline.
type InstantNotFoundError string

func (e InstantNotFoundError) Error() string {
	return "instant not found on timeline: " + string(e)
}

// CorruptMetadataError is returned when a completed instant's metadata
// payload cannot be decoded.
type CorruptMetadataError string

func (e CorruptMetadataError) Error() string {
	return "corrupt instant metadata: " + string(e)
}
