package txn

// LockTimeoutError means the table lock could not be acquired within the
// configured bound. Distinct from a data conflict: callers may retry
// acquisition regardless of whether the underlying write conflicts.
type LockTimeoutError string

func (e LockTimeoutError) Error() string {
	return "lock acquisition timed out: " + string(e)
}
