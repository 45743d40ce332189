package meta

// TableNotFoundError is returned by Open when the expected meta folder
// markers are absent at the base path.
type TableNotFoundError string

func (e TableNotFoundError) Error() string {
	return "table not found at " + string(e)
}

// ConfigMismatchError is returned when caller-supplied configuration
// conflicts with the persisted table configuration.
type ConfigMismatchError string

func (e ConfigMismatchError) Error() string {
	return "table config mismatch: " + string(e)
}

// UnsupportedTableTypeError is returned by table-type-dependent projections
// for types they do not recognize.
type UnsupportedTableTypeError string

func (e UnsupportedTableTypeError) Error() string {
	return "unsupported table type: " + string(e)
}
