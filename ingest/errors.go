package ingest

// CheckpointNotFoundError means the table has committed history but no
// instant carries a resumable checkpoint, and no initial-checkpoint provider
// is configured. Requires operator intervention.
type CheckpointNotFoundError string

func (e CheckpointNotFoundError) Error() string {
	return "no resumable checkpoint found: " + string(e)
}

// TableConfigConflictError is a non-retryable cycle failure caused by write
// configuration that conflicts with the persisted table config.
type TableConfigConflictError string

func (e TableConfigConflictError) Error() string {
	return "write config conflicts with table config: " + string(e)
}

// SchemaCompatibilityError means the target schema rejected the incoming
// batch under non-reconciling configuration. Fatal to the cycle: continuous
// mode surfaces it and stops rather than silently dropping data.
type SchemaCompatibilityError string

func (e SchemaCompatibilityError) Error() string {
	return "incompatible batch schema: " + string(e)
}
