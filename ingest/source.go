// Package ingest drives continuous ingestion against a table: fetch from a
// pluggable source, transform, commit a new table version carrying a
// resumable checkpoint, and coordinate with concurrently scheduled table
// services under optimistic concurrency control.
package ingest

import (
	"github.com/lakeline/lakeline/timeline"
)

// Checkpoint is an opaque token identifying how much of the upstream source
// has been consumed. Persisted in commit metadata under
// timeline.CheckpointKey.
type Checkpoint string

// Record is one row of source data. The physical write path is an external
// collaborator; the orchestrator only counts and forwards records.
type Record map[string]interface{}

// Batch is the unit a source hands to the orchestrator: the records read
// plus the checkpoint describing the source position after them.
type Batch struct {
	Records    []Record
	Checkpoint Checkpoint
	// Schema optionally fingerprints the batch; compared against the target
	// schema when schema reconciliation is disabled.
	Schema string
}

func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Records) == 0
}

// Source pulls the next batch after lastCheckpoint, reading at most limit
// records. Returning an empty batch with the same checkpoint means no new
// data.
type Source interface {
	FetchNext(lastCheckpoint Checkpoint, limit int64) (*Batch, error)
}

// Transformer rewrites a batch. Transformers are applied as a chain in
// configuration order.
type Transformer interface {
	Apply(batch *Batch) (*Batch, error)
}

// SchemaProvider exposes the source and target schemas for a pipeline.
type SchemaProvider interface {
	SourceSchema() string
	TargetSchema() string
}

// CheckpointProvider supplies the checkpoint for a cold start when the
// timeline carries none.
type CheckpointProvider interface {
	InitialCheckpoint() (Checkpoint, error)
}

// BatchWriter is the data write path: it persists the batch's records for
// the given instant time and returns per-partition write statistics. Row
// serialization and file formats live behind this interface.
type BatchWriter interface {
	Write(instantTime string, batch *Batch) (map[string][]timeline.WriteStat, error)
}
