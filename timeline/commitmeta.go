package timeline

import (
	"encoding/json"
)

// CheckpointKey is the well-known extra-metadata key under which the
// ingestion orchestrator persists its source checkpoint.
const CheckpointKey = "lakeline.ingest.checkpoint"

// WriteStat describes one file written by a commit within a partition.
type WriteStat struct {
	FileID          string `json:"fileId"`
	Path            string `json:"path"`
	Partition       string `json:"partitionPath"`
	NumWrites       int64  `json:"numWrites"`
	NumInserts      int64  `json:"numInserts"`
	NumUpdates      int64  `json:"numUpdateWrites"`
	NumDeletes      int64  `json:"numDeletes"`
	TotalWriteBytes int64  `json:"totalWriteBytes"`
}

// CommitMetadata is the payload of a completed write instant. Once written
// it is immutable.
type CommitMetadata struct {
	PartitionToWriteStats      map[string][]WriteStat `json:"partitionToWriteStats"`
	ExtraMetadata              map[string]string      `json:"extraMetadata,omitempty"`
	PartitionToReplacedFileIDs map[string][]string    `json:"partitionToReplacedFileIds,omitempty"`
	OperationType              string                 `json:"operationType,omitempty"`
	Schema                     string                 `json:"schema,omitempty"`
}

func NewCommitMetadata() *CommitMetadata {
	return &CommitMetadata{
		PartitionToWriteStats: make(map[string][]WriteStat),
		ExtraMetadata:         make(map[string]string),
	}
}

func (m *CommitMetadata) AddWriteStat(partition string, stat WriteStat) {
	stat.Partition = partition
	m.PartitionToWriteStats[partition] = append(m.PartitionToWriteStats[partition], stat)
}

// Checkpoint returns the checkpoint token carried by this commit, if any.
// Replace commits produced by clustering typically carry none.
func (m *CommitMetadata) Checkpoint() (string, bool) {
	ckp, ok := m.ExtraMetadata[CheckpointKey]
	return ckp, ok
}

// TotalRecordsWritten sums NumWrites across all partitions.
func (m *CommitMetadata) TotalRecordsWritten() int64 {
	var n int64
	for _, stats := range m.PartitionToWriteStats {
		for _, s := range stats {
			n += s.NumWrites
		}
	}
	return n
}

// WrittenFileGroups returns the set of "partition/fileId" groups this commit
// touched, including file groups it replaced. This is the conflict unit for
// optimistic concurrency control.
func (m *CommitMetadata) WrittenFileGroups() map[string]bool {
	groups := make(map[string]bool)
	for partition, stats := range m.PartitionToWriteStats {
		for _, s := range stats {
			groups[partition+"/"+s.FileID] = true
		}
	}
	for partition, fileIDs := range m.PartitionToReplacedFileIDs {
		for _, id := range fileIDs {
			groups[partition+"/"+id] = true
		}
	}
	return groups
}

func (m *CommitMetadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func UnmarshalCommitMetadata(data []byte) (*CommitMetadata, error) {
	m := &CommitMetadata{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, CorruptMetadataError(err.Error())
	}
	if m.PartitionToWriteStats == nil {
		m.PartitionToWriteStats = make(map[string][]WriteStat)
	}
	if m.ExtraMetadata == nil {
		m.ExtraMetadata = make(map[string]string)
	}
	return m, nil
}
