package txn

import (
	"github.com/lakeline/lakeline/timeline"
	"github.com/lakeline/lakeline/utils/log"
)

// ConflictResolver decides whether a candidate commit may complete given
// what finished on the timeline since the writer's read snapshot. The
// conflict unit is the file group ("partition/fileId"): two commits touching
// overlapping file groups conflict.
type ConflictResolver struct{}

// CheckCommit compares the reloaded timeline against the writer's snapshot.
// Every write instant completed since the snapshot is checked for file-group
// overlap with the candidate; overlap fails with timeline.ConflictError and
// the writer must re-snapshot and retry, or abort.
//
// Callers hold the table lock around this call plus the subsequent
// completion, so the decision cannot be invalidated by a concurrent commit.
func (r *ConflictResolver) CheckCommit(active *timeline.ActiveTimeline, snapshot *timeline.Timeline,
	candidateTs string, candidate *timeline.CommitMetadata,
) error {
	candidateGroups := candidate.WrittenFileGroups()
	for _, in := range active.GetWriteTimeline().FilterCompletedInstants().Instants() {
		if in.Timestamp == candidateTs {
			continue
		}
		if snapshot.ContainsInstant(in) {
			continue
		}
		other, err := active.GetCommitMetadata(in)
		if err != nil {
			return err
		}
		for group := range other.WrittenFileGroups() {
			if candidateGroups[group] {
				log.Warn("commit %s conflicts with %s on file group %s", candidateTs, in, group)
				return timeline.ConflictError(
					"file group " + group + " was rewritten by " + in.String() + " after the read snapshot")
			}
		}
	}
	return nil
}
