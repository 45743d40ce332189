package services

import (
	"encoding/json"

	"github.com/lakeline/lakeline/timeline"
)

// ClusteringPlanner schedules a layout rewrite once enough commits
// accumulated since the last completed clustering. Clustering plans are
// recorded as replace commits.
type ClusteringPlanner struct {
	// CommitsBeforeClustering is the trigger threshold: schedule when at
	// least this many write commits completed after the newest completed
	// replace commit.
	CommitsBeforeClustering int
}

func (p *ClusteringPlanner) Action() timeline.Action { return timeline.ActionReplaceCommit }

func (p *ClusteringPlanner) BuildPlan(active *timeline.ActiveTimeline) ([]byte, bool, error) {
	// An unexecuted plan blocks a second one. An inflight plan left behind by
	// a failed execution does not: when retry-under-same-timestamp is off, a
	// fresh plan under a new timestamp supersedes it.
	if !active.FilterPendingReplaceTimeline().FilterRequestedInstants().Empty() {
		return nil, false, nil
	}
	candidates := instantsSinceLastCompleted(active,
		[]timeline.Action{timeline.ActionCommit, timeline.ActionDeltaCommit},
		timeline.ActionReplaceCommit)
	if len(candidates) < p.CommitsBeforeClustering {
		return nil, false, nil
	}
	return marshalPlan("cluster", candidates)
}

// CompactionPlanner schedules a delta-log merge for merge-on-read tables
// after enough delta commits accumulated since the last compaction.
type CompactionPlanner struct {
	DeltaCommitsBeforeCompaction int
}

func (p *CompactionPlanner) Action() timeline.Action { return timeline.ActionCompaction }

func (p *CompactionPlanner) BuildPlan(active *timeline.ActiveTimeline) ([]byte, bool, error) {
	requested := active.FilterByActions(timeline.ActionCompaction).FilterRequestedInstants()
	if !requested.Empty() {
		return nil, false, nil
	}
	candidates := instantsSinceLastCompleted(active,
		[]timeline.Action{timeline.ActionDeltaCommit},
		timeline.ActionCompaction)
	if len(candidates) < p.DeltaCommitsBeforeCompaction {
		return nil, false, nil
	}
	return marshalPlan("compact", candidates)
}

// IndexingPlanner schedules a metadata-index build whenever new commits
// landed since the last completed indexing run.
type IndexingPlanner struct{}

func (p *IndexingPlanner) Action() timeline.Action { return timeline.ActionIndexing }

func (p *IndexingPlanner) BuildPlan(active *timeline.ActiveTimeline) ([]byte, bool, error) {
	requested := active.FilterByActions(timeline.ActionIndexing).FilterRequestedInstants()
	if !requested.Empty() {
		return nil, false, nil
	}
	candidates := instantsSinceLastCompleted(active,
		[]timeline.Action{timeline.ActionCommit, timeline.ActionDeltaCommit, timeline.ActionReplaceCommit},
		timeline.ActionIndexing)
	if len(candidates) == 0 {
		return nil, false, nil
	}
	return marshalPlan("index", candidates)
}

// instantsSinceLastCompleted returns the timestamps of completed instants of
// the given actions newer than the last completed instant of markerAction.
func instantsSinceLastCompleted(active *timeline.ActiveTimeline, actions []timeline.Action,
	markerAction timeline.Action,
) []string {
	watermark := ""
	if last, ok := active.FilterByActions(markerAction).FilterCompletedInstants().LastInstant(); ok {
		watermark = last.Timestamp
	}
	var out []string
	for _, in := range active.FilterByActions(actions...).FilterCompletedInstants().Instants() {
		if in.Timestamp > watermark {
			out = append(out, in.Timestamp)
		}
	}
	return out
}

type planPayload struct {
	Kind     string   `json:"kind"`
	Instants []string `json:"instants"`
}

func marshalPlan(kind string, instants []string) ([]byte, bool, error) {
	data, err := json.Marshal(planPayload{Kind: kind, Instants: instants})
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}
