package timeline

import "sort"

// Timeline is an ordered, immutable-once-built view over a set of instants.
// Projections never touch storage; they slice the loaded view.
type Timeline struct {
	instants []Instant
}

// NewTimeline sorts instants by timestamp ascending, breaking ties by state
// precedence (REQUESTED < INFLIGHT < COMPLETED).
func NewTimeline(instants []Instant) *Timeline {
	sorted := make([]Instant, len(instants))
	copy(sorted, instants)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].Timestamp != sorted[b].Timestamp {
			return sorted[a].Timestamp < sorted[b].Timestamp
		}
		return sorted[a].State < sorted[b].State
	})
	return &Timeline{instants: sorted}
}

// Instants returns the ordered instants. Callers must not mutate the slice.
func (t *Timeline) Instants() []Instant {
	return t.instants
}

func (t *Timeline) Empty() bool {
	return len(t.instants) == 0
}

func (t *Timeline) CountInstants() int {
	return len(t.instants)
}

// LastInstant returns the newest instant, or false for an empty timeline.
func (t *Timeline) LastInstant() (Instant, bool) {
	return t.NthFromLastInstant(0)
}

// NthFromLastInstant returns the n-th instant counting back from the newest
// (n=0 is the newest). Out-of-range n yields false, never an error.
func (t *Timeline) NthFromLastInstant(n int) (Instant, bool) {
	idx := len(t.instants) - 1 - n
	if idx < 0 {
		return Instant{}, false
	}
	return t.instants[idx], true
}

// FirstInstant returns the oldest instant, or false for an empty timeline.
func (t *Timeline) FirstInstant() (Instant, bool) {
	if len(t.instants) == 0 {
		return Instant{}, false
	}
	return t.instants[0], true
}

func (t *Timeline) filter(keep func(Instant) bool) *Timeline {
	out := make([]Instant, 0, len(t.instants))
	for _, in := range t.instants {
		if keep(in) {
			out = append(out, in)
		}
	}
	return &Timeline{instants: out}
}

func (t *Timeline) FilterCompletedInstants() *Timeline {
	return t.filter(Instant.IsCompleted)
}

// FilterPendingInstants keeps requested and inflight instants.
func (t *Timeline) FilterPendingInstants() *Timeline {
	return t.filter(func(in Instant) bool { return !in.IsCompleted() })
}

// FilterRequestedInstants keeps plans not yet picked up by an executor.
func (t *Timeline) FilterRequestedInstants() *Timeline {
	return t.filter(Instant.IsRequested)
}

// FilterPendingExcludingCompaction keeps pending instants of every action
// except compaction, whose pending plans are expected and must not block
// ingestion.
func (t *Timeline) FilterPendingExcludingCompaction() *Timeline {
	return t.filter(func(in Instant) bool {
		return !in.IsCompleted() && in.Action != ActionCompaction
	})
}

// FilterPendingReplaceTimeline keeps pending replace-commit instants
// (clustering plans not yet completed).
func (t *Timeline) FilterPendingReplaceTimeline() *Timeline {
	return t.filter(func(in Instant) bool {
		return !in.IsCompleted() && in.Action == ActionReplaceCommit
	})
}

func (t *Timeline) FilterByActions(actions ...Action) *Timeline {
	set := make(map[Action]bool, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return t.filter(func(in Instant) bool { return set[in.Action] })
}

// FilterCompletedAfter keeps completed instants with timestamps strictly
// greater than ts. This is the conflict resolver's view of "what finished
// since my snapshot".
func (t *Timeline) FilterCompletedAfter(ts string) *Timeline {
	return t.filter(func(in Instant) bool {
		return in.IsCompleted() && in.Timestamp > ts
	})
}

// GetCommitTimeline projects the actions that produce a new complete table
// snapshot on their own: commits and replace commits.
func (t *Timeline) GetCommitTimeline() *Timeline {
	return t.FilterByActions(ActionCommit, ActionReplaceCommit)
}

// GetCommitsTimeline additionally folds in delta commits, giving merge-on-read
// readers a unified write history.
func (t *Timeline) GetCommitsTimeline() *Timeline {
	return t.FilterByActions(ActionCommit, ActionDeltaCommit, ActionReplaceCommit)
}

// GetWriteTimeline includes every write-path action, pending compactions
// included, so file-slice views past a pending compaction stay valid.
func (t *Timeline) GetWriteTimeline() *Timeline {
	return t.FilterByActions(ActionCommit, ActionDeltaCommit, ActionReplaceCommit, ActionCompaction)
}

// ContainsInstant reports whether an instant with the same action and
// timestamp exists, at any state equal to or later than in.State.
func (t *Timeline) ContainsInstant(in Instant) bool {
	for _, o := range t.instants {
		if o.sameRef(in) && o.State >= in.State {
			return true
		}
	}
	return false
}

// ContainsTimestamp reports whether any instant carries the timestamp.
func (t *Timeline) ContainsTimestamp(ts string) bool {
	for _, o := range t.instants {
		if o.Timestamp == ts {
			return true
		}
	}
	return false
}
