package ingest

// TerminationStrategy lets continuous mode decide, after each cycle, that
// the loop should stop on its own (e.g. the source has drained).
type TerminationStrategy interface {
	ShouldShutdown(res *SyncResult) bool
}

// NoNewDataTerminationStrategy requests shutdown once MaxRoundsWithoutData
// consecutive cycles produced no commit.
type NoNewDataTerminationStrategy struct {
	MaxRoundsWithoutData int

	idleRounds int
}

func (s *NoNewDataTerminationStrategy) ShouldShutdown(res *SyncResult) bool {
	if res != nil && res.Status == StatusCommitted {
		s.idleRounds = 0
		return false
	}
	s.idleRounds++
	return s.idleRounds >= s.MaxRoundsWithoutData
}
