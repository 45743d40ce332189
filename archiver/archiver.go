// Package archiver moves old completed instants out of the active timeline
// into compacted archive segments, bounded by commit-retention settings.
package archiver

import (
	"errors"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/lakeline/lakeline/meta"
	"github.com/lakeline/lakeline/storage"
	"github.com/lakeline/lakeline/timeline"
	"github.com/lakeline/lakeline/utils/log"
)

// Config bounds retention on the active timeline. Archival triggers when the
// number of completed commits exceeds MaxCommitsToKeep and removes the
// oldest instants so that MinCommitsToKeep most-recent commits stay active.
type Config struct {
	MinCommitsToKeep int
	MaxCommitsToKeep int
}

func (c Config) validate() error {
	if c.MinCommitsToKeep < 1 {
		return errors.New("archiver: MinCommitsToKeep must be at least 1")
	}
	if c.MaxCommitsToKeep <= c.MinCommitsToKeep {
		return errors.New("archiver: MaxCommitsToKeep must be greater than MinCommitsToKeep")
	}
	return nil
}

// Archiver is caller-triggered: the orchestrator runs it between ingestion
// cycles. Archival failure is non-fatal and retried on the next trigger.
type Archiver struct {
	client *meta.MetaClient
	cfg    Config
}

func New(client *meta.MetaClient, cfg Config) (*Archiver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Archiver{client: client, cfg: cfg}, nil
}

// Run selects and archives the eligible prefix of the active timeline.
// Returns the number of instants moved to the archive.
func (a *Archiver) Run() (int, error) {
	active, err := a.client.ReloadActiveTimeline()
	if err != nil {
		return 0, err
	}
	eligible := a.selectEligible(active)
	if len(eligible) == 0 {
		return 0, nil
	}
	if err := a.archive(active, eligible); err != nil {
		return 0, err
	}
	a.client.InvalidateArchivedTimeline()
	if _, err := a.client.ReloadActiveTimeline(); err != nil {
		return len(eligible), err
	}
	return len(eligible), nil
}

// selectEligible returns the archivable prefix: completed instants older
// than the retention boundary, never newer than the earliest pending
// instant, and never protected by a savepoint.
func (a *Archiver) selectEligible(active *timeline.ActiveTimeline) []timeline.Instant {
	completedCommits := active.GetCommitsTimeline().FilterCompletedInstants()
	if completedCommits.CountInstants() <= a.cfg.MaxCommitsToKeep {
		return nil
	}

	// Everything before the MinCommitsToKeep-th newest commit may go.
	boundaryInstant, ok := completedCommits.NthFromLastInstant(a.cfg.MinCommitsToKeep - 1)
	if !ok {
		return nil
	}
	boundary := boundaryInstant.Timestamp

	// Never archive past a pending instant: a completed commit newer than an
	// inflight one may still be needed to resolve it.
	if first, ok := active.FilterPendingInstants().FirstInstant(); ok && first.Timestamp < boundary {
		boundary = first.Timestamp
	}

	savepointed := make(map[string]bool)
	for _, sp := range active.FilterByActions(timeline.ActionSavepoint).FilterCompletedInstants().Instants() {
		savepointed[sp.Timestamp] = true
	}

	var eligible []timeline.Instant
	for _, in := range active.FilterCompletedInstants().Instants() {
		if in.Timestamp >= boundary {
			break
		}
		if in.Action == timeline.ActionSavepoint || savepointed[in.Timestamp] {
			continue
		}
		eligible = append(eligible, in)
	}
	return eligible
}

// archive appends the instants' metadata into a single new archive segment,
// then removes them from the active timeline. Re-running after a crash
// between the two steps is idempotent: already-archived timestamps are
// detected and only the active-side removal is repeated.
func (a *Archiver) archive(active *timeline.ActiveTimeline, instants []timeline.Instant) error {
	archived, err := a.client.GetArchivedTimeline("", false)
	if err != nil {
		return err
	}

	var entries []timeline.ArchivedEntry
	for _, in := range instants {
		if archived.ContainsTimestamp(in.Timestamp) {
			continue
		}
		metadata, err := active.ReadInstantDetails(in)
		if err != nil {
			var notFound timeline.InstantNotFoundError
			if errors.As(err, &notFound) {
				// Removed by a previous partially-failed run.
				continue
			}
			return err
		}
		entries = append(entries, timeline.ArchivedEntry{
			Action:         string(in.Action),
			Timestamp:      in.Timestamp,
			CompletionTime: in.CompletionTime,
			Metadata:       metadata,
		})
	}

	if len(entries) > 0 {
		data, err := timeline.EncodeSegment(entries)
		if err != nil {
			return err
		}
		name := timeline.SegmentFileName(entries[0].Timestamp, entries[len(entries)-1].Timestamp)
		segPath := filepath.Join(a.client.ArchivePath(), name)
		if err := a.client.Backend().CreateIfAbsent(segPath, data); err != nil {
			if !errors.Is(err, storage.ErrAlreadyExists) {
				return err
			}
			// A previous run already wrote this exact segment.
		}
		log.Info("archived %d instants into %s", len(entries), name)
	}

	var errs *multierror.Error
	for _, in := range instants {
		if err := active.DeleteInstant(in); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
