package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lakeline/lakeline/archiver"
	"github.com/lakeline/lakeline/meta"
	"github.com/lakeline/lakeline/timeline"
	"github.com/lakeline/lakeline/txn"
	"github.com/lakeline/lakeline/utils/log"
)

// Status is the outcome of one sync cycle.
type Status int

const (
	StatusCommitted Status = iota
	StatusNoOp
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCommitted:
		return "COMMITTED"
	case StatusNoOp:
		return "NO_OP"
	case StatusFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// SyncResult summarizes a completed cycle.
type SyncResult struct {
	Status         Status
	CommitTime     string
	RecordsWritten int64
	Checkpoint     Checkpoint
}

// TableService is a background service (clustering, compaction, indexing)
// the orchestrator triggers between cycles. Implementations commit through
// the same transaction manager as the orchestrator.
type TableService interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// Config is the orchestrator's validated configuration, constructed once.
type Config struct {
	ContinuousMode bool
	// OperationType is recorded in commit metadata (e.g. "upsert").
	OperationType string
	SourceLimit   int64
	// MinSyncInterval spaces out continuous cycles.
	MinSyncInterval time.Duration
	// AllowCommitOnNoCheckpointChange commits even when the source returned
	// no new data and the checkpoint is unchanged.
	AllowCommitOnNoCheckpointChange bool
	// ReconcileSchema accepts batches whose schema differs from the target.
	ReconcileSchema bool
	// MaxCommitRetries bounds re-snapshot-and-retry after an OCC conflict.
	MaxCommitRetries int
	// CommitRetryBackoff is slept between conflict retries.
	CommitRetryBackoff time.Duration
	CleaningPolicy     txn.CleaningPolicy
	// RunServicesAsync triggers table services on background goroutines
	// instead of inline between cycles.
	RunServicesAsync bool
	// WriteConfig is validated against the persisted table config before
	// every cycle; a mismatch is a non-retryable cycle failure.
	WriteConfig map[string]string
}

func (c Config) withDefaults() Config {
	if c.SourceLimit == 0 {
		c.SourceLimit = 1 << 20
	}
	if c.MaxCommitRetries == 0 {
		c.MaxCommitRetries = 3
	}
	if c.CommitRetryBackoff == 0 {
		c.CommitRetryBackoff = 500 * time.Millisecond
	}
	return c
}

// Collaborators are the external interfaces the orchestrator drives.
type Collaborators struct {
	Source             Source
	Transformers       []Transformer
	Schema             SchemaProvider
	CheckpointProvider CheckpointProvider
	Writer             BatchWriter
	Txn                *txn.TransactionManager
	Termination        TerminationStrategy
	Services           []TableService
	Archiver           *archiver.Archiver
}

// Orchestrator runs the read-transform-commit cycle. The write path is
// single-threaded; async table services run on background goroutines that
// the two-phase shutdown waits for.
type Orchestrator struct {
	cfg      Config
	client   *meta.MetaClient
	source   Source
	chain    []Transformer
	schema   SchemaProvider
	initial  CheckpointProvider
	writer   BatchWriter
	txm      *txn.TransactionManager
	resolver txn.ConflictResolver
	term     TerminationStrategy
	services []TableService
	arch     *archiver.Archiver

	wg            sync.WaitGroup
	requested     chan struct{}
	requestedOnce sync.Once
	done          chan struct{}
	doneOnce      sync.Once
}

func NewOrchestrator(cfg Config, client *meta.MetaClient, deps Collaborators) (*Orchestrator, error) {
	if deps.Source == nil {
		return nil, errors.New("ingest: a Source is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("ingest: a BatchWriter is required")
	}
	if deps.Txn == nil {
		return nil, errors.New("ingest: a TransactionManager is required")
	}
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		client:    client,
		source:    deps.Source,
		chain:     deps.Transformers,
		schema:    deps.Schema,
		initial:   deps.CheckpointProvider,
		writer:    deps.Writer,
		txm:       deps.Txn,
		term:      deps.Termination,
		services:  deps.Services,
		arch:      deps.Archiver,
		requested: make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// RequestShutdown asks the continuous loop to stop after the cycle in
// progress. Idempotent and safe from any goroutine.
func (o *Orchestrator) RequestShutdown() {
	o.requestedOnce.Do(func() { close(o.requested) })
}

// IsShutdownRequested reports phase one: the stop signal was raised.
func (o *Orchestrator) IsShutdownRequested() bool {
	select {
	case <-o.requested:
		return true
	default:
		return false
	}
}

// IsShutdown reports phase two: the loop exited and all async service
// goroutines finished.
func (o *Orchestrator) IsShutdown() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// AwaitShutdown blocks until the loop has fully stopped.
func (o *Orchestrator) AwaitShutdown() {
	<-o.done
}

func (o *Orchestrator) markShutdown() {
	o.doneOnce.Do(func() { close(o.done) })
}

// SyncOnce runs one fetch-transform-commit cycle and returns its outcome.
// Single-run callers receive any error directly.
func (o *Orchestrator) SyncOnce(ctx context.Context) (*SyncResult, error) {
	if err := o.client.ValidateWriteConfig(o.cfg.WriteConfig); err != nil {
		var mismatch meta.ConfigMismatchError
		if errors.As(err, &mismatch) {
			return &SyncResult{Status: StatusFailed}, TableConfigConflictError(mismatch.Error())
		}
		return &SyncResult{Status: StatusFailed}, err
	}

	active, err := o.client.ReloadActiveTimeline()
	if err != nil {
		return &SyncResult{Status: StatusFailed}, err
	}
	resumed, err := o.resumeCheckpoint(active)
	if err != nil {
		return &SyncResult{Status: StatusFailed}, err
	}

	log.Debug("cycle FETCHING from checkpoint %q", resumed)
	batch, err := o.source.FetchNext(resumed, o.cfg.SourceLimit)
	if err != nil {
		return &SyncResult{Status: StatusFailed}, err
	}

	log.Debug("cycle TRANSFORMING %d records", len(batchRecords(batch)))
	for _, t := range o.chain {
		if batch, err = t.Apply(batch); err != nil {
			return &SyncResult{Status: StatusFailed}, err
		}
	}

	checkpointChanged := batch != nil && batch.Checkpoint != resumed
	if batch.IsEmpty() && !checkpointChanged && !o.cfg.AllowCommitOnNoCheckpointChange {
		log.Info("cycle NO_OP: no new data and checkpoint unchanged")
		return &SyncResult{Status: StatusNoOp, Checkpoint: resumed}, nil
	}

	if err := o.checkSchema(batch); err != nil {
		return &SyncResult{Status: StatusFailed}, err
	}

	newCheckpoint := resumed
	if batch != nil && batch.Checkpoint != "" {
		newCheckpoint = batch.Checkpoint
	}

	res, err := o.commitWithRetries(active, batch, newCheckpoint)
	if err != nil {
		return &SyncResult{Status: StatusFailed}, err
	}
	return res, nil
}

func batchRecords(b *Batch) []Record {
	if b == nil {
		return nil
	}
	return b.Records
}

func (o *Orchestrator) checkSchema(batch *Batch) error {
	if o.cfg.ReconcileSchema || o.schema == nil || batch == nil {
		return nil
	}
	target := o.schema.TargetSchema()
	if target != "" && batch.Schema != "" && batch.Schema != target {
		return SchemaCompatibilityError("batch schema does not match target schema")
	}
	return nil
}

// resumeCheckpoint finds the checkpoint to fetch from: the newest commit
// metadata carrying one, the initial-checkpoint provider on a cold start, or
// the empty checkpoint for a brand-new table.
func (o *Orchestrator) resumeCheckpoint(active *timeline.ActiveTimeline) (Checkpoint, error) {
	commits, err := o.client.GetCommitsTimeline()
	if err != nil {
		return "", err
	}
	md, instantTs, found, err := LatestCommitMetadataWithValidCheckpoint(active, commits)
	if err != nil {
		return "", err
	}
	if found {
		ckp, _ := md.Checkpoint()
		log.Debug("resuming from checkpoint %q carried by instant %s", ckp, instantTs)
		return Checkpoint(ckp), nil
	}
	if o.initial != nil {
		return o.initial.InitialCheckpoint()
	}
	if !commits.FilterCompletedInstants().Empty() {
		return "", CheckpointNotFoundError(
			"table has commits but none carries a checkpoint, and no initial checkpoint provider is configured")
	}
	return "", nil
}

// commitWithRetries performs the commit, re-snapshotting and retrying on OCC
// conflicts up to MaxCommitRetries. Lock timeouts are retried the same way;
// everything else fails the cycle immediately.
func (o *Orchestrator) commitWithRetries(active *timeline.ActiveTimeline, batch *Batch,
	ckp Checkpoint,
) (*SyncResult, error) {
	snapshot := active.Timeline
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxCommitRetries; attempt++ {
		res, err := o.commitOnce(active, snapshot, batch, ckp)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isRetryableCommitError(err) {
			return nil, err
		}
		if attempt == o.cfg.MaxCommitRetries {
			break
		}
		log.Warn("commit attempt %d/%d failed (%v), re-snapshotting", attempt, o.cfg.MaxCommitRetries, err)
		reloaded, rerr := active.Reload()
		if rerr != nil {
			return nil, rerr
		}
		active = reloaded
		snapshot = reloaded.Timeline
		time.Sleep(o.cfg.CommitRetryBackoff)
	}
	return nil, lastErr
}

func isRetryableCommitError(err error) bool {
	var conflict timeline.ConflictError
	var lockTimeout txn.LockTimeoutError
	return errors.As(err, &conflict) || errors.As(err, &lockTimeout)
}

func (o *Orchestrator) commitOnce(active *timeline.ActiveTimeline, snapshot *timeline.Timeline,
	batch *Batch, ckp Checkpoint,
) (*SyncResult, error) {
	ts := timeline.NewTimestamp()
	action, err := o.client.TableConfig().CommitActionType()
	if err != nil {
		return nil, err
	}

	requested, err := active.CreateRequested(action, ts, nil)
	if err != nil {
		return nil, err
	}
	inflight, err := active.TransitionRequestedToInflight(requested, nil)
	if err != nil {
		return nil, err
	}

	log.Debug("cycle COMMITTING instant %s", inflight)
	stats, err := o.writer.Write(ts, batch)
	if err != nil {
		o.cleanupFailedWrite(active, inflight)
		return nil, err
	}

	md := timeline.NewCommitMetadata()
	md.PartitionToWriteStats = stats
	md.ExtraMetadata[timeline.CheckpointKey] = string(ckp)
	md.OperationType = o.cfg.OperationType
	if o.schema != nil {
		md.Schema = o.schema.TargetSchema()
	}
	payload, err := md.Marshal()
	if err != nil {
		return nil, err
	}

	err = o.txm.WithinCommitLock(func() error {
		reloaded, err := active.Reload()
		if err != nil {
			return err
		}
		if o.txm.Mode() == txn.OptimisticConcurrencyControl {
			if err := o.resolver.CheckCommit(reloaded, snapshot, ts, md); err != nil {
				return err
			}
		}
		_, err = reloaded.SaveAsComplete(inflight, payload)
		return err
	})
	if err != nil {
		o.cleanupFailedWrite(active, inflight)
		return nil, err
	}

	written := md.TotalRecordsWritten()
	log.Info("cycle COMMITTED instant %s with %d records, checkpoint %q", ts, written, ckp)
	return &SyncResult{
		Status:         StatusCommitted,
		CommitTime:     ts,
		RecordsWritten: written,
		Checkpoint:     ckp,
	}, nil
}

// cleanupFailedWrite applies the failed-writes cleaning policy to the
// writer's own pending instant. EAGER removes it now and records a rollback
// instant; LAZY leaves it for the cleaner service.
func (o *Orchestrator) cleanupFailedWrite(active *timeline.ActiveTimeline, in timeline.Instant) {
	if o.cfg.CleaningPolicy == txn.CleanLazy {
		log.Info("leaving failed instant %s for lazy cleaning", in)
		return
	}
	if err := active.DeleteInstant(in); err != nil {
		log.Error("could not roll back failed instant %s: %v", in, err)
		return
	}
	if err := writeRollbackInstant(active, in); err != nil {
		log.Error("could not record rollback of %s: %v", in, err)
	}
}

func writeRollbackInstant(active *timeline.ActiveTimeline, rolledBack timeline.Instant) error {
	details, err := json.Marshal(map[string]string{
		"rollbackOf": rolledBack.Timestamp,
		"action":     string(rolledBack.Action),
	})
	if err != nil {
		return err
	}
	ts := timeline.NewTimestamp()
	requested, err := active.CreateRequested(timeline.ActionRollback, ts, nil)
	if err != nil {
		return err
	}
	inflight, err := active.TransitionRequestedToInflight(requested, nil)
	if err != nil {
		return err
	}
	_, err = active.SaveAsComplete(inflight, details)
	return err
}

// RunContinuous repeats SyncOnce until a fatal error, a termination-strategy
// decision, context cancellation or an external RequestShutdown. Between
// cycles it triggers table services and archival. The shutdown signal takes
// effect between cycles, never mid-commit.
func (o *Orchestrator) RunContinuous(ctx context.Context) error {
	defer o.markShutdown()
	for {
		if ctx.Err() != nil {
			o.RequestShutdown()
		}
		if o.IsShutdownRequested() {
			break
		}

		res, err := o.SyncOnce(ctx)
		if err != nil {
			log.Error("continuous ingestion stopping on error: %v", err)
			o.RequestShutdown()
			o.wg.Wait()
			return err
		}

		if o.term != nil && o.term.ShouldShutdown(res) {
			log.Info("termination strategy requested shutdown")
			o.RequestShutdown()
		}

		o.runTableServices(ctx)
		o.runArchival()

		if o.cfg.MinSyncInterval > 0 {
			select {
			case <-time.After(o.cfg.MinSyncInterval):
			case <-o.requested:
			case <-ctx.Done():
			}
		}
	}
	o.wg.Wait()
	return nil
}

// runTableServices triggers each configured service, inline or async. A
// service failure never fails ingestion; the service retries on its next
// trigger.
func (o *Orchestrator) runTableServices(ctx context.Context) {
	for _, svc := range o.services {
		if o.cfg.RunServicesAsync {
			o.wg.Add(1)
			go func(s TableService) {
				defer o.wg.Done()
				if err := s.RunOnce(ctx); err != nil {
					log.Error("async %s service failed: %v", s.Name(), err)
				}
			}(svc)
			continue
		}
		if err := svc.RunOnce(ctx); err != nil {
			log.Error("inline %s service failed: %v", svc.Name(), err)
		}
	}
}

// runArchival is non-fatal by policy: a failure is logged and retried on the
// next trigger, and never blocks a commit.
func (o *Orchestrator) runArchival() {
	if o.arch == nil {
		return
	}
	if n, err := o.arch.Run(); err != nil {
		log.Warn("archival failed, will retry next cycle: %v", err)
	} else if n > 0 {
		log.Info("archived %d instants", n)
	}
}
