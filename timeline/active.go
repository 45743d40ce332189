package timeline

import (
	"errors"
	"path/filepath"

	"github.com/lakeline/lakeline/storage"
	"github.com/lakeline/lakeline/utils/log"
)

// ActiveTimeline is the mutable, per-file portion of the timeline. The
// in-memory view is a snapshot taken at construction; mutations write
// through to storage and callers Reload before making scheduling decisions
// that depend on another writer's activity.
type ActiveTimeline struct {
	*Timeline
	backend  storage.Backend
	metaPath string
	layout   LayoutVersion
}

// NewActiveTimeline scans metaPath for instant meta files, applying the
// layout-version duplicate filter, and returns the ordered view.
func NewActiveTimeline(backend storage.Backend, metaPath string, layout LayoutVersion) (*ActiveTimeline, error) {
	instants, err := ScanInstants(backend, metaPath, AllExtensions(), layout)
	if err != nil {
		return nil, err
	}
	return &ActiveTimeline{
		Timeline: NewTimeline(instants),
		backend:  backend,
		metaPath: metaPath,
		layout:   layout,
	}, nil
}

// ScanInstants lists dir and decodes every file whose extension is in
// includedExtensions. Unrecognized files are skipped.
func ScanInstants(backend storage.Backend, dir string, includedExtensions map[string]bool,
	layout LayoutVersion,
) ([]Instant, error) {
	names, err := backend.List(dir)
	if err != nil {
		return nil, err
	}
	instants := make([]Instant, 0, len(names))
	for _, name := range names {
		in, ok := ParseInstantFileName(name)
		if !ok {
			continue
		}
		if !includedExtensions[in.Extension()] {
			continue
		}
		instants = append(instants, in)
	}
	return layout.applyFilter(instants), nil
}

func (at *ActiveTimeline) MetaPath() string {
	return at.metaPath
}

func (at *ActiveTimeline) instantPath(in Instant) string {
	return filepath.Join(at.metaPath, in.FileName())
}

// Reload re-scans storage and returns a fresh view. Required after any
// out-of-process mutation before acting on the timeline.
func (at *ActiveTimeline) Reload() (*ActiveTimeline, error) {
	return NewActiveTimeline(at.backend, at.metaPath, at.layout)
}

// CreateRequested writes the REQUESTED meta file for a new instant. A
// timestamp collision with any existing instant of the same action is a
// ConflictError: the caller's clock raced another writer.
func (at *ActiveTimeline) CreateRequested(action Action, ts string, plan []byte) (Instant, error) {
	in := NewInstant(action, StateRequested, ts)
	if err := at.backend.CreateIfAbsent(at.instantPath(in), plan); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return Instant{}, ConflictError("instant already requested: " + in.String())
		}
		return Instant{}, err
	}
	log.Debug("created requested instant %s", in)
	return in, nil
}

// TransitionRequestedToInflight moves an instant into INFLIGHT. Fails with
// ConflictError if the REQUESTED file is no longer observed (another writer
// already transitioned or rolled it back).
func (at *ActiveTimeline) TransitionRequestedToInflight(in Instant, details []byte) (Instant, error) {
	if !in.IsRequested() {
		return Instant{}, ConflictError("cannot transition non-requested instant " + in.String())
	}
	return at.transition(in, NewInstant(in.Action, StateInflight, in.Timestamp), details)
}

// SaveAsComplete is the terminal transition. The COMPLETED file carries the
// commit metadata and is written atomically: a concurrent reader sees either
// no completion or the full payload.
func (at *ActiveTimeline) SaveAsComplete(in Instant, metadata []byte) (Instant, error) {
	if !in.IsInflight() {
		return Instant{}, ConflictError("cannot complete non-inflight instant " + in.String())
	}
	done, err := at.transition(in, NewInstant(in.Action, StateCompleted, in.Timestamp), metadata)
	if err != nil {
		return Instant{}, err
	}
	done.CompletionTime = NewTimestamp()
	log.Info("completed instant %s", done)
	return done, nil
}

func (at *ActiveTimeline) transition(from, to Instant, data []byte) (Instant, error) {
	fromPath := at.instantPath(from)
	ok, err := at.backend.Exists(fromPath)
	if err != nil {
		return Instant{}, err
	}
	if !ok {
		return Instant{}, ConflictError("expected " + from.String() + " not found at transition time")
	}

	toPath := at.instantPath(to)
	if to.IsCompleted() {
		// Uniqueness of the completed file is enforced here; callers hold
		// the table lock around this call when concurrent writers exist.
		done, err2 := at.backend.Exists(toPath)
		if err2 != nil {
			return Instant{}, err2
		}
		if done {
			return Instant{}, ConflictError("instant already completed: " + to.String())
		}
		if err2 := at.backend.WriteAtomic(toPath, data); err2 != nil {
			return Instant{}, err2
		}
	} else {
		if err2 := at.backend.CreateIfAbsent(toPath, data); err2 != nil {
			if errors.Is(err2, storage.ErrAlreadyExists) {
				return Instant{}, ConflictError("instant already transitioned: " + to.String())
			}
			return Instant{}, err2
		}
	}

	if at.layout >= LayoutVersionV1 {
		if err := at.backend.Delete(fromPath); err != nil && !errors.Is(err, storage.ErrNotExist) {
			// The higher-state file exists, so the transition is durable.
			// A leftover lower-state file is collapsed by the layout filter
			// on the next load.
			log.Warn("could not remove %s after transition: %v", fromPath, err)
		}
	}
	return to, nil
}

// RevertToRequested rolls an INFLIGHT instant back to REQUESTED so a failed
// plan can be re-executed under the same timestamp. The inflight file's
// content (the plan) is carried back into the requested file.
func (at *ActiveTimeline) RevertToRequested(in Instant) (Instant, error) {
	if !in.IsInflight() {
		return Instant{}, ConflictError("cannot revert non-inflight instant " + in.String())
	}
	inflightPath := at.instantPath(in)
	plan, err := at.backend.Read(inflightPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return Instant{}, ConflictError("expected " + in.String() + " not found at revert time")
		}
		return Instant{}, err
	}
	req := NewInstant(in.Action, StateRequested, in.Timestamp)
	if err := at.backend.CreateIfAbsent(at.instantPath(req), plan); err != nil &&
		!errors.Is(err, storage.ErrAlreadyExists) {
		return Instant{}, err
	}
	if err := at.backend.Delete(inflightPath); err != nil && !errors.Is(err, storage.ErrNotExist) {
		return Instant{}, err
	}
	log.Info("reverted %s to requested", in)
	return req, nil
}

// DeleteInstant removes every state file for the instant's (action,
// timestamp). Used by rollback and by the archiver after a successful
// archive append.
func (at *ActiveTimeline) DeleteInstant(in Instant) error {
	for _, st := range []State{StateCompleted, StateInflight, StateRequested} {
		p := at.instantPath(NewInstant(in.Action, st, in.Timestamp))
		if err := at.backend.Delete(p); err != nil && !errors.Is(err, storage.ErrNotExist) {
			return err
		}
	}
	return nil
}

// ReadInstantDetails returns the raw content of the instant's state file.
func (at *ActiveTimeline) ReadInstantDetails(in Instant) ([]byte, error) {
	data, err := at.backend.Read(at.instantPath(in))
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, InstantNotFoundError(in.String())
		}
		return nil, err
	}
	return data, nil
}

// GetCommitMetadata decodes the metadata payload of a completed instant.
func (at *ActiveTimeline) GetCommitMetadata(in Instant) (*CommitMetadata, error) {
	if !in.IsCompleted() {
		return nil, InstantNotFoundError("no metadata for pending " + in.String())
	}
	data, err := at.ReadInstantDetails(in)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommitMetadata(data)
}
