// Package timeline implements the append-only metadata log of a table: one
// state-tagged, timestamped instant per table action, stored as individual
// files while active and as compacted segments once archived.
package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Action identifies the kind of table mutation an instant records.
type Action string

const (
	ActionCommit        Action = "commit"
	ActionDeltaCommit   Action = "deltacommit"
	ActionReplaceCommit Action = "replacecommit"
	ActionCompaction    Action = "compaction"
	ActionClean         Action = "clean"
	ActionRollback      Action = "rollback"
	ActionSavepoint     Action = "savepoint"
	ActionIndexing      Action = "indexing"
)

var knownActions = map[Action]bool{
	ActionCommit:        true,
	ActionDeltaCommit:   true,
	ActionReplaceCommit: true,
	ActionCompaction:    true,
	ActionClean:         true,
	ActionRollback:      true,
	ActionSavepoint:     true,
	ActionIndexing:      true,
}

// State is the lifecycle stage of an instant. States only ever move forward;
// an instant observed COMPLETED never regresses except through an explicit
// rollback that removes it from the timeline.
type State int

const (
	StateRequested State = iota
	StateInflight
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateRequested:
		return "REQUESTED"
	case StateInflight:
		return "INFLIGHT"
	case StateCompleted:
		return "COMPLETED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	requestedSuffix = ".requested"
	inflightSuffix  = ".inflight"
)

// Instant is one record on the timeline, identified by (Action, Timestamp).
type Instant struct {
	Action    Action
	State     State
	Timestamp string
	// CompletionTime is set on the value returned by SaveAsComplete; it is
	// not rehydrated on load.
	CompletionTime string
}

func NewInstant(action Action, state State, timestamp string) Instant {
	return Instant{Action: action, State: state, Timestamp: timestamp}
}

func (i Instant) IsRequested() bool { return i.State == StateRequested }
func (i Instant) IsInflight() bool  { return i.State == StateInflight }
func (i Instant) IsCompleted() bool { return i.State == StateCompleted }

// FileName renders the meta file name for this instant:
// "<ts>.<action>" when completed, with a ".requested"/".inflight" suffix
// for the earlier states.
func (i Instant) FileName() string {
	base := i.Timestamp + "." + string(i.Action)
	switch i.State {
	case StateRequested:
		return base + requestedSuffix
	case StateInflight:
		return base + inflightSuffix
	default:
		return base
	}
}

// Extension returns everything after the timestamp in the instant file name,
// e.g. ".commit.requested". Timelines scan with a set of such extensions.
func (i Instant) Extension() string {
	return "." + string(i.Action) + stateSuffix(i.State)
}

func stateSuffix(s State) string {
	switch s {
	case StateRequested:
		return requestedSuffix
	case StateInflight:
		return inflightSuffix
	default:
		return ""
	}
}

func (i Instant) String() string {
	return fmt.Sprintf("[%s %s %s]", i.Timestamp, i.Action, i.State)
}

// sameRef reports whether two instants refer to the same logical action,
// regardless of state.
func (i Instant) sameRef(o Instant) bool {
	return i.Action == o.Action && i.Timestamp == o.Timestamp
}

// ParseInstantFileName decodes a meta file name back into an Instant. The
// second return value is false for names that are not instant files (temp
// files, properties, unknown actions).
func ParseInstantFileName(name string) (Instant, bool) {
	dot := strings.IndexByte(name, '.')
	if dot <= 0 {
		return Instant{}, false
	}
	ts := name[:dot]
	rest := name[dot+1:]

	state := StateCompleted
	if strings.HasSuffix(rest, requestedSuffix) {
		state = StateRequested
		rest = strings.TrimSuffix(rest, requestedSuffix)
	} else if strings.HasSuffix(rest, inflightSuffix) {
		state = StateInflight
		rest = strings.TrimSuffix(rest, inflightSuffix)
	}

	action := Action(rest)
	if !knownActions[action] {
		return Instant{}, false
	}
	return Instant{Action: action, State: state, Timestamp: ts}, true
}

// FileExtension extracts the extension (".<action>[.<state>]") from an
// instant file name, or "" for non-instant files.
func FileExtension(name string) string {
	in, ok := ParseInstantFileName(name)
	if !ok {
		return ""
	}
	return in.Extension()
}

// AllExtensions returns every recognized instant file extension.
func AllExtensions() map[string]bool {
	exts := make(map[string]bool, len(knownActions)*3)
	for action := range knownActions {
		for _, st := range []State{StateRequested, StateInflight, StateCompleted} {
			exts[Instant{Action: action, State: st}.Extension()] = true
		}
	}
	return exts
}

// timestampLayout is millisecond-resolution wall time. Lexicographic order
// of generated timestamps equals chronological order.
const timestampLayout = "20060102150405.000"

var (
	tsMu   sync.Mutex
	lastTs string
)

// NewTimestamp returns a timestamp strictly greater than any previously
// returned by this process. Cross-process uniqueness is the caller's job and
// is enforced with a lock-protected create-if-absent at commit time.
func NewTimestamp() string {
	tsMu.Lock()
	defer tsMu.Unlock()
	ts := strings.Replace(time.Now().UTC().Format(timestampLayout), ".", "", 1)
	if ts <= lastTs {
		n, err := strconv.ParseUint(lastTs, 10, 64)
		if err != nil {
			// lastTs is always produced by this function; treat parse
			// failure as a fresh start.
			lastTs = ts
			return ts
		}
		ts = fmt.Sprintf("%017d", n+1)
	}
	lastTs = ts
	return ts
}
