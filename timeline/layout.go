package timeline

// LayoutVersion controls how instant state files are kept on disk.
//
// V0 keeps one file per state for the life of the instant. V1 keeps only the
// highest state: lower-state files are removed on transition, and any
// leftover duplicates (crash between create and delete) are collapsed on
// load.
type LayoutVersion int

const (
	LayoutVersionV0 LayoutVersion = iota
	LayoutVersionV1
)

// CurrentLayoutVersion is the version written for newly initialized tables.
const CurrentLayoutVersion = LayoutVersionV1

func (v LayoutVersion) applyFilter(instants []Instant) []Instant {
	if v < LayoutVersionV1 {
		return instants
	}
	type ref struct {
		action Action
		ts     string
	}
	highest := make(map[ref]State, len(instants))
	for _, in := range instants {
		r := ref{in.Action, in.Timestamp}
		if st, ok := highest[r]; !ok || in.State > st {
			highest[r] = in.State
		}
	}
	out := make([]Instant, 0, len(highest))
	for _, in := range instants {
		if highest[ref{in.Action, in.Timestamp}] == in.State {
			out = append(out, in)
		}
	}
	return out
}
