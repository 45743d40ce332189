package timeline

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lakeline/lakeline/storage"
)

// ArchivedEntry is one instant inside an archived log segment. Only
// completed instants are ever archived, so no state field is stored.
type ArchivedEntry struct {
	Action         string `msgpack:"action"`
	Timestamp      string `msgpack:"timestamp"`
	CompletionTime string `msgpack:"completionTime"`
	Metadata       []byte `msgpack:"metadata"`
}

const segmentPrefix = "instants_"
const segmentSuffix = ".seg"

// SegmentFileName names a segment by the timestamp range it covers, so a
// watermark-bounded read can skip whole segments without opening them.
func SegmentFileName(firstTs, lastTs string) string {
	return segmentPrefix + firstTs + "_" + lastTs + segmentSuffix
}

// ParseSegmentFileName extracts the covered timestamp range.
func ParseSegmentFileName(name string) (firstTs, lastTs string, ok bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return "", "", false
	}
	middle := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	parts := strings.Split(middle, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// EncodeSegment serializes entries as a stream of msgpack values.
func EncodeSegment(entries []ArchivedEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return nil, fmt.Errorf("encode archived entry %s: %w", entries[i].Timestamp, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeSegment reads a msgpack stream back into entries.
func DecodeSegment(data []byte) ([]ArchivedEntry, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	var entries []ArchivedEntry
	for {
		var e ArchivedEntry
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				return entries, nil
			}
			return nil, CorruptMetadataError("archived segment: " + err.Error())
		}
		entries = append(entries, e)
	}
}

// ArchivedTimeline is the read-only, compacted portion of the timeline from
// startTs (inclusive) onward. Construction reads every qualifying segment,
// which is why the meta client caches at most one instance per watermark.
type ArchivedTimeline struct {
	*Timeline
	startTs  string
	metadata map[string][]byte
}

// NewArchivedTimeline loads all archived instants with timestamps >= startTs.
// An empty startTs loads the whole archive.
func NewArchivedTimeline(backend storage.Backend, archivePath, startTs string) (*ArchivedTimeline, error) {
	names, err := backend.List(archivePath)
	if err != nil {
		return nil, err
	}
	var instants []Instant
	metadata := make(map[string][]byte)
	for _, name := range names {
		_, lastTs, ok := ParseSegmentFileName(name)
		if !ok {
			continue
		}
		if startTs != "" && lastTs < startTs {
			continue
		}
		data, err := backend.Read(filepath.Join(archivePath, name))
		if err != nil {
			return nil, err
		}
		entries, err := DecodeSegment(data)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if startTs != "" && e.Timestamp < startTs {
				continue
			}
			in := NewInstant(Action(e.Action), StateCompleted, e.Timestamp)
			in.CompletionTime = e.CompletionTime
			instants = append(instants, in)
			if len(e.Metadata) > 0 {
				metadata[e.Timestamp+"."+e.Action] = e.Metadata
			}
		}
	}
	return &ArchivedTimeline{
		Timeline: NewTimeline(instants),
		startTs:  startTs,
		metadata: metadata,
	}, nil
}

func (at *ArchivedTimeline) StartTs() string {
	return at.startTs
}

// GetCommitMetadata returns the archived metadata payload for an instant.
func (at *ArchivedTimeline) GetCommitMetadata(in Instant) (*CommitMetadata, error) {
	data, ok := at.metadata[in.Timestamp+"."+string(in.Action)]
	if !ok {
		return nil, InstantNotFoundError(in.String())
	}
	return UnmarshalCommitMetadata(data)
}
