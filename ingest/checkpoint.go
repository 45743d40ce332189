package ingest

import (
	"github.com/lakeline/lakeline/timeline"
)

// LatestCommitMetadataWithValidCheckpoint walks the completed write history
// newest-first and returns the first commit metadata carrying a checkpoint
// token. A replace commit produced by clustering carries none and is skipped
// in favor of the nearest older commit that does.
func LatestCommitMetadataWithValidCheckpoint(active *timeline.ActiveTimeline,
	commits *timeline.Timeline,
) (*timeline.CommitMetadata, string, bool, error) {
	completed := commits.FilterCompletedInstants()
	for n := 0; ; n++ {
		in, ok := completed.NthFromLastInstant(n)
		if !ok {
			return nil, "", false, nil
		}
		md, err := active.GetCommitMetadata(in)
		if err != nil {
			return nil, "", false, err
		}
		if _, ok := md.Checkpoint(); ok {
			return md, in.Timestamp, true, nil
		}
	}
}
