package meta_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeline/lakeline/meta"
	"github.com/lakeline/lakeline/storage"
	"github.com/lakeline/lakeline/timeline"
)

func setupTable(t *testing.T, tableType meta.TableType) *meta.MetaClient {
	t.Helper()

	client, err := meta.Init(storage.NewLocalBackend(), t.TempDir(),
		meta.DefaultTableConfig("trips", tableType))
	require.NoError(t, err)
	return client
}

func TestInitCreatesMetaFolderTree(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)
	backend := client.Backend()

	for _, p := range []string{
		client.MetaPath(),
		client.TempFolderPath(),
		client.SchemaFolderPath(),
		client.HeartbeatFolderPath(),
		client.ArchivePath(),
	} {
		ok, err := backend.Exists(p)
		require.NoError(t, err)
		assert.True(t, ok, "expected %s to exist", p)
	}

	ok, err := backend.Exists(filepath.Join(client.MetaPath(), meta.PropertiesFileName))
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "trips", client.TableConfig().Name)
	assert.Equal(t, meta.CopyOnWrite, client.TableConfig().Type)
	assert.Equal(t, timeline.CurrentLayoutVersion, client.LayoutVersion())
}

func TestInitIsIdempotent(t *testing.T) {
	basePath := t.TempDir()
	backend := storage.NewLocalBackend()

	first, err := meta.Init(backend, basePath, meta.DefaultTableConfig("trips", meta.CopyOnWrite))
	require.NoError(t, err)

	// Re-init with a different name keeps the persisted config.
	second, err := meta.Init(backend, basePath, meta.DefaultTableConfig("other", meta.MergeOnRead))
	require.NoError(t, err)
	assert.Equal(t, first.TableConfig().Name, second.TableConfig().Name)
	assert.Equal(t, meta.CopyOnWrite, second.TableConfig().Type)
}

func TestOpenMissingTable(t *testing.T) {
	_, err := meta.Open(storage.NewLocalBackend(), t.TempDir(), meta.Options{})
	var notFound meta.TableNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestOpenLayoutVersionFloor(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)

	older := timeline.LayoutVersionV0
	_, err := meta.Open(client.Backend(), client.BasePath(), meta.Options{LayoutVersion: &older})
	var mismatch meta.ConfigMismatchError
	assert.ErrorAs(t, err, &mismatch)

	current := timeline.CurrentLayoutVersion
	reopened, err := meta.Open(client.Backend(), client.BasePath(), meta.Options{LayoutVersion: &current})
	require.NoError(t, err)
	assert.Equal(t, current, reopened.LayoutVersion())
}

func TestTablePropertiesRoundTrip(t *testing.T) {
	cfg := meta.DefaultTableConfig("trips", meta.MergeOnRead)
	cfg.RecordKeyFields = []string{"uuid", "ts"}
	cfg.PartitionFields = []string{"city"}
	cfg.PopulateMetaFields = false

	got, err := meta.UnmarshalTableConfig(cfg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, cfg.Type, got.Type)
	assert.Equal(t, cfg.Name, got.Name)
	assert.Equal(t, cfg.RecordKeyFields, got.RecordKeyFields)
	assert.Equal(t, cfg.PartitionFields, got.PartitionFields)
	assert.False(t, got.PopulateMetaFields)
	assert.Equal(t, cfg.LayoutVersion, got.LayoutVersion)
}

func writeCompleted(t *testing.T, client *meta.MetaClient, action timeline.Action) string {
	t.Helper()

	active, err := client.GetActiveTimeline()
	require.NoError(t, err)
	ts := timeline.NewTimestamp()
	requested, err := active.CreateRequested(action, ts, nil)
	require.NoError(t, err)
	inflight, err := active.TransitionRequestedToInflight(requested, nil)
	require.NoError(t, err)
	md := timeline.NewCommitMetadata()
	payload, err := md.Marshal()
	require.NoError(t, err)
	_, err = active.SaveAsComplete(inflight, payload)
	require.NoError(t, err)
	return ts
}

func TestGetCommitsTimelineByTableType(t *testing.T) {
	cow := setupTable(t, meta.CopyOnWrite)
	writeCompleted(t, cow, timeline.ActionCommit)
	writeCompleted(t, cow, timeline.ActionDeltaCommit)
	_, err := cow.ReloadActiveTimeline()
	require.NoError(t, err)

	tl, err := cow.GetCommitsTimeline()
	require.NoError(t, err)
	assert.Equal(t, 1, tl.CountInstants())

	mor := setupTable(t, meta.MergeOnRead)
	writeCompleted(t, mor, timeline.ActionCommit)
	writeCompleted(t, mor, timeline.ActionDeltaCommit)
	_, err = mor.ReloadActiveTimeline()
	require.NoError(t, err)

	tl, err = mor.GetCommitsTimeline()
	require.NoError(t, err)
	assert.Equal(t, 2, tl.CountInstants())

	nonEmpty, err := mor.IsTimelineNonEmpty()
	require.NoError(t, err)
	assert.True(t, nonEmpty)
}

func TestGetCommitsAndCompactionTimelineByTableType(t *testing.T) {
	cow := setupTable(t, meta.CopyOnWrite)
	writeCompleted(t, cow, timeline.ActionCommit)
	writeCompleted(t, cow, timeline.ActionReplaceCommit)
	writeCompleted(t, cow, timeline.ActionDeltaCommit)
	_, err := cow.ReloadActiveTimeline()
	require.NoError(t, err)

	// Copy-on-write never carries compactions: commits and replace commits only.
	tl, err := cow.GetCommitsAndCompactionTimeline()
	require.NoError(t, err)
	assert.Equal(t, 2, tl.CountInstants())

	mor := setupTable(t, meta.MergeOnRead)
	writeCompleted(t, mor, timeline.ActionDeltaCommit)
	writeCompleted(t, mor, timeline.ActionCommit)
	active, err := mor.GetActiveTimeline()
	require.NoError(t, err)
	pendingTs := timeline.NewTimestamp()
	_, err = active.CreateRequested(timeline.ActionCompaction, pendingTs, nil)
	require.NoError(t, err)
	_, err = mor.ReloadActiveTimeline()
	require.NoError(t, err)

	// Merge-on-read folds in delta commits and the pending compaction.
	tl, err = mor.GetCommitsAndCompactionTimeline()
	require.NoError(t, err)
	assert.Equal(t, 3, tl.CountInstants())
	assert.True(t, tl.ContainsInstant(
		timeline.NewInstant(timeline.ActionCompaction, timeline.StateRequested, pendingTs)))

	// But GetCommitsTimeline leaves the pending compaction out.
	tl, err = mor.GetCommitsTimeline()
	require.NoError(t, err)
	assert.Equal(t, 2, tl.CountInstants())

	bad := setupTable(t, meta.CopyOnWrite)
	bad.TableConfig().Type = "COLUMN_FAMILY"
	var unsupported meta.UnsupportedTableTypeError
	_, err = bad.GetCommitsAndCompactionTimeline()
	assert.ErrorAs(t, err, &unsupported)
	_, err = bad.GetCommitsTimeline()
	assert.ErrorAs(t, err, &unsupported)
}

func TestActionTypeByTableType(t *testing.T) {
	cowCfg := meta.DefaultTableConfig("a", meta.CopyOnWrite)
	action, err := cowCfg.CommitActionType()
	require.NoError(t, err)
	assert.Equal(t, timeline.ActionCommit, action)

	morCfg := meta.DefaultTableConfig("b", meta.MergeOnRead)
	action, err = morCfg.CommitActionType()
	require.NoError(t, err)
	assert.Equal(t, timeline.ActionDeltaCommit, action)
}

func TestValidateWriteConfig(t *testing.T) {
	tests := map[string]struct {
		mutate  func(cfg *meta.TableConfig)
		props   map[string]string
		wantErr bool
	}{
		"ok/ empty props": {
			props: nil,
		},
		"ng/ meta fields cannot be re-enabled": {
			mutate:  func(cfg *meta.TableConfig) { cfg.PopulateMetaFields = false },
			props:   map[string]string{meta.PropPopulateMetaFields: "true"},
			wantErr: true,
		},
		"ng/ restricted key generator with meta fields disabled": {
			mutate: func(cfg *meta.TableConfig) { cfg.PopulateMetaFields = false },
			props: map[string]string{
				meta.PropPopulateMetaFields: "false",
				meta.PropKeyGenerator:       "timestamp",
			},
			wantErr: true,
		},
		"ok/ simple key generator with meta fields disabled": {
			mutate: func(cfg *meta.TableConfig) { cfg.PopulateMetaFields = false },
			props: map[string]string{
				meta.PropPopulateMetaFields: "false",
				meta.PropKeyGenerator:       meta.KeyGenSimple,
			},
		},
		"ng/ consistent hashing bucket index on copy-on-write": {
			props: map[string]string{
				meta.PropIndexType:         "BUCKET",
				meta.PropIndexBucketEngine: "CONSISTENT_HASHING",
			},
			wantErr: true,
		},
		"ng/ record key fields are immutable": {
			mutate:  func(cfg *meta.TableConfig) { cfg.RecordKeyFields = []string{"uuid"} },
			props:   map[string]string{meta.PropRecordKeyFields: "other"},
			wantErr: true,
		},
		"ok/ record key change with overwrite flag": {
			mutate: func(cfg *meta.TableConfig) { cfg.RecordKeyFields = []string{"uuid"} },
			props: map[string]string{
				meta.PropRecordKeyFields:      "other",
				meta.PropAllowConfigOverwrite: "true",
			},
		},
		"ok/ matching record key fields": {
			mutate: func(cfg *meta.TableConfig) { cfg.RecordKeyFields = []string{"uuid"} },
			props:  map[string]string{meta.PropRecordKeyFields: "uuid"},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := meta.DefaultTableConfig("trips", meta.CopyOnWrite)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			client, err := meta.Init(storage.NewLocalBackend(), t.TempDir(), cfg)
			require.NoError(t, err)

			err = client.ValidateWriteConfig(tt.props)
			if tt.wantErr {
				var mismatch meta.ConfigMismatchError
				assert.ErrorAs(t, err, &mismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestArchivedTimelineSingleEntryCache(t *testing.T) {
	client := setupTable(t, meta.CopyOnWrite)

	first, err := client.GetArchivedTimeline("", true)
	require.NoError(t, err)
	again, err := client.GetArchivedTimeline("", true)
	require.NoError(t, err)
	assert.Same(t, first, again)

	// A different watermark evicts the cached instance.
	other, err := client.GetArchivedTimeline("001", true)
	require.NoError(t, err)
	assert.NotSame(t, first, other)

	cachedOther, err := client.GetArchivedTimeline("001", true)
	require.NoError(t, err)
	assert.Same(t, other, cachedOther)

	client.InvalidateArchivedTimeline()
	fresh, err := client.GetArchivedTimeline("001", true)
	require.NoError(t, err)
	assert.NotSame(t, other, fresh)

	uncached, err := client.GetArchivedTimeline("001", false)
	require.NoError(t, err)
	assert.NotSame(t, fresh, uncached)
}
