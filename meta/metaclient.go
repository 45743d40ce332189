package meta

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/lakeline/lakeline/storage"
	"github.com/lakeline/lakeline/timeline"
	"github.com/lakeline/lakeline/utils/log"
)

// On-disk meta folder layout under a table's base path.
const (
	MetaFolderName      = ".lakeline"
	TempFolderName      = ".temp"
	AuxFolderName       = ".aux"
	BootstrapFolderName = ".bootstrap"
	SchemaFolderName    = ".schema"
	HeartbeatFolderName = ".heartbeat"
	PropertiesFileName  = "table.properties"

	bootstrapByPartitionFolder = "partitions"
	bootstrapByFileIDFolder    = "fileids"
)

// Options tune how a table is opened. The zero value accepts whatever the
// persisted configuration says.
type Options struct {
	// LayoutVersion, when set, must be at least the persisted version; the
	// persisted version is the floor. The higher of the two wins.
	LayoutVersion *timeline.LayoutVersion
}

// MetaClient is the table-level descriptor: it resolves paths, holds the
// persisted table configuration, and lazily constructs and caches the active
// and archived timelines. One MetaClient per base path per process.
type MetaClient struct {
	backend  storage.Backend
	basePath string
	metaPath string
	config   *TableConfig
	layout   timeline.LayoutVersion

	mu       sync.Mutex
	active   *timeline.ActiveTimeline
	archived SingleEntryCache[string, *timeline.ArchivedTimeline]
}

// Open loads the descriptor for an existing table. Fails with
// TableNotFoundError when the meta folder markers are absent, and with
// ConfigMismatchError when opts ask for a layout version lower than the
// persisted one.
func Open(backend storage.Backend, basePath string, opts Options) (*MetaClient, error) {
	metaPath := filepath.Join(basePath, MetaFolderName)
	propsPath := filepath.Join(metaPath, PropertiesFileName)
	ok, err := backend.Exists(propsPath)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, TableNotFoundError(basePath)
	}
	data, err := backend.Read(propsPath)
	if err != nil {
		return nil, errors.Wrap(err, "read table properties")
	}
	cfg, err := UnmarshalTableConfig(data)
	if err != nil {
		return nil, err
	}

	layout := cfg.LayoutVersion
	if opts.LayoutVersion != nil {
		if *opts.LayoutVersion < cfg.LayoutVersion {
			return nil, ConfigMismatchError("requested layout version is lower than the persisted one")
		}
		layout = *opts.LayoutVersion
	}

	return &MetaClient{
		backend:  backend,
		basePath: basePath,
		metaPath: metaPath,
		config:   cfg,
		layout:   layout,
	}, nil
}

// Init creates the meta folder tree and table properties at basePath, then
// opens the table. Re-initializing an existing table is a no-op open, not an
// error.
func Init(backend storage.Backend, basePath string, cfg TableConfig) (*MetaClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	metaPath := filepath.Join(basePath, MetaFolderName)
	auxPath := filepath.Join(metaPath, AuxFolderName)
	dirs := []string{
		metaPath,
		filepath.Join(metaPath, TempFolderName),
		auxPath,
		filepath.Join(auxPath, BootstrapFolderName, bootstrapByPartitionFolder),
		filepath.Join(auxPath, BootstrapFolderName, bootstrapByFileIDFolder),
		filepath.Join(metaPath, SchemaFolderName),
		filepath.Join(metaPath, HeartbeatFolderName),
		filepath.Join(metaPath, cfg.ArchiveFolder),
	}
	for _, dir := range dirs {
		if err := backend.MkdirAll(dir); err != nil {
			return nil, errors.Wrapf(err, "init meta folder %s", dir)
		}
	}

	propsPath := filepath.Join(metaPath, PropertiesFileName)
	err := backend.CreateIfAbsent(propsPath, cfg.Marshal())
	switch {
	case err == nil:
		log.Info("initialized %s table %q at %s", cfg.Type, cfg.Name, basePath)
	case errors.Is(err, storage.ErrAlreadyExists):
		// Re-init over an existing table keeps the persisted config.
	default:
		return nil, errors.Wrap(err, "write table properties")
	}
	return Open(backend, basePath, Options{})
}

// Reload builds a fresh descriptor for the same base path, re-reading the
// persisted configuration and dropping all timeline caches.
func Reload(old *MetaClient) (*MetaClient, error) {
	var opts Options
	if old.layout != old.config.LayoutVersion {
		layout := old.layout
		opts.LayoutVersion = &layout
	}
	return Open(old.backend, old.basePath, opts)
}

func (c *MetaClient) Backend() storage.Backend { return c.backend }
func (c *MetaClient) BasePath() string         { return c.basePath }
func (c *MetaClient) MetaPath() string         { return c.metaPath }

func (c *MetaClient) TableConfig() *TableConfig { return c.config }

func (c *MetaClient) LayoutVersion() timeline.LayoutVersion { return c.layout }

func (c *MetaClient) ArchivePath() string {
	return filepath.Join(c.metaPath, c.config.ArchiveFolder)
}

func (c *MetaClient) TempFolderPath() string {
	return filepath.Join(c.metaPath, TempFolderName)
}

func (c *MetaClient) SchemaFolderPath() string {
	return filepath.Join(c.metaPath, SchemaFolderName)
}

func (c *MetaClient) HeartbeatFolderPath() string {
	return filepath.Join(c.metaPath, HeartbeatFolderName)
}

// GetActiveTimeline lazily constructs the active timeline once and caches it
// for the life of the descriptor.
func (c *MetaClient) GetActiveTimeline() (*timeline.ActiveTimeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		at, err := timeline.NewActiveTimeline(c.backend, c.metaPath, c.layout)
		if err != nil {
			return nil, err
		}
		c.active = at
	}
	return c.active, nil
}

// ReloadActiveTimeline forces a fresh scan and replaces the cached view.
// Not safe to call concurrently with in-flight mutation through the same
// descriptor.
func (c *MetaClient) ReloadActiveTimeline() (*timeline.ActiveTimeline, error) {
	at, err := timeline.NewActiveTimeline(c.backend, c.metaPath, c.layout)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.active = at
	c.mu.Unlock()
	return at, nil
}

// GetArchivedTimeline returns the archived timeline from startTs (inclusive;
// "" means the whole archive). With useCache, at most one instance is kept
// and a different startTs evicts it: construction is expensive and rarely
// wanted for more than one watermark per session.
func (c *MetaClient) GetArchivedTimeline(startTs string, useCache bool) (*timeline.ArchivedTimeline, error) {
	compute := func() (*timeline.ArchivedTimeline, error) {
		return timeline.NewArchivedTimeline(c.backend, c.ArchivePath(), startTs)
	}
	if !useCache {
		return compute()
	}
	return c.archived.GetOrCompute(startTs, compute)
}

// InvalidateArchivedTimeline drops the cached archived timeline, e.g. after
// the archiver appended new segments.
func (c *MetaClient) InvalidateArchivedTimeline() {
	c.archived.Invalidate()
}

// GetCommitsTimeline is the table-type-dependent write history projection:
// copy-on-write exposes plain commits (and replace commits); merge-on-read
// folds in delta commits.
func (c *MetaClient) GetCommitsTimeline() (*timeline.Timeline, error) {
	at, err := c.GetActiveTimeline()
	if err != nil {
		return nil, err
	}
	switch c.config.Type {
	case CopyOnWrite:
		return at.GetCommitTimeline(), nil
	case MergeOnRead:
		return at.GetCommitsTimeline(), nil
	default:
		return nil, UnsupportedTableTypeError(string(c.config.Type))
	}
}

// GetCommitsAndCompactionTimeline additionally includes pending compactions
// for merge-on-read tables, so file-slice views spanning a pending
// compaction stay valid.
func (c *MetaClient) GetCommitsAndCompactionTimeline() (*timeline.Timeline, error) {
	at, err := c.GetActiveTimeline()
	if err != nil {
		return nil, err
	}
	switch c.config.Type {
	case CopyOnWrite:
		return at.GetCommitTimeline(), nil
	case MergeOnRead:
		return at.GetWriteTimeline(), nil
	default:
		return nil, UnsupportedTableTypeError(string(c.config.Type))
	}
}

// IsTimelineNonEmpty reports whether any completed commit exists.
func (c *MetaClient) IsTimelineNonEmpty() (bool, error) {
	tl, err := c.GetCommitsTimeline()
	if err != nil {
		return false, err
	}
	return !tl.FilterCompletedInstants().Empty(), nil
}

// ValidateWriteConfig rejects incoming write configuration that conflicts
// with the persisted table config:
//   - meta fields, once disabled, can never be re-enabled;
//   - with meta fields disabled only the simple, complex and nonpartitioned
//     key generators are allowed;
//   - a copy-on-write table cannot use a consistent-hashing bucket index;
//   - record-key fields are immutable unless the overwrite flag is set.
func (c *MetaClient) ValidateWriteConfig(props map[string]string) error {
	if !c.config.PopulateMetaFields {
		if parseBoolOr(props[PropPopulateMetaFields], true) {
			return ConfigMismatchError(PropPopulateMetaFields +
				" already disabled for the table and cannot be re-enabled")
		}
		keyGen := props[PropKeyGenerator]
		if keyGen == "" {
			keyGen = KeyGenSimple
		}
		switch keyGen {
		case KeyGenSimple, KeyGenComplex, KeyGenNonpartitioned:
		default:
			return ConfigMismatchError(
				"only simple, nonpartitioned or complex key generators are supported with meta fields disabled, got " + keyGen)
		}
	}

	if c.config.Type == CopyOnWrite &&
		props[PropIndexType] == "BUCKET" &&
		props[PropIndexBucketEngine] == "CONSISTENT_HASHING" {
		return ConfigMismatchError(
			"consistent hashing bucket index does not work with a copy-on-write table")
	}

	if keys, ok := props[PropRecordKeyFields]; ok && len(c.config.RecordKeyFields) > 0 {
		persisted := joinFields(c.config.RecordKeyFields)
		if keys != persisted && !parseBoolOr(props[PropAllowConfigOverwrite], false) {
			return ConfigMismatchError(
				"record key fields are immutable after the first write: persisted " + persisted + ", got " + keys)
		}
	}
	return nil
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}
