package meta

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lakeline/lakeline/timeline"
)

// TableType selects the write semantics of a table.
type TableType string

const (
	CopyOnWrite TableType = "COPY_ON_WRITE"
	MergeOnRead TableType = "MERGE_ON_READ"
)

// Property keys persisted in table.properties.
const (
	PropTableType             = "lakeline.table.type"
	PropTableName             = "lakeline.table.name"
	PropDatabaseName          = "lakeline.database.name"
	PropRecordKeyFields       = "lakeline.table.recordkey.fields"
	PropPartitionFields       = "lakeline.table.partition.fields"
	PropKeyGenerator          = "lakeline.table.keygenerator.type"
	PropMergeStrategy         = "lakeline.table.merge.strategy"
	PropArchiveFolder         = "lakeline.archivelog.folder"
	PropLayoutVersion         = "lakeline.timeline.layout.version"
	PropBaseFileFormat        = "lakeline.table.base.file.format"
	PropPopulateMetaFields    = "lakeline.populate.meta.fields"
	PropCDCEnabled            = "lakeline.table.cdc.enabled"
	PropHiveStylePartitioning = "lakeline.hive.style.partitioning"
	PropDropPartitionColumns  = "lakeline.table.drop.partition.columns"
	PropBootstrapBasePath     = "lakeline.bootstrap.base.path"
	PropBootstrapIndexEnable  = "lakeline.bootstrap.index.enable"
	PropMetadataPartitions    = "lakeline.table.metadata.partitions"

	// Write-config keys validated against the persisted table config.
	PropIndexType            = "lakeline.index.type"
	PropIndexBucketEngine    = "lakeline.index.bucket.engine"
	PropAllowConfigOverwrite = "lakeline.write.allow.config.overwrite"
)

// Key generators allowed while meta fields are disabled.
const (
	KeyGenSimple         = "simple"
	KeyGenComplex        = "complex"
	KeyGenNonpartitioned = "nonpartitioned"
)

// TableConfig is the persisted identity of a table. Written once at init;
// later opens read it and validate incoming write configuration against it.
type TableConfig struct {
	Type                  TableType
	Name                  string
	Database              string
	RecordKeyFields       []string
	PartitionFields       []string
	KeyGenerator          string
	MergeStrategy         string
	ArchiveFolder         string
	LayoutVersion         timeline.LayoutVersion
	BaseFileFormat        string
	PopulateMetaFields    bool
	CDCEnabled            bool
	HiveStylePartitioning bool
	DropPartitionColumns  bool
	BootstrapBasePath     string
	BootstrapIndexEnable  bool
	MetadataPartitions    []string
}

// DefaultTableConfig fills in the defaults a new table gets when the caller
// leaves a field unset.
func DefaultTableConfig(name string, tableType TableType) TableConfig {
	return TableConfig{
		Type:               tableType,
		Name:               name,
		KeyGenerator:       KeyGenSimple,
		ArchiveFolder:      "archived",
		LayoutVersion:      timeline.CurrentLayoutVersion,
		BaseFileFormat:     "parquet",
		PopulateMetaFields: true,
	}
}

func (c *TableConfig) validate() error {
	if c.Name == "" {
		return ConfigMismatchError("table name is required")
	}
	switch c.Type {
	case CopyOnWrite, MergeOnRead:
	default:
		return UnsupportedTableTypeError(string(c.Type))
	}
	if c.ArchiveFolder == "" {
		c.ArchiveFolder = "archived"
	}
	return nil
}

// CommitActionType is the action recorded for ingestion commits of this
// table type: plain commits for copy-on-write, delta commits for
// merge-on-read.
func (c *TableConfig) CommitActionType() (timeline.Action, error) {
	switch c.Type {
	case CopyOnWrite:
		return timeline.ActionCommit, nil
	case MergeOnRead:
		return timeline.ActionDeltaCommit, nil
	default:
		return "", UnsupportedTableTypeError(string(c.Type))
	}
}

// Marshal renders the config as sorted key=value lines.
func (c *TableConfig) Marshal() []byte {
	props := map[string]string{
		PropTableType:             string(c.Type),
		PropTableName:             c.Name,
		PropArchiveFolder:         c.ArchiveFolder,
		PropLayoutVersion:         strconv.Itoa(int(c.LayoutVersion)),
		PropBaseFileFormat:        c.BaseFileFormat,
		PropPopulateMetaFields:    strconv.FormatBool(c.PopulateMetaFields),
		PropKeyGenerator:          c.KeyGenerator,
		PropCDCEnabled:            strconv.FormatBool(c.CDCEnabled),
		PropHiveStylePartitioning: strconv.FormatBool(c.HiveStylePartitioning),
		PropDropPartitionColumns:  strconv.FormatBool(c.DropPartitionColumns),
		PropBootstrapIndexEnable:  strconv.FormatBool(c.BootstrapIndexEnable),
	}
	if c.Database != "" {
		props[PropDatabaseName] = c.Database
	}
	if len(c.RecordKeyFields) > 0 {
		props[PropRecordKeyFields] = strings.Join(c.RecordKeyFields, ",")
	}
	if len(c.PartitionFields) > 0 {
		props[PropPartitionFields] = strings.Join(c.PartitionFields, ",")
	}
	if c.MergeStrategy != "" {
		props[PropMergeStrategy] = c.MergeStrategy
	}
	if c.BootstrapBasePath != "" {
		props[PropBootstrapBasePath] = c.BootstrapBasePath
	}
	if len(c.MetadataPartitions) > 0 {
		props[PropMetadataPartitions] = strings.Join(c.MetadataPartitions, ",")
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("# lakeline table properties\n")
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(props[k])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// UnmarshalTableConfig parses key=value lines back into a TableConfig.
func UnmarshalTableConfig(data []byte) (*TableConfig, error) {
	props, err := parseProperties(data)
	if err != nil {
		return nil, err
	}
	c := &TableConfig{
		Type:           TableType(props[PropTableType]),
		Name:           props[PropTableName],
		Database:       props[PropDatabaseName],
		KeyGenerator:   props[PropKeyGenerator],
		MergeStrategy:  props[PropMergeStrategy],
		ArchiveFolder:  props[PropArchiveFolder],
		BaseFileFormat: props[PropBaseFileFormat],
	}
	if v := props[PropRecordKeyFields]; v != "" {
		c.RecordKeyFields = strings.Split(v, ",")
	}
	if v := props[PropPartitionFields]; v != "" {
		c.PartitionFields = strings.Split(v, ",")
	}
	if v := props[PropMetadataPartitions]; v != "" {
		c.MetadataPartitions = strings.Split(v, ",")
	}
	if v := props[PropLayoutVersion]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, ConfigMismatchError("bad layout version: " + v)
		}
		c.LayoutVersion = timeline.LayoutVersion(n)
	}
	c.PopulateMetaFields = parseBoolOr(props[PropPopulateMetaFields], true)
	c.CDCEnabled = parseBoolOr(props[PropCDCEnabled], false)
	c.HiveStylePartitioning = parseBoolOr(props[PropHiveStylePartitioning], false)
	c.DropPartitionColumns = parseBoolOr(props[PropDropPartitionColumns], false)
	c.BootstrapIndexEnable = parseBoolOr(props[PropBootstrapIndexEnable], false)
	c.BootstrapBasePath = props[PropBootstrapBasePath]
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseProperties(data []byte) (map[string]string, error) {
	props := make(map[string]string)
	for lineNo, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			return nil, ConfigMismatchError(fmt.Sprintf("malformed property at line %d: %q", lineNo+1, line))
		}
		props[strings.TrimSpace(line[:eq])] = strings.TrimSpace(line[eq+1:])
	}
	return props, nil
}

func parseBoolOr(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
