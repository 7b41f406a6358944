// Package config loads and validates MygramDB's YAML configuration file
// into immutable data handed to the core at startup (spec §2 "schema-
// validated structured config is handed to the core as immutable
// data"), grounded on cuemby-warren/cmd/warren/apply.go's
// yaml.Unmarshal-to-struct style and original_source/src/config/
// config.{h,cpp} for the field set and defaults this distills. Field
// validation (required server_id, table name uniqueness)
// mirrors config.cpp's inline checks rather than a generic JSON-Schema
// validator, since the original's embedded schema is not part of the
// filtered original_source pack.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/libraz/mygram-db/pkg/binlog"
	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/filter"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/mygramerr"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/libraz/mygram-db/pkg/vars"
)

// MySQL is the replication source connection (config.h's MysqlConfig).
type MySQL struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	UseGTID         bool   `yaml:"use_gtid"`
	ConnectTimeoutMS int   `yaml:"connect_timeout_ms"`
}

// RequiredFilter declares a data-existence condition (config.h's
// RequiredFilterConfig).
type RequiredFilter struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}

// OptionalFilter declares a search-time filterable column (config.h's
// FilterConfig).
type OptionalFilter struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// TextSource declares the text column or concatenation that feeds the
// ngram indexer (config.h's TextSourceConfig).
type TextSource struct {
	Column    string   `yaml:"column"`
	Concat    []string `yaml:"concat"`
	Delimiter string   `yaml:"delimiter"`
}

// Table is one entry of the top-level tables: list (config.h's
// TableConfig, trimmed to the fields SPEC_FULL's TableContext uses).
type Table struct {
	Name            string           `yaml:"name"`
	PrimaryKey      string           `yaml:"primary_key"`
	TextSource      TextSource       `yaml:"text_source"`
	RequiredFilters []RequiredFilter `yaml:"required_filters"`
	Filters         []OptionalFilter `yaml:"filters"`
	NgramSize       int              `yaml:"ngram_size"`
	KanjiNgramSize  int              `yaml:"kanji_ngram_size"`
	RoaringThreshold float64         `yaml:"roaring_threshold"`
}

// Replication configures the binlog reader (config.h's ReplicationConfig).
type Replication struct {
	Enable                bool   `yaml:"enable"`
	ServerID              uint32 `yaml:"server_id"`
	StateFile             string `yaml:"state_file"`
	QueueSize             int    `yaml:"queue_size"`
	ReconnectBackoffMinMS int    `yaml:"reconnect_backoff_min_ms"`
	ReconnectBackoffMaxMS int    `yaml:"reconnect_backoff_max_ms"`
	GTIDStatePersistEvery int    `yaml:"gtid_state_persist_every"`
}

// Snapshot configures the scheduler (config.h's SnapshotConfig).
type Snapshot struct {
	Dir         string `yaml:"dir"`
	IntervalSec int    `yaml:"interval_sec"`
	Retain      int    `yaml:"retain"`
}

// bindPort is shared by the legacy server: block and the tcp/http
// sub-blocks of api:; pointer fields distinguish "absent" from "zero
// value" so the api: > server: merge only overrides what api: actually
// sets.
type bindPort struct {
	Bind *string `yaml:"bind"`
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

// httpBindPort is api.http:'s bind block, which also carries its own
// enable flag on top of the shared bind/port fields.
type httpBindPort struct {
	Bind   *string `yaml:"bind"`
	Port   *int    `yaml:"port"`
	Enable *bool   `yaml:"enable"`
}

// RateLimiting is api.rate_limiting:.
type RateLimiting struct {
	Enable     bool `yaml:"enable"`
	Capacity   int  `yaml:"capacity"`
	RefillRate int  `yaml:"refill_rate"`
}

// API is the new-style api: section (config.h's ApiConfig).
type API struct {
	TCP            bindPort     `yaml:"tcp"`
	HTTP           httpBindPort `yaml:"http"`
	DefaultLimit   int          `yaml:"default_limit"`
	MaxQueryLength int          `yaml:"max_query_length"`
	RateLimiting   RateLimiting `yaml:"rate_limiting"`
}

// Network is allow_cidrs (config.h's NetworkConfig).
type Network struct {
	AllowCIDRs []string `yaml:"allow_cidrs"`
}

// Cache configures the per-table result cache.
type Cache struct {
	Enabled        bool    `yaml:"enabled"`
	MaxMemoryMB    int     `yaml:"max_memory_mb"`
	MinQueryCostMS float64 `yaml:"min_query_cost_ms"`
	TTLSeconds     int     `yaml:"ttl_seconds"`
}

// Logging configures pkg/log (config.h's LoggingConfig).
type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Root is the full configuration document.
type Root struct {
	MySQL       MySQL       `yaml:"mysql"`
	Tables      []Table     `yaml:"tables"`
	Replication Replication `yaml:"replication"`
	Snapshot    Snapshot    `yaml:"snapshot"`
	Network     Network     `yaml:"network"`
	Cache       Cache       `yaml:"cache"`
	Logging     Logging     `yaml:"logging"`

	// Server is the legacy pre-api: section (spec §9 open question):
	// applied first, then API's explicit fields override it, whatever
	// order the two sections appear in the file.
	Server bindPort `yaml:"server"`
	API    API      `yaml:"api"`

	// resolved holds the post-merge listen addresses computed by
	// resolveAddrs, populated by Load/Validate.
	resolved resolvedAddrs
}

type resolvedAddrs struct {
	tcpBind  string
	tcpPort  int
	httpBind string
	httpPort int
	httpOn   bool
}

func withDefaults() Root {
	httpEnable := true
	return Root{
		MySQL: MySQL{Host: "127.0.0.1", Port: 3306, UseGTID: true, ConnectTimeoutMS: 3000},
		Replication: Replication{
			Enable: true, StateFile: "./mygramdb_replication.state", QueueSize: 10000,
			ReconnectBackoffMinMS: 500, ReconnectBackoffMaxMS: 10000, GTIDStatePersistEvery: 100,
		},
		Snapshot: Snapshot{Dir: "/var/lib/mygramdb/snapshots", IntervalSec: 600, Retain: 3},
		Cache:    Cache{Enabled: true, MaxMemoryMB: 512, MinQueryCostMS: 5, TTLSeconds: 60},
		Logging:  Logging{Level: "info", JSON: true},
		API: API{
			DefaultLimit:   50,
			MaxQueryLength: 256,
			HTTP:           httpBindPort{Enable: &httpEnable},
		},
	}
}

// Load reads and parses path, applies defaults for unset fields, merges
// the legacy server: section under api: (server: applied first, api:
// wins on conflict, regardless of file order), and validates the result.
func Load(path string) (*Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.NotFound, "read config file", err)
	}

	root := withDefaults()
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, mygramerr.Wrap(mygramerr.InvalidArgument, "parse config yaml", err)
	}
	root.resolveAddrs()

	if err := root.Validate(); err != nil {
		return nil, err
	}
	return &root, nil
}

// resolveAddrs applies server: as a base and overlays api:'s explicit
// fields on top, so api: wins exactly when both set the same knob.
func (r *Root) resolveAddrs() {
	addrs := resolvedAddrs{tcpBind: "0.0.0.0", tcpPort: 11311, httpBind: "127.0.0.1", httpPort: 8080, httpOn: true}

	if r.Server.Host != nil {
		addrs.tcpBind = *r.Server.Host
	}
	if r.Server.Port != nil {
		addrs.tcpPort = *r.Server.Port
	}

	if r.API.TCP.Bind != nil {
		addrs.tcpBind = *r.API.TCP.Bind
	}
	if r.API.TCP.Port != nil {
		addrs.tcpPort = *r.API.TCP.Port
	}
	if r.API.HTTP.Bind != nil {
		addrs.httpBind = *r.API.HTTP.Bind
	}
	if r.API.HTTP.Port != nil {
		addrs.httpPort = *r.API.HTTP.Port
	}
	if r.API.HTTP.Enable != nil {
		addrs.httpOn = *r.API.HTTP.Enable
	}

	r.resolved = addrs
}

// Validate checks the invariants spec.md calls out explicitly: a
// non-zero replication server_id when replication is enabled (spec
// §4.9 Starting), at least one table, and unique table names.
func (r *Root) Validate() error {
	if r.Replication.Enable && r.Replication.ServerID == 0 {
		return mygramerr.New(mygramerr.InvalidArgument,
			"replication.server_id must be non-zero when replication is enabled")
	}
	if len(r.Tables) == 0 {
		return mygramerr.New(mygramerr.InvalidArgument, "at least one table must be configured")
	}
	seen := make(map[string]bool, len(r.Tables))
	for _, t := range r.Tables {
		if t.Name == "" {
			return mygramerr.New(mygramerr.InvalidArgument, "table configuration missing name")
		}
		if seen[t.Name] {
			return mygramerr.Newf(mygramerr.InvalidArgument, "duplicate table name %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// TCPAddr returns the line-protocol listen address, "bind:port".
func (r *Root) TCPAddr() string {
	return fmt.Sprintf("%s:%d", r.resolved.tcpBind, r.resolved.tcpPort)
}

// HTTPAddr returns the HTTP surface's listen address, or "" if disabled.
func (r *Root) HTTPAddr() string {
	if !r.resolved.httpOn {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.resolved.httpBind, r.resolved.httpPort)
}

// TableConfigs converts the declared tables: list into pkg/table.Config
// values.
func (r *Root) TableConfigs() ([]table.Config, error) {
	out := make([]table.Config, 0, len(r.Tables))
	for _, t := range r.Tables {
		tc, err := t.toTableConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

// VarsDefaults converts the loaded config into the seed values
// pkg/vars.Registry starts from (spec §4.12).
func (r *Root) VarsDefaults() vars.Defaults {
	return vars.Defaults{
		LoggingLevel:        r.Logging.Level,
		LoggingFormat:       logFormat(r.Logging.JSON),
		MySQLHost:           r.MySQL.Host,
		MySQLPort:           r.MySQL.Port,
		APIDefaultLimit:     r.API.DefaultLimit,
		APIMaxQueryLength:   r.API.MaxQueryLength,
		RateLimitEnable:     r.API.RateLimiting.Enable,
		RateLimitCapacity:   r.API.RateLimiting.Capacity,
		RateLimitRefillRate: r.API.RateLimiting.RefillRate,
		CacheEnabled:        r.Cache.Enabled,
		CacheMinQueryCostMS: r.Cache.MinQueryCostMS,
		CacheTTLSeconds:     r.Cache.TTLSeconds,
	}
}

func logFormat(jsonOutput bool) string {
	if jsonOutput {
		return "json"
	}
	return "text"
}

// LogConfig converts the logging: section into pkg/log.Config.
func (r *Root) LogConfig() log.Config {
	return log.Config{
		Level:      log.Level(r.Logging.Level),
		JSONOutput: r.Logging.JSON,
	}
}

// BinlogConfig converts the mysql:/replication: sections into
// pkg/binlog.Config.
func (r *Root) BinlogConfig() binlog.Config {
	return binlog.Config{
		Host:                r.MySQL.Host,
		Port:                uint16(r.MySQL.Port),
		User:                r.MySQL.User,
		Password:            r.MySQL.Password,
		ReplicaID:           r.Replication.ServerID,
		ReconnectBackoffMin: time.Duration(r.Replication.ReconnectBackoffMinMS) * time.Millisecond,
		ReconnectBackoffMax: time.Duration(r.Replication.ReconnectBackoffMaxMS) * time.Millisecond,
		EventQueueSize:      r.Replication.QueueSize,
		GTIDStatePersistEvery: r.Replication.GTIDStatePersistEvery,
	}
}

// CacheConfig converts cache: into pkg/cache.Config.
func (r *Root) CacheConfig() cache.Config {
	return cache.Config{
		MaxMemoryBytes: int64(r.Cache.MaxMemoryMB) * 1024 * 1024,
		TTL:            time.Duration(r.Cache.TTLSeconds) * time.Second,
		MinQueryCostMS: r.Cache.MinQueryCostMS,
	}
}

func (t Table) toTableConfig() (table.Config, error) {
	cols := t.TextSource.Concat
	if len(cols) == 0 && t.TextSource.Column != "" {
		cols = []string{t.TextSource.Column}
	}
	if len(cols) == 0 {
		return table.Config{}, mygramerr.Newf(mygramerr.InvalidArgument, "table %q: text_source requires column or concat", t.Name)
	}

	pk := t.PrimaryKey
	if pk == "" {
		pk = "id"
	}
	delim := t.TextSource.Delimiter
	if delim == "" {
		delim = " "
	}

	reqs := make([]filter.RequiredFilter, 0, len(t.RequiredFilters))
	for _, rf := range t.RequiredFilters {
		typ, err := parseValueType(rf.Type)
		if err != nil {
			return table.Config{}, fmt.Errorf("table %q required_filter %q: %w", t.Name, rf.Name, err)
		}
		op, err := parseOp(rf.Op)
		if err != nil {
			return table.Config{}, fmt.Errorf("table %q required_filter %q: %w", t.Name, rf.Name, err)
		}
		reqs = append(reqs, filter.RequiredFilter{Column: rf.Name, Type: typ, Op: op, Literal: rf.Value})
	}

	opts := make([]table.OptionalFilterDecl, 0, len(t.Filters))
	for _, f := range t.Filters {
		typ, err := parseValueType(f.Type)
		if err != nil {
			return table.Config{}, fmt.Errorf("table %q filter %q: %w", t.Name, f.Name, err)
		}
		opts = append(opts, table.OptionalFilterDecl{Column: f.Name, Type: typ})
	}

	ngramCfg := ngram.DefaultConfig()
	if t.NgramSize > 0 {
		ngramCfg.WidthASCII = t.NgramSize
	}
	if t.KanjiNgramSize > 0 {
		ngramCfg.WidthCJK = t.KanjiNgramSize
	}

	threshold := ngram.DefaultThreshold()
	if t.RoaringThreshold > 0 {
		threshold.Density = t.RoaringThreshold
	}

	return table.Config{
		Name:            t.Name,
		PKColumn:        pk,
		TextColumns:     cols,
		Delimiter:       delim,
		RequiredFilters: reqs,
		OptionalFilters: opts,
		Ngram:           ngramCfg,
		Threshold:       threshold,
	}, nil
}

func parseValueType(s string) (filter.ValueType, error) {
	switch s {
	case "tinyint", "smallint", "int", "bigint", "tinyint_unsigned_signed":
		return filter.TypeInt, nil
	case "tinyint_unsigned", "smallint_unsigned", "int_unsigned", "bigint_unsigned":
		return filter.TypeUint, nil
	case "float", "double":
		return filter.TypeFloat, nil
	case "string", "varchar", "text":
		return filter.TypeString, nil
	case "datetime", "date", "timestamp":
		return filter.TypeDateTime, nil
	case "bool", "boolean":
		return filter.TypeBool, nil
	default:
		return 0, mygramerr.Newf(mygramerr.InvalidArgument, "unknown filter type %q", s)
	}
}

func parseOp(s string) (filter.Op, error) {
	switch filter.Op(s) {
	case filter.OpEq, filter.OpNe, filter.OpLt, filter.OpGt, filter.OpLe, filter.OpGe, filter.OpIsNull, filter.OpNotNull:
		return filter.Op(s), nil
	default:
		return "", mygramerr.Newf(mygramerr.InvalidArgument, "unknown filter operator %q", s)
	}
}
