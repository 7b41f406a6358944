// Package vars implements the RuntimeVariableRegistry (spec §4.12): a
// declared catalog of mutable/immutable knobs, each with its own apply
// step, grounded on original_source/src/config/runtime_variable_manager.*.
package vars

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/mygramerr"
)

// Type is a declared variable's value type.
type Type int

const (
	TypeString Type = iota
	TypeInt
	TypeFloat
	TypeBool
)

// Row is a single SHOW VARIABLES result row.
type Row struct {
	Name    string
	Value   string
	Mutable bool
}

type declaration struct {
	typ     Type
	mutable bool
}

// MySQLReconnector is invoked when mysql.host or mysql.port changes.
type MySQLReconnector func(host string, port int) error

// RateLimiterConfigurer is invoked when an api.rate_limiting.* variable
// changes.
type RateLimiterConfigurer func(enable bool, capacity, refillRate int) error

// Registry is the runtime-modifiable variable store (spec §4.12). Its
// catalog is fixed at construction; SET validates against the declared
// type/range and only commits the new value once the relevant apply step
// (logging, cache, rate limiter, reconnect callback) succeeds.
type Registry struct {
	mu     sync.RWMutex
	decls  map[string]declaration
	values map[string]string

	caches       []*cache.Cache
	reconnect    MySQLReconnector
	rateLimiter  RateLimiterConfigurer
	persist      func(name, value string) error

	mysqlHost string
	mysqlPort int
	rlEnable  bool
	rlCap     int
	rlRefill  int
}

// Defaults seeds the registry's initial values from the loaded config.
type Defaults struct {
	LoggingLevel        string
	LoggingFormat       string
	MySQLHost           string
	MySQLPort           int
	APIDefaultLimit     int
	APIMaxQueryLength   int
	RateLimitEnable     bool
	RateLimitCapacity   int
	RateLimitRefillRate int
	CacheEnabled        bool
	CacheMinQueryCostMS float64
	CacheTTLSeconds     int
}

var catalog = map[string]declaration{
	"logging.level":                   {TypeString, true},
	"logging.format":                  {TypeString, true},
	"mysql.host":                      {TypeString, true},
	"mysql.port":                      {TypeInt, true},
	"api.default_limit":               {TypeInt, true},
	"api.max_query_length":            {TypeInt, true},
	"api.rate_limiting.enable":        {TypeBool, true},
	"api.rate_limiting.capacity":      {TypeInt, true},
	"api.rate_limiting.refill_rate":   {TypeInt, true},
	"cache.enabled":                   {TypeBool, true},
	"cache.min_query_cost_ms":         {TypeFloat, true},
	"cache.ttl_seconds":               {TypeInt, true},

	"mysql.user":         {TypeString, false},
	"mysql.password":     {TypeString, false},
	"mysql.database":     {TypeString, false},
	"mysql.use_gtid":     {TypeBool, false},
	"network.allow_cidrs": {TypeString, false},
	"api.tcp.port":        {TypeInt, false},
	"api.http.port":       {TypeInt, false},
}

// New builds a Registry, seeding mutable values from d and registering
// every immutable name in immutableExtra (so SHOW VARIABLES can surface
// config knobs this package's catalog doesn't hardcode, e.g. per-table
// settings) with the given current values.
func New(d Defaults, immutableExtra map[string]string) *Registry {
	r := &Registry{
		decls:     make(map[string]declaration, len(catalog)+len(immutableExtra)),
		values:    make(map[string]string, len(catalog)+len(immutableExtra)),
		mysqlHost: d.MySQLHost,
		mysqlPort: d.MySQLPort,
		rlEnable:  d.RateLimitEnable,
		rlCap:     d.RateLimitCapacity,
		rlRefill:  d.RateLimitRefillRate,
	}
	for name, decl := range catalog {
		r.decls[name] = decl
	}
	r.values["logging.level"] = d.LoggingLevel
	r.values["logging.format"] = d.LoggingFormat
	r.values["mysql.host"] = d.MySQLHost
	r.values["mysql.port"] = strconv.Itoa(d.MySQLPort)
	r.values["api.default_limit"] = strconv.Itoa(d.APIDefaultLimit)
	r.values["api.max_query_length"] = strconv.Itoa(d.APIMaxQueryLength)
	r.values["api.rate_limiting.enable"] = strconv.FormatBool(d.RateLimitEnable)
	r.values["api.rate_limiting.capacity"] = strconv.Itoa(d.RateLimitCapacity)
	r.values["api.rate_limiting.refill_rate"] = strconv.Itoa(d.RateLimitRefillRate)
	r.values["cache.enabled"] = strconv.FormatBool(d.CacheEnabled)
	r.values["cache.min_query_cost_ms"] = strconv.FormatFloat(d.CacheMinQueryCostMS, 'g', -1, 64)
	r.values["cache.ttl_seconds"] = strconv.Itoa(d.CacheTTLSeconds)

	for name, val := range immutableExtra {
		if _, exists := r.decls[name]; exists {
			continue
		}
		r.decls[name] = declaration{TypeString, false}
		r.values[name] = val
	}
	return r
}

// SetCacheManager wires the per-table caches whose enabled flag,
// min-cost, and TTL are driven by cache.* variables. Every table's
// cache receives the same setting, since cache.* has no per-table
// scope (mirrors CACHE STATS/CLEAR/ENABLE/DISABLE's all-tables fan-out
// in the query dispatcher).
func (r *Registry) SetCacheManager(caches ...*cache.Cache) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caches = caches
}

// SetMySQLReconnector wires the callback invoked when mysql.host or
// mysql.port changes.
func (r *Registry) SetMySQLReconnector(fn MySQLReconnector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnect = fn
}

// SetRateLimiterConfigurer wires the callback invoked when an
// api.rate_limiting.* variable changes.
func (r *Registry) SetRateLimiterConfigurer(fn RateLimiterConfigurer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimiter = fn
}

// SetPersistHook wires a callback invoked after a successful SET so the
// new value survives a restart (typically pkg/state.Store.SaveVar). A
// persist failure is logged but does not roll back the already-applied
// in-memory change.
func (r *Registry) SetPersistHook(fn func(name, value string) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persist = fn
}

// Get returns a variable's current string value.
func (r *Registry) Get(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[name]
	return v, ok
}

// Set validates and applies a new value for name (spec §4.12 SET).
func (r *Registry) Set(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	decl, ok := r.decls[name]
	if !ok {
		return mygramerr.Newf(mygramerr.NotFound, "unknown variable %q", name)
	}
	if !decl.mutable {
		return mygramerr.Newf(mygramerr.InvalidArgument, "%s is immutable (requires restart)", name)
	}
	if err := validateType(decl.typ, value); err != nil {
		return err
	}
	if err := r.apply(name, value); err != nil {
		return err
	}
	r.values[name] = value
	if r.persist != nil {
		if err := r.persist(name, value); err != nil {
			log.WithComponent("vars").Error().Err(err).Str("name", name).Msg("failed to persist variable override")
		}
	}
	return nil
}

func validateType(t Type, value string) error {
	switch t {
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return mygramerr.Newf(mygramerr.InvalidArgument, "expected integer, got %q", value)
		}
	case TypeFloat:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return mygramerr.Newf(mygramerr.InvalidArgument, "expected number, got %q", value)
		}
	case TypeBool:
		if _, err := strconv.ParseBool(value); err != nil {
			return mygramerr.Newf(mygramerr.InvalidArgument, "expected boolean, got %q", value)
		}
	}
	return nil
}

// apply runs the per-variable side effect (spec §4.12 "invokes the
// apply-fn"). Caller holds r.mu.
func (r *Registry) apply(name, value string) error {
	switch name {
	case "logging.level":
		log.SetLevel(log.Level(strings.ToLower(value)))
	case "logging.format":
		return log.SetJSONOutput(strings.EqualFold(value, "json"))

	case "mysql.host":
		return r.applyMySQLReconnect(value, r.mysqlPort)
	case "mysql.port":
		port, _ := strconv.Atoi(value)
		if port < 1 || port > 65535 {
			return mygramerr.Newf(mygramerr.InvalidArgument, "mysql.port out of range: %d", port)
		}
		return r.applyMySQLReconnect(r.mysqlHost, port)

	case "api.default_limit":
		n, _ := strconv.Atoi(value)
		if n < 5 || n > 1000 {
			return mygramerr.Newf(mygramerr.InvalidArgument, "api.default_limit must be 5..1000, got %d", n)
		}
	case "api.max_query_length":
		n, _ := strconv.Atoi(value)
		if n <= 0 {
			return mygramerr.Newf(mygramerr.InvalidArgument, "api.max_query_length must be > 0, got %d", n)
		}

	case "api.rate_limiting.enable":
		enable, _ := strconv.ParseBool(value)
		r.rlEnable = enable
		return r.applyRateLimiter()
	case "api.rate_limiting.capacity":
		n, _ := strconv.Atoi(value)
		if n <= 0 {
			return mygramerr.Newf(mygramerr.InvalidArgument, "api.rate_limiting.capacity must be > 0, got %d", n)
		}
		r.rlCap = n
		return r.applyRateLimiter()
	case "api.rate_limiting.refill_rate":
		n, _ := strconv.Atoi(value)
		if n <= 0 {
			return mygramerr.Newf(mygramerr.InvalidArgument, "api.rate_limiting.refill_rate must be > 0, got %d", n)
		}
		r.rlRefill = n
		return r.applyRateLimiter()

	case "cache.enabled":
		enabled, _ := strconv.ParseBool(value)
		for _, c := range r.caches {
			c.SetEnabled(enabled)
		}
	case "cache.min_query_cost_ms":
		ms, _ := strconv.ParseFloat(value, 64)
		if ms < 0 {
			return mygramerr.Newf(mygramerr.InvalidArgument, "cache.min_query_cost_ms must be >= 0, got %v", ms)
		}
		for _, c := range r.caches {
			c.SetMinQueryCostMS(ms)
		}
	case "cache.ttl_seconds":
		secs, _ := strconv.Atoi(value)
		if secs < 0 {
			return mygramerr.Newf(mygramerr.InvalidArgument, "cache.ttl_seconds must be >= 0, got %d", secs)
		}
		for _, c := range r.caches {
			c.SetTTLSeconds(secs)
		}
	}
	return nil
}

func (r *Registry) applyMySQLReconnect(host string, port int) error {
	if r.reconnect == nil {
		r.mysqlHost, r.mysqlPort = host, port
		return nil
	}
	if err := r.reconnect(host, port); err != nil {
		return mygramerr.Wrap(mygramerr.Unavailable, "mysql reconnect", err)
	}
	r.mysqlHost, r.mysqlPort = host, port
	return nil
}

func (r *Registry) applyRateLimiter() error {
	if r.rateLimiter == nil {
		return nil
	}
	return r.rateLimiter(r.rlEnable, r.rlCap, r.rlRefill)
}

// Rows returns every declared variable as a SHOW VARIABLES row, sorted by
// name.
func (r *Registry) Rows() []Row {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]Row, 0, len(r.decls))
	for name, decl := range r.decls {
		rows = append(rows, Row{Name: name, Value: r.values[name], Mutable: decl.mutable})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// Show returns Rows() filtered by a SQL LIKE pattern (% any run of
// characters, _ any single character, case-insensitive). An empty
// pattern matches everything.
func (r *Registry) Show(pattern string) []Row {
	all := r.Rows()
	if pattern == "" {
		return all
	}
	re := likeToRegexp(pattern)
	out := all[:0:0]
	for _, row := range all {
		if re.MatchString(row.Name) {
			out = append(out, row)
		}
	}
	return out
}
