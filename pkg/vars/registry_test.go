package vars

import (
	"errors"
	"strings"
	"testing"

	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/stretchr/testify/require"
)

func testDefaults() Defaults {
	return Defaults{
		LoggingLevel:        "info",
		LoggingFormat:       "text",
		MySQLHost:           "db.internal",
		MySQLPort:           3306,
		APIDefaultLimit:     50,
		APIMaxQueryLength:   256,
		RateLimitEnable:     true,
		RateLimitCapacity:   100,
		RateLimitRefillRate: 10,
		CacheEnabled:        true,
		CacheMinQueryCostMS: 5,
		CacheTTLSeconds:     60,
	}
}

func TestSetMutableVariableCommitsValue(t *testing.T) {
	r := New(testDefaults(), nil)
	require.NoError(t, r.Set("logging.level", "debug"))
	v, ok := r.Get("logging.level")
	require.True(t, ok)
	require.Equal(t, "debug", v)
}

func TestSetUnknownVariableIsNotFound(t *testing.T) {
	r := New(testDefaults(), nil)
	err := r.Set("nonexistent.knob", "x")
	require.Error(t, err)
}

func TestSetImmutableVariableIsRejected(t *testing.T) {
	r := New(testDefaults(), nil)
	err := r.Set("mysql.user", "root")
	require.ErrorContains(t, err, "immutable")
}

func TestSetRejectsWrongType(t *testing.T) {
	r := New(testDefaults(), nil)
	err := r.Set("api.default_limit", "not-a-number")
	require.Error(t, err)
}

func TestSetEnforcesRange(t *testing.T) {
	r := New(testDefaults(), nil)
	require.Error(t, r.Set("api.default_limit", "1"))
	require.Error(t, r.Set("api.default_limit", "5000"))
	require.NoError(t, r.Set("api.default_limit", "100"))
}

func TestSetCacheEnabledAppliesToCacheManager(t *testing.T) {
	r := New(testDefaults(), nil)
	c := cache.New(cache.Config{MaxMemoryBytes: 1 << 20})
	r.SetCacheManager(c)

	require.NoError(t, r.Set("cache.enabled", "false"))
	require.False(t, c.Enabled())
}

func TestSetMySQLHostInvokesReconnector(t *testing.T) {
	r := New(testDefaults(), nil)
	var gotHost string
	var gotPort int
	r.SetMySQLReconnector(func(host string, port int) error {
		gotHost, gotPort = host, port
		return nil
	})

	require.NoError(t, r.Set("mysql.host", "new-host"))
	require.Equal(t, "new-host", gotHost)
	require.Equal(t, 3306, gotPort)
}

func TestSetMySQLPortFailurePreventsCommit(t *testing.T) {
	r := New(testDefaults(), nil)
	r.SetMySQLReconnector(func(host string, port int) error {
		return require.AnError
	})

	err := r.Set("mysql.port", "3307")
	require.Error(t, err)
	v, _ := r.Get("mysql.port")
	require.Equal(t, "3306", v)
}

func TestSetRateLimitInvokesConfigurer(t *testing.T) {
	r := New(testDefaults(), nil)
	var calls int
	r.SetRateLimiterConfigurer(func(enable bool, capacity, refillRate int) error {
		calls++
		require.True(t, enable)
		require.Equal(t, 200, capacity)
		return nil
	})

	require.NoError(t, r.Set("api.rate_limiting.capacity", "200"))
	require.Equal(t, 1, calls)
}

func TestShowFiltersByLikePattern(t *testing.T) {
	r := New(testDefaults(), nil)
	rows := r.Show("cache.%")
	require.NotEmpty(t, rows)
	for _, row := range rows {
		require.True(t, strings.HasPrefix(row.Name, "cache."))
	}
}

func TestShowEmptyPatternReturnsEverything(t *testing.T) {
	r := New(testDefaults(), nil)
	require.Len(t, r.Show(""), len(r.Rows()))
}

func TestNewRegistersImmutableExtras(t *testing.T) {
	r := New(testDefaults(), map[string]string{"tables.products.ngram_width": "3"})
	v, ok := r.Get("tables.products.ngram_width")
	require.True(t, ok)
	require.Equal(t, "3", v)
	require.ErrorContains(t, r.Set("tables.products.ngram_width", "4"), "immutable")
}

func TestSetPersistHookReceivesCommittedValue(t *testing.T) {
	r := New(testDefaults(), nil)
	var gotName, gotValue string
	r.SetPersistHook(func(name, value string) error {
		gotName, gotValue = name, value
		return nil
	})
	require.NoError(t, r.Set("api.default_limit", "100"))
	require.Equal(t, "api.default_limit", gotName)
	require.Equal(t, "100", gotValue)
}

func TestSetPersistHookFailureDoesNotRollBackValue(t *testing.T) {
	r := New(testDefaults(), nil)
	r.SetPersistHook(func(name, value string) error {
		return errors.New("disk full")
	})
	require.NoError(t, r.Set("api.default_limit", "100"))
	v, ok := r.Get("api.default_limit")
	require.True(t, ok)
	require.Equal(t, "100", v)
}

func TestFormatTableProducesBoxDrawnOutput(t *testing.T) {
	out := FormatTable([]Row{{Name: "cache.enabled", Value: "true", Mutable: true}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 5)
	require.True(t, strings.HasPrefix(lines[0], "+"))
	require.Contains(t, lines[1], "Variable_name")
	require.Contains(t, lines[3], "cache.enabled")
}
