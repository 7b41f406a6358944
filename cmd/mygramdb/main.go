// Command mygramdb starts the ngram full-text search server: it loads
// the YAML configuration, builds or restores every configured table's
// in-memory index, starts replication against the MySQL source, and
// serves the line-oriented query protocol plus the HTTP surface until
// asked to stop. Grounded on cuemby-warren/cmd/warren/main.go's cobra
// root-command shape; flags are registered on the root command itself
// and logging is initialized inside run once the config is loaded.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/libraz/mygram-db/pkg/binlog"
	"github.com/libraz/mygram-db/pkg/cache"
	"github.com/libraz/mygram-db/pkg/config"
	"github.com/libraz/mygram-db/pkg/daemon"
	"github.com/libraz/mygram-db/pkg/httpapi"
	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/metrics"
	"github.com/libraz/mygram-db/pkg/mygramerr"
	"github.com/libraz/mygram-db/pkg/ngram"
	"github.com/libraz/mygram-db/pkg/query"
	"github.com/libraz/mygram-db/pkg/queryexec"
	"github.com/libraz/mygram-db/pkg/schema"
	"github.com/libraz/mygram-db/pkg/server"
	"github.com/libraz/mygram-db/pkg/signals"
	"github.com/libraz/mygram-db/pkg/snapshot"
	"github.com/libraz/mygram-db/pkg/state"
	"github.com/libraz/mygram-db/pkg/syncctl"
	"github.com/libraz/mygram-db/pkg/table"
	"github.com/libraz/mygram-db/pkg/vars"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// replicationGTIDKey is the reserved state-store key for the single,
// global binlog resume position, distinct from the per-table keys used
// to record each table's own most recent snapshot GTID.
const replicationGTIDKey = "_replication"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mygramdb",
	Short:   "In-memory ngram full-text search server mirroring a MySQL source",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("mygramdb version %s\n", Version))
	rootCmd.Flags().StringP("config", "c", "mygramdb.yaml", "path to the YAML configuration file")
	rootCmd.Flags().StringP("schema", "s", "", "path to an optional schema-override file (reserved)")
	rootCmd.Flags().BoolP("daemon", "d", false, "detach from the controlling terminal and run in the background")
	rootCmd.Flags().BoolP("config-test", "t", false, "load and validate the configuration, then exit")
}

func run(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	asDaemon, _ := cmd.Flags().GetBool("daemon")
	configTestOnly, _ := cmd.Flags().GetBool("config-test")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return err
	}

	if configTestOnly {
		fmt.Println("OK: configuration is valid")
		return nil
	}

	if err := log.Init(cfg.LogConfig()); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	if err := daemon.RefuseRoot(); err != nil {
		return err
	}
	if asDaemon {
		if err := daemon.Daemonize(); err != nil {
			return err
		}
	}

	return serve(cfg)
}

// serve performs the full startup wiring, blocks until a shutdown
// signal arrives, then unwinds everything in reverse order.
func serve(cfg *config.Root) error {
	l := log.WithComponent("main")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigMgr := signals.New()
	sigMgr.Start()
	defer sigMgr.Stop()

	if err := os.MkdirAll(cfg.Snapshot.Dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	store, err := state.Open(cfg.Snapshot.Dir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	tableCfgs, err := cfg.TableConfigs()
	if err != nil {
		return fmt.Errorf("resolve table configuration: %w", err)
	}

	cacheCfg := cfg.CacheConfig()
	tables := make(map[string]*table.Context, len(tableCfgs))
	for _, tc := range tableCfgs {
		tables[tc.Name] = table.New(tc, cacheCfg)
	}

	db, err := openMySQL(cfg)
	if err != nil {
		return fmt.Errorf("connect to mysql source: %w", err)
	}
	defer db.Close()

	resolver := schema.New(db)
	builder := snapshot.New(db)

	skipped, err := restoreOrBuildTables(ctx, store, builder, cfg.Snapshot.Dir, tables)
	if err != nil {
		return fmt.Errorf("initial table load: %w", err)
	}
	for _, name := range skipped {
		l.Warn().Str("table", name).Msg("snapshot manifest referenced an unconfigured table; skipped")
	}

	var reader *binlog.Reader
	if cfg.Replication.Enable {
		persist := func(gtid string) error { return store.SaveGTID(replicationGTIDKey, gtid) }
		reader, err = binlog.New(cfg.BinlogConfig(), resolver, tables, persist)
		if err != nil {
			return fmt.Errorf("build binlog reader: %w", err)
		}

		applier := binlog.NewApplier(tables, func(tableName string) {
			l.Warn().Str("table", tableName).Msg("DDL observed; table needs a SYNC")
		})
		go applier.Run(reader.Events())

		startGTID, err := store.LoadGTID(replicationGTIDKey)
		if err != nil {
			return fmt.Errorf("load replication state: %w", err)
		}
		if startGTID == "" {
			startGTID = oldestTableGTID(tables)
		}
		go reader.Start(ctx, startGTID)
	}

	exec := queryexec.New(func(column, literal string) {
		l.Warn().Str("column", column).Str("literal", literal).Msg("filter literal failed to parse; treating as non-match")
	})

	reg := vars.New(cfg.VarsDefaults(), nil)
	reg.SetCacheManager(tableCaches(tables)...)
	reg.SetPersistHook(store.SaveVar)

	restart := func(gtid string) string {
		if reader == nil {
			return "DISABLED"
		}
		reader.Stop()
		go reader.Start(ctx, gtid)
		return "STARTED"
	}
	coord := syncctl.New(tables, builder, restart, nil)

	admission := &server.Admission{}
	dispatcher := server.New(ctx, tables, exec, reg, coord, admission, reader, cfg.Snapshot.Dir, Version,
		query.Options{DefaultLimit: cfg.API.DefaultLimit})

	pool := server.NewWorkerPool(0, func(job server.Job) {
		server.HandleConnection(dispatcher, job.ConnID, job.Conn)
	})
	pool.Start()
	defer pool.Stop()

	listener, err := net.Listen("tcp", cfg.TCPAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.TCPAddr(), err)
	}
	defer listener.Close()

	acceptor, err := server.NewAcceptor(listener, pool, cfg.Network.AllowCIDRs)
	if err != nil {
		return fmt.Errorf("build connection acceptor: %w", err)
	}
	go acceptor.Run()
	l.Info().Str("addr", cfg.TCPAddr()).Msg("listening for line-protocol connections")

	var httpSrv *httpapi.Server
	if addr := cfg.HTTPAddr(); addr != "" {
		httpSrv = httpapi.New(addr, dispatcher)
		httpSrv.Start()
		l.Info().Str("addr", addr).Msg("listening for http connections")
	}

	collector := metrics.NewCollector(tables)
	collector.Start()
	defer collector.Stop()

	if cfg.Snapshot.IntervalSec > 0 {
		scheduler := snapshot.NewScheduler(cfg.Snapshot.Dir, time.Duration(cfg.Snapshot.IntervalSec)*time.Second,
			cfg.Snapshot.Retain, func() map[string]*table.Context { return tables })
		go scheduler.Run(ctx)
	}

	l.Info().Msg("mygramdb is ready")
	waitForShutdown(sigMgr)
	l.Info().Msg("shutdown requested, draining")

	if reader != nil {
		reader.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Msg("http server shutdown error")
		}
	}

	l.Info().Msg("shutdown complete")
	return nil
}

// waitForShutdown blocks until the signal manager observes SIGINT or
// SIGTERM, reopening the log file whenever a SIGUSR1 arrives in the
// meantime.
func waitForShutdown(sigMgr *signals.Manager) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if sigMgr.ConsumeLogReopenRequest() {
			if err := log.Reopen(); err != nil {
				log.WithComponent("main").Error().Err(err).Msg("failed to reopen log file")
			}
		}
		if sigMgr.ShutdownRequested() {
			return
		}
	}
}

func openMySQL(cfg *config.Root) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?timeout=%dms&parseTime=true",
		cfg.MySQL.User, cfg.MySQL.Password, cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.Database, cfg.MySQL.ConnectTimeoutMS)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.Unavailable, "open mysql connection pool", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, mygramerr.Wrap(mygramerr.Unavailable, "ping mysql source", err)
	}
	return db, nil
}

// restoreOrBuildTables tries to load the most recent on-disk snapshot
// from dir first (spec §4.10 Load); any table the snapshot doesn't
// cover (a missing manifest entirely, or a table declared in config
// after the snapshot was taken) is built fresh from the MySQL source
// instead (spec §4.8 Build). Returns the manifest's skipped-table names
// so the caller can log the discrepancy.
func restoreOrBuildTables(ctx context.Context, store *state.Store, builder *snapshot.Builder, dir string, tables map[string]*table.Context) ([]string, error) {
	l := log.WithComponent("startup")

	manifest, skipped, err := snapshot.Load(dir, tables, ngram.DefaultThreshold())
	loaded := make(map[string]bool, len(manifest.Tables))
	if err == nil {
		for _, name := range manifest.Tables {
			loaded[name] = true
		}
		l.Info().Strs("tables", manifest.Tables).Str("gtid", manifest.GTID).Msg("restored snapshot from disk")
	} else {
		l.Warn().Err(err).Msg("no usable on-disk snapshot; building every table from the mysql source")
	}

	for name, tc := range tables {
		if loaded[name] {
			continue
		}
		result, idx, docs, err := builder.Build(ctx, tc.Config(), name, func(p snapshot.Progress) {
			l.Info().Str("table", name).Int64("processed", p.ProcessedRows).
				Float64("rows_per_sec", p.RowsPerSecond).Msg("building snapshot")
		}, 10000)
		if err != nil {
			return skipped, fmt.Errorf("build snapshot for table %q: %w", name, err)
		}
		tc.Lock()
		tc.Reset(idx, docs, result.GTID)
		tc.Unlock()
		if err := store.SaveGTID(name, result.GTID); err != nil {
			l.Error().Err(err).Str("table", name).Msg("failed to persist table snapshot gtid")
		}
		l.Info().Str("table", name).Int64("rows", result.ProcessedRows).
			Int64("skipped", result.SkippedRows).Msg("snapshot built")
	}
	return skipped, nil
}

// oldestTableGTID picks a GTID to resume replication from when no
// persisted "_replication" position exists yet: the first table's own
// snapshot GTID, so a fresh install starts exactly where every table's
// initial build left off (all tables share one build-time snapshot on a
// first run).
func oldestTableGTID(tables map[string]*table.Context) string {
	for _, tc := range tables {
		if g := tc.GTID(); g != "" {
			return g
		}
	}
	return ""
}

func tableCaches(tables map[string]*table.Context) []*cache.Cache {
	out := make([]*cache.Cache, 0, len(tables))
	for _, tc := range tables {
		out = append(out, tc.Cache())
	}
	return out
}
