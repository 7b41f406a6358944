package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/table"
)

// Scheduler runs a periodic background DUMP SAVE under its own in-flight
// guard, pruning old auto_-prefixed snapshots afterward (spec §4.10
// Scheduler). Only tick takes that guard; a manual DUMP SAVE does not, so
// a scheduled save and a manual save can run at the same time.
type Scheduler struct {
	dir      string
	interval time.Duration
	retain   int
	inFlight atomic.Bool

	tables func() map[string]*table.Context
}

// NewScheduler builds a Scheduler that saves into dir every interval,
// retaining the retain newest auto_-prefixed snapshots. tables is called
// at each tick to get the current set of TableContexts.
func NewScheduler(dir string, interval time.Duration, retain int, tables func() map[string]*table.Context) *Scheduler {
	return &Scheduler{dir: dir, interval: interval, retain: retain, tables: tables}
}

// TryAcquire attempts to take the scheduler's in-flight guard, returning
// false if a scheduled save is already underway. Manual DUMP SAVE is not
// tracked by this guard.
func (s *Scheduler) TryAcquire() bool { return s.inFlight.CompareAndSwap(false, true) }

// Release drops the guard.
func (s *Scheduler) Release() { s.inFlight.Store(false) }

// InProgress reports whether a save is currently running.
func (s *Scheduler) InProgress() bool { return s.inFlight.Load() }

// Run drives the periodic save loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	if !s.TryAcquire() {
		log.WithComponent("snapshot-scheduler").Debug().Msg("skipping scheduled save: previous scheduled save in progress")
		return
	}
	defer s.Release()

	autoDir := filepath.Join(s.dir, "auto_"+time.Now().UTC().Format("20060102T150405Z"))
	if err := Save(autoDir, s.tables()); err != nil {
		log.WithComponent("snapshot-scheduler").Error().Err(err).Msg("scheduled snapshot save failed")
		return
	}
	if err := s.prune(); err != nil {
		log.WithComponent("snapshot-scheduler").Error().Err(err).Msg("snapshot retention pruning failed")
	}
}

// prune removes auto_-prefixed snapshot directories beyond the retain
// newest (spec §4.10 "prunes files whose prefix begins with auto_ beyond
// the retain newest").
func (s *Scheduler) prune() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	var autos []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "auto_") {
			autos = append(autos, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(autos))) // lexicographic == chronological for this timestamp format
	if len(autos) <= s.retain {
		return nil
	}
	for _, name := range autos[s.retain:] {
		if err := os.RemoveAll(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}
