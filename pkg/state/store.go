// Package state persists the binlog GTID position and runtime-variable
// overrides across restarts (spec §4.9, §4.12), grounded on
// cuemby-warren/pkg/storage/boltdb.go's bucket-per-kind, db.Update/
// db.View closure pattern, re-homed from cluster/service records onto
// GTID and variable state (SPEC_FULL.md §B).
package state

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/libraz/mygram-db/pkg/mygramerr"
)

var (
	bucketGTID = []byte("gtid")
	bucketVars = []byte("vars")
)

// Store is a bbolt-backed key/value store for the two things MygramDB
// must remember across restarts: the last-applied GTID per watched
// table, and any SET override to a runtime variable.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the state file at filepath.Join(dataDir,
// "mygramdb.state").
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "mygramdb.state")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, mygramerr.Wrap(mygramerr.Internal, "open state file", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketGTID, bucketVars} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, mygramerr.Wrap(mygramerr.Internal, "initialize state buckets", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying state file.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveGTID records table's last-applied GTID. It matches
// binlog.PersistGTID's signature so a table-bound closure can be passed
// straight to binlog.New.
func (s *Store) SaveGTID(table, gtid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGTID).Put([]byte(table), []byte(gtid))
	})
}

// LoadGTID returns table's last-persisted GTID, or "" if none was ever
// saved (a full resync should start from the source's current
// GTID_EXECUTED in that case, per spec §4.9 Starting).
func (s *Store) LoadGTID(table string) (string, error) {
	var gtid string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketGTID).Get([]byte(table))
		gtid = string(v)
		return nil
	})
	return gtid, err
}

// LoadAllGTIDs returns every persisted table -> GTID pair, for restart
// reporting (spec §6 INFO).
func (s *Store) LoadAllGTIDs() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGTID).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

// SaveVar records a SET override so it survives a restart. Only mutable
// variables reach this (vars.Registry.Set already rejected immutables).
func (s *Store) SaveVar(name, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVars).Put([]byte(name), []byte(value))
	})
}

// LoadVars returns every persisted variable override, to seed
// vars.Registry at startup after the config-file defaults are applied.
func (s *Store) LoadVars() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVars).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}
