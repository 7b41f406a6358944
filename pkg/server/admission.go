package server

import "sync/atomic"

// Admission holds the process-wide gates checked by handlers before
// running a command (spec §4.11 Admission gates).
type Admission struct {
	dumpLoadInProgress atomic.Bool
	dumpSaveInProgress atomic.Bool
	mysqlReconnecting  atomic.Bool
	readOnly           atomic.Bool
}

func (a *Admission) SetDumpLoadInProgress(v bool) { a.dumpLoadInProgress.Store(v) }
func (a *Admission) DumpLoadInProgress() bool      { return a.dumpLoadInProgress.Load() }

func (a *Admission) SetDumpSaveInProgress(v bool) { a.dumpSaveInProgress.Store(v) }
func (a *Admission) DumpSaveInProgress() bool      { return a.dumpSaveInProgress.Load() }

func (a *Admission) SetMySQLReconnecting(v bool) { a.mysqlReconnecting.Store(v) }
func (a *Admission) MySQLReconnecting() bool      { return a.mysqlReconnecting.Load() }

func (a *Admission) SetReadOnly(v bool) { a.readOnly.Store(v) }
func (a *Admission) ReadOnly() bool      { return a.readOnly.Load() }
