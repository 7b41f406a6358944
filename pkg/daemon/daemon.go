// Package daemon covers the two process-environment concerns spec §6
// names: refusing to run as uid 0, and (only when -d/--daemon is given)
// detaching from the controlling terminal. Grounded on
// original_source/src/utils/daemon_utils.{h,cpp}; only the uid-0
// refusal is core (spec §6 Environment), so Daemonize is a thin stub:
// the original's fork/setsid/fork sequence is re-expressed as a
// re-exec of the current binary with a new session (Go's runtime
// starts extra OS threads before main runs, which makes a raw fork(2)
// of a live Go process unsafe, unlike the single-threaded C++
// original), using exec.Command the way cuemby-warren's embedded
// process managers launch subprocesses.
package daemon

import (
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/libraz/mygram-db/pkg/mygramerr"
)

// daemonizedEnvVar marks a re-exec'd child so it does not daemonize
// itself again.
const daemonizedEnvVar = "MYGRAMDB_DAEMONIZED=1"

// RefuseRoot returns a PermissionDenied error (spec §7, §6's "running
// as root" example) if the process is running as uid 0. It is a no-op
// (always nil) on platforms without a Unix uid concept.
func RefuseRoot() error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if os.Geteuid() == 0 {
		return mygramerr.New(mygramerr.PermissionDenied, "refusing to run as root (uid 0)")
	}
	return nil
}

// Daemonize detaches the process from its controlling terminal: it
// re-executes the current binary with the same argv in a new session
// (setsid), with stdin/stdout/stderr redirected to /dev/null, then
// exits the original process. Call sites must check os.Getenv for
// daemonizedEnvVar having already run before invoking this a second
// time; Daemonize itself is idempotent via that same check.
// A no-op on Windows, which has no equivalent session/terminal model.
func Daemonize() error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if os.Getenv("MYGRAMDB_DAEMONIZED") == "1" {
		return nil
	}

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return mygramerr.Wrap(mygramerr.Internal, "daemonize: open /dev/null", err)
	}
	defer null.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnvVar)
	cmd.Stdin = null
	cmd.Stdout = null
	cmd.Stderr = null
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return mygramerr.Wrap(mygramerr.Internal, "daemonize: re-exec", err)
	}

	os.Exit(0)
	return nil
}
