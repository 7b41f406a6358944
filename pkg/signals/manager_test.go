package signals

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerShutdownRequestedOnSIGTERM(t *testing.T) {
	m := New()
	m.Start()
	defer m.Stop()

	require.False(t, m.ShutdownRequested())

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
	require.Eventually(t, m.ShutdownRequested, time.Second, 5*time.Millisecond)
}

func TestManagerLogReopenRequestIsConsumedOnce(t *testing.T) {
	m := New()
	m.Start()
	defer m.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	require.Eventually(t, func() bool {
		return m.logReopenRequested.Load()
	}, time.Second, 5*time.Millisecond)

	require.True(t, m.ConsumeLogReopenRequest())
	require.False(t, m.ConsumeLogReopenRequest())
}

func TestManagerIgnoresSIGPIPE(t *testing.T) {
	m := New()
	m.Start()
	defer m.Stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGPIPE))
	require.False(t, m.ShutdownRequested())
}
