package server

import (
	"bufio"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcceptorAllowedWithEmptyAllowlist(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	a, err := NewAcceptor(ln, NewWorkerPool(1, func(Job) {}), nil)
	require.NoError(t, err)
	require.True(t, a.allowed(mockAddr("127.0.0.1:5555")))
}

func TestAcceptorRejectsAddressOutsideCIDR(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	a, err := NewAcceptor(ln, NewWorkerPool(1, func(Job) {}), []string{"10.0.0.0/8"})
	require.NoError(t, err)
	require.False(t, a.allowed(mockAddr("127.0.0.1:5555")))
	require.True(t, a.allowed(mockAddr("10.1.2.3:5555")))
}

func TestAcceptorRejectsInvalidCIDR(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, err = NewAcceptor(ln, NewWorkerPool(1, func(Job) {}), []string{"not-a-cidr"})
	require.Error(t, err)
}

type mockAddr string

func (m mockAddr) Network() string { return "tcp" }
func (m mockAddr) String() string  { return string(m) }

func TestHandleConnectionEchoesDispatcherResponses(t *testing.T) {
	d := newTestDispatcher(t)
	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		HandleConnection(d, 1, server)
		close(done)
	}()

	_, err := client.Write([]byte("COUNT products sneakers\r\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "OK COUNT 2\r\n", line)

	client.Close()
	<-done
}
