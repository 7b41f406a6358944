package server

import (
	"bufio"
	"net"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/libraz/mygram-db/pkg/log"
	"github.com/libraz/mygram-db/pkg/metrics"
)

// ConnectionAcceptor is the single thread owning the listening socket
// (spec §5 "single-thread Acceptor"). It checks each accepted address
// against a CIDR allowlist before handing the connection to a
// WorkerPool; admission is the only gate since the wire protocol has no
// authentication step (spec §4.11).
type ConnectionAcceptor struct {
	listener    net.Listener
	pool        *WorkerPool
	allowedCIDR []netip.Prefix
	nextConnID  atomic.Uint64
}

// NewAcceptor builds an acceptor bound to listener, handing accepted
// connections to pool (whose handle func is expected to call
// HandleConnection with the server's Dispatcher). allowedCIDRs may be
// empty, in which case every address is accepted.
func NewAcceptor(listener net.Listener, pool *WorkerPool, allowedCIDRs []string) (*ConnectionAcceptor, error) {
	prefixes := make([]netip.Prefix, 0, len(allowedCIDRs))
	for _, c := range allowedCIDRs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return &ConnectionAcceptor{listener: listener, pool: pool, allowedCIDR: prefixes}, nil
}

// Run blocks accepting connections until the listener is closed.
func (a *ConnectionAcceptor) Run() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			log.Errorf("accept failed", err)
			continue
		}

		if !a.allowed(conn.RemoteAddr()) {
			log.WithComponent("acceptor").Warn().Str("remote", conn.RemoteAddr().String()).Msg("connection rejected: not in allowlist")
			metrics.ConnectionsRejectedTotal.Inc()
			conn.Close()
			continue
		}

		connID := a.nextConnID.Add(1)
		job := Job{ConnID: connID, Conn: conn}
		if !a.pool.Submit(job) {
			metrics.ServerBusyTotal.Inc()
			conn.Write([]byte("ERROR server busy\r\n"))
			conn.Close()
		}
	}
}

func (a *ConnectionAcceptor) allowed(addr net.Addr) bool {
	if len(a.allowedCIDR) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	for _, p := range a.allowedCIDR {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// HandleConnection reads newline-delimited commands from conn until EOF
// or a protocol error, dispatching each to d and writing back the
// formatted response terminated by `\r\n` (spec §6).
func HandleConnection(d *Dispatcher, connID uint64, conn net.Conn) {
	defer conn.Close()
	d.ClientConnected()
	defer d.ClientDisconnected()
	logger := log.WithConn(connID)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	state := &ConnState{}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		resp := d.Handle(state, line)
		if _, err := conn.Write([]byte(resp + "\r\n")); err != nil {
			logger.Debug().Err(err).Msg("write failed, closing connection")
			return
		}
	}
}
