package httpapi

import (
	"io"
	"net/http"

	"github.com/libraz/mygram-db/pkg/server"
)

const maxCommandBodyBytes = 64 * 1024

// commandHandler translates a single line-protocol command (spec §6) sent
// as the raw POST body into a Dispatcher.Handle call, returning the same
// wire-format response text as the TCP protocol would. This is
// deliberately not a JSON envelope: the wire grammar is already the
// interface, so the HTTP surface just relays it over a different
// transport for callers (curl, load balancers health-checking a query)
// that would rather not open a raw TCP connection.
//
// Each request is its own connection for DEBUG purposes: passing
// ?debug=1 toggles the per-request DEBUG block on, since there is no
// persistent connection to hold a DEBUG ON/OFF toggle across requests.
func commandHandler(d *server.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d == nil {
			http.Error(w, "ERROR server not ready", http.StatusServiceUnavailable)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "ERROR method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBodyBytes+1))
		if err != nil {
			http.Error(w, "ERROR failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) > maxCommandBodyBytes {
			http.Error(w, "ERROR command too long", http.StatusRequestEntityTooLarge)
			return
		}

		conn := &server.ConnState{}
		if r.URL.Query().Get("debug") == "1" {
			conn.SetDebug(true)
		}

		resp := d.Handle(conn, string(body))

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if len(resp) >= 5 && resp[:5] == "ERROR" {
			w.WriteHeader(http.StatusBadRequest)
		}
		_, _ = w.Write([]byte(resp))
	}
}
