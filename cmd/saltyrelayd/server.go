package main

import (
	"context"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"nhooyr.io/websocket"

	"saltyrelay.io/relay"
	"saltyrelay.io/session"
)

// protocol is the WebSocket subprotocol negotiated for relay
// connections, analogous to wormhole.Protocol in the teacher.
const protocol = "v1.saltyrtc.org"

// connectionTimeout bounds the total lifetime of a single connection,
// same as cmd/ww/server.go's slotTimeout: a generous ceiling, not a
// handshake deadline, since keep-alive already governs idle liveness.
const connectionTimeout = 24 * time.Hour

const statusPage = `saltyrelayd is running.

This server speaks the SaltyRTC signalling relay protocol over
WebSocket. There is nothing to see here in a regular browser.
`

type serverConfig struct {
	registry         *relay.Registry
	keyring          *relay.Keyring
	metrics          *relay.Metrics
	keepAlive        time.Duration
	keepAliveTimeout time.Duration
	logger           *log.Logger
}

// server is the top-level HTTP handler: it upgrades WebSocket
// connections whose path names a path ID (rejecting other WebSocket
// requests with 400) and serves a small status page for every
// non-WebSocket request, mirroring cmd/ww/server.go's relay()/
// gziphandler split.
type server struct {
	cfg    serverConfig
	status http.Handler
}

func newServer(cfg serverConfig) *server {
	return &server{
		cfg:    cfg,
		status: gziphandler.GzipHandler(http.HandlerFunc(serveStatus)),
	}
}

func serveStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(statusPage))
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.ToLower(r.Header.Get("Upgrade")) != "websocket" {
		s.status.ServeHTTP(w, r)
		return
	}
	s.serveRelay(w, r)
}

// serveRelay upgrades the connection and hands it to session.Serve. The
// path ID is the hex-encoded initiator public key taken from the
// request path, exactly as cmd/ww/server.go takes its slot key from
// r.URL.Path.
func (s *server) serveRelay(w http.ResponseWriter, r *http.Request) {
	pathID, ok := parsePathID(r.URL.Path)
	if !ok {
		http.Error(w, "path must be a 64-character hex-encoded public key", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		Subprotocols:       []string{protocol},
	})
	if err != nil {
		s.cfg.logger.Println(err)
		return
	}
	if conn.Subprotocol() != protocol {
		conn.Close(websocket.StatusCode(relay.CloseProtocolError), "wrong protocol")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectionTimeout)
	defer cancel()

	transport := relay.NewWebSocketTransport(conn)
	cfg := session.Config{
		Keyring:           s.cfg.keyring,
		Metrics:           s.cfg.metrics,
		KeepAliveInterval: s.cfg.keepAlive,
		KeepAliveTimeout:  s.cfg.keepAliveTimeout,
	}

	if err := session.Serve(ctx, transport, s.cfg.registry, pathID, cfg, s.cfg.logger); err != nil {
		s.cfg.logger.Printf("session ended for path %s: %v", pathID, err)
	}
}

func parsePathID(urlPath string) (relay.PathId, bool) {
	hexKey := strings.TrimPrefix(urlPath, "/")
	var id relay.PathId
	if len(hexKey) != 64 {
		return id, false
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return id, false
	}
	copy(id[:], raw)
	return id, true
}
