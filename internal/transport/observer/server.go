package observer

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"arenanet/internal/observerproto"
)

const (
	handshakeWait = 5 * time.Second
	writeWait     = 5 * time.Second
	pongWait      = 30 * time.Second
	pingEvery     = pongWait / 2
	outboxSize    = 8
)

// Server exposes a Hub over HTTP: a JSON bootstrap endpoint and a websocket
// stream of tick messages.
type Server struct {
	hub       *Hub
	bootstrap func() observerproto.BootstrapResponse
	log       *log.Logger

	// AllowRemote lifts the loopback-only restriction.
	AllowRemote bool

	upgrader websocket.Upgrader
}

func NewServer(hub *Hub, bootstrap func() observerproto.BootstrapResponse, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		hub:       hub,
		bootstrap: bootstrap,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			// Observers are tooling; the loopback check is the gate.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return s.guard(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		resp := s.bootstrap()
		resp.ProtocolVersion = observerproto.Version
		resp.SessionID = uuid.NewString()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	})
}

func (s *Server) WSHandler() http.HandlerFunc {
	return s.guard(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub, ok := s.handshake(conn)
		if !ok {
			return
		}
		sid := uuid.NewString()
		out := make(chan []byte, outboxSize)
		s.hub.join(sid, sub, out)
		defer s.hub.leave(sid)
		s.log.Printf("observer %s joined from %s (interval=%dms entities=%v)", sid, r.RemoteAddr, sub.IntervalMs, sub.Entities)

		done := make(chan struct{})
		pumped := make(chan struct{})
		go func() {
			defer close(pumped)
			s.pump(conn, out, done)
		}()
		s.readUpdates(conn, sid)
		close(done)
		<-pumped
		s.log.Printf("observer %s left", sid)
	})
}

func (s *Server) guard(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

// handshake waits for the opening SUBSCRIBE and closes with a policy
// violation on anything else.
func (s *Server) handshake(conn *websocket.Conn) (observerproto.SubscribeMsg, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return observerproto.SubscribeMsg{}, false
	}
	sub, ok := parseSubscribe(msg)
	if !ok {
		closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
	}
	return sub, ok
}

// readUpdates applies re-sent SUBSCRIBE messages until the peer goes away or
// stops answering pings.
func (s *Server) readUpdates(conn *websocket.Conn, sid string) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if sub, ok := parseSubscribe(msg); ok {
			s.hub.update(sid, sub)
		}
	}
}

// pump is the only writer on conn.
func (s *Server) pump(conn *websocket.Conn, out <-chan []byte, done <-chan struct{}) {
	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-done:
			closeWith(conn, websocket.CloseNormalClosure, "bye")
			return
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	return sub, sub.Type == "SUBSCRIBE" && sub.ProtocolVersion == observerproto.Version
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
