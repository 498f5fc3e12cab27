// Package fakerelay runs an in-process WebSocket relay for tests. It
// implements the relay protocol consumed by pkg/channel/wschan: clients
// announce topic interest with subscribe frames and every published event
// is forwarded to the topic's current subscribers.
package fakerelay

import (
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pulseboard/collab.go/pkg/channel/wschan"
)

// Server is a minimal broadcast relay bound to a random local port.
type Server struct {
	listener net.Listener
	httpSrv  *http.Server

	mu     sync.Mutex
	topics map[string]map[*client]struct{}
	conns  map[*client]struct{}
	closed bool
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Start launches a relay on 127.0.0.1 with an ephemeral port.
func Start() (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: listener,
		topics:   make(map[string]map[*client]struct{}),
		conns:    make(map[*client]struct{}),
	}
	s.httpSrv = &http.Server{Handler: http.HandlerFunc(s.handle)}
	go func() {
		_ = s.httpSrv.Serve(listener)
	}()
	return s, nil
}

// URL returns the ws:// endpoint clients should dial.
func (s *Server) URL() string {
	return "ws://" + s.listener.Addr().String()
}

// Close drops every connection and stops the listener.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*client, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.Close()
	}
	_ = s.httpSrv.Close()
}

// ConnectionCount returns how many client connections are live.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections closes every live connection without stopping the
// listener, simulating a network blip that reconnecting clients recover
// from.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*client, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.Close()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer s.drop(c)

	for {
		var f wschan.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}

		switch f.Action {
		case wschan.ActionSubscribe:
			s.mu.Lock()
			subs, ok := s.topics[f.Topic]
			if !ok {
				subs = make(map[*client]struct{})
				s.topics[f.Topic] = subs
			}
			subs[c] = struct{}{}
			s.mu.Unlock()
		case wschan.ActionUnsubscribe:
			s.mu.Lock()
			if subs, ok := s.topics[f.Topic]; ok {
				delete(subs, c)
				if len(subs) == 0 {
					delete(s.topics, f.Topic)
				}
			}
			s.mu.Unlock()
		case wschan.ActionPublish:
			if f.Event == nil {
				continue
			}
			s.broadcast(f.Topic, f)
		}
	}
}

func (s *Server) broadcast(topic string, f wschan.Frame) {
	out := wschan.Frame{Action: wschan.ActionEvent, Topic: topic, Event: f.Event}

	s.mu.Lock()
	targets := make([]*client, 0, len(s.topics[topic]))
	for c := range s.topics[topic] {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.writeMu.Lock()
		_ = c.conn.WriteJSON(out)
		c.writeMu.Unlock()
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	delete(s.conns, c)
	for topic, subs := range s.topics {
		delete(subs, c)
		if len(subs) == 0 {
			delete(s.topics, topic)
		}
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}
