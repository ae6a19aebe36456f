// Package relay is the realtime fan-out for map sessions.
//
// Every websocket connection joins the room of its session and gets a
// connection id, announced to it in a hello frame. Frames a client sends are
// stamped with that id and delivered to every member of the room, the
// sender included; clients drop their own echoes. With a redis client
// configured, rooms publish through redis so several relay processes can
// serve the same session.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/prabin-acharya/atlas-map/pkg/transport"
)

const (
	// ConnectionParam lets a reconnecting client keep its id.
	ConnectionParam = "connectionId"
	CodecParam      = "codec"
	// SessionVar is the mux route variable holding the session id.
	SessionVar = "session"
)

type Config struct {
	Logger *slog.Logger
	// Redis enables cross-process fan-out when set.
	Redis        *redis.Client
	SendBuffer   int
	WriteTimeout time.Duration
	PongWait     time.Duration
	MaxFrameSize int64
	Upgrader     *websocket.Upgrader
}

func (c *Config) withDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxFrameSize <= 0 {
		// Leaves room for images sent as data: URLs.
		c.MaxFrameSize = 8 << 20
	}
	if c.Upgrader == nil {
		c.Upgrader = &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		}
	}
}

// Server owns the rooms of every active session.
type Server struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

func New(cfg Config) *Server {
	cfg.withDefaults()
	return &Server{cfg: cfg, log: cfg.Logger, rooms: map[string]*room{}}
}

// ServeHTTP upgrades the request and joins the session named by the
// SessionVar route variable, or the "session" query parameter.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)[SessionVar]
	if session == "" {
		session = r.URL.Query().Get("session")
	}
	if session == "" {
		http.Error(w, "session is required", http.StatusBadRequest)
		return
	}
	codec, err := transport.CodecByName(r.URL.Query().Get(CodecParam))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := s.cfg.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("failed to upgrade", "err", err)
		return
	}

	rm, m, err := s.join(session, r.URL.Query().Get(ConnectionParam), conn, codec)
	if err != nil {
		s.log.Error("failed to open room", "session", session, "err", err)
		_ = conn.Close()
		return
	}
	s.log.Info("member joined", "session", session, "conn", m.id, "codec", codec.Name())

	go m.writePump()
	m.readPump()

	s.leave(rm, m)
	s.log.Info("member left", "session", session, "conn", m.id)
}

func (s *Server) join(session, requested string, conn *websocket.Conn, codec transport.Codec) (*room, *member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, transport.ErrClosed
	}
	rm, ok := s.rooms[session]
	if !ok {
		rm = &room{id: session, server: s, members: map[string]*member{}}
		if s.cfg.Redis != nil {
			if err := rm.subscribe(); err != nil {
				return nil, nil, err
			}
		}
		s.rooms[session] = rm
	}
	return rm, rm.join(requested, conn, codec), nil
}

func (s *Server) leave(rm *room, m *member) {
	m.close()
	s.mu.Lock()
	removed, empty := rm.remove(m)
	var unsubscribe func()
	if empty && s.rooms[rm.id] == rm {
		delete(s.rooms, rm.id)
		unsubscribe = rm.unsubscribe
	}
	s.mu.Unlock()

	if removed {
		rm.publish(transport.Message{Event: transport.EventMemberLeave, Origin: m.id})
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Members returns the connection ids currently in a session on this process.
func (s *Server) Members(session string) []string {
	s.mu.Lock()
	rm, ok := s.rooms[session]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return rm.memberIDs()
}

// Close disconnects everyone and refuses new joins.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	rooms := make([]*room, 0, len(s.rooms))
	for _, rm := range s.rooms {
		rooms = append(rooms, rm)
	}
	s.mu.Unlock()
	for _, rm := range rooms {
		rm.closeAll()
	}
}

func newConnectionID(requested string, taken func(string) bool) string {
	if _, err := uuid.Parse(requested); err == nil && !taken(requested) {
		return requested
	}
	return uuid.NewString()
}

// redisChannel is the pub/sub channel a session fans out on.
func redisChannel(session string) string {
	return "atlas:session:" + session
}

var redisCodec = transport.MsgpackCodec{}

func (rm *room) subscribe() error {
	ctx, cancel := context.WithCancel(context.Background())
	ps := rm.server.cfg.Redis.Subscribe(ctx, redisChannel(rm.id))
	// Wait for the subscription so nothing published right after join is missed.
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return err
	}
	rm.unsubscribe = func() {
		cancel()
		_ = ps.Close()
	}
	go func() {
		for msg := range ps.Channel() {
			m, err := redisCodec.Decode([]byte(msg.Payload))
			if err != nil {
				rm.server.log.Error("failed to decode redis frame", "session", rm.id, "err", err)
				continue
			}
			rm.deliver(m)
		}
	}()
	return nil
}

func (rm *room) publish(m transport.Message) {
	if rdb := rm.server.cfg.Redis; rdb != nil {
		raw, err := redisCodec.Encode(m)
		if err != nil {
			rm.server.log.Error("failed to encode redis frame", "session", rm.id, "err", err)
			return
		}
		if err := rdb.Publish(context.Background(), redisChannel(rm.id), raw).Err(); err != nil {
			rm.server.log.Error("failed to publish to redis", "session", rm.id, "err", err)
		}
		return
	}
	rm.deliver(m)
}
