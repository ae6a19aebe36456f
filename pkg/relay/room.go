package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prabin-acharya/atlas-map/pkg/transport"
)

type room struct {
	id     string
	server *Server

	mu          sync.Mutex
	members     map[string]*member
	unsubscribe func()
}

type member struct {
	id     string
	room   *room
	conn   *websocket.Conn
	codec  transport.Codec
	send   chan transport.Message
	closed chan struct{}
	once   sync.Once
}

func (rm *room) join(requested string, conn *websocket.Conn, codec transport.Codec) *member {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	id := newConnectionID(requested, func(id string) bool {
		_, taken := rm.members[id]
		return taken
	})
	m := &member{
		id:     id,
		room:   rm,
		conn:   conn,
		codec:  codec,
		send:   make(chan transport.Message, rm.server.cfg.SendBuffer),
		closed: make(chan struct{}),
	}
	m.send <- transport.Message{Event: transport.EventHello, Origin: id}
	rm.members[id] = m
	return m
}

// remove drops m from the room and reports whether it was present and
// whether the room is now empty.
func (rm *room) remove(m *member) (removed, empty bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.members[m.id] == m {
		delete(rm.members, m.id)
		removed = true
	}
	return removed, len(rm.members) == 0
}

// deliver hands m to every member. Members whose buffer is full are too slow
// to keep up and get disconnected.
func (rm *room) deliver(m transport.Message) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, mb := range rm.members {
		select {
		case mb.send <- m:
		default:
			rm.server.log.Warn("dropping slow member", "session", rm.id, "conn", mb.id)
			mb.close()
		}
	}
}

func (rm *room) memberIDs() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	return ids
}

func (rm *room) closeAll() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, mb := range rm.members {
		mb.close()
	}
}

func (m *member) close() {
	m.once.Do(func() {
		close(m.closed)
		_ = m.conn.Close()
	})
}

func (m *member) readPump() {
	cfg := m.room.server.cfg
	m.conn.SetReadLimit(cfg.MaxFrameSize)
	_ = m.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	m.conn.SetPongHandler(func(string) error {
		return m.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})
	for {
		_, p, err := m.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := m.codec.Decode(p)
		if err != nil {
			m.room.server.log.Warn("dropping bad frame", "session", m.room.id, "conn", m.id, "err", err)
			continue
		}
		if msg.Event == transport.EventHello || msg.Event == transport.EventMemberLeave {
			continue
		}
		msg.Origin = m.id
		m.room.publish(msg)
	}
}

func (m *member) writePump() {
	cfg := m.room.server.cfg
	ticker := time.NewTicker(cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	defer m.close()

	frameType := websocket.TextMessage
	if m.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	for {
		select {
		case msg := <-m.send:
			raw, err := m.codec.Encode(msg)
			if err != nil {
				m.room.server.log.Error("failed to encode frame", "conn", m.id, "err", err)
				continue
			}
			_ = m.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := m.conn.WriteMessage(frameType, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = m.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := m.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-m.closed:
			_ = m.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
