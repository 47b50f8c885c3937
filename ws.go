package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// subscriber is the send side of one client connection. Outbound messages
// go through a buffered queue drained by writePump, so a slow client can
// never stall the hub loop; a full queue drops the message in favor of
// liveness, which is safe because every event is a self-contained delta.
type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func newSubscriber(id string, conn *websocket.Conn) *subscriber {
	return &subscriber{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

func (s *subscriber) enqueue(data []byte) {
	select {
	case s.send <- data:
	case <-s.done:
	default:
	}
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.close()
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients are served from a separate origin.
		return true
	},
}

// clientHandlers routes inbound events by kind into hub commands. Unknown
// or malformed events are logged and dropped; the connection stays alive.
var clientHandlers = map[string]func(*Hub, *subscriber, Envelope){
	EventJoin: func(h *Hub, sub *subscriber, msg Envelope) {
		h.post(command{kind: cmdJoin, sub: sub, playerID: sub.id, name: msg.Name})
	},
	EventMove: func(h *Hub, sub *subscriber, msg Envelope) {
		dir, ok := ParseDirection(msg.Direction)
		if !ok {
			h.log.Debugw("discarding move with bad direction", "player", sub.id, "direction", msg.Direction)
			return
		}
		h.post(command{kind: cmdMove, playerID: sub.id, x: msg.X, y: msg.Y, direction: dir, moving: msg.Moving})
	},
	EventInteractChest: func(h *Hub, sub *subscriber, msg Envelope) {
		h.post(command{kind: cmdInteractChest, playerID: sub.id, targetID: msg.ChestID})
	},
	EventCancelChest: func(h *Hub, sub *subscriber, msg Envelope) {
		h.post(command{kind: cmdCancelChest, playerID: sub.id, targetID: msg.ChestID})
	},
	EventInteractBoss: func(h *Hub, sub *subscriber, msg Envelope) {
		h.post(command{kind: cmdInteractBoss, playerID: sub.id, targetID: msg.BossID})
	},
	EventCancelBoss: func(h *Hub, sub *subscriber, msg Envelope) {
		h.post(command{kind: cmdCancelBoss, playerID: sub.id, targetID: msg.BossID})
	},
}

// ServeWS upgrades the request, assigns the connection id that will
// identify the player, and runs the session read loop until the transport
// closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "err", err)
		return
	}
	id := fmt.Sprintf("player-%d", h.nextID.Add(1))
	sub := newSubscriber(id, conn)
	go sub.writePump()
	h.readPump(sub)
}

func (h *Hub) readPump(sub *subscriber) {
	defer func() {
		// Leave must land even under backpressure or the registry would
		// keep a ghost player.
		h.postWait(command{kind: cmdLeave, playerID: sub.id})
		sub.close()
	}()

	sub.conn.SetReadLimit(readLimit)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Envelope
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.log.Debugw("discarding malformed message", "player", sub.id, "err", err)
			continue
		}
		handler, ok := clientHandlers[msg.Type]
		if !ok {
			h.log.Debugw("discarding unknown event", "player", sub.id, "type", msg.Type)
			continue
		}
		handler(h, sub, msg)
	}
}

// send marshals and enqueues a payload for a single subscriber.
func (h *Hub) send(sub *subscriber, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Errorw("failed to marshal outbound message", "err", err)
		return
	}
	sub.enqueue(data)
}

// broadcast marshals once and fans the payload out to every subscriber
// except the excluded ids. Per-connection ordering follows enqueue order;
// there is no global order across connections.
func (h *Hub) broadcast(payload any, exclude ...string) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Errorw("failed to marshal broadcast", "err", err)
		return
	}
	for id, sub := range h.subscribers {
		skip := false
		for _, ex := range exclude {
			if id == ex {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		sub.enqueue(data)
	}
}
