package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/katai/pkg/owner"
	"github.com/vango-dev/katai/pkg/store"
	"github.com/vango-dev/katai/pkg/subscribe"
)

const writeWait = 10 * time.Second

// Event is one message on a watch connection.
type Event struct {
	Type  string `json:"type"`
	Store string `json:"store"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value"`
	Old   any    `json:"old,omitempty"`
}

// watch is one websocket connection. Its owner is the lifecycle host of
// the subscription, so disposing it unsubscribes.
type watch struct {
	id    string
	conn  *websocket.Conn
	owner *owner.Owner

	writeMu sync.Mutex
	once    sync.Once
}

func (w *watch) send(ev Event) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(ev)
}

func (w *watch) close() {
	w.once.Do(func() {
		w.owner.Dispose()
		w.conn.Close()
	})
}

func (s *Server) handleWatch(rw http.ResponseWriter, r *http.Request) {
	inst, ok := s.instance(rw, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	path := q.Get("path")
	filter := q.Get("filter")
	if filter != "" {
		if err := s.eval.Check(filter); err != nil {
			s.writeError(rw, err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.metrics.RecordWebSocketError("upgrade")
		return
	}

	w := &watch{
		id:    uuid.NewString(),
		conn:  conn,
		owner: owner.New(nil),
	}
	logger := s.logger.With("watch", w.id, "store", inst.Name(), "path", path)

	// Registered before the subscription so it runs after the teardown.
	w.owner.OnCleanup(func() {
		s.mu.Lock()
		_, tracked := s.watches[w.id]
		delete(s.watches, w.id)
		s.mu.Unlock()
		if tracked {
			s.metrics.WebSocketClosed()
		}
		logger.Debug("watch closed")
	})

	var sub subscribe.Subscriber = subscribe.WithID(w.id, func(newValue, oldValue any) error {
		err := w.send(Event{Type: "change", Store: inst.Name(), Path: path, Value: newValue, Old: oldValue})
		if err != nil {
			s.metrics.RecordWebSocketError("write")
		}
		return err
	})
	if filter != "" {
		sub = s.eval.When(filter, sub)
	}

	opts := []store.SubscribeOption{store.WithHost(w.owner)}
	if q.Get("immediate") != "false" {
		opts = append(opts, store.Immediate())
	}
	inst.Subscribe(path, sub, opts...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
			time.Now().Add(writeWait))
		w.close()
		return
	}
	s.watches[w.id] = w
	s.mu.Unlock()
	s.metrics.WebSocketOpened()
	logger.Debug("watch opened")

	// Clients only send control frames; block until the connection ends.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.metrics.RecordWebSocketError("read")
			}
			break
		}
	}
	w.close()
}
