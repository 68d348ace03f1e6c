package spindle

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"tangled.sh/tangled.sh/runner/spindle/db"
)

const (
	eventsPageSize = 100
	keepAlive      = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// eventStream is one websocket subscriber of /events.
type eventStream struct {
	conn   *websocket.Conn
	db     *db.DB
	l      *slog.Logger
	cursor int64
	// only events of this run are sent when set
	run string
}

// Events streams status events over a websocket. Events after ?cursor= are
// replayed first, then new ones are pushed as they are recorded. ?run=
// limits the stream to a single run.
func (s *Spindle) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var cursor int64
	if c := q.Get("cursor"); c != "" {
		parsed, err := strconv.ParseInt(c, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	stream := &eventStream{
		conn:   conn,
		db:     s.db,
		l:      s.l.With("handler", "Events", "remote", r.RemoteAddr),
		cursor: cursor,
		run:    q.Get("run"),
	}
	stream.l.Info("subscriber connected", "cursor", cursor, "run", stream.run)

	wake := s.n.Subscribe()
	defer s.n.Unsubscribe(wake)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go stream.drainReads(cancel)

	if err := stream.catchUp(); err != nil {
		stream.l.Error("backfill failed", "err", err)
		return
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stream.l.Info("subscriber disconnected", "cursor", stream.cursor)
			return
		case <-wake:
			if err := stream.catchUp(); err != nil {
				stream.l.Error("streaming failed", "err", err)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				stream.l.Debug("keepalive failed", "err", err)
				return
			}
		}
	}
}

// drainReads consumes client frames so control messages are processed, and
// cancels once the client goes away.
func (e *eventStream) drainReads(cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := e.conn.NextReader(); err != nil {
			return
		}
	}
}

// catchUp sends every event after the cursor, a page at a time.
func (e *eventStream) catchUp() error {
	for {
		page, err := e.db.GetEvents(e.cursor)
		if err != nil {
			return err
		}

		for _, ev := range page {
			e.cursor = ev.Id
			if e.run != "" && ev.Run != e.run {
				continue
			}
			if err := e.conn.WriteJSON(ev); err != nil {
				return err
			}
		}

		if len(page) < eventsPageSize {
			return nil
		}
	}
}
