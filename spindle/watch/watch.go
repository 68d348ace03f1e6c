package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gorilla/websocket"

	"tangled.sh/tangled.sh/runner/log"
	"tangled.sh/tangled.sh/runner/spindle/db"
)

type HandleFunc func(ctx context.Context, source Source, ev db.Event) error

// Source is a spindle server whose /events stream is watched.
type Source struct {
	Host string
	// plain ws instead of wss
	Insecure bool
}

func (s Source) Key() string {
	return s.Host
}

func (s Source) Url(cursor int64) (*url.URL, error) {
	scheme := "wss"
	if s.Insecure {
		scheme = "ws"
	}

	u, err := url.Parse(scheme + "://" + s.Host + "/events")
	if err != nil {
		return nil, err
	}

	if cursor != 0 {
		query := url.Values{}
		query.Add("cursor", strconv.FormatInt(cursor, 10))
		u.RawQuery = query.Encode()
	}
	return u, nil
}

type Config struct {
	Sources           []Source
	Handle            HandleFunc
	RetryInterval     time.Duration
	MaxRetryInterval  time.Duration
	ConnectionTimeout time.Duration
	// delay before reconnecting after a stream ends
	ReconnectInterval time.Duration
	Logger            *slog.Logger
	CursorStore       Store
}

// Watcher follows the status streams of one or more servers. Events of a
// source are handled in order, one at a time.
type Watcher struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

func New(cfg Config) *Watcher {
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.MaxRetryInterval == 0 {
		cfg.MaxRetryInterval = time.Minute
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New("watch")
	}
	if cfg.CursorStore == nil {
		cfg.CursorStore = &MemoryStore{}
	}

	return &Watcher{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: cfg.Logger,
	}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, source := range w.cfg.Sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.connectionLoop(ctx, source)
		}()
	}
	wg.Wait()
}

func (w *Watcher) connectionLoop(ctx context.Context, source Source) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := w.runConnection(ctx, source); err != nil && ctx.Err() == nil {
				w.logger.Error("connection ended", "source", source.Key(), "err", err)
			}
			timer.Reset(w.cfg.ReconnectInterval)
		}
	}
}

func (w *Watcher) runConnection(ctx context.Context, source Source) error {
	cursor, err := w.cfg.CursorStore.Get(source.Key())
	if err != nil {
		w.logger.Warn("failed to read cursor, starting from the beginning", "source", source.Key(), "err", err)
		cursor = 0
	}

	u, err := source.Url(cursor)
	if err != nil {
		return err
	}

	w.logger.Info("connecting", "url", u.String())

	retryOpts := []retry.Option{
		retry.Attempts(0), // infinite attempts
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(w.cfg.RetryInterval),
		retry.MaxDelay(w.cfg.MaxRetryInterval),
		retry.MaxJitter(w.cfg.RetryInterval / 5),
		retry.OnRetry(func(n uint, err error) {
			w.logger.Info("retrying connection",
				"url", u.String(),
				"attempt", n+1,
				"err", err,
			)
		}),
		retry.Context(ctx),
	}

	var conn *websocket.Conn
	err = retry.Do(func() error {
		connCtx, cancel := context.WithTimeout(ctx, w.cfg.ConnectionTimeout)
		defer cancel()
		conn, _, err = w.dialer.DialContext(connCtx, u.String(), nil)
		return err
	}, retryOpts...)
	if err != nil {
		return err
	}
	defer conn.Close()

	// unblocks ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w.logger.Info("connected", "source", source.Key())

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var ev db.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			w.logger.Error("error deserializing event", "source", source.Key(), "err", err)
			continue
		}

		if err := w.cfg.Handle(ctx, source, ev); err != nil {
			w.logger.Error("error handling event", "source", source.Key(), "rkey", ev.Rkey, "err", err)
		}

		if err := w.cfg.CursorStore.Set(source.Key(), ev.Id); err != nil {
			return fmt.Errorf("saving cursor: %w", err)
		}
	}
}
