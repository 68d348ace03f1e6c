package spindle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/hpcloud/tail"

	"tangled.sh/tangled.sh/runner/spindle/models"
)

// Logs serves the JSON log lines of one job. Plain requests get the file
// as it is; websocket clients are followed until the run finishes.
func (s *Spindle) Logs(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Logs")

	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	jobName := chi.URLParam(r, "job")
	if jobName == "" {
		http.Error(w, "missing job", http.StatusBadRequest)
		return
	}
	jid := models.JobId{RunId: run.Id, Name: jobName}
	path := models.LogFilePath(s.cfg.Pipelines.LogDir, jid)
	l = l.With("job", jid.String())

	if !websocket.IsWebSocketUpgrade(r) {
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "logs not found", http.StatusNotFound)
			return
		}
		if err != nil {
			l.Error("failed to open logs", "err", err)
			http.Error(w, "failed to open logs", http.StatusInternalServerError)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Type", "application/x-ndjson")
		io.Copy(w, f)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	if err := s.followLogs(ctx, conn, run.RunId, path); err != nil {
		l.Error("failed to stream logs", "err", err)
		return
	}

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(time.Second),
	)
}

// followLogs sends the lines of path as they are written, until the run
// is finished and every byte of the file has been sent.
func (s *Spindle) followLogs(ctx context.Context, conn *websocket.Conn, runId, path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow: true,
		// the file may not exist until the job starts
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return err
	}
	defer t.Cleanup()
	defer t.Stop()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var sent int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line.Text)); err != nil {
				return err
			}
			sent += int64(len(line.Text)) + 1
		case <-ticker.C:
			run, err := s.db.GetRun(runId)
			if err != nil {
				return err
			}
			if !run.Status.IsFinish() {
				continue
			}

			info, err := os.Stat(path)
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			if sent >= info.Size() {
				return nil
			}
		}
	}
}
