package spindle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"tangled.sh/tangled.sh/runner/spindle/models"
	"tangled.sh/tangled.sh/runner/spindle/queue"
	"tangled.sh/tangled.sh/runner/workflow"
)

type TriggerRequest struct {
	Event workflow.Event `json:"event"`
	// restricts the run to these workflows when set
	Workflows []string `json:"workflows,omitempty"`
}

type TriggerResponse struct {
	Runs        []string `json:"runs"`
	Skipped     []string `json:"skipped,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
	// runs that were recorded but could not be queued; they are marked failed
	Failed []string `json:"failed,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// LoadWorkflows reads every .yml or .yaml file of dir, sorted by name.
func LoadWorkflows(dir string) (workflow.RawPipeline, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var raw workflow.RawPipeline
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yml", ".yaml":
		default:
			continue
		}

		path := filepath.Join(dir, e.Name())
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = append(raw, workflow.RawWorkflow{Name: path, Contents: contents})
	}

	return raw, nil
}

func (s *Spindle) Trigger(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Trigger")

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid trigger: %v", err), http.StatusBadRequest)
		return
	}
	if err := req.Event.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status := http.StatusAccepted
	resp, err := s.trigger(r.Context(), req)
	if err != nil {
		l.Error("failed to trigger", "err", err)
		if resp == nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// some runs may be queued already, report them with the failure
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// trigger creates one run per workflow whose trigger matches the event. A
// workflow that cannot be queued does not stop the others; the returned
// error joins every dispatch failure and the response lists what happened
// to each run.
func (s *Spindle) trigger(ctx context.Context, req TriggerRequest) (*TriggerResponse, error) {
	raw, err := LoadWorkflows(s.cfg.Server.WorkflowDir)
	if err != nil {
		return nil, fmt.Errorf("loading workflows: %w", err)
	}

	compiler := workflow.Compiler{Event: req.Event}
	defs := compiler.Parse(raw)

	contents := make(map[string][]byte, len(raw))
	for _, rw := range raw {
		contents[rw.Name] = rw.Contents
	}

	resp := &TriggerResponse{Runs: []string{}}
	var errs []error
	for _, e := range compiler.Diagnostics.Errors {
		resp.Diagnostics = append(resp.Diagnostics, e.String())
	}

	for _, def := range defs {
		if len(req.Workflows) > 0 && !slices.Contains(req.Workflows, def.Name) {
			continue
		}
		if !def.On.Match(req.Event) {
			resp.Skipped = append(resp.Skipped, def.Name)
			continue
		}

		id := models.NewRunId(def.Name)
		rr := queue.RunRequest{
			Workflow: id.Workflow,
			Rkey:     id.Rkey,
			File:     def.File,
			Contents: string(contents[def.File]),
			Event:    req.Event,
		}

		if err := s.dispatch(ctx, rr); err != nil {
			errs = append(errs, err)
			resp.Failed = append(resp.Failed, id.String())
			continue
		}
		resp.Runs = append(resp.Runs, id.String())
	}

	return resp, errors.Join(errs...)
}

// dispatch records the run as pending and hands it to the queue.
func (s *Spindle) dispatch(ctx context.Context, req queue.RunRequest) error {
	if err := s.db.CreateRun(req.RunId(), req.Event, s.n); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	if s.rq != nil {
		if err := s.rq.Push(ctx, req); err != nil {
			err = fmt.Errorf("pushing run %s: %w", req.RunId(), err)
			s.db.FinishRun(req.RunId(), nil, err, s.n)
			return err
		}
		return nil
	}

	if !s.enqueue(req) {
		return fmt.Errorf("failed to enqueue run %s: queue is full", req.RunId())
	}
	return nil
}

// enqueue runs req on a queue worker. Runs live as long as the server, not
// as long as the request that triggered them.
func (s *Spindle) enqueue(req queue.RunRequest) bool {
	id := req.RunId()

	ok := s.jq.Enqueue(queue.Job{
		Run: func() error {
			return s.process(s.base, req)
		},
		OnFail: func(jobError error) {
			s.l.Error("run failed", "run", id.String(), "error", jobError)
		},
	})
	if ok {
		s.l.Info("run enqueued successfully", "run", id.String())
	} else {
		s.l.Error("failed to enqueue run: queue is full", "run", id.String())
		s.db.FinishRun(id, nil, fmt.Errorf("queue is full"), s.n)
	}

	return ok
}

// enqueueWait is enqueue for requests taken off the redis queue: it waits
// for a worker slot instead of failing the run, and gives up only when ctx
// is done so the caller can put the request back.
func (s *Spindle) enqueueWait(ctx context.Context, req queue.RunRequest) error {
	id := req.RunId()

	err := s.jq.EnqueueWait(ctx, queue.Job{
		Run: func() error {
			return s.process(s.base, req)
		},
		OnFail: func(jobError error) {
			s.l.Error("run failed", "run", id.String(), "error", jobError)
		},
	})
	if err != nil {
		return fmt.Errorf("enqueueing run %s: %w", id, err)
	}

	s.l.Info("run enqueued successfully", "run", id.String())
	return nil
}

func (s *Spindle) process(ctx context.Context, req queue.RunRequest) error {
	id := req.RunId()

	def, err := req.Definition()
	if err != nil {
		err = fmt.Errorf("parsing %s: %w", req.File, err)
		s.db.CreateRun(id, req.Event, s.n)
		s.db.FinishRun(id, nil, err, s.n)
		return err
	}

	result := s.eng.RunWithId(ctx, id, def, req.Event)
	s.l.Info("run processed", "run", id.String(), "status", result.Status)
	return nil
}
