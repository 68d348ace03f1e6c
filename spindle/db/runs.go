package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tangled.sh/tangled.sh/runner/notifier"
	"tangled.sh/tangled.sh/runner/spindle/models"
	"tangled.sh/tangled.sh/runner/workflow"
)

var ErrRunNotFound = errors.New("run not found")

type Run struct {
	Id       models.RunId      `json:"-"`
	RunId    string            `json:"id"`
	Workflow string            `json:"workflow"`
	Event    workflow.Event    `json:"event"`
	Status   models.StatusKind `json:"status"`
	ExitCode int               `json:"exit_code"`
	Error    string            `json:"error,omitempty"`
	Result   *models.RunResult `json:"result,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// CreateRun records a pending run; recording the same id twice is a no-op.
func (d *DB) CreateRun(id models.RunId, ev workflow.Event, n *notifier.Notifier) error {
	eventJson, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, err = d.Exec(`
		insert into runs (id, workflow, rkey, event, status)
		values (?, ?, ?, ?, ?)
		on conflict(id) do nothing
	`, id.String(), id.Workflow, id.Rkey, string(eventJson), models.StatusKindPending)
	if err != nil {
		return err
	}

	n.NotifyAll()
	return nil
}

func (d *DB) MarkRunRunning(id models.RunId, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?, started_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, models.StatusKindRunning, id.String())
	if err != nil {
		return err
	}

	n.NotifyAll()
	return nil
}

// FinishRun records the terminal status of a run along with its result.
func (d *DB) FinishRun(id models.RunId, result *models.RunResult, runErr error, n *notifier.Notifier) error {
	var resultJson []byte
	status := models.StatusKindFailure
	exitCode := 1
	errStr := ""

	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return err
		}
		resultJson = b
		status = result.Status
		exitCode = result.ExitCode()
	}
	if runErr != nil {
		errStr = runErr.Error()
	}

	_, err := d.Exec(`
		update runs
		set status = ?, exit_code = ?, error = ?, result = ?,
			finished_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		where id = ?
	`, status, exitCode, errStr, nullString(resultJson), id.String())
	if err != nil {
		return err
	}

	n.NotifyAll()
	return nil
}

const runColumns = `id, workflow, rkey, event, status, exit_code, error, result, created, started_at, finished_at`

func (d *DB) GetRun(id string) (*Run, error) {
	row := d.QueryRow(`select `+runColumns+` from runs where id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := d.Query(`select `+runColumns+` from runs order by created desc, rkey desc limit ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run                            Run
		eventJson                      string
		resultJson                     sql.NullString
		created, startedAt, finishedAt sql.NullString
	)

	err := s.Scan(
		&run.RunId,
		&run.Id.Workflow,
		&run.Id.Rkey,
		&eventJson,
		&run.Status,
		&run.ExitCode,
		&run.Error,
		&resultJson,
		&created,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Workflow = run.Id.Workflow
	if err := json.Unmarshal([]byte(eventJson), &run.Event); err != nil {
		return nil, err
	}
	if resultJson.Valid {
		var result models.RunResult
		if err := json.Unmarshal([]byte(resultJson.String), &result); err != nil {
			return nil, err
		}
		result.Id = run.Id
		run.Result = &result
	}

	run.CreatedAt = parseTime(created)
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)

	return &run, nil
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
