package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"tangled.sh/tangled.sh/runner/notifier"
	"tangled.sh/tangled.sh/runner/spindle/models"
)

const (
	EventKindJob  = "job"
	EventKindStep = "step"

	eventsPageSize = 100
)

// Event is a recorded status event as it goes over the wire. Id is its
// cursor: ids grow in the order events were committed.
type Event struct {
	Id        int64  `json:"id"`
	Rkey      string `json:"rkey"`
	Run       string `json:"run"`
	Kind      string `json:"kind"`
	Created   int64  `json:"created"`
	EventJson string `json:"event"`
}

// CreateStatusEvent records s and wakes the stream subscribers of n.
func (d *DB) CreateStatusEvent(s models.StatusEvent, n *notifier.Notifier) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}

	kind := EventKindJob
	if s.IsStep() {
		kind = EventKindStep
	}

	_, err = d.Exec(
		`insert into events (rkey, run, job, step, kind, event, created) values (?, ?, ?, ?, ?, ?, ?)`,
		models.TID(), s.Run, s.Job, s.Step, kind, string(raw), s.CreatedAt.UnixNano(),
	)
	if err != nil {
		return err
	}

	n.NotifyAll()
	return nil
}

// GetEvents returns the next page of events committed after the event with
// id cursor, oldest first. A cursor of 0 starts from the beginning.
func (d *DB) GetEvents(cursor int64) ([]Event, error) {
	rows, err := d.Query(
		`select id, rkey, run, kind, event, created from events
		 where id > ?
		 order by id
		 limit ?`,
		cursor, eventsPageSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.Id, &ev.Rkey, &ev.Run, &ev.Kind, &ev.EventJson, &ev.Created); err != nil {
			return nil, err
		}
		page = append(page, ev)
	}

	return page, rows.Err()
}

// GetStatus returns the latest job-level event of job in a run.
func (d *DB) GetStatus(runId models.RunId, job string) (*models.StatusEvent, error) {
	var raw string
	err := d.QueryRow(
		`select event from events
		 where run = ? and job = ? and step = ''
		 order by id desc
		 limit 1`,
		runId.String(), job,
	).Scan(&raw)
	if err != nil {
		return nil, err
	}

	return decodeStatus(raw)
}

// GetRunEvents returns every status event of a run in recording order.
func (d *DB) GetRunEvents(runId models.RunId) ([]models.StatusEvent, error) {
	rows, err := d.Query(
		`select event from events where run = ? order by id`,
		runId.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanStatuses(rows)
}

func scanStatuses(rows *sql.Rows) ([]models.StatusEvent, error) {
	var out []models.StatusEvent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ev, err := decodeStatus(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func decodeStatus(raw string) (*models.StatusEvent, error) {
	var ev models.StatusEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
