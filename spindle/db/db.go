package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB persists runs and their status events.
type DB struct {
	*sql.DB
}

// migrations are applied in order; the index of the last applied one is
// kept in sqlite's user_version. Never edit an entry, append a new one.
var migrations = []string{
	`create table runs (
		id          text primary key,
		workflow    text not null,
		rkey        text not null,
		event       text not null, -- json
		status      text not null,
		exit_code   integer not null default 0,
		error       text not null default '',
		result      text, -- json, once finished
		created     text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		started_at  text,
		finished_at text
	)`,
	`create table events (
		rkey    text not null,
		run     text not null,
		job     text not null,
		step    text not null default '',
		kind    text not null,
		event   text not null, -- json
		created integer not null -- unix nanos
	)`,
	`create index events_created on events (created)`,
	`create index events_run_job on events (run, job, created)`,
	// events are numbered at insert; the number is the stream cursor
	`create table events_seq (
		id      integer primary key autoincrement,
		rkey    text not null,
		run     text not null,
		job     text not null,
		step    text not null default '',
		kind    text not null,
		event   text not null, -- json
		created integer not null -- unix nanos
	);
	insert into events_seq (rkey, run, job, step, kind, event, created)
		select rkey, run, job, step, kind, event, created from events order by created, rowid;
	drop table events;
	alter table events_seq rename to events;
	create index events_run_job on events (run, job, id)`,
}

// Make opens the database at dbPath and brings its schema up to date.
func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	params := strings.Join([]string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
	}, "&")

	conn, err := sql.Open("sqlite3", dbPath+"?"+params)
	if err != nil {
		return nil, err
	}

	d := &DB{conn}
	if err := d.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return d, nil
}

func (d *DB) migrate() error {
	var version int
	if err := d.QueryRow(`pragma user_version`).Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := d.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		// pragmas do not take bind parameters
		if _, err := tx.Exec(fmt.Sprintf(`pragma user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
