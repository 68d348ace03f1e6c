package secrets

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SqliteManager keeps secrets in plaintext in a local sqlite3 table. It is
// meant for single-node deployments; use VaultManager otherwise.
type SqliteManager struct {
	db        *sql.DB
	tableName string
}

type SqliteManagerOpt func(*SqliteManager)

func WithTableName(name string) SqliteManagerOpt {
	return func(s *SqliteManager) {
		s.tableName = name
	}
}

func NewSQLiteManager(dbPath string, opts ...SqliteManagerOpt) (*SqliteManager, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening secrets database: %w", err)
	}

	m := &SqliteManager{db: db, tableName: "secrets"}
	for _, o := range opts {
		o(m)
	}

	if err := m.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating secrets database: %w", err)
	}

	return m, nil
}

func (s *SqliteManager) Close() error {
	return s.db.Close()
}

func (s *SqliteManager) migrate() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		create table if not exists %s (
			scope      text not null,
			key        text not null,
			value      text not null,
			created_at integer not null,
			created_by text not null,
			primary key (scope, key)
		);
	`, s.tableName))
	return err
}

func (s *SqliteManager) AddSecret(ctx context.Context, secret UnlockedSecret) error {
	if err := ValidateKey(secret.Key); err != nil {
		return err
	}

	createdAt := secret.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`insert into %s (scope, key, value, created_at, created_by) values (?, ?, ?, ?, ?)
		 on conflict (scope, key) do nothing`, s.tableName),
		string(secret.Scope), secret.Key, secret.Value, createdAt.UTC().Unix(), secret.CreatedBy,
	)
	if err != nil {
		return err
	}

	return expectAffected(res, ErrKeyAlreadyPresent)
}

func (s *SqliteManager) RemoveSecret(ctx context.Context, secret Secret[any]) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`delete from %s where scope = ? and key = ?`, s.tableName),
		string(secret.Scope), secret.Key,
	)
	if err != nil {
		return err
	}

	return expectAffected(res, ErrKeyNotFound)
}

func (s *SqliteManager) GetSecretsLocked(ctx context.Context, scope Scope) ([]LockedSecret, error) {
	var out []LockedSecret
	err := s.each(ctx, scope, func(key, _ string, createdAt time.Time, createdBy string) {
		out = append(out, LockedSecret{
			Key:       key,
			Scope:     scope,
			CreatedAt: createdAt,
			CreatedBy: createdBy,
		})
	})
	return out, err
}

func (s *SqliteManager) GetSecretsUnlocked(ctx context.Context, scope Scope) ([]UnlockedSecret, error) {
	var out []UnlockedSecret
	err := s.each(ctx, scope, func(key, value string, createdAt time.Time, createdBy string) {
		out = append(out, UnlockedSecret{
			Key:       key,
			Value:     value,
			Scope:     scope,
			CreatedAt: createdAt,
			CreatedBy: createdBy,
		})
	})
	return out, err
}

// each calls fn for every secret in scope, ordered by key.
func (s *SqliteManager) each(ctx context.Context, scope Scope, fn func(key, value string, createdAt time.Time, createdBy string)) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select key, value, created_at, created_by from %s where scope = ? order by key`, s.tableName),
		string(scope),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key, value, createdBy string
			createdAt             int64
		)
		if err := rows.Scan(&key, &value, &createdAt, &createdBy); err != nil {
			return err
		}
		fn(key, value, time.Unix(createdAt, 0).UTC(), createdBy)
	}

	return rows.Err()
}

func expectAffected(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}
