package watch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
)

// Store remembers, per source, the creation time of the last event seen so
// that a reconnecting watcher resumes where it left off.
type Store interface {
	Set(source string, cursor int64) error
	Get(source string) (int64, error)
}

type MemoryStore struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func (m *MemoryStore) Set(source string, cursor int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursors == nil {
		m.cursors = make(map[string]int64)
	}
	m.cursors[source] = cursor
	return nil
}

func (m *MemoryStore) Get(source string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[source], nil
}

type SqliteStore struct {
	db        *sql.DB
	tableName string
}

type SqliteStoreOpt func(*SqliteStore)

func WithTableName(name string) SqliteStoreOpt {
	return func(s *SqliteStore) {
		s.tableName = name
	}
}

func NewSQLiteStore(dbPath string, opts ...SqliteStoreOpt) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	store := &SqliteStore{
		db:        db,
		tableName: "cursors",
	}

	for _, o := range opts {
		o(store)
	}

	if err := store.init(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SqliteStore) init() error {
	createTable := fmt.Sprintf(`
	create table if not exists %s (
		source text primary key,
		cursor integer not null
	);`, s.tableName)
	_, err := s.db.Exec(createTable)
	return err
}

func (s *SqliteStore) Set(source string, cursor int64) error {
	query := fmt.Sprintf(`
		insert into %s (source, cursor)
		values (?, ?)
		on conflict(source) do update set cursor=excluded.cursor;
	`, s.tableName)

	_, err := s.db.Exec(query, source, cursor)
	return err
}

func (s *SqliteStore) Get(source string) (int64, error) {
	query := fmt.Sprintf(`select cursor from %s where source = ?;`, s.tableName)

	var cursor int64
	err := s.db.QueryRow(query, source).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return cursor, err
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

const cursorKey = "spindle:cursor:%s"

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (r *RedisStore) Set(source string, cursor int64) error {
	key := fmt.Sprintf(cursorKey, source)
	return r.rdb.Set(context.Background(), key, cursor, 0).Err()
}

func (r *RedisStore) Get(source string) (int64, error) {
	key := fmt.Sprintf(cursorKey, source)
	val, err := r.rdb.Get(context.Background(), key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}
