package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Drivers accepted by Open.
const (
	DriverNone   = "none"
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Options selects and configures a history backend.
type Options struct {
	Driver string

	// DSN is the SQLite data source, e.g. "file:history.db" or ":memory:".
	DSN string

	RedisAddr string
	Prefix    string
}

// Open creates the EventStore described by opts. The returned close
// function releases the backend connection and is never nil.
func Open(ctx context.Context, opts Options) (EventStore, func() error, error) {
	noClose := func() error { return nil }

	switch opts.Driver {
	case "", DriverNone:
		return NoopEventStore{}, noClose, nil

	case DriverMemory:
		return NewInMemoryEventStore(), noClose, nil

	case DriverSQLite:
		dsn := opts.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite history: %w", err)
		}
		// A :memory: database lives and dies with its connection.
		db.SetMaxOpenConns(1)
		store, err := NewSQLiteEventStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("init sqlite history: %w", err)
		}
		return store, db.Close, nil

	case DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis history at %s: %w", opts.RedisAddr, err)
		}
		return NewRedisEventStore(client, opts.Prefix), client.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown history driver %q", opts.Driver)
	}
}
