// Package postgres provides a weave.Watcher over the rows of a key/value
// table using LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/weave"
)

// Watcher reports each row of a table with text key and bytea value
// columns as a weave.Entry. Entry versions are row transaction ids, so
// every committed update changes the version.
//
// Requires a trigger on the table notifying the row key on every change.
//
// Example trigger setup:
//
//	CREATE OR REPLACE FUNCTION notify_config_change() RETURNS trigger AS $$
//	BEGIN
//	    PERFORM pg_notify('config_changed', COALESCE(NEW.key, OLD.key));
//	    RETURN NULL;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER config_change_trigger
//	    AFTER INSERT OR UPDATE OR DELETE ON config
//	    FOR EACH ROW EXECUTE FUNCTION notify_config_change();
type Watcher struct {
	pool    *pgxpool.Pool
	channel string
	table   string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithTable sets the table to read rows from.
// Defaults to "config".
func WithTable(table string) Option {
	return func(w *Watcher) {
		w.table = table
	}
}

// New creates a Watcher listening on the given notification channel.
// The channel should match the channel used in pg_notify.
func New(pool *pgxpool.Pool, channel string, opts ...Option) *Watcher {
	w := &Watcher{
		pool:    pool,
		channel: channel,
		table:   "config",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts listening, delivers every row of the table, then re-reads
// the row named by each notification.
func (w *Watcher) Watch(ctx context.Context, n weave.Notifier[weave.Entry]) error {
	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{w.channel}.Sanitize()); err != nil {
		conn.Release()
		return fmt.Errorf("failed to listen on channel %s: %w", w.channel, err)
	}

	snapshot, err := w.fetchAll(ctx)
	if err != nil {
		conn.Release()
		return err
	}

	d := weave.NewDispatcher(n, weave.WithUnchanged(weave.SameEntry))
	if err := d.Reconcile(ctx, snapshot); err != nil {
		w.failed(ctx, w.table, err)
	}

	go func() {
		defer conn.Release()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.failed(ctx, w.channel, err)
				continue
			}

			key := notification.Payload
			entry, ok, err := w.fetch(ctx, key)
			if err != nil {
				w.failed(ctx, key, err)
				continue
			}
			if !ok {
				d.Delete(ctx, key)
				continue
			}
			if err := d.Put(ctx, key, entry); err != nil {
				w.failed(ctx, key, err)
			}
		}
	}()

	return nil
}

func (w *Watcher) selectSQL() string {
	return fmt.Sprintf("SELECT key, value, xmin::text::bigint FROM %s", pgx.Identifier{w.table}.Sanitize())
}

// fetchAll reads every row of the table.
func (w *Watcher) fetchAll(ctx context.Context) (map[string]weave.Entry, error) {
	rows, err := w.pool.Query(ctx, w.selectSQL())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", w.table, err)
	}
	defer rows.Close()

	snapshot := make(map[string]weave.Entry)
	for rows.Next() {
		var e weave.Entry
		if err := rows.Scan(&e.Key, &e.Value, &e.Version); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", w.table, err)
		}
		snapshot[e.Key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", w.table, err)
	}
	return snapshot, nil
}

// fetch reads one row, reporting false when it does not exist.
func (w *Watcher) fetch(ctx context.Context, key string) (weave.Entry, bool, error) {
	var e weave.Entry
	err := w.pool.QueryRow(ctx, w.selectSQL()+" WHERE key = $1", key).Scan(&e.Key, &e.Value, &e.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return weave.Entry{}, false, nil
	}
	if err != nil {
		return weave.Entry{}, false, err
	}
	return e, true, nil
}

func (w *Watcher) failed(ctx context.Context, resource string, err error) {
	capitan.Emit(ctx, weave.WatchFailed,
		weave.KeyWatcherType.Field("postgres"),
		weave.KeyResource.Field(resource),
		weave.KeyError.Field(err.Error()),
	)
}
