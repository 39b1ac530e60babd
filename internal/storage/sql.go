package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/deusflow/newsdigest/internal/news"
)

// SQLStore keeps subscribers and deliveries in PostgreSQL or SQLite.
type SQLStore struct {
	db     *sql.DB
	driver string
	log    *slog.Logger
}

var schemas = map[string]string{
	"postgres": `
	CREATE TABLE IF NOT EXISTS subscribers (
		id VARCHAR(64) PRIMARY KEY,
		recipient TEXT NOT NULL,
		delivery_time VARCHAR(5) NOT NULL,
		profile_text TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_subscribers_delivery_time ON subscribers(delivery_time);

	CREATE TABLE IF NOT EXISTS deliveries (
		id SERIAL PRIMARY KEY,
		subscriber_id VARCHAR(64) NOT NULL,
		article_hashes TEXT NOT NULL DEFAULT '',
		delivered_at TIMESTAMPTZ NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_subscriber ON deliveries(subscriber_id, delivered_at);
	`,
	"sqlite": `
	CREATE TABLE IF NOT EXISTS subscribers (
		id TEXT PRIMARY KEY,
		recipient TEXT NOT NULL,
		delivery_time TEXT NOT NULL,
		profile_text TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_subscribers_delivery_time ON subscribers(delivery_time);

	CREATE TABLE IF NOT EXISTS deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subscriber_id TEXT NOT NULL,
		article_hashes TEXT NOT NULL DEFAULT '',
		delivered_at TIMESTAMP NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_deliveries_subscriber ON deliveries(subscriber_id, delivered_at);
	`,
}

// NewSQLStore opens the database, checks the connection and creates the
// schema. driver is "postgres" or "sqlite".
func NewSQLStore(ctx context.Context, driver, dsn string, log *slog.Logger) (*SQLStore, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == "sqlite" {
		// one writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info("Database connected", "driver", driver)
	return &SQLStore{db: db, driver: driver, log: log}, nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const subscriberColumns = `id, recipient, delivery_time, profile_text, active`

func (s *SQLStore) querySubscribers(ctx context.Context, query string, args ...any) ([]news.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []news.Subscriber
	for rows.Next() {
		var sub news.Subscriber
		if err := rows.Scan(&sub.ID, &sub.Recipient, &sub.DeliveryTime, &sub.ProfileText, &sub.Active); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *SQLStore) SubscribersAt(ctx context.Context, deliveryTime string) ([]news.Subscriber, error) {
	return s.querySubscribers(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE active = ? AND delivery_time = ? ORDER BY id`,
		true, deliveryTime)
}

func (s *SQLStore) ActiveSubscribers(ctx context.Context) ([]news.Subscriber, error) {
	return s.querySubscribers(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE active = ? ORDER BY id`, true)
}

func (s *SQLStore) ProfileText(ctx context.Context, subscriberID string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT profile_text FROM subscribers WHERE id = ?`), subscriberID).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	return text, nil
}

func (s *SQLStore) UpdateProfileText(ctx context.Context, subscriberID, text string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE subscribers SET profile_text = ?, updated_at = ? WHERE id = ?`),
		text, time.Now().UTC(), subscriberID)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) UpsertSubscriber(ctx context.Context, sub news.Subscriber) error {
	if err := validateSubscriber(sub); err != nil {
		return err
	}
	query := `
		INSERT INTO subscribers (id, recipient, delivery_time, profile_text, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			recipient = EXCLUDED.recipient,
			delivery_time = EXCLUDED.delivery_time,
			profile_text = EXCLUDED.profile_text,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		sub.ID, sub.Recipient, sub.DeliveryTime, sub.ProfileText, sub.Active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert subscriber: %w", err)
	}
	return nil
}

func (s *SQLStore) RecordDelivery(ctx context.Context, d news.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO deliveries (subscriber_id, article_hashes, delivered_at, success, error) VALUES (?, ?, ?, ?, ?)`),
		d.SubscriberID, strings.Join(d.ArticleHashes, ","), d.DeliveredAt.UTC(), d.Success, d.Error)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns the newest deliveries for a subscriber first.
func (s *SQLStore) RecentDeliveries(ctx context.Context, subscriberID string, limit int) ([]news.Delivery, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT subscriber_id, article_hashes, delivered_at, success, error
		FROM deliveries
		WHERE subscriber_id = ?
		ORDER BY delivered_at DESC, id DESC
		LIMIT ?
	`), subscriberID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	var out []news.Delivery
	for rows.Next() {
		var (
			d      news.Delivery
			hashes string
			at     dbTime
		)
		if err := rows.Scan(&d.SubscriberID, &hashes, &at, &d.Success, &d.Error); err != nil {
			s.log.Warn("Error scanning row", "error", err)
			continue
		}
		d.DeliveredAt = at.Time
		if hashes != "" {
			d.ArticleHashes = strings.Split(hashes, ",")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Cleanup removes deliveries older than retention.
func (s *SQLStore) Cleanup(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UTC()
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM deliveries WHERE delivered_at < ?`), cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		s.log.Info("Cleaned up old deliveries", "rows", rows)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// dbTime scans timestamps that SQLite may hand back as text.
type dbTime struct{ time.Time }

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", s)
}
