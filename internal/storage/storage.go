// Package storage persists subscribers and delivery history in PostgreSQL,
// SQLite or a JSON file.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/deusflow/newsdigest/internal/news"
)

// ErrNotFound is returned when a subscriber does not exist.
var ErrNotFound = errors.New("subscriber not found")

// Store is news.Store plus the operations used for startup seeding and housekeeping.
type Store interface {
	news.Store
	UpsertSubscriber(ctx context.Context, s news.Subscriber) error
	RecentDeliveries(ctx context.Context, subscriberID string, limit int) ([]news.Delivery, error)
	// Cleanup removes deliveries older than retention.
	Cleanup(ctx context.Context, retention time.Duration) error
}

var deliveryTimeRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func validateSubscriber(s news.Subscriber) error {
	if s.ID == "" {
		return errors.New("subscriber id is empty")
	}
	if s.Recipient == "" {
		return fmt.Errorf("subscriber %s has no recipient", s.ID)
	}
	if !deliveryTimeRe.MatchString(s.DeliveryTime) {
		return fmt.Errorf("subscriber %s: delivery time %q is not HH:MM", s.ID, s.DeliveryTime)
	}
	return nil
}

// Open returns the store for driver: "postgres", "sqlite" or "file".
func Open(ctx context.Context, driver, dsn, filePath string, log *slog.Logger) (Store, error) {
	if log == nil {
		log = slog.Default()
	}
	switch driver {
	case "postgres", "sqlite":
		return NewSQLStore(ctx, driver, dsn, log)
	case "file", "":
		fs := NewFileStore(filePath, log)
		if err := fs.Load(); err != nil {
			return nil, err
		}
		return fs, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
