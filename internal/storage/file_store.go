package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/deusflow/newsdigest/internal/news"
)

// maxFileDeliveries bounds the delivery history kept in the JSON file.
const maxFileDeliveries = 5000

type fileData struct {
	Subscribers []news.Subscriber `json:"subscribers"`
	Deliveries  []news.Delivery   `json:"deliveries"`
}

// FileStore keeps subscribers and deliveries in a JSON file. Every mutation
// is written through.
type FileStore struct {
	filePath    string
	subscribers map[string]news.Subscriber
	deliveries  []news.Delivery
	mu          sync.RWMutex
	log         *slog.Logger
}

func NewFileStore(filePath string, log *slog.Logger) *FileStore {
	if log == nil {
		log = slog.Default()
	}
	return &FileStore{
		filePath:    filePath,
		subscribers: make(map[string]news.Subscriber),
		log:         log,
	}
}

// Load reads the file. A missing or empty file is an empty store.
func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return fmt.Errorf("failed to unmarshal store: %w", err)
	}
	for _, s := range fd.Subscribers {
		fs.subscribers[s.ID] = s
	}
	fs.deliveries = fd.Deliveries
	fs.log.Info("File store loaded", "path", fs.filePath, "subscribers", len(fs.subscribers), "deliveries", len(fs.deliveries))
	return nil
}

// save writes the store atomically. Callers hold the write lock.
func (fs *FileStore) save() error {
	fd := fileData{
		Subscribers: fs.sortedSubscribers(func(news.Subscriber) bool { return true }),
		Deliveries:  fs.deliveries,
	}
	data, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	if dir := filepath.Dir(fs.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create store dir: %w", err)
		}
	}
	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

func (fs *FileStore) sortedSubscribers(keep func(news.Subscriber) bool) []news.Subscriber {
	out := make([]news.Subscriber, 0, len(fs.subscribers))
	for _, s := range fs.subscribers {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (fs *FileStore) SubscribersAt(ctx context.Context, deliveryTime string) ([]news.Subscriber, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.sortedSubscribers(func(s news.Subscriber) bool {
		return s.Active && s.DeliveryTime == deliveryTime
	}), nil
}

func (fs *FileStore) ActiveSubscribers(ctx context.Context) ([]news.Subscriber, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.sortedSubscribers(func(s news.Subscriber) bool { return s.Active }), nil
}

func (fs *FileStore) ProfileText(ctx context.Context, subscriberID string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	s, ok := fs.subscribers[subscriberID]
	if !ok {
		return "", ErrNotFound
	}
	return s.ProfileText, nil
}

func (fs *FileStore) UpdateProfileText(ctx context.Context, subscriberID, text string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	s, ok := fs.subscribers[subscriberID]
	if !ok {
		return ErrNotFound
	}
	s.ProfileText = text
	fs.subscribers[subscriberID] = s
	return fs.save()
}

func (fs *FileStore) UpsertSubscriber(ctx context.Context, s news.Subscriber) error {
	if err := validateSubscriber(s); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.subscribers[s.ID] = s
	return fs.save()
}

func (fs *FileStore) RecordDelivery(ctx context.Context, d news.Delivery) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.deliveries = append(fs.deliveries, d)
	if over := len(fs.deliveries) - maxFileDeliveries; over > 0 {
		fs.deliveries = append([]news.Delivery(nil), fs.deliveries[over:]...)
	}
	return fs.save()
}

// RecentDeliveries returns the newest deliveries for a subscriber first.
func (fs *FileStore) RecentDeliveries(ctx context.Context, subscriberID string, limit int) ([]news.Delivery, error) {
	if limit <= 0 {
		limit = 10
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []news.Delivery
	for i := len(fs.deliveries) - 1; i >= 0 && len(out) < limit; i-- {
		if fs.deliveries[i].SubscriberID == subscriberID {
			out = append(out, fs.deliveries[i])
		}
	}
	return out, nil
}

// Cleanup removes deliveries older than retention.
func (fs *FileStore) Cleanup(ctx context.Context, retention time.Duration) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	kept := fs.deliveries[:0]
	for _, d := range fs.deliveries {
		if d.DeliveredAt.After(cutoff) {
			kept = append(kept, d)
		}
	}
	removed := len(fs.deliveries) - len(kept)
	fs.deliveries = kept
	if removed == 0 {
		return nil
	}
	fs.log.Info("Cleaned up old deliveries", "rows", removed)
	return fs.save()
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.save()
}
