package news

import "context"

// ScoringContext is the context handed to the model alongside article text.
type ScoringContext struct {
	Topic     string
	Interests []string
}

// RelevanceModel is the AI collaborator. Implementations must tolerate
// empty input and return a neutral default instead of failing.
type RelevanceModel interface {
	Score(ctx context.Context, text string, sc ScoringContext) (int, error)
	ScoreBatch(ctx context.Context, texts []string, sc ScoringContext) ([]int, error)
	Rewrite(ctx context.Context, text string) (string, error)
	ClassifyInterests(ctx context.Context, profileText string) ([]string, error)
}

// MessageSender is the delivery transport.
type MessageSender interface {
	IsConnected(ctx context.Context) bool
	Send(ctx context.Context, recipient, text string) error
	SendImage(ctx context.Context, recipient, path, caption string) error
}

// Store holds subscribers and their delivery history.
type Store interface {
	SubscribersAt(ctx context.Context, deliveryTime string) ([]Subscriber, error)
	ActiveSubscribers(ctx context.Context) ([]Subscriber, error)
	ProfileText(ctx context.Context, subscriberID string) (string, error)
	UpdateProfileText(ctx context.Context, subscriberID, text string) error
	RecordDelivery(ctx context.Context, d Delivery) error
	Close() error
}
