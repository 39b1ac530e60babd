// Package delivery runs the timer loop that hands personalized digests to
// subscribers at their configured time of day.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deusflow/newsdigest/internal/metrics"
	"github.com/deusflow/newsdigest/internal/news"
	"github.com/deusflow/newsdigest/internal/personalize"
	"github.com/deusflow/newsdigest/internal/ratelimit"
)

// maxCaptionTitle leaves room for escaping and tags within Telegram's
// 1024-character caption limit.
const maxCaptionTitle = 150

type State int32

const (
	Idle State = iota
	Collecting
	Delivering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Delivering:
		return "delivering"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Formatter renders a digest message for one subscriber.
type Formatter func(sub news.Subscriber, articles []news.Article, stale bool) string

type Config struct {
	TickInterval time.Duration
	// DailyRefreshTime is the HH:MM of the full refresh; empty disables it.
	DailyRefreshTime string
	Location         *time.Location
	// SendDelay is the pause between two recipients.
	SendDelay  time.Duration
	SendImages bool
}

type Scheduler struct {
	store   news.Store
	cache   *personalize.Cache
	compute personalize.ComputeFunc
	sender  news.MessageSender
	format  Formatter
	pacer   *ratelimit.Pacer
	cfg     Config
	log     *slog.Logger

	state      atomic.Int32
	refreshers []func(ctx context.Context)
	lastDaily  string
	now        func() time.Time
}

func New(store news.Store, cache *personalize.Cache, compute personalize.ComputeFunc,
	sender news.MessageSender, format Formatter, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:   store,
		cache:   cache,
		compute: compute,
		sender:  sender,
		format:  format,
		pacer:   ratelimit.NewPacer(cfg.SendDelay),
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// OnDailyRefresh registers fn to run during the daily refresh, before the
// cache is pre-warmed.
func (s *Scheduler) OnDailyRefresh(fn func(ctx context.Context)) {
	s.refreshers = append(s.refreshers, fn)
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run fires a tick on every interval boundary until ctx is done. Ticks run
// in the background so a slow tick causes later ones to be dropped rather
// than queued.
func (s *Scheduler) Run(ctx context.Context) error {
	s.warnUnreachable(ctx)
	s.log.Info("Scheduler started", "interval", s.cfg.TickInterval, "timezone", s.cfg.Location.String(), "daily_refresh", s.cfg.DailyRefreshTime)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		now := s.now()
		wait := nextBoundary(now, s.cfg.TickInterval, s.cfg.Location).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-timer.C:
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.Tick(ctx, t)
			}()
		}
	}
}

// nextBoundary returns the first multiple of interval after t, counted on
// the wall clock of loc.
func nextBoundary(t time.Time, interval time.Duration, loc *time.Location) time.Time {
	_, offset := t.In(loc).Zone()
	shift := time.Duration(offset) * time.Second
	return t.Add(shift).Truncate(interval).Add(interval).Add(-shift)
}

// Tick processes one wall-clock tick. It returns false when the tick was
// dropped because a previous one is still running.
func (s *Scheduler) Tick(ctx context.Context, t time.Time) bool {
	if !s.state.CompareAndSwap(int32(Idle), int32(Collecting)) {
		metrics.Global.IncrementTicksDropped()
		s.log.Warn("Tick dropped, previous tick still running", "state", s.State().String())
		return false
	}
	defer s.state.Store(int32(Idle))

	local := t.In(s.cfg.Location)
	hhmm := local.Format("15:04")

	if !s.sender.IsConnected(ctx) {
		s.log.Warn("Transport not connected, skipping tick", "time", hhmm)
		return true
	}

	if s.cfg.DailyRefreshTime != "" && hhmm == s.cfg.DailyRefreshTime {
		day := local.Format("2006-01-02")
		if day != s.lastDaily {
			s.lastDaily = day
			s.refresh(ctx)
		}
	}

	subs, err := s.store.SubscribersAt(ctx, hhmm)
	if err != nil {
		s.log.Error("Can't load subscribers", "time", hhmm, "error", err)
		return true
	}
	if len(subs) == 0 {
		s.log.Debug("No subscribers for tick", "time", hhmm)
		return true
	}
	s.log.Info("Delivery tick", "time", hhmm, "subscribers", len(subs))

	digests := s.collect(ctx, subs)

	s.state.Store(int32(Delivering))
	s.deliver(ctx, subs, digests)
	return true
}

type digest struct {
	articles []news.Article
	stale    bool
	err      error
}

func (s *Scheduler) collect(ctx context.Context, subs []news.Subscriber) []digest {
	out := make([]digest, len(subs))
	for i, sub := range subs {
		profile := sub.Profile()
		articles, err := s.cache.GetOrCompute(ctx, profile, s.compute)
		if err == nil {
			out[i] = digest{articles: articles}
			continue
		}

		if stale, ok := s.cache.Stale(ctx, profile.Key()); ok {
			s.log.Warn("Pipeline failed, delivering cached digest", "subscriber", sub.ID, "error", err)
			out[i] = digest{articles: stale, stale: true}
			continue
		}
		out[i] = digest{err: err}
	}
	return out
}

func (s *Scheduler) deliver(ctx context.Context, subs []news.Subscriber, digests []digest) {
	sent, failed := 0, 0
	for i, sub := range subs {
		if err := s.pacer.Wait(ctx); err != nil {
			s.log.Warn("Delivery interrupted", "error", err)
			return
		}

		d := digests[i]
		err := d.err
		if err == nil {
			err = s.send(ctx, sub, d)
		}

		record := news.Delivery{
			SubscriberID:  sub.ID,
			ArticleHashes: hashes(d.articles),
			DeliveredAt:   s.now(),
			Success:       err == nil,
		}
		if err != nil {
			failed++
			record.Error = err.Error()
			metrics.Global.IncrementDeliveriesFailed()
			s.log.Error("Delivery failed", "subscriber", sub.ID, "error", err)
		} else {
			sent++
			metrics.Global.IncrementDeliveriesSent()
		}
		if rerr := s.store.RecordDelivery(ctx, record); rerr != nil {
			s.log.Warn("Can't record delivery", "subscriber", sub.ID, "error", rerr)
		}
	}
	s.log.Info("Delivery finished", "sent", sent, "failed", failed)
}

func (s *Scheduler) send(ctx context.Context, sub news.Subscriber, d digest) error {
	if len(d.articles) == 0 {
		return errors.New("empty digest")
	}
	text := s.format(sub, d.articles, d.stale)

	if s.cfg.SendImages {
		top := d.articles[0]
		if top.ImageURL != "" {
			caption := "<b>" + html.EscapeString(news.Truncate(top.Title, maxCaptionTitle)) + "</b>"
			if err := s.sender.SendImage(ctx, sub.Recipient, top.ImageURL, caption); err != nil {
				s.log.Warn("Can't send image, sending text only", "subscriber", sub.ID, "error", err)
			}
		}
	}
	return s.sender.Send(ctx, sub.Recipient, text)
}

// refresh purges caches and recomputes the digest of every active profile.
func (s *Scheduler) refresh(ctx context.Context) {
	start := s.now()
	s.log.Info("Daily refresh started")

	if err := s.cache.Purge(ctx); err != nil {
		s.log.Warn("Can't purge digest cache", "error", err)
	}
	for _, fn := range s.refreshers {
		fn(ctx)
	}

	subs, err := s.store.ActiveSubscribers(ctx)
	if err != nil {
		s.log.Error("Can't load subscribers for refresh", "error", err)
		return
	}
	seen := make(map[string]bool)
	warmed := 0
	for _, sub := range subs {
		p := sub.Profile()
		if seen[p.Key()] {
			continue
		}
		seen[p.Key()] = true
		if _, err := s.cache.GetOrCompute(ctx, p, s.compute); err != nil {
			s.log.Warn("Pre-warm failed", "subscriber", sub.ID, "error", err)
			continue
		}
		warmed++
	}
	s.log.Info("Daily refresh finished", "profiles", warmed, "took", s.now().Sub(start).Round(time.Second))
}

// warnUnreachable logs subscribers whose delivery time never falls on a tick.
func (s *Scheduler) warnUnreachable(ctx context.Context) {
	subs, err := s.store.ActiveSubscribers(ctx)
	if err != nil {
		return
	}
	for _, sub := range subs {
		t, err := time.ParseInLocation("15:04", sub.DeliveryTime, s.cfg.Location)
		if err != nil {
			s.log.Warn("Subscriber has invalid delivery time", "subscriber", sub.ID, "delivery_time", sub.DeliveryTime)
			continue
		}
		minutes := time.Duration(t.Hour()*60+t.Minute()) * time.Minute
		if s.cfg.TickInterval <= time.Hour && minutes%s.cfg.TickInterval != 0 {
			s.log.Warn("Delivery time is not on a tick boundary and will never match",
				"subscriber", sub.ID, "delivery_time", sub.DeliveryTime, "interval", s.cfg.TickInterval)
		}
	}
}

func hashes(articles []news.Article) []string {
	out := make([]string, 0, len(articles))
	for _, a := range articles {
		out = append(out, a.ContentHash)
	}
	return out
}
