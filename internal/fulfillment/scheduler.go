// Package fulfillment turns due subscriptions into PENDING orders, at most one
// per subscription per generation date.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/events"
	"dairyflow/backend/internal/lock"
	"dairyflow/backend/internal/pricing"
	"dairyflow/backend/internal/store"
)

// ErrRunInProgress is returned when another run holds the lock for the date.
var ErrRunInProgress = fmt.Errorf("fulfillment run in progress: %w", store.ErrConflict)

const (
	reasonAlreadyGenerated = "already generated"
	reasonNotActive        = "no longer active"
	reasonNotDue           = "not due"
)

type OrderNumberer interface {
	OrderNumber() string
}

type Options struct {
	Locker       lock.Locker
	Publisher    events.Publisher
	Logger       zerolog.Logger
	Workers      int
	AutoActivate bool
	LockTTL      time.Duration
	Location     *time.Location
	// Hour is the local hour from which RunDaily fires for the day.
	Hour int
	// Tick is how often RunDaily checks the clock.
	Tick time.Duration
}

type Scheduler struct {
	repo      store.Repository
	calc      *pricing.Calculator
	numbers   OrderNumberer
	locker    lock.Locker
	publisher events.Publisher
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time
}

func New(repo store.Repository, calc *pricing.Calculator, numbers OrderNumberer, opts Options) *Scheduler {
	if opts.Locker == nil {
		opts.Locker = lock.NewMemoryLocker()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Hour < 0 || opts.Hour > 23 {
		opts.Hour = 0
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}
	return &Scheduler{
		repo:      repo,
		calc:      calc,
		numbers:   numbers,
		locker:    opts.Locker,
		publisher: opts.Publisher,
		logger:    opts.Logger.With().Str("component", "fulfillment").Logger(),
		opts:      opts,
		now:       time.Now,
	}
}

// Today is the current civil date in the business timezone.
func (s *Scheduler) Today() time.Time {
	return domain.DateOf(s.now().In(s.opts.Location))
}

func LockKey(date time.Time) string {
	return "fulfillment:" + domain.DateOf(date).Format(domain.DateLayout)
}

// Run generates the orders due on runDate. Per-subscription failures land in
// the summary; the returned error is reserved for failures that stop the
// whole run. Cancelling ctx does not interrupt a run once started.
func (s *Scheduler) Run(ctx context.Context, runDate time.Time) (domain.BatchSummary, error) {
	ctx = context.WithoutCancel(ctx)
	date := domain.DateOf(runDate)
	summary := domain.BatchSummary{
		RunDate:         date.Format(domain.DateLayout),
		GeneratedOrders: []string{},
		Skipped:         []domain.BatchEntry{},
		Failed:          []domain.BatchEntry{},
		StartedAt:       s.now().UTC(),
	}
	log := s.logger.With().Str("run_date", summary.RunDate).Logger()

	lease, err := s.locker.Acquire(ctx, LockKey(date), s.opts.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return summary, ErrRunInProgress
		}
		return summary, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := s.locker.Release(ctx, lease); err != nil {
			log.Warn().Err(err).Msg("release run lock failed")
		}
	}()

	if err := s.housekeep(ctx, date, &summary); err != nil {
		return s.finish(summary), err
	}

	candidates, err := s.repo.ListSubscriptionsDueOn(ctx, date)
	if err != nil {
		return s.finish(summary), fmt.Errorf("list due subscriptions: %w", err)
	}
	summary.Candidates = len(candidates)

	var (
		mu        sync.Mutex
		generated []domain.Order
		g         errgroup.Group
	)
	g.SetLimit(s.opts.Workers)
	for _, sub := range candidates {
		g.Go(func() error {
			order, err := s.generate(ctx, sub, date)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				generated = append(generated, *order)
			case errors.Is(err, store.ErrAlreadyGenerated):
				summary.Skipped = append(summary.Skipped, entry(sub.ID, err, reasonAlreadyGenerated))
			case errors.Is(err, store.ErrSubscriptionNotActive):
				summary.Skipped = append(summary.Skipped, entry(sub.ID, err, reasonNotActive))
			case errors.Is(err, store.ErrNotDue):
				summary.Skipped = append(summary.Skipped, entry(sub.ID, err, reasonNotDue))
			default:
				log.Warn().Err(err).Str("subscription_id", sub.ID).Msg("order generation failed")
				summary.Failed = append(summary.Failed, entry(sub.ID, err, err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(generated, func(a, b domain.Order) int {
		return strings.Compare(a.SubscriptionID, b.SubscriptionID)
	})
	published := make([]events.Event, 0, len(generated)+1)
	for _, order := range generated {
		summary.GeneratedOrders = append(summary.GeneratedOrders, order.ID)
		published = append(published, events.New(events.TypeOrderGenerated, order.ID, order))
	}
	summary.Generated = len(generated)
	summary = s.finish(summary)

	published = append(published, events.New(events.TypeFulfillmentRunCompleted, summary.RunDate, summary))
	s.publish(ctx, published...)

	log.Info().
		Int("candidates", summary.Candidates).
		Int("generated", summary.Generated).
		Int("skipped", len(summary.Skipped)).
		Int("failed", len(summary.Failed)).
		Int("activated", summary.Activated).
		Int("expired", summary.Expired).
		Dur("took", summary.FinishedAt.Sub(summary.StartedAt)).
		Msg("fulfillment run finished")
	return summary, nil
}

// housekeep activates subscriptions whose start date arrived and expires
// the ones past their end date.
func (s *Scheduler) housekeep(ctx context.Context, date time.Time, summary *domain.BatchSummary) error {
	if s.opts.AutoActivate {
		pending, err := s.repo.ListPendingSubscriptionsStartingBy(ctx, date)
		if err != nil {
			return fmt.Errorf("list pending subscriptions: %w", err)
		}
		for _, sub := range pending {
			if s.moveSubscription(ctx, sub, domain.SubscriptionStatusActive, summary) {
				summary.Activated++
			}
		}
	}

	ended, err := s.repo.ListSubscriptionsEndedBefore(ctx, date)
	if err != nil {
		return fmt.Errorf("list ended subscriptions: %w", err)
	}
	for _, sub := range ended {
		if s.moveSubscription(ctx, sub, domain.SubscriptionStatusExpired, summary) {
			summary.Expired++
		}
	}
	return nil
}

func (s *Scheduler) moveSubscription(ctx context.Context, sub domain.Subscription, to domain.SubscriptionStatus, summary *domain.BatchSummary) bool {
	updated, err := s.repo.TransitionSubscription(ctx, domain.SubscriptionTransition{
		SubscriptionID:  sub.ID,
		From:            sub.Status,
		To:              to,
		ExpectedVersion: sub.Version,
		At:              s.now().UTC(),
	})
	switch {
	case err == nil:
		s.publish(ctx, events.New(events.TypeSubscriptionStatusChanged, updated.ID, updated))
		return true
	case errors.Is(err, store.ErrConflict):
		// Someone else moved it first; their state wins.
		return false
	default:
		s.logger.Warn().Err(err).Str("subscription_id", sub.ID).Str("to", string(to)).Msg("subscription housekeeping failed")
		summary.Failed = append(summary.Failed, entry(sub.ID, err, err.Error()))
		return false
	}
}

func (s *Scheduler) generate(ctx context.Context, sub domain.Subscription, date time.Time) (*domain.Order, error) {
	if len(sub.Items) == 0 {
		return nil, fmt.Errorf("%w: subscription %s has no items", store.ErrValidation, sub.ID)
	}
	ids := make([]string, 0, len(sub.Items))
	for _, item := range sub.Items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity %d for %s", store.ErrValidation, item.Quantity, item.ProductID)
		}
		ids = append(ids, item.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	items := make([]domain.OrderItem, 0, len(sub.Items))
	for _, item := range sub.Items {
		p, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		items = append(items, domain.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    item.Quantity,
			UnitPrice:   p.Price,
			CGSTPercent: p.CGSTPercent,
			SGSTPercent: p.SGSTPercent,
		})
	}

	quote, err := s.calc.Quote(items)
	if err != nil {
		return nil, err
	}
	return s.repo.CommitGeneratedOrder(ctx, domain.Order{
		OrderNumber: s.numbers.OrderNumber(),
		Items:       items,
		PlatformFee: quote.PlatformFee,
		DeliveryFee: quote.DeliveryFee,
		TotalAmount: quote.Total,
		CreatedAt:   s.now().UTC(),
	}, sub.ID, date)
}

// RunDaily runs once per business day, from the configured hour on, until
// ctx is done. A process started after the hour runs right away.
func (s *Scheduler) RunDaily(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	var last time.Time
	check := func() {
		now := s.now().In(s.opts.Location)
		if !shouldRun(now, last, s.opts.Hour) {
			return
		}
		summary, err := s.Run(ctx, now)
		switch {
		case errors.Is(err, ErrRunInProgress):
			s.logger.Info().Str("run_date", summary.RunDate).Msg("run already in progress elsewhere")
		case err != nil:
			s.logger.Error().Err(err).Str("run_date", summary.RunDate).Msg("daily fulfillment run failed")
			return
		}
		last = domain.DateOf(now)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func shouldRun(now time.Time, last time.Time, hour int) bool {
	if now.Hour() < hour {
		return false
	}
	return last.IsZero() || domain.DateOf(now).After(last)
}

func (s *Scheduler) publish(ctx context.Context, evs ...events.Event) {
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.logger.Warn().Err(err).Int("events", len(evs)).Msg("publish events failed")
	}
}

func (s *Scheduler) finish(summary domain.BatchSummary) domain.BatchSummary {
	byID := func(a, b domain.BatchEntry) int {
		return strings.Compare(a.SubscriptionID, b.SubscriptionID)
	}
	slices.SortFunc(summary.Skipped, byID)
	slices.SortFunc(summary.Failed, byID)
	summary.FinishedAt = s.now().UTC()
	return summary
}

func entry(subscriptionID string, err error, reason string) domain.BatchEntry {
	return domain.BatchEntry{
		SubscriptionID: subscriptionID,
		Kind:           store.Classify(err),
		Reason:         reason,
	}
}
