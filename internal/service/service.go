package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/events"
	"dairyflow/backend/internal/fulfillment"
	"dairyflow/backend/internal/lifecycle"
	"dairyflow/backend/internal/stats"
	"dairyflow/backend/internal/store"
)

// ErrForbidden means the actor may not touch the resource.
var ErrForbidden = errors.New("forbidden")

const maxItemQuantity = 50

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type SubscriptionNumberer interface {
	SubscriptionNumber() string
}

type Options struct {
	Publisher events.Publisher
	Logger    zerolog.Logger
	Support   domain.SupportInfo
}

type Service struct {
	repo      store.Repository
	scheduler *fulfillment.Scheduler
	numbers   SubscriptionNumberer
	stats     *stats.Aggregator
	publisher events.Publisher
	logger    zerolog.Logger
	support   domain.SupportInfo
	now       func() time.Time
}

func New(repo store.Repository, scheduler *fulfillment.Scheduler, numbers SubscriptionNumberer, opts Options) *Service {
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}
	return &Service{
		repo:      repo,
		scheduler: scheduler,
		numbers:   numbers,
		stats:     stats.NewAggregator(repo),
		publisher: opts.Publisher,
		logger:    opts.Logger.With().Str("component", "service").Logger(),
		support:   opts.Support,
		now:       time.Now,
	}
}

func (s *Service) Support() domain.SupportInfo {
	return s.support
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (domain.Subscription, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Subscription{}, err
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		req.UserID = actor.UserID
	}
	if !canAccessUser(actor, req.UserID) || actor.Role == domain.RoleDeliveryPartner {
		return domain.Subscription{}, ErrForbidden
	}

	cadence, err := domain.ParseCadence(string(req.Cadence))
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	start, end, err := s.parseSubscriptionDates(req.StartDate, req.EndDate)
	if err != nil {
		return domain.Subscription{}, err
	}
	items, err := normalizeItems(req.Items)
	if err != nil {
		return domain.Subscription{}, err
	}

	user, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("user %s: %w", req.UserID, err)
	}
	if user.Role != domain.RoleCustomer || !user.Active {
		return domain.Subscription{}, fmt.Errorf("%w: subscriptions belong to active customers", store.ErrValidation)
	}
	for _, item := range items {
		if _, err := s.repo.GetProduct(ctx, item.ProductID); err != nil {
			return domain.Subscription{}, err
		}
	}

	created, err := s.repo.CreateSubscription(ctx, domain.Subscription{
		UserID:             user.ID,
		SubscriptionNumber: s.numbers.SubscriptionNumber(),
		Items:              items,
		Cadence:            cadence,
		StartDate:          start,
		EndDate:            end,
		Status:             domain.SubscriptionStatusPending,
		CreatedAt:          s.now().UTC(),
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.logger.Info().Str("subscription_id", created.ID).Str("user_id", created.UserID).Str("cadence", string(created.Cadence)).Msg("subscription created")
	s.publish(ctx, events.New(events.TypeSubscriptionStatusChanged, created.ID, created))
	return *created, nil
}

func (s *Service) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Subscription{}, err
	}
	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	if !canAccessUser(actor, sub.UserID) {
		return domain.Subscription{}, ErrForbidden
	}
	return *sub, nil
}

// customerSubscriptionMoves lists the status changes a customer may make on
// their own subscription. Activation and expiry belong to the scheduler and
// admins.
var customerSubscriptionMoves = map[domain.SubscriptionStatus]bool{
	domain.SubscriptionStatusPaused:    true,
	domain.SubscriptionStatusActive:    true,
	domain.SubscriptionStatusCancelled: true,
}

func (s *Service) ChangeSubscriptionStatus(ctx context.Context, id string, req domain.SubscriptionStatusRequest) (domain.Subscription, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Subscription{}, err
	}
	to := domain.SubscriptionStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if !lifecycle.ValidSubscriptionStatus(to) {
		return domain.Subscription{}, fmt.Errorf("%w: unknown subscription status %q", store.ErrValidation, req.Status)
	}

	current, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleCustomer:
		if actor.UserID != current.UserID || !customerSubscriptionMoves[to] {
			return domain.Subscription{}, ErrForbidden
		}
		if to == domain.SubscriptionStatusActive && current.Status != domain.SubscriptionStatusPaused {
			return domain.Subscription{}, ErrForbidden
		}
	default:
		return domain.Subscription{}, ErrForbidden
	}

	updated, err := s.repo.TransitionSubscription(ctx, domain.SubscriptionTransition{
		SubscriptionID:  current.ID,
		From:            current.Status,
		To:              to,
		ExpectedVersion: current.Version,
		At:              s.now().UTC(),
	})
	if err != nil {
		return domain.Subscription{}, err
	}

	s.logger.Info().
		Str("subscription_id", updated.ID).
		Str("from", string(current.Status)).
		Str("to", string(updated.Status)).
		Str("actor", actor.UserID).
		Msg("subscription status changed")
	s.publish(ctx, events.New(events.TypeSubscriptionStatusChanged, updated.ID, updated))
	return *updated, nil
}

func (s *Service) ListUserSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !canAccessUser(actor, userID) {
		return nil, ErrForbidden
	}
	return s.repo.ListSubscriptionsForUser(ctx, userID)
}

func (s *Service) ListUserOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !canAccessUser(actor, userID) {
		return nil, ErrForbidden
	}
	return s.repo.ListOrdersForUser(ctx, userID)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !canSeeOrder(actor, *order) {
		return domain.Order{}, ErrForbidden
	}
	return *order, nil
}

func (s *Service) ListOrderEvents(ctx context.Context, id string) ([]domain.OrderEvent, error) {
	if _, err := s.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListOrderEvents(ctx, id)
}

// ChangeOrderStatus applies one order transition as a compare-and-swap on
// the version the caller last saw. Without expected_version the current
// version is used.
func (s *Service) ChangeOrderStatus(ctx context.Context, id string, req domain.OrderStatusRequest) (domain.Order, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	to := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if !lifecycle.ValidOrderStatus(to) {
		return domain.Order{}, fmt.Errorf("%w: unknown order status %q", store.ErrValidation, req.Status)
	}

	current, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := authorizeOrderMove(actor, *current, to); err != nil {
		return domain.Order{}, err
	}

	transition := domain.OrderTransition{
		OrderID:         current.ID,
		From:            current.Status,
		To:              to,
		ExpectedVersion: current.Version,
		Reason:          strings.TrimSpace(req.Reason),
		Actor:           actor,
		At:              s.now().UTC(),
	}
	if req.ExpectedVersion != nil {
		transition.ExpectedVersion = *req.ExpectedVersion
	}
	if partnerID := strings.TrimSpace(req.PartnerID); partnerID != "" || to == domain.OrderStatusOutForDelivery {
		if to != domain.OrderStatusOutForDelivery {
			return domain.Order{}, fmt.Errorf("%w: partner_id is only accepted on dispatch", store.ErrValidation)
		}
		if err := s.checkPartner(ctx, partnerID); err != nil {
			return domain.Order{}, err
		}
		transition.PartnerID = &partnerID
	}

	updated, err := s.repo.TransitionOrder(ctx, transition)
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.Info().
		Str("order_id", updated.ID).
		Str("from", string(transition.From)).
		Str("to", string(updated.Status)).
		Int("version", updated.Version).
		Str("actor", actor.UserID).
		Msg("order status changed")
	s.publish(ctx, events.New(events.TypeOrderStatusChanged, updated.ID, updated))
	return *updated, nil
}

func (s *Service) CustomerStats(ctx context.Context, userID string) (domain.CustomerStats, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CustomerStats{}, err
	}
	if !canAccessUser(actor, userID) {
		return domain.CustomerStats{}, ErrForbidden
	}
	return s.stats.Customer(ctx, userID)
}

func (s *Service) PartnerStats(ctx context.Context, partnerID string) (domain.DeliveryPartnerStats, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DeliveryPartnerStats{}, err
	}
	if !canAccessUser(actor, partnerID) {
		return domain.DeliveryPartnerStats{}, ErrForbidden
	}
	return s.stats.Partner(ctx, partnerID)
}

// RunFulfillment triggers a scheduler run. An empty date means today in the
// business timezone.
func (s *Service) RunFulfillment(ctx context.Context, req domain.FulfillmentRunRequest) (domain.BatchSummary, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.BatchSummary{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.BatchSummary{}, ErrForbidden
	}

	date := s.scheduler.Today()
	if raw := strings.TrimSpace(req.Date); raw != "" {
		date, err = domain.ParseDate(raw)
		if err != nil {
			return domain.BatchSummary{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
	}
	s.logger.Info().Str("run_date", date.Format(domain.DateLayout)).Str("actor", actor.UserID).Msg("manual fulfillment run")
	return s.scheduler.Run(ctx, date)
}

func (s *Service) checkPartner(ctx context.Context, partnerID string) error {
	if partnerID == "" {
		return fmt.Errorf("%w: dispatch requires partner_id", store.ErrValidation)
	}
	partner, err := s.repo.GetUser(ctx, partnerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: unknown delivery partner %s", store.ErrValidation, partnerID)
		}
		return err
	}
	if partner.Role != domain.RoleDeliveryPartner || !partner.Active {
		return fmt.Errorf("%w: %s is not an active delivery partner", store.ErrValidation, partnerID)
	}
	return nil
}

func (s *Service) parseSubscriptionDates(rawStart, rawEnd string) (time.Time, *time.Time, error) {
	today := s.scheduler.Today()
	start := today
	if strings.TrimSpace(rawStart) != "" {
		parsed, err := domain.ParseDate(rawStart)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("%w: start_date must be YYYY-MM-DD", store.ErrValidation)
		}
		start = parsed
	}
	if start.Before(today) {
		return time.Time{}, nil, fmt.Errorf("%w: start_date is in the past", store.ErrValidation)
	}
	if strings.TrimSpace(rawEnd) == "" {
		return start, nil, nil
	}
	end, err := domain.ParseDate(rawEnd)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("%w: end_date must be YYYY-MM-DD", store.ErrValidation)
	}
	if end.Before(start) {
		return time.Time{}, nil, fmt.Errorf("%w: end_date before start_date", store.ErrValidation)
	}
	return start, &end, nil
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.logger.Warn().Err(err).Int("events", len(evs)).Msg("publish events failed")
	}
}

// normalizeItems trims ids and rejects empty sets, bad quantities and
// duplicate products.
func normalizeItems(items []domain.SubscriptionItem) ([]domain.SubscriptionItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]domain.SubscriptionItem, 0, len(items))
	for _, item := range items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: product_id is required", store.ErrValidation)
		}
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			return nil, fmt.Errorf("%w: quantity for %s must be between 1 and %d", store.ErrValidation, item.ProductID, maxItemQuantity)
		}
		if _, dup := seen[item.ProductID]; dup {
			return nil, fmt.Errorf("%w: duplicate product %s", store.ErrValidation, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
		out = append(out, item)
	}
	return out, nil
}

func authorizeOrderMove(actor domain.Actor, order domain.Order, to domain.OrderStatus) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleDeliveryPartner:
		assigned := order.PartnerID != nil && *order.PartnerID == actor.UserID
		if assigned && to == domain.OrderStatusDelivered {
			return nil
		}
	case domain.RoleCustomer:
		early := order.Status == domain.OrderStatusPending || order.Status == domain.OrderStatusConfirmed
		if order.UserID == actor.UserID && to == domain.OrderStatusCancelled && early {
			return nil
		}
	}
	return ErrForbidden
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func canAccessUser(actor domain.Actor, userID string) bool {
	return actor.Role == domain.RoleAdmin || actor.UserID == userID
}

func canSeeOrder(actor domain.Actor, order domain.Order) bool {
	if actor.Role == domain.RoleAdmin || order.UserID == actor.UserID {
		return true
	}
	return order.PartnerID != nil && *order.PartnerID == actor.UserID
}
