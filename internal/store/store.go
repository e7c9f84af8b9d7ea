package store

import (
	"context"
	"errors"
	"time"

	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/lifecycle"
	"dairyflow/backend/internal/pricing"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = lifecycle.ErrInvalidTransition
	// ErrAlreadyGenerated and ErrSubscriptionNotActive are conflicts the
	// scheduler treats as a skip.
	ErrAlreadyGenerated      = errors.New("order already generated for date")
	ErrSubscriptionNotActive = errors.New("subscription no longer active")
	// ErrNotDue means a later generation already moved the cadence past
	// the date, typically from an overlapping run for another date.
	ErrNotDue = errors.New("subscription not due on date")
)

const (
	KindInvalidTransition = "invalid_transition"
	KindConflict          = "conflict"
	KindNotFound          = "not_found"
	KindValidation        = "validation"
	KindInternal          = "internal"
)

// Classify maps err onto a stable kind string.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrConflict),
		errors.Is(err, lifecycle.ErrStale),
		errors.Is(err, ErrAlreadyGenerated),
		errors.Is(err, ErrSubscriptionNotActive),
		errors.Is(err, ErrNotDue):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, pricing.ErrInvalidAmount):
		return KindValidation
	default:
		return KindInternal
	}
}

type Repository interface {
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)

	UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*domain.Subscription, error)
	ListSubscriptionsForUser(ctx context.Context, userID string) ([]domain.Subscription, error)
	// ListSubscriptionsDueOn returns ACTIVE subscriptions whose cadence
	// makes them due on date.
	ListSubscriptionsDueOn(ctx context.Context, date time.Time) ([]domain.Subscription, error)
	ListPendingSubscriptionsStartingBy(ctx context.Context, date time.Time) ([]domain.Subscription, error)
	// ListSubscriptionsEndedBefore returns ACTIVE or PAUSED subscriptions
	// whose end date is before date.
	ListSubscriptionsEndedBefore(ctx context.Context, date time.Time) ([]domain.Subscription, error)
	TransitionSubscription(ctx context.Context, t domain.SubscriptionTransition) (*domain.Subscription, error)

	// CommitGeneratedOrder inserts order and advances the subscription's
	// last generated date as one unit. It fails with ErrAlreadyGenerated when
	// an order exists for (subscriptionID, date) and with
	// ErrSubscriptionNotActive when the subscription left ACTIVE and with
	// ErrNotDue when its cadence no longer makes it due on date.
	CommitGeneratedOrder(ctx context.Context, order domain.Order, subscriptionID string, date time.Time) (*domain.Order, error)
	FindGeneratedOrder(ctx context.Context, subscriptionID string, date time.Time) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// TransitionOrder applies t when the stored order still matches t.From
	// and t.ExpectedVersion, appending an order event and bumping the
	// partner delivery counter on DELIVERED. A mismatch is ErrConflict.
	TransitionOrder(ctx context.Context, t domain.OrderTransition) (*domain.Order, error)
	ListOrdersForUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListOrdersForPartner(ctx context.Context, partnerID string) ([]domain.Order, error)
	ListOrderEvents(ctx context.Context, orderID string) ([]domain.OrderEvent, error)
}
