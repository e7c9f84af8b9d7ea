// Package stats folds order and subscription history into dashboard counters.
// Everything is recomputed on demand; nothing here takes locks.
package stats

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/lifecycle"
)

func CustomerStats(userID string, orders []domain.Order, subs []domain.Subscription) domain.CustomerStats {
	out := domain.CustomerStats{
		UserID:             userID,
		TotalOrders:        len(orders),
		TotalSpent:         decimal.Zero,
		TotalSubscriptions: len(subs),
	}
	for _, o := range orders {
		if o.Status == domain.OrderStatusDelivered {
			out.TotalSpent = out.TotalSpent.Add(o.TotalAmount)
		}
	}
	for _, s := range subs {
		if lifecycle.OpenSubscription(s.Status) {
			out.ActiveSubscriptions++
		}
	}
	return out
}

// PartnerStats counts only orders assigned to partnerID, so callers may pass
// an unfiltered list.
func PartnerStats(partnerID string, orders []domain.Order) domain.DeliveryPartnerStats {
	out := domain.DeliveryPartnerStats{PartnerID: partnerID, TotalRevenue: decimal.Zero}
	for _, o := range orders {
		if o.PartnerID == nil || *o.PartnerID != partnerID {
			continue
		}
		out.TotalAssigned++
		if o.Status == domain.OrderStatusDelivered {
			out.TotalDelivered++
			out.TotalRevenue = out.TotalRevenue.Add(o.TotalAmount)
		}
	}
	out.SuccessRate = SuccessRate(out.TotalDelivered, out.TotalAssigned)
	return out
}

// SuccessRate is delivered/assigned as a percentage, 0 when nothing was
// assigned.
func SuccessRate(delivered, assigned int) float64 {
	if assigned <= 0 || delivered <= 0 {
		return 0
	}
	if delivered > assigned {
		return 100
	}
	return float64(delivered) / float64(assigned) * 100
}

type Loader interface {
	ListOrdersForUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListSubscriptionsForUser(ctx context.Context, userID string) ([]domain.Subscription, error)
	ListOrdersForPartner(ctx context.Context, partnerID string) ([]domain.Order, error)
}

type Aggregator struct {
	loader Loader
}

func NewAggregator(loader Loader) *Aggregator {
	return &Aggregator{loader: loader}
}

func (a *Aggregator) Customer(ctx context.Context, userID string) (domain.CustomerStats, error) {
	orders, err := a.loader.ListOrdersForUser(ctx, userID)
	if err != nil {
		return domain.CustomerStats{}, fmt.Errorf("load orders: %w", err)
	}
	subs, err := a.loader.ListSubscriptionsForUser(ctx, userID)
	if err != nil {
		return domain.CustomerStats{}, fmt.Errorf("load subscriptions: %w", err)
	}
	return CustomerStats(userID, orders, subs), nil
}

func (a *Aggregator) Partner(ctx context.Context, partnerID string) (domain.DeliveryPartnerStats, error) {
	orders, err := a.loader.ListOrdersForPartner(ctx, partnerID)
	if err != nil {
		return domain.DeliveryPartnerStats{}, fmt.Errorf("load partner orders: %w", err)
	}
	return PartnerStats(partnerID, orders), nil
}
