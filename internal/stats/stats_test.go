package stats

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"dairyflow/backend/internal/domain"
)

func ptr(s string) *string { return &s }

func order(status domain.OrderStatus, total int64, partner *string) domain.Order {
	return domain.Order{Status: status, TotalAmount: decimal.NewFromInt(total), PartnerID: partner}
}

func TestCustomerStats(t *testing.T) {
	orders := []domain.Order{
		order(domain.OrderStatusDelivered, 140, ptr("p1")),
		order(domain.OrderStatusDelivered, 60, ptr("p1")),
		order(domain.OrderStatusCancelled, 500, nil),
		order(domain.OrderStatusPending, 90, nil),
	}
	subs := []domain.Subscription{
		{Status: domain.SubscriptionStatusActive},
		{Status: domain.SubscriptionStatusPaused},
		{Status: domain.SubscriptionStatusPending},
		{Status: domain.SubscriptionStatusCancelled},
		{Status: domain.SubscriptionStatusExpired},
	}

	got := CustomerStats("u1", orders, subs)
	if got.TotalOrders != 4 || got.TotalSubscriptions != 5 || got.ActiveSubscriptions != 3 {
		t.Fatalf("unexpected counts %+v", got)
	}
	if !got.TotalSpent.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected spent 200, got %s", got.TotalSpent)
	}
}

func TestCustomerStatsEmpty(t *testing.T) {
	got := CustomerStats("u1", nil, nil)
	if got.TotalOrders != 0 || !got.TotalSpent.IsZero() {
		t.Fatalf("unexpected stats %+v", got)
	}
}

func TestPartnerStats(t *testing.T) {
	orders := []domain.Order{
		order(domain.OrderStatusDelivered, 140, ptr("p1")),
		order(domain.OrderStatusOutForDelivery, 60, ptr("p1")),
		order(domain.OrderStatusCancelled, 80, ptr("p1")),
		order(domain.OrderStatusDelivered, 999, ptr("p2")),
		order(domain.OrderStatusPending, 10, nil),
	}

	got := PartnerStats("p1", orders)
	if got.TotalAssigned != 3 || got.TotalDelivered != 1 {
		t.Fatalf("unexpected counts %+v", got)
	}
	if !got.TotalRevenue.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("expected revenue 140, got %s", got.TotalRevenue)
	}
	want := 100.0 / 3
	if diff := got.SuccessRate - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected rate %.4f, got %.4f", want, got.SuccessRate)
	}
}

func TestSuccessRateBounds(t *testing.T) {
	cases := []struct {
		delivered, assigned int
		want                float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 4, 0},
		{4, 4, 100},
		{1, 2, 50},
		{9, 3, 100},
		{-1, 3, 0},
	}
	for _, c := range cases {
		got := SuccessRate(c.delivered, c.assigned)
		if got != c.want {
			t.Errorf("SuccessRate(%d, %d) = %v, want %v", c.delivered, c.assigned, got, c.want)
		}
		if got < 0 || got > 100 {
			t.Errorf("SuccessRate(%d, %d) out of range: %v", c.delivered, c.assigned, got)
		}
	}
}

type fakeLoader struct {
	orders []domain.Order
	subs   []domain.Subscription
	err    error
}

func (f fakeLoader) ListOrdersForUser(context.Context, string) ([]domain.Order, error) {
	return f.orders, f.err
}

func (f fakeLoader) ListSubscriptionsForUser(context.Context, string) ([]domain.Subscription, error) {
	return f.subs, f.err
}

func (f fakeLoader) ListOrdersForPartner(context.Context, string) ([]domain.Order, error) {
	return f.orders, f.err
}

func TestAggregator(t *testing.T) {
	agg := NewAggregator(fakeLoader{
		orders: []domain.Order{order(domain.OrderStatusDelivered, 140, ptr("p1"))},
		subs:   []domain.Subscription{{Status: domain.SubscriptionStatusActive}},
	})

	c, err := agg.Customer(context.Background(), "u1")
	if err != nil || c.TotalOrders != 1 || c.ActiveSubscriptions != 1 {
		t.Fatalf("unexpected customer stats %+v %v", c, err)
	}
	p, err := agg.Partner(context.Background(), "p1")
	if err != nil || p.SuccessRate != 100 {
		t.Fatalf("unexpected partner stats %+v %v", p, err)
	}

	boom := errors.New("boom")
	if _, err := NewAggregator(fakeLoader{err: boom}).Customer(context.Background(), "u1"); !errors.Is(err, boom) {
		t.Fatalf("expected loader error to propagate, got %v", err)
	}
}
