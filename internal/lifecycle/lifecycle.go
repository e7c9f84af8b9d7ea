// Package lifecycle holds the order and subscription status machines.
package lifecycle

import (
	"errors"
	"fmt"

	"dairyflow/backend/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStale means the entity moved on since the caller read it.
	ErrStale = errors.New("stale status or version")
)

// OrderTransitions is the order state flow as a table. States without an
// entry are terminal.
var OrderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:        {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:      {domain.OrderStatusOutForDelivery, domain.OrderStatusCancelled},
	domain.OrderStatusOutForDelivery: {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
}

var SubscriptionTransitions = map[domain.SubscriptionStatus][]domain.SubscriptionStatus{
	domain.SubscriptionStatusPending: {domain.SubscriptionStatusActive, domain.SubscriptionStatusCancelled},
	domain.SubscriptionStatusActive: {
		domain.SubscriptionStatusPaused,
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusExpired,
	},
	domain.SubscriptionStatusPaused: {
		domain.SubscriptionStatusActive,
		domain.SubscriptionStatusCancelled,
		domain.SubscriptionStatusExpired,
	},
}

var knownOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusPending:        true,
	domain.OrderStatusConfirmed:      true,
	domain.OrderStatusOutForDelivery: true,
	domain.OrderStatusDelivered:      true,
	domain.OrderStatusCancelled:      true,
}

var knownSubscriptionStatuses = map[domain.SubscriptionStatus]bool{
	domain.SubscriptionStatusPending:   true,
	domain.SubscriptionStatusActive:    true,
	domain.SubscriptionStatusPaused:    true,
	domain.SubscriptionStatusCancelled: true,
	domain.SubscriptionStatusExpired:   true,
}

func CanTransitionOrder(from, to domain.OrderStatus) bool {
	return contains(OrderTransitions[from], to)
}

func CanTransitionSubscription(from, to domain.SubscriptionStatus) bool {
	return contains(SubscriptionTransitions[from], to)
}

// NextOrder validates from -> to and returns to. The error wraps
// ErrInvalidTransition.
func NextOrder(from, to domain.OrderStatus) (domain.OrderStatus, error) {
	if !CanTransitionOrder(from, to) {
		return from, fmt.Errorf("%w: order %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

func NextSubscription(from, to domain.SubscriptionStatus) (domain.SubscriptionStatus, error) {
	if !CanTransitionSubscription(from, to) {
		return from, fmt.Errorf("%w: subscription %s -> %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

func IsTerminalOrder(s domain.OrderStatus) bool {
	return knownOrderStatuses[s] && len(OrderTransitions[s]) == 0
}

func IsTerminalSubscription(s domain.SubscriptionStatus) bool {
	return knownSubscriptionStatuses[s] && len(SubscriptionTransitions[s]) == 0
}

func ValidOrderStatus(s domain.OrderStatus) bool {
	return knownOrderStatuses[s]
}

func ValidSubscriptionStatus(s domain.SubscriptionStatus) bool {
	return knownSubscriptionStatuses[s]
}

// RequiresPartner reports whether an order in status s must carry an
// assigned delivery partner.
func RequiresPartner(s domain.OrderStatus) bool {
	return s == domain.OrderStatusOutForDelivery || s == domain.OrderStatusDelivered
}

// OpenSubscription reports whether s still counts as a live subscription.
func OpenSubscription(s domain.SubscriptionStatus) bool {
	return s == domain.SubscriptionStatusPending ||
		s == domain.SubscriptionStatusActive ||
		s == domain.SubscriptionStatusPaused
}

// ApplyOrder validates t against o and moves o forward: status, version,
// partner and the delivered/cancelled stamps. On error o is left untouched.
func ApplyOrder(o *domain.Order, t domain.OrderTransition) error {
	if o.Status != t.From || o.Version != t.ExpectedVersion {
		return fmt.Errorf("%w: order %s is %s@%d, transition expects %s@%d", ErrStale, o.ID, o.Status, o.Version, t.From, t.ExpectedVersion)
	}
	next, err := NextOrder(o.Status, t.To)
	if err != nil {
		return err
	}

	partnerID := o.PartnerID
	if t.PartnerID != nil && *t.PartnerID != "" {
		if next != domain.OrderStatusOutForDelivery {
			return fmt.Errorf("%w: partner can only be assigned on dispatch", ErrInvalidTransition)
		}
		p := *t.PartnerID
		partnerID = &p
	}
	if RequiresPartner(next) && (partnerID == nil || *partnerID == "") {
		return fmt.Errorf("%w: %s requires a delivery partner", ErrInvalidTransition, next)
	}

	at := t.At
	o.Status = next
	o.Version++
	o.PartnerID = partnerID
	switch next {
	case domain.OrderStatusDelivered:
		o.DeliveredAt = &at
	case domain.OrderStatusCancelled:
		o.CancelledAt = &at
		o.CancelReason = t.Reason
	}
	return nil
}

// ApplySubscription is the subscription counterpart of ApplyOrder.
func ApplySubscription(s *domain.Subscription, t domain.SubscriptionTransition) error {
	if s.Status != t.From || s.Version != t.ExpectedVersion {
		return fmt.Errorf("%w: subscription %s is %s@%d, transition expects %s@%d", ErrStale, s.ID, s.Status, s.Version, t.From, t.ExpectedVersion)
	}
	next, err := NextSubscription(s.Status, t.To)
	if err != nil {
		return err
	}
	if OpenSubscription(next) && len(s.Items) == 0 {
		return fmt.Errorf("%w: subscription without items cannot be %s", ErrInvalidTransition, next)
	}
	s.Status = next
	s.Version++
	s.UpdatedAt = t.At
	return nil
}

func contains[T comparable](set []T, v T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
