package store

import (
	"errors"
	"fmt"
	"testing"

	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/lifecycle"
	"dairyflow/backend/internal/pricing"
)

func TestClassify(t *testing.T) {
	_, invalid := lifecycle.NextOrder(domain.OrderStatusDelivered, domain.OrderStatusPending)

	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{invalid, KindInvalidTransition},
		{fmt.Errorf("order x: %w", ErrConflict), KindConflict},
		{lifecycle.ErrStale, KindConflict},
		{fmt.Errorf("wrap: %w", ErrAlreadyGenerated), KindConflict},
		{ErrSubscriptionNotActive, KindConflict},
		{fmt.Errorf("sub x: %w", ErrNotDue), KindConflict},
		{fmt.Errorf("product p: %w", ErrNotFound), KindNotFound},
		{ErrValidation, KindValidation},
		{fmt.Errorf("line: %w", pricing.ErrInvalidAmount), KindValidation},
		{errors.New("disk on fire"), KindInternal},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestInvalidTransitionIsLifecycleSentinel(t *testing.T) {
	if !errors.Is(ErrInvalidTransition, lifecycle.ErrInvalidTransition) {
		t.Fatalf("store and lifecycle must share the invalid transition sentinel")
	}
}
