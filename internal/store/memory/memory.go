package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/lifecycle"
	"dairyflow/backend/internal/store"
	"dairyflow/backend/internal/xid"
)

// Store keeps everything in maps behind one RWMutex. Every mutation runs
// under the write lock, so each method is its own atomic unit.
type Store struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	phones        map[string]string
	products      map[string]domain.Product
	subscriptions map[string]domain.Subscription
	orders        map[string]domain.Order
	orderNumbers  map[string]string
	generated     map[string]string
	events        map[string][]domain.OrderEvent
}

// Seed ids used by dev mode and tests.
const (
	SeedCustomerID = "usr-customer-demo"
	SeedPartnerID  = "usr-partner-demo"
	SeedAdminID    = "usr-admin-demo"

	SeedMilkID   = "prd-milk-1l"
	SeedCurdID   = "prd-curd-500g"
	SeedPaneerID = "prd-paneer-200g"
	SeedGheeID   = "prd-ghee-500ml"
)

func New() *Store {
	return &Store{
		users:         make(map[string]domain.User),
		phones:        make(map[string]string),
		products:      make(map[string]domain.Product),
		subscriptions: make(map[string]domain.Subscription),
		orders:        make(map[string]domain.Order),
		orderNumbers:  make(map[string]string),
		generated:     make(map[string]string),
		events:        make(map[string][]domain.OrderEvent),
	}
}

// NewSeeded returns a store with a small dairy catalog and one user per role.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, p := range []domain.Product{
		{ID: SeedMilkID, Name: "Full Cream Milk 1L", Price: decimal.NewFromInt(50), CGSTPercent: decimal.RequireFromString("2.5"), SGSTPercent: decimal.RequireFromString("2.5")},
		{ID: SeedCurdID, Name: "Curd 500g", Price: decimal.NewFromInt(30), CGSTPercent: decimal.Zero, SGSTPercent: decimal.Zero},
		{ID: SeedPaneerID, Name: "Paneer 200g", Price: decimal.NewFromInt(90), CGSTPercent: decimal.RequireFromString("2.5"), SGSTPercent: decimal.RequireFromString("2.5")},
		{ID: SeedGheeID, Name: "Cow Ghee 500ml", Price: decimal.NewFromInt(320), CGSTPercent: decimal.NewFromInt(6), SGSTPercent: decimal.NewFromInt(6)},
	} {
		s.products[p.ID] = p
	}

	for _, u := range []domain.User{
		{
			ID:    SeedCustomerID,
			Phone: "+919800000001",
			Name:  "Demo Customer",
			Role:  domain.RoleCustomer,
			Addresses: []domain.Address{{
				ID: "adr-demo-home", Label: "Home", Street: "12 MG Road", City: "Bengaluru",
				State: "Karnataka", Pincode: "560001", IsDefault: true,
			}},
		},
		{
			ID:      SeedPartnerID,
			Phone:   "+919800000002",
			Name:    "Demo Partner",
			Role:    domain.RoleDeliveryPartner,
			Vehicle: &domain.Vehicle{Type: "scooter", Number: "KA01AB1234"},
		},
		{ID: SeedAdminID, Phone: "+919800000003", Name: "Demo Admin", Role: domain.RoleAdmin},
	} {
		u.Active = true
		u.CreatedAt = now
		s.users[u.ID] = u
		s.phones[u.Phone] = u.ID
	}
	return s
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Phone = strings.TrimSpace(user.Phone)
	if user.Phone == "" || user.Role == "" {
		return nil, fmt.Errorf("%w: phone and role are required", store.ErrValidation)
	}
	if _, exists := s.phones[user.Phone]; exists {
		return nil, fmt.Errorf("%w: phone already registered", store.ErrConflict)
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if _, exists := s.users[user.ID]; exists {
		return nil, fmt.Errorf("%w: user %s exists", store.ErrConflict, user.ID)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.NormalizeAddresses()
	user = cloneUser(user)
	s.users[user.ID] = user
	s.phones[user.Phone] = user.ID

	created := cloneUser(user)
	return &created, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneUser(user)
	return &dup, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateProduct(product); err != nil {
		return nil, err
	}
	s.products[product.ID] = product
	saved := product
	return &saved, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateSubscription(_ context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[sub.UserID]; !ok {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, sub.UserID)
	}
	if len(sub.Items) == 0 {
		return nil, fmt.Errorf("%w: subscription needs at least one item", store.ErrValidation)
	}
	if sub.ID == "" {
		sub.ID = xid.New("sub")
	}
	if _, exists := s.subscriptions[sub.ID]; exists {
		return nil, fmt.Errorf("%w: subscription %s exists", store.ErrConflict, sub.ID)
	}
	now := time.Now().UTC()
	if sub.Status == "" {
		sub.Status = domain.SubscriptionStatusPending
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = sub.CreatedAt
	sub.Version = 1
	sub.StartDate = domain.DateOf(sub.StartDate)

	s.subscriptions[sub.ID] = cloneSubscription(sub)
	created := cloneSubscription(sub)
	return &created, nil
}

func (s *Store) GetSubscription(_ context.Context, id string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", store.ErrNotFound, id)
	}
	dup := cloneSubscription(sub)
	return &dup, nil
}

func (s *Store) ListSubscriptionsForUser(_ context.Context, userID string) ([]domain.Subscription, error) {
	return s.filterSubscriptions(func(sub domain.Subscription) bool {
		return sub.UserID == userID
	}), nil
}

func (s *Store) ListSubscriptionsDueOn(_ context.Context, date time.Time) ([]domain.Subscription, error) {
	date = domain.DateOf(date)
	return s.filterSubscriptions(func(sub domain.Subscription) bool {
		return sub.IsDueOn(date)
	}), nil
}

func (s *Store) ListPendingSubscriptionsStartingBy(_ context.Context, date time.Time) ([]domain.Subscription, error) {
	date = domain.DateOf(date)
	return s.filterSubscriptions(func(sub domain.Subscription) bool {
		return sub.Status == domain.SubscriptionStatusPending && !sub.StartDate.After(date)
	}), nil
}

func (s *Store) ListSubscriptionsEndedBefore(_ context.Context, date time.Time) ([]domain.Subscription, error) {
	date = domain.DateOf(date)
	return s.filterSubscriptions(func(sub domain.Subscription) bool {
		if sub.Status != domain.SubscriptionStatusActive && sub.Status != domain.SubscriptionStatusPaused {
			return false
		}
		return sub.EndDate != nil && domain.DateOf(*sub.EndDate).Before(date)
	}), nil
}

func (s *Store) TransitionSubscription(_ context.Context, t domain.SubscriptionTransition) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subscriptions[t.SubscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", store.ErrNotFound, t.SubscriptionID)
	}
	if current.Status != t.From || current.Version != t.ExpectedVersion {
		return nil, fmt.Errorf("%w: subscription %s is %s@%d", store.ErrConflict, current.ID, current.Status, current.Version)
	}
	next := cloneSubscription(current)
	if err := lifecycle.ApplySubscription(&next, t); err != nil {
		return nil, err
	}
	s.subscriptions[next.ID] = next

	updated := cloneSubscription(next)
	return &updated, nil
}

func (s *Store) CommitGeneratedOrder(_ context.Context, order domain.Order, subscriptionID string, date time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	date = domain.DateOf(date)
	key := generationKey(subscriptionID, date)
	if existing, ok := s.generated[key]; ok {
		return nil, fmt.Errorf("%w: subscription %s on %s (order %s)", store.ErrAlreadyGenerated, subscriptionID, date.Format(domain.DateLayout), existing)
	}
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", store.ErrNotFound, subscriptionID)
	}
	if sub.Status != domain.SubscriptionStatusActive {
		return nil, fmt.Errorf("%w: subscription %s is %s", store.ErrSubscriptionNotActive, subscriptionID, sub.Status)
	}
	if !sub.IsDueOn(date) {
		return nil, fmt.Errorf("%w: subscription %s next due %s", store.ErrNotDue, subscriptionID, sub.NextDueDate().Format(domain.DateLayout))
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order without items", store.ErrValidation)
	}
	if order.OrderNumber == "" {
		return nil, fmt.Errorf("%w: order number is required", store.ErrValidation)
	}
	if _, dup := s.orderNumbers[order.OrderNumber]; dup {
		return nil, fmt.Errorf("%w: order number %s taken", store.ErrConflict, order.OrderNumber)
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UserID = sub.UserID
	order.SubscriptionID = subscriptionID
	order.GenerationDate = &date
	order.Status = domain.OrderStatusPending
	order.Version = 1
	order.PartnerID = nil
	order = cloneOrder(order)

	s.orders[order.ID] = order
	s.orderNumbers[order.OrderNumber] = order.ID
	s.generated[key] = order.ID
	s.events[order.ID] = append(s.events[order.ID], domain.OrderEvent{
		ID:        xid.New("oev"),
		OrderID:   order.ID,
		ToStatus:  domain.OrderStatusPending,
		ActorRole: "system",
		ActorID:   "fulfillment",
		CreatedAt: order.CreatedAt,
	})

	// Bookkeeping only: the version tracks status changes, so a concurrent
	// pause computed against the pre-run version still applies.
	sub.LastGeneratedDate = &date
	sub.UpdatedAt = order.CreatedAt
	s.subscriptions[sub.ID] = sub

	created := cloneOrder(order)
	return &created, nil
}

func (s *Store) FindGeneratedOrder(_ context.Context, subscriptionID string, date time.Time) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.generated[generationKey(subscriptionID, domain.DateOf(date))]
	if !ok {
		return nil, store.ErrNotFound
	}
	order := cloneOrder(s.orders[id])
	return &order, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
	}
	dup := cloneOrder(order)
	return &dup, nil
}

func (s *Store) TransitionOrder(_ context.Context, t domain.OrderTransition) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[t.OrderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, t.OrderID)
	}
	if current.Status != t.From || current.Version != t.ExpectedVersion {
		return nil, fmt.Errorf("%w: order %s is %s@%d", store.ErrConflict, current.ID, current.Status, current.Version)
	}
	next := cloneOrder(current)
	if err := lifecycle.ApplyOrder(&next, t); err != nil {
		return nil, err
	}

	if next.Status == domain.OrderStatusDelivered && next.PartnerID != nil {
		if partner, ok := s.users[*next.PartnerID]; ok {
			partner.DeliveryCount++
			s.users[partner.ID] = partner
		}
	}
	s.orders[next.ID] = next
	s.events[next.ID] = append(s.events[next.ID], domain.OrderEvent{
		ID:         xid.New("oev"),
		OrderID:    next.ID,
		FromStatus: t.From,
		ToStatus:   next.Status,
		ActorRole:  t.Actor.Role,
		ActorID:    t.Actor.UserID,
		CreatedAt:  t.At,
	})

	updated := cloneOrder(next)
	return &updated, nil
}

func (s *Store) ListOrdersForUser(_ context.Context, userID string) ([]domain.Order, error) {
	return s.filterOrders(func(o domain.Order) bool {
		return o.UserID == userID
	}), nil
}

func (s *Store) ListOrdersForPartner(_ context.Context, partnerID string) ([]domain.Order, error) {
	return s.filterOrders(func(o domain.Order) bool {
		return o.PartnerID != nil && *o.PartnerID == partnerID
	}), nil
}

func (s *Store) ListOrderEvents(_ context.Context, orderID string) ([]domain.OrderEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	return slices.Clone(s.events[orderID]), nil
}

func (s *Store) filterSubscriptions(keep func(domain.Subscription) bool) []domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Subscription, 0)
	for _, sub := range s.subscriptions {
		if keep(sub) {
			result = append(result, cloneSubscription(sub))
		}
	}
	slices.SortFunc(result, func(a, b domain.Subscription) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

// filterOrders returns matches newest first.
func (s *Store) filterOrders(keep func(domain.Order) bool) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, o := range s.orders {
		if keep(o) {
			result = append(result, cloneOrder(o))
		}
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return result
}

func validateProduct(p domain.Product) error {
	switch {
	case strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("%w: product id and name are required", store.ErrValidation)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: negative price", store.ErrValidation)
	case p.CGSTPercent.IsNegative() || p.SGSTPercent.IsNegative():
		return fmt.Errorf("%w: negative tax percent", store.ErrValidation)
	}
	return nil
}

func generationKey(subscriptionID string, date time.Time) string {
	return subscriptionID + "|" + date.Format(domain.DateLayout)
}

func cloneUser(src domain.User) domain.User {
	dup := src
	dup.Addresses = slices.Clone(src.Addresses)
	if src.Vehicle != nil {
		v := *src.Vehicle
		dup.Vehicle = &v
	}
	return dup
}

func cloneSubscription(src domain.Subscription) domain.Subscription {
	dup := src
	dup.Items = slices.Clone(src.Items)
	dup.EndDate = cloneTime(src.EndDate)
	dup.LastGeneratedDate = cloneTime(src.LastGeneratedDate)
	return dup
}

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	dup.Items = slices.Clone(src.Items)
	if src.PartnerID != nil {
		p := *src.PartnerID
		dup.PartnerID = &p
	}
	dup.GenerationDate = cloneTime(src.GenerationDate)
	dup.DeliveredAt = cloneTime(src.DeliveredAt)
	dup.CancelledAt = cloneTime(src.CancelledAt)
	return dup
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
