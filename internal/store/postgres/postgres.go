package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dairyflow/backend/internal/domain"
	"dairyflow/backend/internal/lifecycle"
	"dairyflow/backend/internal/store"
	"dairyflow/backend/internal/xid"
)

//go:embed schema.sql
var schema string

const generationConstraint = "orders_subscription_generation_key"

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Phone = strings.TrimSpace(user.Phone)
	if user.Phone == "" || user.Role == "" {
		return nil, fmt.Errorf("%w: phone and role are required", store.ErrValidation)
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.NormalizeAddresses()
	addresses, err := json.Marshal(user.Addresses)
	if err != nil {
		return nil, err
	}
	var vehicle any
	if user.Vehicle != nil {
		raw, err := json.Marshal(user.Vehicle)
		if err != nil {
			return nil, err
		}
		vehicle = raw
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, phone, name, email, role, addresses, active, vehicle, delivery_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, user.ID, user.Phone, nullIfEmpty(user.Name), nullIfEmpty(user.Email), string(user.Role), addresses,
		user.Active, vehicle, user.DeliveryCount, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: user or phone already registered", store.ErrConflict)
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var (
		user      domain.User
		name      sql.NullString
		email     sql.NullString
		role      string
		addresses []byte
		vehicle   []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, phone, name, email, role, addresses, active, vehicle, delivery_count, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Phone, &name, &email, &role, &addresses, &user.Active, &vehicle, &user.DeliveryCount, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.Name = name.String
	user.Email = email.String
	user.Role = domain.Role(role)
	user.CreatedAt = user.CreatedAt.UTC()
	if err := json.Unmarshal(addresses, &user.Addresses); err != nil {
		return nil, fmt.Errorf("decode addresses: %w", err)
	}
	if len(vehicle) > 0 {
		user.Vehicle = &domain.Vehicle{}
		if err := json.Unmarshal(vehicle, user.Vehicle); err != nil {
			return nil, fmt.Errorf("decode vehicle: %w", err)
		}
	}
	return &user, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.Name) == "" {
		return nil, fmt.Errorf("%w: product id and name are required", store.ErrValidation)
	}
	if product.Price.IsNegative() || product.CGSTPercent.IsNegative() || product.SGSTPercent.IsNegative() {
		return nil, fmt.Errorf("%w: negative price or tax percent", store.ErrValidation)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, cgst_percent, sgst_percent, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			cgst_percent = EXCLUDED.cgst_percent, sgst_percent = EXCLUDED.sgst_percent, updated_at = now()
	`, product.ID, product.Name, product.Price, product.CGSTPercent, product.SGSTPercent)
	if err != nil {
		return nil, err
	}
	saved := product
	return &saved, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, cgst_percent, sgst_percent
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.CGSTPercent, &p.SGSTPercent); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, cgst_percent, sgst_percent
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.CGSTPercent, &p.SGSTPercent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, cgst_percent, sgst_percent
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.CGSTPercent, &p.SGSTPercent); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const subscriptionColumns = `id, user_id, subscription_number, items, cadence, start_date, end_date,
	status, last_generated_date, version, created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	if len(sub.Items) == 0 {
		return nil, fmt.Errorf("%w: subscription needs at least one item", store.ErrValidation)
	}
	if sub.ID == "" {
		sub.ID = xid.New("sub")
	}
	if sub.Status == "" {
		sub.Status = domain.SubscriptionStatusPending
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	sub.UpdatedAt = sub.CreatedAt
	sub.Version = 1
	sub.StartDate = domain.DateOf(sub.StartDate)

	items, err := json.Marshal(sub.Items)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, sub.ID, sub.UserID, sub.SubscriptionNumber, items, string(sub.Cadence), sub.StartDate, nullDate(sub.EndDate),
		string(sub.Status), nullDate(sub.LastGeneratedDate), sub.Version, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: subscription %s exists", store.ErrConflict, sub.ID)
		}
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, sub.UserID)
		}
		return nil, err
	}
	return &sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: subscription %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return sub, nil
}

func (s *Store) ListSubscriptionsForUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
}

func (s *Store) ListSubscriptionsDueOn(ctx context.Context, date time.Time) ([]domain.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = $1
			AND cadence = ANY($3)
			AND start_date <= $2
			AND (end_date IS NULL OR end_date >= $2)
			AND (last_generated_date IS NULL OR last_generated_date + `+cadenceIntervalSQL()+` <= $2)
		ORDER BY created_at, id
	`, string(domain.SubscriptionStatusActive), domain.DateOf(date), knownCadences())
}

func (s *Store) ListPendingSubscriptionsStartingBy(ctx context.Context, date time.Time) ([]domain.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = $1 AND start_date <= $2
		ORDER BY created_at, id
	`, string(domain.SubscriptionStatusPending), domain.DateOf(date))
}

func (s *Store) ListSubscriptionsEndedBefore(ctx context.Context, date time.Time) ([]domain.Subscription, error) {
	return s.querySubscriptions(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status IN ($1, $2) AND end_date IS NOT NULL AND end_date < $3
		ORDER BY created_at, id
	`, string(domain.SubscriptionStatusActive), string(domain.SubscriptionStatusPaused), domain.DateOf(date))
}

func (s *Store) TransitionSubscription(ctx context.Context, t domain.SubscriptionTransition) (*domain.Subscription, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, t.SubscriptionID)
	current, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: subscription %s", store.ErrNotFound, t.SubscriptionID)
		}
		return nil, err
	}
	if current.Status != t.From || current.Version != t.ExpectedVersion {
		return nil, fmt.Errorf("%w: subscription %s is %s@%d", store.ErrConflict, current.ID, current.Status, current.Version)
	}
	if err := lifecycle.ApplySubscription(current, t); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $2, version = $3, updated_at = $4
		WHERE id = $1 AND status = $5 AND version = $6
	`, current.ID, string(current.Status), current.Version, current.UpdatedAt, string(t.From), t.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	if err := expectOneRow(res, current.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return current, nil
}

const orderColumns = `id, user_id, order_number, items, platform_fee, delivery_fee, total_amount, status,
	partner_id, subscription_id, generation_date, version, created_at, delivered_at, cancelled_at, cancel_reason`

func (s *Store) CommitGeneratedOrder(ctx context.Context, order domain.Order, subscriptionID string, date time.Time) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order without items", store.ErrValidation)
	}
	if order.OrderNumber == "" {
		return nil, fmt.Errorf("%w: order number is required", store.ErrValidation)
	}
	date = domain.DateOf(date)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// The row lock orders this commit against any concurrent status change
	// or generation of the same subscription.
	sub, err := scanSubscription(tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1 FOR UPDATE`, subscriptionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: subscription %s", store.ErrNotFound, subscriptionID)
		}
		return nil, err
	}

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE subscription_id = $1 AND generation_date = $2
	`, subscriptionID, date).Scan(&existing)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: subscription %s on %s (order %s)", store.ErrAlreadyGenerated, subscriptionID, date.Format(domain.DateLayout), existing)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}
	if sub.Status != domain.SubscriptionStatusActive {
		return nil, fmt.Errorf("%w: subscription %s is %s", store.ErrSubscriptionNotActive, subscriptionID, sub.Status)
	}
	if !sub.IsDueOn(date) {
		return nil, fmt.Errorf("%w: subscription %s next due %s", store.ErrNotDue, subscriptionID, sub.NextDueDate().Format(domain.DateLayout))
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

	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, order_number, items, platform_fee, delivery_fee, total_amount,
			status, subscription_id, generation_date, version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, order.ID, order.UserID, order.OrderNumber, items, order.PlatformFee, order.DeliveryFee, order.TotalAmount,
		string(order.Status), order.SubscriptionID, date, order.Version, order.CreatedAt)
	if err != nil {
		if constraintViolated(err, generationConstraint) {
			return nil, fmt.Errorf("%w: subscription %s on %s", store.ErrAlreadyGenerated, subscriptionID, date.Format(domain.DateLayout))
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order number %s taken", store.ErrConflict, order.OrderNumber)
		}
		return nil, err
	}

	if err := insertOrderEvent(ctx, tx, domain.OrderEvent{
		OrderID:   order.ID,
		ToStatus:  order.Status,
		ActorRole: "system",
		ActorID:   "fulfillment",
		CreatedAt: order.CreatedAt,
	}); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET last_generated_date = $2, updated_at = $3
		WHERE id = $1
	`, subscriptionID, date, order.CreatedAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) FindGeneratedOrder(ctx context.Context, subscriptionID string, date time.Time) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE subscription_id = $1 AND generation_date = $2
	`, subscriptionID, domain.DateOf(date))
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) TransitionOrder(ctx context.Context, t domain.OrderTransition) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, t.OrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, t.OrderID)
		}
		return nil, err
	}
	if current.Status != t.From || current.Version != t.ExpectedVersion {
		return nil, fmt.Errorf("%w: order %s is %s@%d", store.ErrConflict, current.ID, current.Status, current.Version)
	}
	if err := lifecycle.ApplyOrder(current, t); err != nil {
		return nil, err
	}

	var partnerID any
	if current.PartnerID != nil {
		partnerID = *current.PartnerID
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, version = $3, partner_id = $4, delivered_at = $5, cancelled_at = $6, cancel_reason = $7
		WHERE id = $1 AND status = $8 AND version = $9
	`, current.ID, string(current.Status), current.Version, partnerID, nullTime(current.DeliveredAt),
		nullTime(current.CancelledAt), nullIfEmpty(current.CancelReason), string(t.From), t.ExpectedVersion)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: delivery partner", store.ErrNotFound)
		}
		return nil, err
	}
	if err := expectOneRow(res, current.ID); err != nil {
		return nil, err
	}

	if current.Status == domain.OrderStatusDelivered && current.PartnerID != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE users SET delivery_count = delivery_count + 1 WHERE id = $1
		`, *current.PartnerID); err != nil {
			return nil, err
		}
	}

	if err := insertOrderEvent(ctx, tx, domain.OrderEvent{
		OrderID:    current.ID,
		FromStatus: t.From,
		ToStatus:   current.Status,
		ActorRole:  t.Actor.Role,
		ActorID:    t.Actor.UserID,
		CreatedAt:  t.At,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Store) ListOrdersForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
}

func (s *Store) ListOrdersForPartner(ctx context.Context, partnerID string) ([]domain.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE partner_id = $1
		ORDER BY created_at DESC, id DESC
	`, partnerID)
}

func (s *Store) ListOrderEvents(ctx context.Context, orderID string) ([]domain.OrderEvent, error) {
	if _, err := s.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, actor_role, actor_id, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.OrderEvent, 0, 8)
	for rows.Next() {
		var (
			ev      domain.OrderEvent
			from    sql.NullString
			to      string
			role    string
			actorID sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.OrderID, &from, &to, &role, &actorID, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.FromStatus = domain.OrderStatus(from.String)
		ev.ToStatus = domain.OrderStatus(to)
		ev.ActorRole = domain.Role(role)
		ev.ActorID = actorID.String
		ev.CreatedAt = ev.CreatedAt.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]domain.Subscription, 0, 16)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 16)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var (
		sub           domain.Subscription
		items         []byte
		cadence       string
		status        string
		endDate       sql.NullTime
		lastGenerated sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.SubscriptionNumber, &items, &cadence, &sub.StartDate, &endDate,
		&status, &lastGenerated, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &sub.Items); err != nil {
		return nil, fmt.Errorf("decode subscription items: %w", err)
	}
	sub.Cadence = domain.Cadence(cadence)
	sub.Status = domain.SubscriptionStatus(status)
	sub.StartDate = domain.DateOf(sub.StartDate)
	sub.EndDate = dateFromNull(endDate)
	sub.LastGeneratedDate = dateFromNull(lastGenerated)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order          domain.Order
		items          []byte
		status         string
		partnerID      sql.NullString
		subscriptionID sql.NullString
		generationDate sql.NullTime
		deliveredAt    sql.NullTime
		cancelledAt    sql.NullTime
		cancelReason   sql.NullString
	)
	if err := row.Scan(&order.ID, &order.UserID, &order.OrderNumber, &items, &order.PlatformFee, &order.DeliveryFee,
		&order.TotalAmount, &status, &partnerID, &subscriptionID, &generationDate, &order.Version, &order.CreatedAt,
		&deliveredAt, &cancelledAt, &cancelReason); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("decode order items: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	if partnerID.Valid {
		p := partnerID.String
		order.PartnerID = &p
	}
	order.SubscriptionID = subscriptionID.String
	order.GenerationDate = dateFromNull(generationDate)
	order.CreatedAt = order.CreatedAt.UTC()
	order.DeliveredAt = timeFromNull(deliveredAt)
	order.CancelledAt = timeFromNull(cancelledAt)
	order.CancelReason = cancelReason.String
	return &order, nil
}

func insertOrderEvent(ctx context.Context, tx *sql.Tx, ev domain.OrderEvent) error {
	if ev.ID == "" {
		ev.ID = xid.New("oev")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (id, order_id, from_status, to_status, actor_role, actor_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ev.ID, ev.OrderID, nullIfEmpty(string(ev.FromStatus)), string(ev.ToStatus), string(ev.ActorRole),
		nullIfEmpty(ev.ActorID), ev.CreatedAt)
	return err
}

// cadenceIntervalSQL renders Cadence.IntervalDays as a CASE expression so the
// due-date predicate stays in the database.
func cadenceIntervalSQL() string {
	var b strings.Builder
	b.WriteString("(CASE cadence")
	for _, c := range []domain.Cadence{domain.CadenceDaily, domain.CadenceAlternateDay, domain.CadenceWeekly} {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", c, c.IntervalDays())
	}
	b.WriteString(" END)")
	return b.String()
}

func knownCadences() []string {
	return []string{string(domain.CadenceDaily), string(domain.CadenceAlternateDay), string(domain.CadenceWeekly)}
}

func expectOneRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("%w: %s changed concurrently", store.ErrConflict, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func constraintViolated(err error, name string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == name
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullDate(val *time.Time) any {
	if val == nil {
		return nil
	}
	return domain.DateOf(*val)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func dateFromNull(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	d := domain.DateOf(val.Time)
	return &d
}

func timeFromNull(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
