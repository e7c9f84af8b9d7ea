package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer        Role = "customer"
	RoleDeliveryPartner Role = "delivery_partner"
	RoleAdmin           Role = "admin"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusConfirmed      OrderStatus = "CONFIRMED"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPaused    SubscriptionStatus = "PAUSED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

type Vehicle struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type User struct {
	ID            string    `json:"id"`
	Phone         string    `json:"phone"`
	Name          string    `json:"name,omitempty"`
	Email         string    `json:"email,omitempty"`
	Role          Role      `json:"role"`
	Addresses     []Address `json:"addresses"`
	Active        bool      `json:"active"`
	Vehicle       *Vehicle  `json:"vehicle,omitempty"`
	DeliveryCount int       `json:"delivery_count"`
	CreatedAt     time.Time `json:"created_at"`
}

type Address struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Street    string `json:"street"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Pincode   string `json:"pincode"`
	Landmark  string `json:"landmark,omitempty"`
	IsDefault bool   `json:"is_default"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	CGSTPercent decimal.Decimal `json:"cgst_percent"`
	SGSTPercent decimal.Decimal `json:"sgst_percent"`
}

type SubscriptionItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	SubscriptionNumber string             `json:"subscription_number"`
	Items              []SubscriptionItem `json:"items"`
	Cadence            Cadence            `json:"cadence"`
	StartDate          time.Time          `json:"start_date"`
	EndDate            *time.Time         `json:"end_date,omitempty"`
	Status             SubscriptionStatus `json:"status"`
	LastGeneratedDate  *time.Time         `json:"last_generated_date,omitempty"`
	Version            int                `json:"version"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

type OrderItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CGSTPercent decimal.Decimal `json:"cgst_percent"`
	SGSTPercent decimal.Decimal `json:"sgst_percent"`
}

type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	OrderNumber    string          `json:"order_number"`
	Items          []OrderItem     `json:"items"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Status         OrderStatus     `json:"status"`
	PartnerID      *string         `json:"partner_id,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	GenerationDate *time.Time      `json:"generation_date,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
}

type OrderEvent struct {
	ID         string      `json:"id"`
	OrderID    string      `json:"order_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	ActorRole  Role        `json:"actor_role"`
	ActorID    string      `json:"actor_id"`
	CreatedAt  time.Time   `json:"created_at"`
}

// OrderTransition is a compare-and-swap request: it applies only while the
// stored order still has From status and ExpectedVersion.
type OrderTransition struct {
	OrderID         string
	From            OrderStatus
	To              OrderStatus
	ExpectedVersion int
	PartnerID       *string
	Reason          string
	Actor           Actor
	At              time.Time
}

type SubscriptionTransition struct {
	SubscriptionID  string
	From            SubscriptionStatus
	To              SubscriptionStatus
	ExpectedVersion int
	At              time.Time
}

type Actor struct {
	UserID string
	Role   Role
}

type CreateSubscriptionRequest struct {
	UserID    string             `json:"user_id"`
	Items     []SubscriptionItem `json:"items"`
	Cadence   Cadence            `json:"cadence"`
	StartDate string             `json:"start_date"`
	EndDate   string             `json:"end_date,omitempty"`
}

type SubscriptionStatusRequest struct {
	Status SubscriptionStatus `json:"status"`
}

type OrderStatusRequest struct {
	Status          OrderStatus `json:"status"`
	ExpectedVersion *int        `json:"expected_version,omitempty"`
	PartnerID       string      `json:"partner_id,omitempty"`
	Reason          string      `json:"reason,omitempty"`
}

type FulfillmentRunRequest struct {
	Date string `json:"date"`
}

type CustomerStats struct {
	UserID              string          `json:"user_id"`
	TotalOrders         int             `json:"total_orders"`
	TotalSpent          decimal.Decimal `json:"total_spent"`
	TotalSubscriptions  int             `json:"total_subscriptions"`
	ActiveSubscriptions int             `json:"active_subscriptions"`
}

type DeliveryPartnerStats struct {
	PartnerID      string          `json:"partner_id"`
	TotalAssigned  int             `json:"total_assigned"`
	TotalDelivered int             `json:"total_delivered"`
	SuccessRate    float64         `json:"success_rate"`
	TotalRevenue   decimal.Decimal `json:"total_revenue"`
}

type SupportInfo struct {
	Phone string `json:"phone"`
	Email string `json:"email"`
}
