package contracts

import (
	"reflect"
	"time"
)

// Event type names shared by the commerce services
const (
	// Order events
	EventOrderCreated   = "OrderCreated"
	EventOrderUpdated   = "OrderUpdated"
	EventOrderCancelled = "OrderCancelled"
	EventOrderShipped   = "OrderShipped"

	// Payment events
	EventPaymentProcessed = "PaymentProcessed"
	EventPaymentFailed    = "PaymentFailed"
	EventRefundProcessed  = "RefundProcessed"

	// User events
	EventUserRegistered         = "UserRegistered"
	EventUserProfileUpdated     = "UserProfileUpdated"
	EventUserPreferencesUpdated = "UserPreferencesUpdated"

	// Product events
	EventProductCreated      = "ProductCreated"
	EventProductUpdated      = "ProductUpdated"
	EventProductPriceChanged = "ProductPriceChanged"
	EventProductStockUpdated = "ProductStockUpdated"

	// Inventory events
	EventInventoryReserved = "InventoryReserved"
	EventInventoryReleased = "InventoryReleased"
	EventStockLowAlert     = "StockLowAlert"

	// Notification events
	EventNotificationRequested = "NotificationRequested"
	EventNotificationSent      = "NotificationSent"

	// Search and analytics events
	EventSearchPerformed         = "SearchPerformed"
	EventProductViewed           = "ProductViewed"
	EventRecommendationGenerated = "RecommendationGenerated"

	// Fraud events
	EventFraudSuspicion = "FraudSuspicion"
	EventFraudConfirmed = "FraudConfirmed"
)

// EventTyper is implemented by payloads that name their own event type
type EventTyper interface {
	EventType() string
}

// EventTypeOf returns the logical type name of a payload: its EventType()
// when implemented, otherwise the Go type name.
func EventTypeOf(payload any) string {
	if payload == nil {
		return ""
	}
	if et, ok := payload.(EventTyper); ok {
		v := reflect.ValueOf(payload)
		if v.Kind() != reflect.Pointer || !v.IsNil() {
			return et.EventType()
		}
	}
	return typeName(reflect.TypeOf(payload))
}

// EventTypeFor returns the logical type name for T without a value
func EventTypeFor[T any]() string {
	t := reflect.TypeFor[T]()
	base := t
	for base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	ptr := reflect.New(base)
	if et, ok := ptr.Interface().(EventTyper); ok {
		return et.EventType()
	}
	if et, ok := ptr.Elem().Interface().(EventTyper); ok {
		return et.EventType()
	}
	return typeName(t)
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// OrderItem is a line of an order
type OrderItem struct {
	ProductID   string  `json:"productId"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	ProductName string  `json:"productName,omitempty"`
	ProductSKU  string  `json:"productSku,omitempty"`
}

// OrderCreated is published when an order is placed
type OrderCreated struct {
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId,omitempty"`
	Total      float64     `json:"total"`
	Currency   string      `json:"currency,omitempty"`
	Items      []OrderItem `json:"items,omitempty"`
	Status     string      `json:"status,omitempty"`
}

func (OrderCreated) EventType() string { return EventOrderCreated }

// OrderUpdated is published when an order changes status
type OrderUpdated struct {
	OrderID        string    `json:"orderId"`
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
	UpdatedAt      time.Time `json:"updatedAt"`
	UpdatedBy      string    `json:"updatedBy,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

func (OrderUpdated) EventType() string { return EventOrderUpdated }

// OrderCancelled is published when an order is cancelled
type OrderCancelled struct {
	OrderID            string    `json:"orderId"`
	CustomerID         string    `json:"customerId"`
	CancellationReason string    `json:"cancellationReason,omitempty"`
	RefundAmount       float64   `json:"refundAmount"`
	CancelledAt        time.Time `json:"cancelledAt"`
}

func (OrderCancelled) EventType() string { return EventOrderCancelled }

// OrderShipped is published when an order leaves the warehouse
type OrderShipped struct {
	OrderID           string     `json:"orderId"`
	TrackingNumber    string     `json:"trackingNumber"`
	ShippingCarrier   string     `json:"shippingCarrier"`
	ShippedAt         time.Time  `json:"shippedAt"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
}

func (OrderShipped) EventType() string { return EventOrderShipped }

// PaymentProcessed is published when a payment succeeds
type PaymentProcessed struct {
	PaymentID     string  `json:"paymentId"`
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
	TransactionID string  `json:"transactionId,omitempty"`
}

func (PaymentProcessed) EventType() string { return EventPaymentProcessed }

// PaymentFailed is published when a payment is declined
type PaymentFailed struct {
	PaymentID     string  `json:"paymentId"`
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	FailureReason string  `json:"failureReason"`
	ErrorCode     string  `json:"errorCode,omitempty"`
}

func (PaymentFailed) EventType() string { return EventPaymentFailed }

// InventoryReserved is published when stock is held for an order
type InventoryReserved struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Warehouse string `json:"warehouse,omitempty"`
}

func (InventoryReserved) EventType() string { return EventInventoryReserved }

// InventoryReleased is published when held stock is returned
type InventoryReleased struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

func (InventoryReleased) EventType() string { return EventInventoryReleased }

// StockLowAlert is published when stock drops below its reorder threshold
type StockLowAlert struct {
	ProductID    string `json:"productId"`
	CurrentStock int    `json:"currentStock"`
	Threshold    int    `json:"threshold"`
}

func (StockLowAlert) EventType() string { return EventStockLowAlert }
