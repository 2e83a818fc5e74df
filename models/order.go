package models

import "time"

// OrderStatus is the fulfillment state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

var orderRanks = map[OrderStatus]int{
	OrderPending:    0,
	OrderConfirmed:  1,
	OrderProcessing: 2,
	OrderShipped:    3,
	OrderDelivered:  4,
}

// Rank returns the position of s on the forward walk. Cancelled has no rank.
func (s OrderStatus) Rank() (int, bool) {
	r, ok := orderRanks[s]
	return r, ok
}

// Terminal reports whether non-admin callers may no longer move the order.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// ParseOrderStatus validates a raw status string.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	s := OrderStatus(raw)
	if _, ok := orderRanks[s]; ok || s == OrderCancelled {
		return s, true
	}
	return "", false
}

// PaymentStatus is the order-level payment flag.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// Order is a single-seller purchase. Amounts are major-unit decimals; all
// settlement arithmetic converts them to minor units first.
type Order struct {
	ID              string        `json:"id" bson:"_id"`
	BuyerID         string        `json:"buyerId" bson:"buyerId"`
	SellerID        string        `json:"sellerId" bson:"sellerId"`
	Status          OrderStatus   `json:"status" bson:"status"`
	PaymentStatus   PaymentStatus `json:"paymentStatus" bson:"paymentStatus"`
	Subtotal        float64       `json:"subtotal" bson:"subtotal"`
	Tax             float64       `json:"tax" bson:"tax"`
	ShippingCost    float64       `json:"shippingCost" bson:"shippingCost"`
	TotalAmount     float64       `json:"totalAmount" bson:"totalAmount"`
	Currency        string        `json:"currency" bson:"currency"`
	ShippingAddress string        `json:"shippingAddress" bson:"shippingAddress"`
	Notes           string        `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt       time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// OrderItem is immutable after checkout.
type OrderItem struct {
	ID          string    `json:"id" bson:"_id"`
	OrderID     string    `json:"orderId" bson:"orderId"`
	ProductID   string    `json:"productId" bson:"productId"`
	ProductName string    `json:"productName,omitempty" bson:"productName,omitempty"`
	SellerID    string    `json:"sellerId" bson:"sellerId"`
	Quantity    int       `json:"quantity" bson:"quantity"`
	Unit        string    `json:"unit,omitempty" bson:"unit,omitempty"`
	UnitPrice   float64   `json:"unitPrice" bson:"unitPrice"`
	TotalPrice  float64   `json:"totalPrice" bson:"totalPrice"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// CartLine is what the checkout caller submits.
type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Product is the inventory collaborator's view of a sellable item.
type Product struct {
	ID       string  `json:"id" bson:"_id"`
	SellerID string  `json:"sellerId" bson:"farmerId"`
	Name     string  `json:"name" bson:"name"`
	Unit     string  `json:"unit,omitempty" bson:"unit,omitempty"`
	Price    float64 `json:"price" bson:"price"`
	Stock    int     `json:"stock" bson:"quantity"`
}
