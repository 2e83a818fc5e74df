package models

import "time"

// PaymentState is the status of one gateway attempt.
type PaymentState string

const (
	PaymentInitialized   PaymentState = "initialized"
	PaymentSuccess       PaymentState = "success"
	PaymentAttemptFailed PaymentState = "failed"
)

// Payment is one checkout attempt against the gateway, keyed by Reference.
type Payment struct {
	ID               string         `json:"id" bson:"_id"`
	OrderID          string         `json:"orderId" bson:"orderId"`
	BuyerID          string         `json:"buyerId" bson:"buyerId"`
	Provider         string         `json:"provider" bson:"provider"`
	Reference        string         `json:"reference" bson:"reference"`
	Status           PaymentState   `json:"status" bson:"status"`
	AmountKobo       int64          `json:"amountKobo" bson:"amountKobo"`
	Currency         string         `json:"currency" bson:"currency"`
	AuthorizationURL string         `json:"authorizationUrl,omitempty" bson:"authorizationUrl,omitempty"`
	AccessCode       string         `json:"accessCode,omitempty" bson:"accessCode,omitempty"`
	FailureReason    string         `json:"failureReason,omitempty" bson:"failureReason,omitempty"`
	GatewayResponses []GatewayAudit `json:"-" bson:"gatewayResponses,omitempty"`
	PaidAt           *time.Time     `json:"paidAt,omitempty" bson:"paidAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// GatewayAudit retains a raw gateway payload.
type GatewayAudit struct {
	Source string    `json:"source" bson:"source"` // initialize, verify, webhook
	Body   string    `json:"body" bson:"body"`
	At     time.Time `json:"at" bson:"at"`
}

// IdempotencyRecord represents an idempotency key record.
type IdempotencyRecord struct {
	Key         string                 `bson:"key" json:"key"`
	Method      string                 `bson:"method" json:"method"`
	Path        string                 `bson:"path" json:"path"`
	UserID      string                 `bson:"userid" json:"userid"`
	RequestHash string                 `bson:"request_hash" json:"request_hash"`
	Response    map[string]interface{} `bson:"response,omitempty" json:"response,omitempty"`
	CreatedAt   time.Time              `bson:"created_at" json:"created_at"`
	ExpiresAt   time.Time              `bson:"expires_at" json:"expires_at"`
}
