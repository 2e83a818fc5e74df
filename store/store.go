// Package store defines the persistence contracts of the settlement core.
//
// Every state-changing method is conditional: it names the state the row must
// still be in and reports false, without error, when another writer got there
// first. Services treat a false result as a safe no-op.
package store

import (
	"context"
	"errors"
	"time"

	"agrimart/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate")
)

type OrderStore interface {
	CreateOrder(ctx context.Context, order models.Order, items []models.OrderItem) error
	GetOrder(ctx context.Context, id string) (models.Order, error)
	ListOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	// SetOrderStatus moves the order to `to` only while its status is `from`.
	SetOrderStatus(ctx context.Context, id string, from, to models.OrderStatus) (bool, error)
	// SetOrderPaymentStatus moves paymentStatus to `to` while it is one of `from`.
	SetOrderPaymentStatus(ctx context.Context, id string, from []models.PaymentStatus, to models.PaymentStatus) (bool, error)
}

// PaymentUpdate carries the optional fields written with a payment transition.
type PaymentUpdate struct {
	FailureReason string
	PaidAt        *time.Time
	Audit         *models.GatewayAudit
}

type PaymentStore interface {
	// CreatePayment returns ErrDuplicate when the reference already exists.
	CreatePayment(ctx context.Context, p models.Payment) error
	GetPaymentByReference(ctx context.Context, reference string) (models.Payment, error)
	ListPaymentsForOrder(ctx context.Context, orderID string) ([]models.Payment, error)
	TransitionPayment(ctx context.Context, reference string, from, to models.PaymentState, upd PaymentUpdate) (bool, error)
	AppendPaymentAudit(ctx context.Context, reference string, audit models.GatewayAudit) error
}

type EscrowStore interface {
	// InsertEscrow reports false when an escrow for the same order,
	// beneficiary and beneficiary type already exists.
	InsertEscrow(ctx context.Context, e models.Escrow) (bool, error)
	GetEscrow(ctx context.Context, id string) (models.Escrow, error)
	// ListEscrows filters by beneficiary type unless typ is empty.
	ListEscrows(ctx context.Context, orderID string, typ models.BeneficiaryType) ([]models.Escrow, error)
	HasEscrow(ctx context.Context, orderID string, typ models.BeneficiaryType) (bool, error)
	TransitionEscrow(ctx context.Context, id string, ev models.EscrowEvent, reason string) (bool, error)
	// ReleaseEscrowToPayout moves a held escrow to release_pending and
	// inserts p in one atomic step.
	ReleaseEscrowToPayout(ctx context.Context, escrowID string, p models.Payout) (bool, error)
}

// PayoutResult is one payout transition paired with its escrow transition.
type PayoutResult struct {
	PayoutID        string
	ExpectedVersion int64
	Event           models.PayoutEvent
	TransferCode    string
	FailureReason   string
	RetryCount      int
	NextRetryAt     *time.Time
	EscrowEvent     models.EscrowEvent
	EscrowReason    string
	// RotateReference moves the payout to a fresh transfer reference.
	RotateReference bool
	At              time.Time
}

type PayoutStore interface {
	GetPayout(ctx context.Context, id string) (models.Payout, error)
	GetPayoutByTransferCode(ctx context.Context, code string) (models.Payout, error)
	ListPayoutsForEscrow(ctx context.Context, escrowID string) ([]models.Payout, error)
	// ListDuePayouts returns queued payouts and failed payouts whose retry
	// time has passed, oldest first.
	ListDuePayouts(ctx context.Context, now time.Time, limit int) ([]models.Payout, error)
	ListFailedPayouts(ctx context.Context, limit int) ([]models.Payout, error)
	// ClaimPayout leases a due payout to the caller until now+lease.
	ClaimPayout(ctx context.Context, id string, now time.Time, lease time.Duration) (models.Payout, bool, error)
	// ApplyPayoutResult updates the payout (guarded by ExpectedVersion and
	// the payout state machine) and its escrow in one atomic step.
	ApplyPayoutResult(ctx context.Context, res PayoutResult) (bool, error)

	UpsertRecipient(ctx context.Context, r models.PayoutRecipient) error
	GetRecipient(ctx context.Context, userID string) (models.PayoutRecipient, error)
}

// ShipmentPatch lists the fields a shipment transition may set.
type ShipmentPatch struct {
	Status              models.ShipmentStatus
	LogisticsProviderID string
	TrackingNumber      string
	DeliveredAt         *time.Time
}

type ShipmentStore interface {
	// CreateShipment returns ErrDuplicate when the order already has one.
	CreateShipment(ctx context.Context, s models.Shipment) error
	GetShipment(ctx context.Context, id string) (models.Shipment, error)
	GetShipmentByOrder(ctx context.Context, orderID string) (models.Shipment, error)
	UpdateShipment(ctx context.Context, id string, from models.ShipmentStatus, patch ShipmentPatch) (bool, error)

	InsertLocation(ctx context.Context, loc models.ShipmentLocation) error
	LatestValidLocation(ctx context.Context, shipmentID string) (models.ShipmentLocation, error)
	// RecentValidLocations returns up to limit valid points, newest first.
	RecentValidLocations(ctx context.Context, shipmentID string, limit int) ([]models.ShipmentLocation, error)
}

type IdempotencyStore interface {
	// InsertIdempotency returns ErrDuplicate when the key exists.
	InsertIdempotency(ctx context.Context, rec models.IdempotencyRecord) error
	GetIdempotency(ctx context.Context, key string) (models.IdempotencyRecord, error)
	SaveIdempotencyResponse(ctx context.Context, key string, resp map[string]interface{}) error
	// DeleteIdempotency releases a claimed key. Deleting a missing key is not an error.
	DeleteIdempotency(ctx context.Context, key string) error
}

// Store is the full persistence surface used by the services.
type Store interface {
	OrderStore
	PaymentStore
	EscrowStore
	PayoutStore
	ShipmentStore
	IdempotencyStore
}
