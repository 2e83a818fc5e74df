package models

import "time"

// BeneficiaryType decides which trigger releases an escrow.
type BeneficiaryType string

const (
	BeneficiarySeller    BeneficiaryType = "seller"
	BeneficiaryLogistics BeneficiaryType = "logistics"
)

func (b BeneficiaryType) Valid() bool {
	return b == BeneficiarySeller || b == BeneficiaryLogistics
}

type EscrowStatus string

const (
	EscrowHeld           EscrowStatus = "held"
	EscrowReleasePending EscrowStatus = "release_pending"
	EscrowReleased       EscrowStatus = "released"
	EscrowFailed         EscrowStatus = "failed"
)

// EscrowEvent drives the escrow state machine.
type EscrowEvent string

const (
	EscrowRelease EscrowEvent = "release" // handed to the payout queue
	EscrowFail    EscrowEvent = "fail"
	EscrowSettle  EscrowEvent = "settle"  // transfer confirmed
	EscrowRequeue EscrowEvent = "requeue" // payout manually retried
	EscrowReset   EscrowEvent = "reset"   // back to held, no payout exists
)

var escrowTransitions = map[EscrowStatus]map[EscrowEvent]EscrowStatus{
	EscrowHeld: {
		EscrowRelease: EscrowReleasePending,
		EscrowFail:    EscrowFailed,
	},
	EscrowReleasePending: {
		EscrowSettle: EscrowReleased,
		EscrowFail:   EscrowFailed,
	},
	// transfer.failed or transfer.reversed after the payout was marked sent
	EscrowReleased: {
		EscrowFail: EscrowFailed,
	},
	EscrowFailed: {
		EscrowSettle:  EscrowReleased,
		EscrowFail:    EscrowFailed,
		EscrowRequeue: EscrowReleasePending,
		EscrowReset:   EscrowHeld,
	},
}

// NextEscrowStatus returns the target of ev from from, or false if illegal.
func NextEscrowStatus(from EscrowStatus, ev EscrowEvent) (EscrowStatus, bool) {
	to, ok := escrowTransitions[from][ev]
	return to, ok
}

// EscrowSources lists the states ev may be applied from.
func EscrowSources(ev EscrowEvent) []EscrowStatus {
	var out []EscrowStatus
	for _, from := range []EscrowStatus{EscrowHeld, EscrowReleasePending, EscrowReleased, EscrowFailed} {
		if _, ok := escrowTransitions[from][ev]; ok {
			out = append(out, from)
		}
	}
	return out
}

// Escrow is a held balance for one beneficiary of one order. SellerID holds
// the beneficiary's user id, which is a logistics provider for logistics rows.
type Escrow struct {
	ID              string          `json:"id" bson:"_id"`
	OrderID         string          `json:"orderId" bson:"orderId"`
	SellerID        string          `json:"sellerId" bson:"sellerId"`
	BeneficiaryType BeneficiaryType `json:"beneficiaryType" bson:"beneficiaryType"`
	GrossAmountKobo int64           `json:"grossAmountKobo" bson:"grossAmountKobo"`
	PlatformFeeKobo int64           `json:"platformFeeKobo" bson:"platformFeeKobo"`
	NetAmountKobo   int64           `json:"netAmountKobo" bson:"netAmountKobo"`
	Currency        string          `json:"currency" bson:"currency"`
	Status          EscrowStatus    `json:"status" bson:"status"`
	FailureReason   string          `json:"failureReason,omitempty" bson:"failureReason,omitempty"`
	Version         int64           `json:"version" bson:"version"`
	ReleasedAt      *time.Time      `json:"releasedAt,omitempty" bson:"releasedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// ReasonMissingRecipient marks escrows and payouts whose beneficiary has no
// registered transfer recipient. It never resolves by retrying.
const ReasonMissingRecipient = "missing_payout_recipient"
