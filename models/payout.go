package models

import (
	"fmt"
	"time"
)

type PayoutStatus string

const (
	PayoutQueued PayoutStatus = "queued"
	PayoutSent   PayoutStatus = "sent"
	PayoutFailed PayoutStatus = "failed"
)

type PayoutEvent string

const (
	PayoutSucceed PayoutEvent = "succeed"
	PayoutFail    PayoutEvent = "fail"
	PayoutRequeue PayoutEvent = "requeue"
)

var payoutTransitions = map[PayoutStatus]map[PayoutEvent]PayoutStatus{
	PayoutQueued: {
		PayoutSucceed: PayoutSent,
		PayoutFail:    PayoutFailed,
	},
	PayoutSent: {
		PayoutSucceed: PayoutSent,
		PayoutFail:    PayoutFailed, // transfer.failed after acceptance
	},
	PayoutFailed: {
		PayoutSucceed: PayoutSent,
		PayoutFail:    PayoutFailed,
		PayoutRequeue: PayoutQueued,
	},
}

func NextPayoutStatus(from PayoutStatus, ev PayoutEvent) (PayoutStatus, bool) {
	to, ok := payoutTransitions[from][ev]
	return to, ok
}

// Payout is a queued transfer of an escrow's net amount.
type Payout struct {
	ID              string          `json:"id" bson:"_id"`
	OrderID         string          `json:"orderId" bson:"orderId"`
	EscrowID        string          `json:"escrowId" bson:"escrowId"`
	SellerID        string          `json:"sellerId" bson:"sellerId"`
	BeneficiaryType BeneficiaryType `json:"beneficiaryType" bson:"beneficiaryType"`
	AmountKobo      int64           `json:"amountKobo" bson:"amountKobo"`
	Currency        string          `json:"currency" bson:"currency"`
	Status          PayoutStatus    `json:"status" bson:"status"`
	RetryCount      int             `json:"retryCount" bson:"retryCount"`
	NextRetryAt     *time.Time      `json:"nextRetryAt,omitempty" bson:"nextRetryAt,omitempty"`
	TransferCode    string          `json:"transferCode,omitempty" bson:"transferCode,omitempty"`
	TransferAttempt int             `json:"transferAttempt" bson:"transferAttempt"`
	FailureReason   string          `json:"failureReason,omitempty" bson:"failureReason,omitempty"`
	ClaimedUntil    *time.Time      `json:"-" bson:"claimedUntil,omitempty"`
	Version         int64           `json:"version" bson:"version"`
	SentAt          *time.Time      `json:"sentAt,omitempty" bson:"sentAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// Due reports whether the payout belongs in a queue draw at now.
func (p Payout) Due(now time.Time) bool {
	switch p.Status {
	case PayoutQueued:
		return true
	case PayoutFailed:
		return p.NextRetryAt != nil && !p.NextRetryAt.After(now)
	}
	return false
}

// TransferReference is the idempotency reference sent with the transfer. It
// stays fixed across retries so a transfer that timed out but went through
// is not paid twice, and changes only after the gateway reports the previous
// transfer failed or reversed.
func (p Payout) TransferReference() string {
	if p.TransferAttempt == 0 {
		return p.ID
	}
	return fmt.Sprintf("%s-r%d", p.ID, p.TransferAttempt)
}

// Claimable reports whether no other draw currently holds the payout.
func (p Payout) Claimable(now time.Time) bool {
	return p.ClaimedUntil == nil || !p.ClaimedUntil.After(now)
}

// PayoutRecipient maps a user to the transfer gateway's recipient code.
type PayoutRecipient struct {
	UserID          string          `json:"userId" bson:"_id"`
	RecipientCode   string          `json:"recipientCode" bson:"recipientCode"`
	BeneficiaryType BeneficiaryType `json:"beneficiaryType" bson:"beneficiaryType"`
	AccountName     string          `json:"accountName" bson:"accountName"`
	AccountLast4    string          `json:"accountLast4" bson:"accountLast4"`
	BankCode        string          `json:"bankCode" bson:"bankCode"`
	Currency        string          `json:"currency" bson:"currency"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updatedAt"`
}
