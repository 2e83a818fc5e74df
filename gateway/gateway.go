// Package gateway talks to the external payment and transfer provider.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"agrimart/apperr"
)

// Metadata is embedded in a transaction at initialize and echoed back by
// verify and webhooks.
type Metadata struct {
	OrderID string `json:"order_id,omitempty"`
	BuyerID string `json:"buyer_id,omitempty"`
}

type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    Metadata
}

type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
	Raw              []byte
}

// Verification is the gateway's report on a transaction. Fields the gateway
// did not supply stay nil or empty and are not checked.
type Verification struct {
	Status    string
	Reference string
	Amount    *int64
	Currency  string
	Metadata  *Metadata
	Raw       []byte
}

func (v Verification) Succeeded() bool {
	return v.Status == "success"
}

type PaymentGateway interface {
	Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error)
	Verify(ctx context.Context, reference string) (Verification, error)
}

type RecipientRequest struct {
	Type          string // nuban
	Name          string
	AccountNumber string
	BankCode      string
	Currency      string
}

type TransferRequest struct {
	Source        string // balance
	AmountMinor   int64
	RecipientCode string
	Reason        string
	Reference     string
}

type TransferGateway interface {
	CreateRecipient(ctx context.Context, req RecipientRequest) (string, error)
	// Transfer returns the gateway's transfer code.
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// Gateway is the full provider surface.
type Gateway interface {
	PaymentGateway
	TransferGateway
}

// Webhook event names.
const (
	EventChargeSuccess   = "charge.success"
	EventTransferSuccess = "transfer.success"
	EventTransferFailed  = "transfer.failed"
	EventTransferReverse = "transfer.reversed"
)

// WebhookEvent is the inbound push body.
type WebhookEvent struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

type WebhookData struct {
	Reference    string       `json:"reference"`
	Status       string       `json:"status,omitempty"`
	Amount       *int64       `json:"amount,omitempty"`
	Currency     string       `json:"currency,omitempty"`
	Metadata     flexMetadata `json:"metadata,omitempty"`
	TransferCode string       `json:"transfer_code,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, apperr.Wrap(apperr.KindValidation, "invalid_webhook_body", err)
	}
	if ev.Event == "" {
		return WebhookEvent{}, apperr.Validation("missing_event")
	}
	return ev, nil
}

// Verification converts a charge webhook into the same shape verify returns.
func (ev WebhookEvent) Verification(raw []byte) Verification {
	status := ev.Data.Status
	if status == "" && ev.Event == EventChargeSuccess {
		status = "success"
	}
	return Verification{
		Status:    status,
		Reference: ev.Data.Reference,
		Amount:    ev.Data.Amount,
		Currency:  ev.Data.Currency,
		Metadata:  ev.Data.Metadata.ptr(),
		Raw:       raw,
	}
}

// flexMetadata accepts metadata as an object, a JSON-encoded string, or an
// empty string, which is how providers send it in practice. Numeric ids are
// accepted too.
type flexMetadata struct {
	set  bool
	meta Metadata
}

func (f *flexMetadata) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if s == "" {
			return nil
		}
		b = []byte(s)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	f.set = true
	f.meta.OrderID = scalar(raw["order_id"])
	f.meta.BuyerID = scalar(raw["buyer_id"])
	return nil
}

func (f flexMetadata) MarshalJSON() ([]byte, error) {
	if !f.set {
		return []byte("null"), nil
	}
	return json.Marshal(f.meta)
}

func (f flexMetadata) ptr() *Metadata {
	if !f.set {
		return nil
	}
	m := f.meta
	return &m
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
