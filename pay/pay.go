// Package pay reconciles buyer payments with the gateway. Initialize, verify
// and the charge webhook all converge on the same match-then-commit step.
package pay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrimart/apperr"
	"agrimart/gateway"
	"agrimart/metrics"
	"agrimart/models"
	"agrimart/money"
	"agrimart/mq"
	"agrimart/store"
	"agrimart/utils"

	"go.uber.org/zap"
)

// EscrowOpener opens the held escrows of a freshly paid order.
type EscrowOpener interface {
	EnsureForOrder(ctx context.Context, orderID string) ([]models.Escrow, error)
}

// TransferReconciler takes over transfer.* webhook events.
type TransferReconciler interface {
	HandleTransferEvent(ctx context.Context, event, transferCode, reason string) error
}

type Config struct {
	Provider      string
	Currency      string
	CallbackURL   string
	WebhookSecret string
}

// Outcome is what a verify or webhook call did to the payment.
type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomePending   Outcome = "pending"
	OutcomeFailed    Outcome = "failed"
	OutcomeMismatch  Outcome = "payment_mismatch"
	OutcomeDuplicate Outcome = "duplicate_payment"
	OutcomeIgnored   Outcome = "ignored"
)

type Result struct {
	Reference string  `json:"reference,omitempty"`
	OrderID   string  `json:"orderId,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Reason    string  `json:"reason,omitempty"`
}

type Service struct {
	store     store.Store
	gateway   gateway.PaymentGateway
	escrow    EscrowOpener
	transfers TransferReconciler
	cfg       Config
	emitter   mq.Emitter
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(st store.Store, gw gateway.PaymentGateway, escrow EscrowOpener, transfers TransferReconciler, cfg Config, emitter mq.Emitter, logger *zap.Logger) *Service {
	if cfg.Provider == "" {
		cfg.Provider = "paystack"
	}
	return &Service{
		store:     st,
		gateway:   gw,
		escrow:    escrow,
		transfers: transfers,
		cfg:       cfg,
		emitter:   emitter,
		logger:    logger,
		now:       time.Now,
	}
}

type InitializeInput struct {
	OrderID string `json:"orderId"`
	Email   string `json:"email"`
}

func (s *Service) order(ctx context.Context, id string) (models.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Order{}, apperr.NotFound("order")
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("load order %s: %w", id, err)
	}
	return o, nil
}

func (s *Service) payment(ctx context.Context, reference string) (models.Payment, error) {
	p, err := s.store.GetPaymentByReference(ctx, reference)
	if errors.Is(err, store.ErrNotFound) {
		return models.Payment{}, apperr.NotFound("payment")
	}
	if err != nil {
		return models.Payment{}, fmt.Errorf("load payment %s: %w", reference, err)
	}
	return p, nil
}

func (s *Service) audit(source string, raw []byte) *models.GatewayAudit {
	if len(raw) == 0 {
		return nil
	}
	return &models.GatewayAudit{Source: source, Body: string(raw), At: s.now()}
}

// Initialize opens a gateway transaction for the order's full total.
func (s *Service) Initialize(ctx context.Context, by models.Principal, in InitializeInput) (models.Payment, error) {
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		return models.Payment{}, apperr.Validation("order_id_required")
	}
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return models.Payment{}, apperr.Validation("email_required")
	}
	order, err := s.order(ctx, orderID)
	if err != nil {
		return models.Payment{}, err
	}
	if !by.IsAdmin() && by.UserID != order.BuyerID {
		return models.Payment{}, apperr.Forbidden("buyer_or_admin_only")
	}
	switch {
	case order.PaymentStatus == models.PaymentPaid:
		return models.Payment{}, apperr.Conflict("order_already_paid")
	case order.Status == models.OrderCancelled:
		return models.Payment{}, apperr.Conflict("order_cancelled")
	}
	amount := money.ToMinor(order.TotalAmount)
	if amount <= 0 {
		return models.Payment{}, apperr.Validation("amount_invalid")
	}
	currency := order.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}

	reference := utils.Reference("agm")
	res, err := s.gateway.Initialize(ctx, gateway.InitializeRequest{
		Email:       email,
		AmountMinor: amount,
		Currency:    currency,
		Reference:   reference,
		CallbackURL: s.cfg.CallbackURL,
		Metadata:    gateway.Metadata{OrderID: order.ID, BuyerID: order.BuyerID},
	})
	if err != nil {
		s.logger.Warn("payment initialize failed",
			zap.String("order_id", order.ID),
			zap.String("reference", reference),
			zap.Error(err),
		)
		return models.Payment{}, err
	}

	now := s.now()
	p := models.Payment{
		ID:               utils.GetUUID(),
		OrderID:          order.ID,
		BuyerID:          order.BuyerID,
		Provider:         s.cfg.Provider,
		Reference:        reference,
		Status:           models.PaymentInitialized,
		AmountKobo:       amount,
		Currency:         currency,
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if a := s.audit("initialize", res.Raw); a != nil {
		p.GatewayResponses = []models.GatewayAudit{*a}
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return models.Payment{}, fmt.Errorf("save payment %s: %w", reference, err)
	}
	s.logger.Info("payment initialized",
		zap.String("order_id", order.ID),
		zap.String("reference", reference),
		zap.Int64("amount_kobo", amount),
		zap.String("currency", currency),
	)
	return p, nil
}

// Verify pulls the transaction status from the gateway. Gateway failures are
// returned to the caller, never retried here.
func (s *Service) Verify(ctx context.Context, by models.Principal, reference string) (Result, error) {
	p, err := s.payment(ctx, reference)
	if err != nil {
		return Result{}, err
	}
	if !by.IsAdmin() && by.UserID != p.BuyerID {
		return Result{}, apperr.Forbidden("buyer_or_admin_only")
	}
	v, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		s.logger.Warn("payment verify failed", zap.String("reference", reference), zap.Error(err))
		return Result{}, err
	}
	return s.reconcile(ctx, p, v, "verify")
}

// reconcile routes a gateway report. Only a success report can mark paid.
func (s *Service) reconcile(ctx context.Context, p models.Payment, v gateway.Verification, source string) (Result, error) {
	res := Result{Reference: p.Reference, OrderID: p.OrderID}
	if v.Succeeded() {
		return s.matchThenCommit(ctx, p, v, source)
	}

	switch strings.ToLower(v.Status) {
	case "failed", "abandoned", "reversed":
		reason := "gateway_" + strings.ToLower(v.Status)
		ok, err := s.store.TransitionPayment(ctx, p.Reference, models.PaymentInitialized, models.PaymentAttemptFailed,
			store.PaymentUpdate{FailureReason: reason, Audit: s.audit(source, v.Raw)})
		if err != nil {
			return Result{}, fmt.Errorf("fail payment %s: %w", p.Reference, err)
		}
		if ok {
			metrics.RecordPayment("failed")
			s.logger.Info("payment failed at gateway",
				zap.String("order_id", p.OrderID),
				zap.String("reference", p.Reference),
				zap.String("gateway_status", v.Status),
			)
		}
		res.Outcome, res.Reason = OutcomeFailed, reason
	default:
		res.Outcome, res.Reason = OutcomePending, v.Status
	}
	return res, nil
}

// mismatch compares what the gateway reported with what was initialized.
// Fields the gateway left out are not compared.
func mismatch(p models.Payment, v gateway.Verification) string {
	if v.Amount != nil && *v.Amount != p.AmountKobo {
		return "amount_mismatch"
	}
	if v.Currency != "" && !strings.EqualFold(v.Currency, p.Currency) {
		return "currency_mismatch"
	}
	if v.Metadata != nil {
		if v.Metadata.OrderID != "" && v.Metadata.OrderID != p.OrderID {
			return "order_mismatch"
		}
		if v.Metadata.BuyerID != "" && v.Metadata.BuyerID != p.BuyerID {
			return "buyer_mismatch"
		}
	}
	return ""
}

// matchThenCommit accepts a gateway success only when amount, currency and
// metadata agree with the stored payment. It is safe to call repeatedly: an
// already successful payment still gets its order flag and escrows applied.
func (s *Service) matchThenCommit(ctx context.Context, p models.Payment, v gateway.Verification, source string) (Result, error) {
	res := Result{Reference: p.Reference, OrderID: p.OrderID}

	if why := mismatch(p, v); why != "" {
		if p.Status == models.PaymentSuccess {
			// An earlier report already matched. Keep it.
			s.logger.Warn("mismatched report for settled payment ignored",
				zap.String("reference", p.Reference),
				zap.String("detail", why),
			)
			_ = s.store.AppendPaymentAudit(ctx, p.Reference, *s.auditOrEmpty(source, v.Raw))
			res.Outcome, res.Reason = OutcomeMismatch, why
			return res, nil
		}
		ok, err := s.store.TransitionPayment(ctx, p.Reference, models.PaymentInitialized, models.PaymentAttemptFailed,
			store.PaymentUpdate{FailureReason: string(OutcomeMismatch), Audit: s.audit(source, v.Raw)})
		if err != nil {
			return Result{}, fmt.Errorf("fail payment %s: %w", p.Reference, err)
		}
		if ok {
			metrics.RecordPayment("mismatch")
			s.logger.Warn("payment mismatch",
				zap.String("order_id", p.OrderID),
				zap.String("reference", p.Reference),
				zap.String("detail", why),
				zap.Int64("expected_kobo", p.AmountKobo),
				zap.String("source", source),
			)
			mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.PaymentMismatch, p.Reference, p.OrderID, map[string]any{
				"detail": why,
				"source": source,
			}))
		}
		res.Outcome, res.Reason = OutcomeMismatch, why
		return res, nil
	}

	switch p.Status {
	case models.PaymentAttemptFailed:
		// Failed attempts are final; the buyer starts a new one.
		s.logger.Warn("success report for failed payment ignored",
			zap.String("reference", p.Reference),
			zap.String("failure_reason", p.FailureReason),
		)
		res.Outcome, res.Reason = OutcomeIgnored, "payment_"+string(p.Status)
		return res, nil
	case models.PaymentInitialized:
		paidAt := s.now()
		moved, err := s.store.TransitionPayment(ctx, p.Reference, models.PaymentInitialized, models.PaymentSuccess,
			store.PaymentUpdate{PaidAt: &paidAt, Audit: s.audit(source, v.Raw)})
		if err != nil {
			return Result{}, fmt.Errorf("commit payment %s: %w", p.Reference, err)
		}
		if !moved {
			cur, err := s.payment(ctx, p.Reference)
			if err != nil {
				return Result{}, err
			}
			if cur.Status != models.PaymentSuccess {
				res.Outcome, res.Reason = OutcomeIgnored, "payment_"+string(cur.Status)
				return res, nil
			}
		} else {
			p.Status, p.PaidAt = models.PaymentSuccess, &paidAt
			metrics.RecordPayment("success")
			s.logger.Info("payment succeeded",
				zap.String("order_id", p.OrderID),
				zap.String("reference", p.Reference),
				zap.Int64("amount_kobo", p.AmountKobo),
				zap.String("source", source),
			)
			mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.PaymentSucceeded, p.Reference, p.OrderID, map[string]any{
				"amountKobo": p.AmountKobo,
				"currency":   p.Currency,
			}))
		}
	}

	flagged, err := s.store.SetOrderPaymentStatus(ctx, p.OrderID,
		[]models.PaymentStatus{models.PaymentPending, models.PaymentFailed}, models.PaymentPaid)
	if err != nil {
		return Result{}, fmt.Errorf("mark order %s paid: %w", p.OrderID, err)
	}
	if !flagged {
		dup, err := s.paidElsewhere(ctx, p)
		if err != nil {
			return Result{}, err
		}
		if dup {
			metrics.RecordPayment("duplicate")
			s.logger.Warn("order already paid by another reference",
				zap.String("order_id", p.OrderID),
				zap.String("reference", p.Reference),
			)
			res.Outcome, res.Reason = OutcomeDuplicate, "order_already_paid"
			return res, nil
		}
	}

	if _, err := s.escrow.EnsureForOrder(ctx, p.OrderID); err != nil {
		return Result{}, err
	}
	res.Outcome = OutcomePaid
	return res, nil
}

func (s *Service) auditOrEmpty(source string, raw []byte) *models.GatewayAudit {
	if a := s.audit(source, raw); a != nil {
		return a
	}
	return &models.GatewayAudit{Source: source, At: s.now()}
}

// paidElsewhere reports whether a different successful payment settled the
// order. A refunded order counts as settled too.
func (s *Service) paidElsewhere(ctx context.Context, p models.Payment) (bool, error) {
	order, err := s.order(ctx, p.OrderID)
	if err != nil {
		return false, err
	}
	if order.PaymentStatus == models.PaymentRefunded {
		return true, nil
	}
	payments, err := s.store.ListPaymentsForOrder(ctx, p.OrderID)
	if err != nil {
		return false, fmt.Errorf("list payments %s: %w", p.OrderID, err)
	}
	for _, other := range payments {
		if other.Reference == p.Reference || other.Status != models.PaymentSuccess {
			continue
		}
		if other.PaidAt != nil && p.PaidAt != nil && p.PaidAt.Before(*other.PaidAt) {
			continue
		}
		return true, nil
	}
	return false, nil
}
