// Package payouts executes queued transfers to beneficiaries and reconciles
// their outcome.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"agrimart/apperr"
	"agrimart/gateway"
	"agrimart/metrics"
	"agrimart/models"
	"agrimart/mq"
	"agrimart/store"

	"go.uber.org/zap"
)

const batchLockKey = "payouts:batch"

// applyAttempts bounds re-reads when a concurrent writer bumps the version.
const applyAttempts = 3

// Locker serialises queue draws across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Config struct {
	RetryBase  time.Duration
	RetryMax   time.Duration
	BatchLimit int
	Lease      time.Duration
	Currency   string
}

type Service struct {
	store     store.Store
	transfers gateway.TransferGateway
	locker    Locker
	cfg       Config
	emitter   mq.Emitter
	logger    *zap.Logger
	now       func() time.Time
}

// NewService wires the payout engine. locker may be nil for single-process use.
func NewService(st store.Store, transfers gateway.TransferGateway, locker Locker, cfg Config, emitter mq.Emitter, logger *zap.Logger) *Service {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 50
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	return &Service{
		store:     st,
		transfers: transfers,
		locker:    locker,
		cfg:       cfg,
		emitter:   emitter,
		logger:    logger,
		now:       time.Now,
	}
}

// Backoff returns min(max, base*2^retryCount).
func Backoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := base
	for i := 0; i < retryCount; i++ {
		if d >= max || d > max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

func (s *Service) backoff(retryCount int) time.Duration {
	return Backoff(retryCount, s.cfg.RetryBase, s.cfg.RetryMax)
}

// --- Recipients ---

type RecipientInput struct {
	UserID          string                 `json:"userId,omitempty"`
	AccountNumber   string                 `json:"accountNumber"`
	BankCode        string                 `json:"bankCode"`
	AccountName     string                 `json:"accountName"`
	BeneficiaryType models.BeneficiaryType `json:"beneficiaryType,omitempty"`
	Currency        string                 `json:"currency,omitempty"`
}

// RegisterRecipient maps a seller or logistics user to a transfer recipient.
// Users register themselves; admins may register on behalf of anyone.
func (s *Service) RegisterRecipient(ctx context.Context, by models.Principal, in RecipientInput) (models.PayoutRecipient, error) {
	target := strings.TrimSpace(in.UserID)
	if target == "" {
		target = by.UserID
	}
	if target != by.UserID && !by.IsAdmin() {
		return models.PayoutRecipient{}, apperr.Forbidden("admin_only")
	}
	if !by.IsAdmin() && !by.Has(models.RoleSeller) && !by.Has(models.RoleLogistics) {
		return models.PayoutRecipient{}, apperr.Forbidden("role_cannot_receive_payouts")
	}

	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.BankCode = strings.TrimSpace(in.BankCode)
	in.AccountName = strings.TrimSpace(in.AccountName)
	switch {
	case in.AccountNumber == "":
		return models.PayoutRecipient{}, apperr.Validation("account_number_required")
	case !digits(in.AccountNumber):
		return models.PayoutRecipient{}, apperr.Validation("account_number_invalid")
	case in.BankCode == "":
		return models.PayoutRecipient{}, apperr.Validation("bank_code_required")
	case in.AccountName == "":
		return models.PayoutRecipient{}, apperr.Validation("account_name_required")
	}

	typ := in.BeneficiaryType
	if typ == "" {
		typ = models.BeneficiarySeller
		if by.Has(models.RoleLogistics) && !by.Has(models.RoleSeller) && target == by.UserID {
			typ = models.BeneficiaryLogistics
		}
	}
	if !typ.Valid() {
		return models.PayoutRecipient{}, apperr.Validation("beneficiary_type_invalid")
	}
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = s.cfg.Currency
	}

	code, err := s.transfers.CreateRecipient(ctx, gateway.RecipientRequest{
		Type:          "nuban",
		Name:          in.AccountName,
		AccountNumber: in.AccountNumber,
		BankCode:      in.BankCode,
		Currency:      currency,
	})
	if err != nil {
		return models.PayoutRecipient{}, err
	}

	now := s.now()
	rec := models.PayoutRecipient{
		UserID:          target,
		RecipientCode:   code,
		BeneficiaryType: typ,
		AccountName:     in.AccountName,
		AccountLast4:    last4(in.AccountNumber),
		BankCode:        in.BankCode,
		Currency:        currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.UpsertRecipient(ctx, rec); err != nil {
		return models.PayoutRecipient{}, fmt.Errorf("save recipient %s: %w", target, err)
	}
	s.logger.Info("payout recipient registered",
		zap.String("user_id", target),
		zap.String("by", by.UserID),
		zap.String("bank_code", in.BankCode),
	)
	return s.store.GetRecipient(ctx, target)
}

func (s *Service) Recipient(ctx context.Context, userID string) (models.PayoutRecipient, error) {
	rec, err := s.store.GetRecipient(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.PayoutRecipient{}, apperr.NotFound("payout_recipient")
	}
	return rec, err
}

func digits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func last4(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}

// --- Queue draw ---

// BatchResult summarises one queue draw.
type BatchResult struct {
	Drawn   int  `json:"drawn"`
	Claimed int  `json:"claimed"`
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
	Locked  bool `json:"locked"` // another draw holds the batch lock
	Stopped bool `json:"stopped"`
}

// RunBatch draws due payouts, oldest first, and executes each one. Overlapping
// draws are safe: each payout is claimed with a lease before its transfer.
// When the batch lock is held and less than half of it remains, the draw
// stops and leaves the rest for the next one.
func (s *Service) RunBatch(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	var lockUntil time.Time
	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, batchLockKey, s.cfg.Lease)
		if err != nil {
			return res, fmt.Errorf("acquire batch lock: %w", err)
		}
		if !ok {
			res.Locked = true
			return res, nil
		}
		defer release()
		lockUntil = s.now().Add(s.cfg.Lease)
	}

	due, err := s.store.ListDuePayouts(ctx, s.now(), s.cfg.BatchLimit)
	if err != nil {
		return res, fmt.Errorf("list due payouts: %w", err)
	}
	res.Drawn = len(due)

	for _, p := range due {
		if ctx.Err() != nil {
			res.Stopped = true
			break
		}
		now := s.now()
		if !lockUntil.IsZero() && now.After(lockUntil.Add(-s.cfg.Lease/2)) {
			res.Stopped = true
			break
		}
		claimed, ok, err := s.store.ClaimPayout(ctx, p.ID, now, s.cfg.Lease)
		if err != nil {
			s.logger.Error("claim payout failed", zap.String("payout_id", p.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		res.Claimed++
		status, err := s.execute(ctx, claimed)
		if err != nil {
			s.logger.Error("payout execution failed", zap.String("payout_id", p.ID), zap.Error(err))
			continue
		}
		switch status {
		case models.PayoutSent:
			res.Sent++
		case models.PayoutFailed:
			res.Failed++
		}
	}
	if res.Drawn > 0 {
		s.logger.Info("payout batch finished",
			zap.Int("drawn", res.Drawn),
			zap.Int("claimed", res.Claimed),
			zap.Int("sent", res.Sent),
			zap.Int("failed", res.Failed),
			zap.Bool("stopped", res.Stopped),
		)
	}
	return res, nil
}

// execute performs the transfer for a claimed payout and records the outcome.
func (s *Service) execute(ctx context.Context, p models.Payout) (models.PayoutStatus, error) {
	rec, err := s.store.GetRecipient(ctx, p.SellerID)
	if errors.Is(err, store.ErrNotFound) {
		// Cannot resolve by waiting, so no retry is scheduled.
		return s.apply(ctx, p, store.PayoutResult{
			Event:         models.PayoutFail,
			FailureReason: models.ReasonMissingRecipient,
			RetryCount:    p.RetryCount,
			EscrowEvent:   models.EscrowFail,
			EscrowReason:  models.ReasonMissingRecipient,
		})
	}
	if err != nil {
		return "", fmt.Errorf("load recipient %s: %w", p.SellerID, err)
	}

	code, err := s.transfers.Transfer(ctx, gateway.TransferRequest{
		Source:        "balance",
		AmountMinor:   p.AmountKobo,
		RecipientCode: rec.RecipientCode,
		Reason:        "Payout for order " + p.OrderID,
		Reference:     p.TransferReference(),
	})
	if err != nil {
		reason := apperr.ReasonOf(err)
		if reason == "" {
			reason = "transfer_failed"
		}
		s.logger.Warn("transfer failed",
			zap.String("payout_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.Int64("amount_kobo", p.AmountKobo),
			zap.Int("retry_count", p.RetryCount+1),
			zap.Error(err),
		)
		return s.apply(ctx, p, s.failure(p, reason))
	}

	return s.apply(ctx, p, store.PayoutResult{
		Event:        models.PayoutSucceed,
		TransferCode: code,
		RetryCount:   p.RetryCount,
		EscrowEvent:  models.EscrowSettle,
	})
}

// failure builds a retryable failure with the next backoff slot.
func (s *Service) failure(p models.Payout, reason string) store.PayoutResult {
	retry := p.RetryCount + 1
	next := s.now().Add(s.backoff(retry))
	return store.PayoutResult{
		Event:         models.PayoutFail,
		FailureReason: reason,
		RetryCount:    retry,
		NextRetryAt:   &next,
		EscrowEvent:   models.EscrowFail,
		EscrowReason:  reason,
	}
}

// apply writes res against the version of p that was read.
func (s *Service) apply(ctx context.Context, p models.Payout, res store.PayoutResult) (models.PayoutStatus, error) {
	res.PayoutID = p.ID
	res.ExpectedVersion = p.Version
	res.At = s.now()
	ok, err := s.store.ApplyPayoutResult(ctx, res)
	if err != nil {
		return "", fmt.Errorf("apply payout result %s: %w", p.ID, err)
	}
	if !ok {
		s.logger.Info("payout changed concurrently, result dropped",
			zap.String("payout_id", p.ID),
			zap.String("event", string(res.Event)),
		)
		return "", nil
	}
	to, _ := models.NextPayoutStatus(p.Status, res.Event)
	s.record(ctx, p, to, res)
	return to, nil
}

func (s *Service) record(ctx context.Context, p models.Payout, to models.PayoutStatus, res store.PayoutResult) {
	metrics.RecordPayout(string(to))
	switch to {
	case models.PayoutSent:
		metrics.RecordEscrow(string(models.EscrowReleased))
		s.logger.Info("payout sent",
			zap.String("payout_id", p.ID),
			zap.String("order_id", p.OrderID),
			zap.String("transfer_code", res.TransferCode),
			zap.Int64("amount_kobo", p.AmountKobo),
		)
		mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.PayoutSent, p.ID, p.OrderID, map[string]any{
			"transferCode": res.TransferCode,
			"amountKobo":   p.AmountKobo,
		}))
		mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.EscrowReleased, p.EscrowID, p.OrderID, nil))
	case models.PayoutFailed:
		metrics.RecordEscrow(string(models.EscrowFailed))
		data := map[string]any{
			"reason":     res.FailureReason,
			"retryCount": res.RetryCount,
		}
		if res.NextRetryAt != nil {
			data["nextRetryAt"] = res.NextRetryAt
		}
		mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.PayoutFailed, p.ID, p.OrderID, data))
		mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.EscrowFailed, p.EscrowID, p.OrderID, map[string]any{"reason": res.FailureReason}))
	case models.PayoutQueued:
		mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.PayoutQueued, p.ID, p.OrderID, map[string]any{"manual": true}))
	}
}

// --- Webhook reconciliation ---

// HandleTransferEvent reconciles a transfer webhook. Unknown transfer codes
// are ignored.
func (s *Service) HandleTransferEvent(ctx context.Context, event, transferCode, reason string) error {
	for attempt := 0; attempt < applyAttempts; attempt++ {
		p, err := s.store.GetPayoutByTransferCode(ctx, transferCode)
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Info("transfer event for unknown payout ignored",
				zap.String("event", event),
				zap.String("transfer_code", transferCode),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load payout by transfer %s: %w", transferCode, err)
		}

		var res store.PayoutResult
		switch event {
		case gateway.EventTransferSuccess:
			if p.Status == models.PayoutSent {
				return nil
			}
			res = store.PayoutResult{
				Event:        models.PayoutSucceed,
				TransferCode: transferCode,
				RetryCount:   p.RetryCount,
				EscrowEvent:  models.EscrowSettle,
			}
		case gateway.EventTransferFailed, gateway.EventTransferReverse:
			if p.Status == models.PayoutFailed {
				// Already failed for this transfer.
				return nil
			}
			if reason == "" {
				reason = strings.ReplaceAll(event, ".", "_")
			}
			res = s.failure(p, reason)
			res.RotateReference = true
		default:
			return nil
		}

		status, err := s.apply(ctx, p, res)
		if err != nil {
			return err
		}
		if status != "" {
			return nil
		}
	}
	s.logger.Warn("transfer event not applied after retries",
		zap.String("event", event),
		zap.String("transfer_code", transferCode),
	)
	return nil
}

// --- Manual retry ---

// Retry puts a failed payout back on the queue for the next draw.
func (s *Service) Retry(ctx context.Context, payoutID string, by models.Principal) (models.Payout, error) {
	if !by.IsAdmin() {
		return models.Payout{}, apperr.Forbidden("admin_only")
	}
	p, err := s.store.GetPayout(ctx, payoutID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Payout{}, apperr.NotFound("payout")
	}
	if err != nil {
		return models.Payout{}, fmt.Errorf("load payout %s: %w", payoutID, err)
	}
	if p.Status != models.PayoutFailed {
		return models.Payout{}, apperr.Conflict("payout_not_failed")
	}
	status, err := s.apply(ctx, p, store.PayoutResult{
		Event:       models.PayoutRequeue,
		RetryCount:  p.RetryCount,
		EscrowEvent: models.EscrowRequeue,
	})
	if err != nil {
		return models.Payout{}, err
	}
	if status == "" {
		return models.Payout{}, apperr.Conflict("payout_changed")
	}
	s.logger.Info("payout requeued", zap.String("payout_id", p.ID), zap.String("by", by.UserID))
	return s.store.GetPayout(ctx, payoutID)
}

// RetryFailed requeues up to limit failed payouts and returns how many moved.
func (s *Service) RetryFailed(ctx context.Context, by models.Principal, limit int) (int, error) {
	if !by.IsAdmin() {
		return 0, apperr.Forbidden("admin_only")
	}
	failed, err := s.store.ListFailedPayouts(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list failed payouts: %w", err)
	}
	n := 0
	for _, p := range failed {
		if _, err := s.Retry(ctx, p.ID, by); err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}
