// Package escrow holds paid order proceeds per beneficiary until delivery and
// hands them to the payout queue.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"agrimart/apperr"
	"agrimart/metrics"
	"agrimart/models"
	"agrimart/money"
	"agrimart/mq"
	"agrimart/store"
	"agrimart/utils"

	"go.uber.org/zap"
)

// Outcome of releasing one escrow.
type Outcome string

const (
	OutcomeQueued  Outcome = "queued"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// BeneficiaryResult reports what happened to one escrow during a release.
type BeneficiaryResult struct {
	EscrowID        string                 `json:"escrowId"`
	BeneficiaryID   string                 `json:"beneficiaryId"`
	BeneficiaryType models.BeneficiaryType `json:"beneficiaryType"`
	Outcome         Outcome                `json:"outcome"`
	PayoutID        string                 `json:"payoutId,omitempty"`
	AmountKobo      int64                  `json:"amountKobo"`
	Reason          string                 `json:"reason,omitempty"`
}

type ReleaseReport struct {
	OrderID string              `json:"orderId"`
	Results []BeneficiaryResult `json:"results"`
}

// Queued counts payouts created by the release.
func (r ReleaseReport) Queued() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeQueued {
			n++
		}
	}
	return n
}

type Ledger struct {
	store   store.Store
	feeBps  int
	emitter mq.Emitter
	logger  *zap.Logger
	now     func() time.Time
}

func NewLedger(st store.Store, feeBps int, emitter mq.Emitter, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:   st,
		feeBps:  feeBps,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
	}
}

func (l *Ledger) paidOrder(ctx context.Context, orderID string) (models.Order, error) {
	order, err := l.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Order{}, apperr.NotFound("order")
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order.PaymentStatus != models.PaymentPaid {
		return models.Order{}, apperr.Conflict("order_not_paid")
	}
	return order, nil
}

// EnsureForOrder opens one held escrow per seller of a paid order. It does
// nothing when the order already has seller escrows.
func (l *Ledger) EnsureForOrder(ctx context.Context, orderID string) ([]models.Escrow, error) {
	order, err := l.paidOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	exists, err := l.store.HasEscrow(ctx, orderID, models.BeneficiarySeller)
	if err != nil {
		return nil, fmt.Errorf("check escrow %s: %w", orderID, err)
	}
	if exists {
		return l.store.ListEscrows(ctx, orderID, models.BeneficiarySeller)
	}

	items, err := l.store.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load items %s: %w", orderID, err)
	}
	gross := make(map[string]int64)
	for _, it := range items {
		seller := it.SellerID
		if seller == "" {
			seller = order.SellerID
		}
		gross[seller] += money.ToMinor(it.TotalPrice)
	}
	sellers := make([]string, 0, len(gross))
	for s := range gross {
		sellers = append(sellers, s)
	}
	sort.Strings(sellers)

	now := l.now()
	for _, seller := range sellers {
		fee, net := money.Split(gross[seller], l.feeBps)
		e := models.Escrow{
			ID:              utils.GetUUID(),
			OrderID:         orderID,
			SellerID:        seller,
			BeneficiaryType: models.BeneficiarySeller,
			GrossAmountKobo: gross[seller],
			PlatformFeeKobo: fee,
			NetAmountKobo:   net,
			Currency:        order.Currency,
			Status:          models.EscrowHeld,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		inserted, err := l.store.InsertEscrow(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("insert escrow %s/%s: %w", orderID, seller, err)
		}
		if !inserted {
			continue
		}
		l.created(ctx, e)
	}
	return l.store.ListEscrows(ctx, orderID, models.BeneficiarySeller)
}

func (l *Ledger) created(ctx context.Context, e models.Escrow) {
	metrics.RecordEscrow(string(models.EscrowHeld))
	l.logger.Info("escrow opened",
		zap.String("order_id", e.OrderID),
		zap.String("escrow_id", e.ID),
		zap.String("beneficiary_id", e.SellerID),
		zap.String("beneficiary_type", string(e.BeneficiaryType)),
		zap.Int64("gross_kobo", e.GrossAmountKobo),
		zap.Int64("fee_kobo", e.PlatformFeeKobo),
		zap.Int64("net_kobo", e.NetAmountKobo),
	)
	mq.Publish(ctx, l.emitter, l.logger, mq.New(mq.EscrowCreated, e.ID, e.OrderID, map[string]any{
		"beneficiaryId":   e.SellerID,
		"beneficiaryType": e.BeneficiaryType,
		"netAmountKobo":   e.NetAmountKobo,
	}))
}

// ReleaseForOrder queues a payout for every held seller escrow of the order.
// Each beneficiary is evaluated on its own; a missing recipient fails only
// that escrow. Store errors are collected and returned after all escrows
// have been tried.
func (l *Ledger) ReleaseForOrder(ctx context.Context, orderID string) (ReleaseReport, error) {
	if _, err := l.EnsureForOrder(ctx, orderID); err != nil {
		return ReleaseReport{}, err
	}
	escrows, err := l.store.ListEscrows(ctx, orderID, models.BeneficiarySeller)
	if err != nil {
		return ReleaseReport{}, fmt.Errorf("list escrows %s: %w", orderID, err)
	}
	return l.releaseAll(ctx, orderID, escrows)
}

// ReleaseLogisticsForOrder opens and releases the logistics escrow for the
// order's shipment. Shipments without a fee produce no escrow.
func (l *Ledger) ReleaseLogisticsForOrder(ctx context.Context, orderID string) (ReleaseReport, error) {
	order, err := l.paidOrder(ctx, orderID)
	if err != nil {
		return ReleaseReport{}, err
	}
	sh, err := l.store.GetShipmentByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return ReleaseReport{}, apperr.NotFound("shipment")
	}
	if err != nil {
		return ReleaseReport{}, fmt.Errorf("load shipment for %s: %w", orderID, err)
	}
	report := ReleaseReport{OrderID: orderID}
	if sh.LogisticsFeeKobo <= 0 {
		return report, nil
	}
	if sh.LogisticsProviderID == "" {
		return report, apperr.Conflict("shipment_unassigned")
	}

	now := l.now()
	fee, net := money.Split(sh.LogisticsFeeKobo, l.feeBps)
	e := models.Escrow{
		ID:              utils.GetUUID(),
		OrderID:         orderID,
		SellerID:        sh.LogisticsProviderID,
		BeneficiaryType: models.BeneficiaryLogistics,
		GrossAmountKobo: sh.LogisticsFeeKobo,
		PlatformFeeKobo: fee,
		NetAmountKobo:   net,
		Currency:        order.Currency,
		Status:          models.EscrowHeld,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	inserted, err := l.store.InsertEscrow(ctx, e)
	if err != nil {
		return report, fmt.Errorf("insert logistics escrow %s: %w", orderID, err)
	}
	if inserted {
		l.created(ctx, e)
	}

	all, err := l.store.ListEscrows(ctx, orderID, models.BeneficiaryLogistics)
	if err != nil {
		return report, fmt.Errorf("list logistics escrows %s: %w", orderID, err)
	}
	var mine []models.Escrow
	for _, ex := range all {
		if ex.SellerID == sh.LogisticsProviderID {
			mine = append(mine, ex)
		}
	}
	return l.releaseAll(ctx, orderID, mine)
}

func (l *Ledger) releaseAll(ctx context.Context, orderID string, escrows []models.Escrow) (ReleaseReport, error) {
	report := ReleaseReport{OrderID: orderID}
	var errs []error
	for _, e := range escrows {
		res, err := l.releaseOne(ctx, e)
		if err != nil {
			errs = append(errs, err)
		}
		report.Results = append(report.Results, res)
	}
	return report, errors.Join(errs...)
}

func (l *Ledger) releaseOne(ctx context.Context, e models.Escrow) (BeneficiaryResult, error) {
	res := BeneficiaryResult{
		EscrowID:        e.ID,
		BeneficiaryID:   e.SellerID,
		BeneficiaryType: e.BeneficiaryType,
		AmountKobo:      e.NetAmountKobo,
	}
	if e.Status != models.EscrowHeld {
		res.Outcome = OutcomeSkipped
		res.Reason = "escrow_" + string(e.Status)
		return res, nil
	}

	_, err := l.store.GetRecipient(ctx, e.SellerID)
	if errors.Is(err, store.ErrNotFound) {
		ok, terr := l.store.TransitionEscrow(ctx, e.ID, models.EscrowFail, models.ReasonMissingRecipient)
		if terr != nil {
			res.Outcome = OutcomeError
			return res, fmt.Errorf("fail escrow %s: %w", e.ID, terr)
		}
		if !ok {
			res.Outcome = OutcomeSkipped
			return res, nil
		}
		res.Outcome = OutcomeFailed
		res.Reason = models.ReasonMissingRecipient
		metrics.RecordEscrow(string(models.EscrowFailed))
		l.logger.Warn("escrow release blocked",
			zap.String("order_id", e.OrderID),
			zap.String("escrow_id", e.ID),
			zap.String("beneficiary_id", e.SellerID),
			zap.String("reason", models.ReasonMissingRecipient),
		)
		mq.Publish(ctx, l.emitter, l.logger, mq.New(mq.EscrowFailed, e.ID, e.OrderID, map[string]any{
			"reason": models.ReasonMissingRecipient,
		}))
		return res, nil
	}
	if err != nil {
		res.Outcome = OutcomeError
		return res, fmt.Errorf("load recipient %s: %w", e.SellerID, err)
	}

	now := l.now()
	p := models.Payout{
		ID:              utils.GetUUID(),
		OrderID:         e.OrderID,
		EscrowID:        e.ID,
		SellerID:        e.SellerID,
		BeneficiaryType: e.BeneficiaryType,
		AmountKobo:      e.NetAmountKobo,
		Currency:        e.Currency,
		Status:          models.PayoutQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ok, err := l.store.ReleaseEscrowToPayout(ctx, e.ID, p)
	if err != nil {
		res.Outcome = OutcomeError
		return res, fmt.Errorf("release escrow %s: %w", e.ID, err)
	}
	if !ok {
		res.Outcome = OutcomeSkipped
		return res, nil
	}
	res.Outcome = OutcomeQueued
	res.PayoutID = p.ID
	metrics.RecordEscrow(string(models.EscrowReleasePending))
	l.logger.Info("payout queued",
		zap.String("order_id", e.OrderID),
		zap.String("escrow_id", e.ID),
		zap.String("payout_id", p.ID),
		zap.Int64("amount_kobo", p.AmountKobo),
	)
	mq.Publish(ctx, l.emitter, l.logger, mq.New(mq.PayoutQueued, p.ID, p.OrderID, map[string]any{
		"escrowId":   e.ID,
		"amountKobo": p.AmountKobo,
	}))
	return res, nil
}

// Reset moves a failed escrow with no payout back to held so a later release
// picks it up.
func (l *Ledger) Reset(ctx context.Context, escrowID string, by models.Principal) (models.Escrow, error) {
	if !by.IsAdmin() {
		return models.Escrow{}, apperr.Forbidden("admin_only")
	}
	e, err := l.store.GetEscrow(ctx, escrowID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Escrow{}, apperr.NotFound("escrow")
	}
	if err != nil {
		return models.Escrow{}, fmt.Errorf("load escrow %s: %w", escrowID, err)
	}
	payouts, err := l.store.ListPayoutsForEscrow(ctx, escrowID)
	if err != nil {
		return models.Escrow{}, fmt.Errorf("list payouts %s: %w", escrowID, err)
	}
	if len(payouts) > 0 {
		return models.Escrow{}, apperr.Conflict("escrow_has_payout")
	}
	ok, err := l.store.TransitionEscrow(ctx, escrowID, models.EscrowReset, "")
	if err != nil {
		return models.Escrow{}, fmt.Errorf("reset escrow %s: %w", escrowID, err)
	}
	if !ok {
		return models.Escrow{}, apperr.Conflict("escrow_not_failed")
	}
	metrics.RecordEscrow(string(models.EscrowHeld))
	l.logger.Info("escrow reset", zap.String("escrow_id", escrowID), zap.String("order_id", e.OrderID), zap.String("by", by.UserID))
	return l.store.GetEscrow(ctx, escrowID)
}

// ListForOrder returns every escrow of an order to its parties.
func (l *Ledger) ListForOrder(ctx context.Context, orderID string, by models.Principal) ([]models.Escrow, error) {
	order, err := l.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order")
	}
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	escrows, err := l.store.ListEscrows(ctx, orderID, "")
	if err != nil {
		return nil, fmt.Errorf("list escrows %s: %w", orderID, err)
	}
	if by.IsAdmin() || by.UserID == order.BuyerID || by.UserID == order.SellerID {
		return escrows, nil
	}
	var mine []models.Escrow
	for _, e := range escrows {
		if e.SellerID == by.UserID {
			mine = append(mine, e)
		}
	}
	if len(mine) == 0 {
		return nil, apperr.Forbidden("not_order_party")
	}
	return mine, nil
}
