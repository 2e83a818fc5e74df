package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agrimart/models"
	"agrimart/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// --- Escrows ---

func (m *Mongo) InsertEscrow(ctx context.Context, e models.Escrow) (bool, error) {
	_, err := m.escrows.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Mongo) GetEscrow(ctx context.Context, id string) (models.Escrow, error) {
	var e models.Escrow
	err := findOne(ctx, m.escrows, bson.M{"_id": id}, &e)
	return e, err
}

func escrowFilter(orderID string, typ models.BeneficiaryType) bson.M {
	f := bson.M{"orderId": orderID}
	if typ != "" {
		f["beneficiaryType"] = typ
	}
	return f
}

func (m *Mongo) ListEscrows(ctx context.Context, orderID string, typ models.BeneficiaryType) ([]models.Escrow, error) {
	return findAll[models.Escrow](ctx, m.escrows, escrowFilter(orderID, typ),
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "sellerId", Value: 1}}))
}

func (m *Mongo) HasEscrow(ctx context.Context, orderID string, typ models.BeneficiaryType) (bool, error) {
	return exists(ctx, m.escrows, escrowFilter(orderID, typ))
}

// escrowTransition returns the filter and update applying ev to escrow id.
// Every event has a single target state, so the filter only has to list the
// states ev may leave from.
func escrowTransition(id string, ev models.EscrowEvent, reason string, now time.Time) (bson.M, bson.M, bool) {
	sources := models.EscrowSources(ev)
	if len(sources) == 0 {
		return nil, nil, false
	}
	to, _ := models.NextEscrowStatus(sources[0], ev)
	set := bson.M{"status": to, "failureReason": reason, "updatedAt": now}
	if to == models.EscrowReleased {
		set["releasedAt"] = now
	}
	filter := bson.M{"_id": id, "status": bson.M{"$in": sources}}
	update := bson.M{"$set": set, "$inc": bson.M{"version": 1}}
	return filter, update, true
}

func (m *Mongo) applyEscrowEvent(ctx context.Context, id string, ev models.EscrowEvent, reason string) (bool, error) {
	filter, update, ok := escrowTransition(id, ev, reason, m.now())
	if !ok {
		return false, nil
	}
	res, err := m.escrows.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("escrow %s %s: %w", id, ev, err)
	}
	return res.MatchedCount == 1, nil
}

func (m *Mongo) TransitionEscrow(ctx context.Context, id string, ev models.EscrowEvent, reason string) (bool, error) {
	ok, err := m.applyEscrowEvent(ctx, id, ev, reason)
	if err != nil || ok {
		return ok, err
	}
	found, err := exists(ctx, m.escrows, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if !found {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (m *Mongo) ReleaseEscrowToPayout(ctx context.Context, escrowID string, p models.Payout) (bool, error) {
	found, err := exists(ctx, m.escrows, bson.M{"_id": escrowID})
	if err != nil {
		return false, err
	}
	if !found {
		return false, store.ErrNotFound
	}
	return m.inTxn(ctx, func(sc mongo.SessionContext) (bool, error) {
		moved, err := m.applyEscrowEvent(sc, escrowID, models.EscrowRelease, "")
		if err != nil || !moved {
			return false, err
		}
		if _, err := m.payouts.InsertOne(sc, p); err != nil {
			return false, fmt.Errorf("insert payout for %s: %w", escrowID, err)
		}
		return true, nil
	})
}

// --- Payouts ---

func (m *Mongo) GetPayout(ctx context.Context, id string) (models.Payout, error) {
	var p models.Payout
	err := findOne(ctx, m.payouts, bson.M{"_id": id}, &p)
	return p, err
}

func (m *Mongo) GetPayoutByTransferCode(ctx context.Context, code string) (models.Payout, error) {
	if code == "" {
		return models.Payout{}, store.ErrNotFound
	}
	var p models.Payout
	err := findOne(ctx, m.payouts, bson.M{"transferCode": code}, &p)
	return p, err
}

var payoutOrder = bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}

func (m *Mongo) ListPayoutsForEscrow(ctx context.Context, escrowID string) ([]models.Payout, error) {
	return findAll[models.Payout](ctx, m.payouts, bson.M{"escrowId": escrowID}, options.Find().SetSort(payoutOrder))
}

// dueFilter matches what models.Payout.Due accepts.
func dueFilter(now time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"status": models.PayoutQueued},
		bson.M{"status": models.PayoutFailed, "nextRetryAt": bson.M{"$lte": now}},
	}}
}

// claimableFilter matches what models.Payout.Claimable accepts.
func claimableFilter(now time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"claimedUntil": nil},
		bson.M{"claimedUntil": bson.M{"$lte": now}},
	}}
}

func (m *Mongo) ListDuePayouts(ctx context.Context, now time.Time, limit int) ([]models.Payout, error) {
	return findAll[models.Payout](ctx, m.payouts, dueFilter(now), limitOpt(limit).SetSort(payoutOrder))
}

func (m *Mongo) ListFailedPayouts(ctx context.Context, limit int) ([]models.Payout, error) {
	return findAll[models.Payout](ctx, m.payouts, bson.M{"status": models.PayoutFailed}, limitOpt(limit).SetSort(payoutOrder))
}

func (m *Mongo) ClaimPayout(ctx context.Context, id string, now time.Time, lease time.Duration) (models.Payout, bool, error) {
	filter := bson.M{"_id": id, "$and": bson.A{dueFilter(now), claimableFilter(now)}}
	update := bson.M{
		"$set": bson.M{"claimedUntil": now.Add(lease)},
		"$inc": bson.M{"version": 1},
	}
	var p models.Payout
	err := m.payouts.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&p)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Payout{}, false, fmt.Errorf("claim payout %s: %w", id, err)
	}
	cur, err := m.GetPayout(ctx, id)
	if err != nil {
		return models.Payout{}, false, err
	}
	return cur, false, nil
}

// payoutResultUpdate builds the update for a checked payout transition.
func payoutResultUpdate(to models.PayoutStatus, res store.PayoutResult, at time.Time) bson.M {
	set := bson.M{
		"status":        to,
		"failureReason": res.FailureReason,
		"retryCount":    res.RetryCount,
		"updatedAt":     at,
	}
	unset := bson.M{"claimedUntil": ""}
	if res.TransferCode != "" {
		set["transferCode"] = res.TransferCode
	}
	if res.NextRetryAt != nil {
		set["nextRetryAt"] = *res.NextRetryAt
	} else {
		unset["nextRetryAt"] = ""
	}
	if to == models.PayoutSent {
		set["sentAt"] = at
	}
	inc := bson.M{"version": 1}
	if res.RotateReference {
		inc["transferAttempt"] = 1
	}
	return bson.M{"$set": set, "$unset": unset, "$inc": inc}
}

func (m *Mongo) ApplyPayoutResult(ctx context.Context, res store.PayoutResult) (bool, error) {
	return m.inTxn(ctx, func(sc mongo.SessionContext) (bool, error) {
		p, err := m.GetPayout(sc, res.PayoutID)
		if err != nil {
			return false, err
		}
		if p.Version != res.ExpectedVersion {
			return false, nil
		}
		to, ok := models.NextPayoutStatus(p.Status, res.Event)
		if !ok {
			return false, nil
		}
		at := res.At
		if at.IsZero() {
			at = m.now()
		}
		upd, err := m.payouts.UpdateOne(sc,
			bson.M{"_id": p.ID, "version": res.ExpectedVersion, "status": p.Status},
			payoutResultUpdate(to, res, at),
		)
		if err != nil {
			return false, fmt.Errorf("apply payout %s: %w", p.ID, err)
		}
		if upd.MatchedCount == 0 {
			return false, nil
		}
		if res.EscrowEvent != "" {
			if _, err := m.applyEscrowEvent(sc, p.EscrowID, res.EscrowEvent, res.EscrowReason); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

// --- Recipients ---

func (m *Mongo) UpsertRecipient(ctx context.Context, r models.PayoutRecipient) error {
	now := m.now()
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err := m.recipients.UpdateOne(ctx,
		bson.M{"_id": r.UserID},
		bson.M{
			"$set": bson.M{
				"recipientCode":   r.RecipientCode,
				"beneficiaryType": r.BeneficiaryType,
				"accountName":     r.AccountName,
				"accountLast4":    r.AccountLast4,
				"bankCode":        r.BankCode,
				"currency":        r.Currency,
				"updatedAt":       r.UpdatedAt,
			},
			"$setOnInsert": bson.M{"createdAt": created},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *Mongo) GetRecipient(ctx context.Context, userID string) (models.PayoutRecipient, error) {
	var r models.PayoutRecipient
	err := findOne(ctx, m.recipients, bson.M{"_id": userID}, &r)
	return r, err
}
