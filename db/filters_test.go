package db

import (
	"testing"
	"time"

	"agrimart/models"
	"agrimart/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestEscrowTransitionFilters(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	filter, update, ok := escrowTransition("e1", models.EscrowSettle, "", now)
	require.True(t, ok)
	assert.Equal(t, "e1", filter["_id"])
	assert.ElementsMatch(t,
		[]models.EscrowStatus{models.EscrowReleasePending, models.EscrowFailed},
		filter["status"].(bson.M)["$in"])
	set := update["$set"].(bson.M)
	assert.Equal(t, models.EscrowReleased, set["status"])
	assert.Equal(t, now, set["releasedAt"])
	assert.Equal(t, bson.M{"version": 1}, update["$inc"])

	filter, update, ok = escrowTransition("e1", models.EscrowRelease, "", now)
	require.True(t, ok)
	assert.Equal(t, []models.EscrowStatus{models.EscrowHeld}, filter["status"].(bson.M)["$in"])
	assert.NotContains(t, update["$set"].(bson.M), "releasedAt")

	_, _, ok = escrowTransition("e1", models.EscrowEvent("explode"), "", now)
	assert.False(t, ok)
}

func TestPayoutResultUpdate(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	upd := payoutResultUpdate(models.PayoutSent, store.PayoutResult{TransferCode: "TRF_1"}, at)
	set := upd["$set"].(bson.M)
	assert.Equal(t, models.PayoutSent, set["status"])
	assert.Equal(t, "TRF_1", set["transferCode"])
	assert.Equal(t, at, set["sentAt"])
	assert.Contains(t, upd["$unset"].(bson.M), "claimedUntil")
	assert.Contains(t, upd["$unset"].(bson.M), "nextRetryAt")

	retry := at.Add(time.Minute)
	upd = payoutResultUpdate(models.PayoutFailed, store.PayoutResult{
		FailureReason: "gateway_timeout",
		RetryCount:    2,
		NextRetryAt:   &retry,
	}, at)
	set = upd["$set"].(bson.M)
	assert.Equal(t, retry, set["nextRetryAt"])
	assert.Equal(t, 2, set["retryCount"])
	assert.NotContains(t, set, "transferCode")
	assert.NotContains(t, set, "sentAt")
	assert.NotContains(t, upd["$unset"].(bson.M), "nextRetryAt")
	assert.Equal(t, bson.M{"version": 1}, upd["$inc"])

	upd = payoutResultUpdate(models.PayoutFailed, store.PayoutResult{RotateReference: true}, at)
	assert.Equal(t, bson.M{"version": 1, "transferAttempt": 1}, upd["$inc"])
}

func TestShipmentSetOnlyWritesPatchedFields(t *testing.T) {
	delivered := time.Now()
	set := shipmentSet(store.ShipmentPatch{Status: models.ShipmentDelivered, DeliveredAt: &delivered})
	assert.Equal(t, bson.M{"status": models.ShipmentDelivered, "deliveredAt": delivered}, set)
	assert.Empty(t, shipmentSet(store.ShipmentPatch{}))
}
