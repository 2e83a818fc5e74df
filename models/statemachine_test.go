package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEscrowTransitions(t *testing.T) {
	to, ok := NextEscrowStatus(EscrowHeld, EscrowRelease)
	assert.True(t, ok)
	assert.Equal(t, EscrowReleasePending, to)

	to, ok = NextEscrowStatus(EscrowReleased, EscrowFail)
	assert.True(t, ok, "a failed transfer reopens a released escrow")
	assert.Equal(t, EscrowFailed, to)

	_, ok = NextEscrowStatus(EscrowReleased, EscrowReset)
	assert.False(t, ok)

	_, ok = NextEscrowStatus(EscrowReleasePending, EscrowRelease)
	assert.False(t, ok, "release only applies to held escrows")

	assert.ElementsMatch(t, []EscrowStatus{EscrowHeld}, EscrowSources(EscrowRelease))
	assert.ElementsMatch(t, []EscrowStatus{EscrowReleasePending, EscrowFailed}, EscrowSources(EscrowSettle))
}

func TestPayoutTransitions(t *testing.T) {
	to, ok := NextPayoutStatus(PayoutQueued, PayoutSucceed)
	assert.True(t, ok)
	assert.Equal(t, PayoutSent, to)

	_, ok = NextPayoutStatus(PayoutQueued, PayoutRequeue)
	assert.False(t, ok)

	to, ok = NextPayoutStatus(PayoutFailed, PayoutRequeue)
	assert.True(t, ok)
	assert.Equal(t, PayoutQueued, to)
}

func TestPayoutDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, Payout{Status: PayoutQueued}.Due(now))
	assert.True(t, Payout{Status: PayoutFailed, NextRetryAt: &past}.Due(now))
	assert.True(t, Payout{Status: PayoutFailed, NextRetryAt: &now}.Due(now))
	assert.False(t, Payout{Status: PayoutFailed, NextRetryAt: &future}.Due(now))
	assert.False(t, Payout{Status: PayoutFailed}.Due(now), "no schedule means no automatic retry")
	assert.False(t, Payout{Status: PayoutSent}.Due(now))
}

func TestOrderRank(t *testing.T) {
	r, ok := OrderShipped.Rank()
	assert.True(t, ok)
	assert.Equal(t, 3, r)

	_, ok = OrderCancelled.Rank()
	assert.False(t, ok)

	_, ok = ParseOrderStatus("teleported")
	assert.False(t, ok)
	s, ok := ParseOrderStatus("cancelled")
	assert.True(t, ok)
	assert.Equal(t, OrderCancelled, s)
}

func TestShipmentTransitions(t *testing.T) {
	assert.True(t, CanMoveShipment(ShipmentPending, ShipmentAssigned))
	assert.True(t, CanMoveShipment(ShipmentEnRoute, ShipmentDelivered))
	assert.False(t, CanMoveShipment(ShipmentDelivered, ShipmentCancelled))
	assert.False(t, CanMoveShipment(ShipmentEnRoute, ShipmentPending))
}

func TestPrincipalRoles(t *testing.T) {
	p := Principal{UserID: "u1", Roles: []string{"seller", "admin"}}
	assert.True(t, p.IsAdmin())
	assert.True(t, p.Has(RoleSeller))
	assert.False(t, p.Has(RoleBuyer))
	assert.True(t, Principal{}.Anonymous())
}
