package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"agrimart/models"
)

// Memory is an in-process Store. One mutex covers every collection, which
// makes each method (including the paired payout/escrow updates) atomic.
type Memory struct {
	mu          sync.Mutex
	orders      map[string]models.Order
	items       map[string][]models.OrderItem
	payments    map[string]models.Payment // by reference
	escrows     map[string]models.Escrow
	payouts     map[string]models.Payout
	recipients  map[string]models.PayoutRecipient
	shipments   map[string]models.Shipment
	locations   map[string][]models.ShipmentLocation // by shipment, append order
	idempotency map[string]models.IdempotencyRecord
	now         func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		orders:      make(map[string]models.Order),
		items:       make(map[string][]models.OrderItem),
		payments:    make(map[string]models.Payment),
		escrows:     make(map[string]models.Escrow),
		payouts:     make(map[string]models.Payout),
		recipients:  make(map[string]models.PayoutRecipient),
		shipments:   make(map[string]models.Shipment),
		locations:   make(map[string][]models.ShipmentLocation),
		idempotency: make(map[string]models.IdempotencyRecord),
		now:         time.Now,
	}
}

// --- Orders ---

func (m *Memory) CreateOrder(_ context.Context, order models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return ErrDuplicate
	}
	m.orders[order.ID] = order
	m.items[order.ID] = slices.Clone(items)
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) ListOrderItems(_ context.Context, orderID string) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.items[orderID]), nil
}

func (m *Memory) SetOrderStatus(_ context.Context, id string, from, to models.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = m.now()
	m.orders[id] = o
	return true, nil
}

func (m *Memory) SetOrderPaymentStatus(_ context.Context, id string, from []models.PaymentStatus, to models.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, ErrNotFound
	}
	if !slices.Contains(from, o.PaymentStatus) {
		return false, nil
	}
	o.PaymentStatus = to
	o.UpdatedAt = m.now()
	m.orders[id] = o
	return true, nil
}

// --- Payments ---

func (m *Memory) CreatePayment(_ context.Context, p models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.Reference]; ok {
		return ErrDuplicate
	}
	m.payments[p.Reference] = p
	return nil
}

func (m *Memory) GetPaymentByReference(_ context.Context, reference string) (models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return models.Payment{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ListPaymentsForOrder(_ context.Context, orderID string) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) TransitionPayment(_ context.Context, reference string, from, to models.PaymentState, upd PaymentUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	p.FailureReason = upd.FailureReason
	if upd.PaidAt != nil {
		p.PaidAt = upd.PaidAt
	}
	if upd.Audit != nil {
		p.GatewayResponses = append(slices.Clone(p.GatewayResponses), *upd.Audit)
	}
	p.UpdatedAt = m.now()
	m.payments[reference] = p
	return true, nil
}

func (m *Memory) AppendPaymentAudit(_ context.Context, reference string, audit models.GatewayAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[reference]
	if !ok {
		return ErrNotFound
	}
	p.GatewayResponses = append(slices.Clone(p.GatewayResponses), audit)
	m.payments[reference] = p
	return nil
}

// --- Escrows ---

func (m *Memory) InsertEscrow(_ context.Context, e models.Escrow) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.escrows {
		if ex.OrderID == e.OrderID && ex.SellerID == e.SellerID && ex.BeneficiaryType == e.BeneficiaryType {
			return false, nil
		}
	}
	m.escrows[e.ID] = e
	return true, nil
}

func (m *Memory) GetEscrow(_ context.Context, id string) (models.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[id]
	if !ok {
		return models.Escrow{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) ListEscrows(_ context.Context, orderID string, typ models.BeneficiaryType) ([]models.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Escrow
	for _, e := range m.escrows {
		if e.OrderID == orderID && (typ == "" || e.BeneficiaryType == typ) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SellerID < out[j].SellerID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) HasEscrow(_ context.Context, orderID string, typ models.BeneficiaryType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.escrows {
		if e.OrderID == orderID && e.BeneficiaryType == typ {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) TransitionEscrow(_ context.Context, id string, ev models.EscrowEvent, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[id]; !ok {
		return false, ErrNotFound
	}
	return m.applyEscrowEvent(id, ev, reason), nil
}

// applyEscrowEvent must be called with mu held.
func (m *Memory) applyEscrowEvent(id string, ev models.EscrowEvent, reason string) bool {
	e, ok := m.escrows[id]
	if !ok {
		return false
	}
	to, ok := models.NextEscrowStatus(e.Status, ev)
	if !ok {
		return false
	}
	now := m.now()
	e.Status = to
	e.FailureReason = reason
	e.Version++
	e.UpdatedAt = now
	if to == models.EscrowReleased {
		e.ReleasedAt = &now
	}
	m.escrows[id] = e
	return true
}

func (m *Memory) ReleaseEscrowToPayout(_ context.Context, escrowID string, p models.Payout) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[escrowID]; !ok {
		return false, ErrNotFound
	}
	if !m.applyEscrowEvent(escrowID, models.EscrowRelease, "") {
		return false, nil
	}
	m.payouts[p.ID] = p
	return true, nil
}

// --- Payouts ---

func (m *Memory) GetPayout(_ context.Context, id string) (models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return models.Payout{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) GetPayoutByTransferCode(_ context.Context, code string) (models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code == "" {
		return models.Payout{}, ErrNotFound
	}
	for _, p := range m.payouts {
		if p.TransferCode == code {
			return p, nil
		}
	}
	return models.Payout{}, ErrNotFound
}

func (m *Memory) ListPayoutsForEscrow(_ context.Context, escrowID string) ([]models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payout
	for _, p := range m.payouts {
		if p.EscrowID == escrowID {
			out = append(out, p)
		}
	}
	sortPayouts(out)
	return out, nil
}

func (m *Memory) ListDuePayouts(_ context.Context, now time.Time, limit int) ([]models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payout
	for _, p := range m.payouts {
		if p.Due(now) {
			out = append(out, p)
		}
	}
	sortPayouts(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListFailedPayouts(_ context.Context, limit int) ([]models.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payout
	for _, p := range m.payouts {
		if p.Status == models.PayoutFailed {
			out = append(out, p)
		}
	}
	sortPayouts(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortPayouts(ps []models.Payout) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

func (m *Memory) ClaimPayout(_ context.Context, id string, now time.Time, lease time.Duration) (models.Payout, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return models.Payout{}, false, ErrNotFound
	}
	if !p.Due(now) || !p.Claimable(now) {
		return p, false, nil
	}
	until := now.Add(lease)
	p.ClaimedUntil = &until
	p.Version++
	m.payouts[id] = p
	return p, true, nil
}

func (m *Memory) ApplyPayoutResult(_ context.Context, res PayoutResult) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[res.PayoutID]
	if !ok {
		return false, ErrNotFound
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
	p.Status = to
	if res.TransferCode != "" {
		p.TransferCode = res.TransferCode
	}
	p.FailureReason = res.FailureReason
	p.RetryCount = res.RetryCount
	p.NextRetryAt = res.NextRetryAt
	p.ClaimedUntil = nil
	if res.RotateReference {
		p.TransferAttempt++
	}
	p.Version++
	p.UpdatedAt = at
	if to == models.PayoutSent {
		p.SentAt = &at
	}
	m.payouts[p.ID] = p
	if res.EscrowEvent != "" {
		m.applyEscrowEvent(p.EscrowID, res.EscrowEvent, res.EscrowReason)
	}
	return true, nil
}

func (m *Memory) UpsertRecipient(_ context.Context, r models.PayoutRecipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ex, ok := m.recipients[r.UserID]; ok {
		r.CreatedAt = ex.CreatedAt
	}
	m.recipients[r.UserID] = r
	return nil
}

func (m *Memory) GetRecipient(_ context.Context, userID string) (models.PayoutRecipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[userID]
	if !ok || r.RecipientCode == "" {
		return models.PayoutRecipient{}, ErrNotFound
	}
	return r, nil
}

// --- Shipments ---

func (m *Memory) CreateShipment(_ context.Context, s models.Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.shipments {
		if ex.OrderID == s.OrderID {
			return ErrDuplicate
		}
	}
	m.shipments[s.ID] = s
	return nil
}

func (m *Memory) GetShipment(_ context.Context, id string) (models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[id]
	if !ok {
		return models.Shipment{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetShipmentByOrder(_ context.Context, orderID string) (models.Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.shipments {
		if s.OrderID == orderID {
			return s, nil
		}
	}
	return models.Shipment{}, ErrNotFound
}

func (m *Memory) UpdateShipment(_ context.Context, id string, from models.ShipmentStatus, patch ShipmentPatch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[id]
	if !ok {
		return false, ErrNotFound
	}
	if s.Status != from {
		return false, nil
	}
	if patch.Status != "" {
		s.Status = patch.Status
	}
	if patch.LogisticsProviderID != "" {
		s.LogisticsProviderID = patch.LogisticsProviderID
	}
	if patch.TrackingNumber != "" {
		s.TrackingNumber = patch.TrackingNumber
	}
	if patch.DeliveredAt != nil {
		s.DeliveredAt = patch.DeliveredAt
	}
	s.UpdatedAt = m.now()
	m.shipments[id] = s
	return true, nil
}

func (m *Memory) InsertLocation(_ context.Context, loc models.ShipmentLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[loc.ShipmentID] = append(m.locations[loc.ShipmentID], loc)
	return nil
}

func (m *Memory) LatestValidLocation(ctx context.Context, shipmentID string) (models.ShipmentLocation, error) {
	locs, err := m.RecentValidLocations(ctx, shipmentID, 1)
	if err != nil {
		return models.ShipmentLocation{}, err
	}
	if len(locs) == 0 {
		return models.ShipmentLocation{}, ErrNotFound
	}
	return locs[0], nil
}

func (m *Memory) RecentValidLocations(_ context.Context, shipmentID string, limit int) ([]models.ShipmentLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ShipmentLocation
	for _, l := range m.locations[shipmentID] {
		if l.IsValid {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AllLocations returns every stored ping for a shipment, valid or not.
func (m *Memory) AllLocations(shipmentID string) []models.ShipmentLocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.locations[shipmentID])
}

// --- Idempotency ---

func (m *Memory) InsertIdempotency(_ context.Context, rec models.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ex, ok := m.idempotency[rec.Key]; ok && ex.ExpiresAt.After(m.now()) {
		return ErrDuplicate
	}
	m.idempotency[rec.Key] = rec
	return nil
}

func (m *Memory) GetIdempotency(_ context.Context, key string) (models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[key]
	if !ok {
		return models.IdempotencyRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) DeleteIdempotency(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotency, key)
	return nil
}

func (m *Memory) SaveIdempotencyResponse(_ context.Context, key string, resp map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idempotency[key]
	if !ok {
		return ErrNotFound
	}
	rec.Response = resp
	m.idempotency[key] = rec
	return nil
}
