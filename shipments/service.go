// Package shipments tracks the delivery leg of an order: its lifecycle, the
// GPS pings a carrier sends and the ETA derived from them.
package shipments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"agrimart/apperr"
	"agrimart/escrow"
	"agrimart/geo"
	"agrimart/metrics"
	"agrimart/models"
	"agrimart/mq"
	"agrimart/store"
	"agrimart/utils"

	"go.uber.org/zap"
)

// LogisticsReleaser pays the carrier once the shipment is delivered.
type LogisticsReleaser interface {
	ReleaseLogisticsForOrder(ctx context.Context, orderID string) (escrow.ReleaseReport, error)
}

type Service struct {
	store    store.Store
	releaser LogisticsReleaser
	emitter  mq.Emitter
	logger   *zap.Logger
	now      func() time.Time

	// one ingestion at a time per shipment
	locks sync.Map
}

func NewService(st store.Store, releaser LogisticsReleaser, emitter mq.Emitter, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		releaser: releaser,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) lock(shipmentID string) func() {
	v, _ := s.locks.LoadOrStore(shipmentID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) load(ctx context.Context, id string) (models.Shipment, error) {
	sh, err := s.store.GetShipment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Shipment{}, apperr.NotFound("shipment")
	}
	if err != nil {
		return models.Shipment{}, fmt.Errorf("load shipment %s: %w", id, err)
	}
	return sh, nil
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

type CreateInput struct {
	OrderID          string     `json:"orderId"`
	Origin           *geo.Point `json:"origin"`
	Destination      *geo.Point `json:"destination"`
	LogisticsFeeKobo int64      `json:"logisticsFeeKobo"`
}

// Create opens the single shipment of an order. The order's seller or an
// admin may create it.
func (s *Service) Create(ctx context.Context, by models.Principal, in CreateInput) (models.Shipment, error) {
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		return models.Shipment{}, apperr.Validation("order_id_required")
	}
	if in.LogisticsFeeKobo < 0 {
		return models.Shipment{}, apperr.Validation("logistics_fee_negative")
	}
	for _, p := range []*geo.Point{in.Origin, in.Destination} {
		if p != nil && !p.Valid() {
			return models.Shipment{}, apperr.Validation("coordinates_out_of_range")
		}
	}
	order, err := s.order(ctx, orderID)
	if err != nil {
		return models.Shipment{}, err
	}
	if !by.IsAdmin() && by.UserID != order.SellerID {
		return models.Shipment{}, apperr.Forbidden("seller_or_admin_only")
	}
	if order.Status == models.OrderCancelled {
		return models.Shipment{}, apperr.Conflict("order_cancelled")
	}

	now := s.now()
	sh := models.Shipment{
		ID:               utils.GetUUID(),
		OrderID:          orderID,
		Status:           models.ShipmentPending,
		Origin:           in.Origin,
		Destination:      in.Destination,
		LogisticsFeeKobo: in.LogisticsFeeKobo,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateShipment(ctx, sh); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return models.Shipment{}, apperr.Conflict("shipment_exists")
		}
		return models.Shipment{}, fmt.Errorf("create shipment for %s: %w", orderID, err)
	}
	s.logger.Info("shipment created",
		zap.String("shipment_id", sh.ID),
		zap.String("order_id", orderID),
		zap.Int64("logistics_fee_kobo", sh.LogisticsFeeKobo),
	)
	return sh, nil
}

// Get returns the shipment to the order's parties, its carrier or an admin.
func (s *Service) Get(ctx context.Context, id string, by models.Principal) (models.Shipment, error) {
	sh, err := s.load(ctx, id)
	if err != nil {
		return models.Shipment{}, err
	}
	if by.IsAdmin() || (sh.LogisticsProviderID != "" && by.UserID == sh.LogisticsProviderID) {
		return sh, nil
	}
	order, err := s.order(ctx, sh.OrderID)
	if err != nil {
		return models.Shipment{}, err
	}
	if by.UserID == order.BuyerID || by.UserID == order.SellerID {
		return sh, nil
	}
	return models.Shipment{}, apperr.Forbidden("not_shipment_party")
}

type AssignInput struct {
	LogisticsProviderID string `json:"logisticsProviderId"`
	TrackingNumber      string `json:"trackingNumber"`
}

// Assign hands the shipment to a carrier. Reassignment is allowed until pickup.
func (s *Service) Assign(ctx context.Context, id string, by models.Principal, in AssignInput) (models.Shipment, error) {
	if !by.IsAdmin() {
		return models.Shipment{}, apperr.Forbidden("admin_only")
	}
	provider := strings.TrimSpace(in.LogisticsProviderID)
	if provider == "" {
		return models.Shipment{}, apperr.Validation("logistics_provider_required")
	}
	sh, err := s.load(ctx, id)
	if err != nil {
		return models.Shipment{}, err
	}
	if sh.Status != models.ShipmentPending && sh.Status != models.ShipmentAssigned {
		return models.Shipment{}, apperr.Conflict("shipment_already_moving")
	}
	moved, err := s.store.UpdateShipment(ctx, id, sh.Status, store.ShipmentPatch{
		Status:              models.ShipmentAssigned,
		LogisticsProviderID: provider,
		TrackingNumber:      strings.TrimSpace(in.TrackingNumber),
	})
	if err != nil {
		return models.Shipment{}, fmt.Errorf("assign shipment %s: %w", id, err)
	}
	if !moved {
		return models.Shipment{}, apperr.Conflict("shipment_changed")
	}
	s.logger.Info("shipment assigned",
		zap.String("shipment_id", id),
		zap.String("order_id", sh.OrderID),
		zap.String("logistics_provider_id", provider),
	)
	s.statusChanged(ctx, sh, sh.Status, models.ShipmentAssigned)
	return s.load(ctx, id)
}

// UpdateStatus moves the shipment along its lifecycle. Delivery releases the
// logistics escrow; if that fails the shipment goes back to where it was.
func (s *Service) UpdateStatus(ctx context.Context, id string, by models.Principal, raw string) (models.Shipment, error) {
	target, ok := models.ParseShipmentStatus(strings.TrimSpace(raw))
	if !ok {
		return models.Shipment{}, apperr.Validation("unknown_status")
	}
	sh, err := s.load(ctx, id)
	if err != nil {
		return models.Shipment{}, err
	}
	if !by.IsAdmin() && (sh.LogisticsProviderID == "" || by.UserID != sh.LogisticsProviderID) {
		return models.Shipment{}, apperr.Forbidden("not_assigned_carrier")
	}
	if target == models.ShipmentAssigned {
		return models.Shipment{}, apperr.Validation("use_assign")
	}
	if !models.CanMoveShipment(sh.Status, target) {
		return models.Shipment{}, apperr.Conflict("invalid_shipment_transition")
	}

	patch := store.ShipmentPatch{Status: target}
	if target == models.ShipmentDelivered {
		at := s.now()
		patch.DeliveredAt = &at
	}
	moved, err := s.store.UpdateShipment(ctx, id, sh.Status, patch)
	if err != nil {
		return models.Shipment{}, fmt.Errorf("update shipment %s: %w", id, err)
	}
	if !moved {
		return models.Shipment{}, apperr.Conflict("shipment_changed")
	}

	if target == models.ShipmentDelivered {
		report, err := s.releaser.ReleaseLogisticsForOrder(ctx, sh.OrderID)
		if err != nil {
			if _, rerr := s.store.UpdateShipment(context.WithoutCancel(ctx), id, target, store.ShipmentPatch{Status: sh.Status}); rerr != nil {
				s.logger.Error("revert shipment status failed", zap.String("shipment_id", id), zap.Error(rerr))
			}
			s.logger.Warn("logistics escrow release failed, delivery reverted",
				zap.String("shipment_id", id),
				zap.String("order_id", sh.OrderID),
				zap.Error(err),
			)
			return models.Shipment{}, err
		}
		s.logger.Info("shipment delivered",
			zap.String("shipment_id", id),
			zap.String("order_id", sh.OrderID),
			zap.Int("payouts_queued", report.Queued()),
		)
	}
	s.statusChanged(ctx, sh, sh.Status, target)
	return s.load(ctx, id)
}

func (s *Service) statusChanged(ctx context.Context, sh models.Shipment, from, to models.ShipmentStatus) {
	mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.ShipmentStatusChanged, sh.ID, sh.OrderID, map[string]any{
		"from": from,
		"to":   to,
	}))
}

// LocationInput is one ping. Pointers tell a missing coordinate from zero.
type LocationInput struct {
	Lat            *float64   `json:"lat"`
	Lng            *float64   `json:"lng"`
	AccuracyMeters float64    `json:"accuracyMeters"`
	RecordedAt     *time.Time `json:"recordedAt"`
}

func (in LocationInput) point() (geo.Point, error) {
	if in.Lat == nil || in.Lng == nil {
		return geo.Point{}, apperr.Validation("coordinates_required")
	}
	p := geo.Point{Lat: *in.Lat, Lng: *in.Lng}
	if !p.Valid() {
		return geo.Point{}, apperr.Validation("coordinates_out_of_range")
	}
	if in.AccuracyMeters < 0 {
		return geo.Point{}, apperr.Validation("accuracy_negative")
	}
	return p, nil
}

// RecordLocation stores a ping from the assigned carrier. A ping implying
// more than 160 km/h from the last valid ping is kept for audit but marked
// invalid, so it never feeds the ETA. The first ping is always valid.
func (s *Service) RecordLocation(ctx context.Context, shipmentID string, by models.Principal, in LocationInput) (models.ShipmentLocation, error) {
	cur, err := in.point()
	if err != nil {
		return models.ShipmentLocation{}, err
	}
	sh, err := s.load(ctx, shipmentID)
	if err != nil {
		return models.ShipmentLocation{}, err
	}
	if !by.IsAdmin() && (sh.LogisticsProviderID == "" || by.UserID != sh.LogisticsProviderID) {
		return models.ShipmentLocation{}, apperr.Forbidden("not_assigned_carrier")
	}

	received := s.now()
	recorded := received
	if in.RecordedAt != nil && !in.RecordedAt.IsZero() {
		recorded = *in.RecordedAt
	}

	unlock := s.lock(shipmentID)
	defer unlock()

	loc := models.ShipmentLocation{
		ID:             utils.GetUUID(),
		ShipmentID:     shipmentID,
		Lat:            cur.Lat,
		Lng:            cur.Lng,
		AccuracyMeters: in.AccuracyMeters,
		RecordedAt:     recorded,
		ReceivedAt:     received,
		IsValid:        true,
	}
	prev, err := s.store.LatestValidLocation(ctx, shipmentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return models.ShipmentLocation{}, fmt.Errorf("load last valid ping %s: %w", shipmentID, err)
	default:
		bad, speed := geo.Implausible(prev.Point(), cur, recorded.Sub(prev.RecordedAt))
		loc.SpeedKmh = speed
		if bad {
			loc.IsValid = false
			loc.InvalidReason = models.ReasonSpeedTooHigh
		}
	}
	if err := s.store.InsertLocation(ctx, loc); err != nil {
		return models.ShipmentLocation{}, fmt.Errorf("store ping %s: %w", shipmentID, err)
	}

	metrics.RecordPing(loc.IsValid)
	if !loc.IsValid {
		s.logger.Warn("implausible ping",
			zap.String("shipment_id", shipmentID),
			zap.Float64("speed_kmh", loc.SpeedKmh),
			zap.String("reason", loc.InvalidReason),
		)
	}
	mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.ShipmentLocationRecorded, loc.ID, sh.OrderID, map[string]any{
		"shipmentId": shipmentID,
		"valid":      loc.IsValid,
	}))
	return loc, nil
}
