package shipments

import (
	"context"
	"fmt"
	"time"

	"agrimart/apperr"
	"agrimart/geo"
	"agrimart/models"
)

const etaWindow = 10

// ETA is an arrival estimate. Available is false when there is nothing to
// project from; the numeric fields are then left out.
type ETA struct {
	ShipmentID  string     `json:"shipmentId"`
	Available   bool       `json:"available"`
	Reason      string     `json:"reason,omitempty"`
	EtaSeconds  *int64     `json:"etaSeconds,omitempty"`
	RemainingKm *float64   `json:"remainingKm,omitempty"`
	SpeedKmh    float64    `json:"speedKmh,omitempty"`
	Fallback    bool       `json:"fallbackSpeed,omitempty"`
	PointsUsed  int        `json:"pointsUsed"`
	ArrivesAt   *time.Time `json:"arrivesAt,omitempty"`
	ComputedAt  time.Time  `json:"computedAt"`
}

// EstimateETA projects arrival from the last ten valid pings.
func (s *Service) EstimateETA(ctx context.Context, shipmentID string, by models.Principal) (ETA, error) {
	sh, err := s.Get(ctx, shipmentID, by)
	if err != nil {
		return ETA{}, err
	}
	return s.estimate(ctx, sh)
}

func (s *Service) estimate(ctx context.Context, sh models.Shipment) (ETA, error) {
	if sh.Destination == nil {
		return ETA{}, apperr.Conflict("destination_missing")
	}
	now := s.now()
	out := ETA{ShipmentID: sh.ID, ComputedAt: now}

	locs, err := s.store.RecentValidLocations(ctx, sh.ID, etaWindow)
	if err != nil {
		return ETA{}, fmt.Errorf("load pings %s: %w", sh.ID, err)
	}
	if len(locs) == 0 {
		out.Reason = "no_valid_points"
		return out, nil
	}

	fixes := make([]geo.Fix, len(locs))
	for i, l := range locs {
		fixes[i] = geo.Fix{Point: l.Point(), At: l.RecordedAt}
	}
	observed, ok := geo.AverageSpeedKmh(fixes)
	speed := geo.PlanningSpeed(observed, ok)
	remaining := geo.HaversineKm(locs[0].Point(), *sh.Destination)
	secs := geo.EtaSeconds(remaining, speed)
	arrives := now.Add(time.Duration(secs) * time.Second)

	out.Available = true
	out.EtaSeconds = &secs
	out.RemainingKm = &remaining
	out.SpeedKmh = speed
	out.Fallback = speed != observed || !ok
	out.PointsUsed = len(locs)
	out.ArrivesAt = &arrives
	return out, nil
}
