package models

import (
	"time"

	"agrimart/geo"
)

type ShipmentStatus string

const (
	ShipmentPending   ShipmentStatus = "pending"
	ShipmentAssigned  ShipmentStatus = "assigned"
	ShipmentPickedUp  ShipmentStatus = "picked_up"
	ShipmentEnRoute   ShipmentStatus = "en_route"
	ShipmentDelivered ShipmentStatus = "delivered"
	ShipmentCancelled ShipmentStatus = "cancelled"
)

var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentPending:  {ShipmentAssigned, ShipmentCancelled},
	ShipmentAssigned: {ShipmentPickedUp, ShipmentCancelled},
	ShipmentPickedUp: {ShipmentEnRoute, ShipmentDelivered, ShipmentCancelled},
	ShipmentEnRoute:  {ShipmentDelivered, ShipmentCancelled},
}

// CanMoveShipment reports whether from -> to is a legal shipment transition.
func CanMoveShipment(from, to ShipmentStatus) bool {
	for _, s := range shipmentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ParseShipmentStatus(raw string) (ShipmentStatus, bool) {
	switch s := ShipmentStatus(raw); s {
	case ShipmentPending, ShipmentAssigned, ShipmentPickedUp, ShipmentEnRoute, ShipmentDelivered, ShipmentCancelled:
		return s, true
	}
	return "", false
}

// Shipment is the single delivery leg of an order.
type Shipment struct {
	ID                  string         `json:"id" bson:"_id"`
	OrderID             string         `json:"orderId" bson:"orderId"`
	LogisticsProviderID string         `json:"logisticsProviderId,omitempty" bson:"logisticsProviderId,omitempty"`
	Status              ShipmentStatus `json:"status" bson:"status"`
	Origin              *geo.Point     `json:"origin,omitempty" bson:"origin,omitempty"`
	Destination         *geo.Point     `json:"destination,omitempty" bson:"destination,omitempty"`
	LogisticsFeeKobo    int64          `json:"logisticsFeeKobo" bson:"logisticsFeeKobo"`
	TrackingNumber      string         `json:"trackingNumber,omitempty" bson:"trackingNumber,omitempty"`
	DeliveredAt         *time.Time     `json:"deliveredAt,omitempty" bson:"deliveredAt,omitempty"`
	CreatedAt           time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// ShipmentLocation is an append-only GPS ping. Validity is fixed at ingestion.
type ShipmentLocation struct {
	ID             string    `json:"id" bson:"_id"`
	ShipmentID     string    `json:"shipmentId" bson:"shipmentId"`
	Lat            float64   `json:"lat" bson:"lat"`
	Lng            float64   `json:"lng" bson:"lng"`
	AccuracyMeters float64   `json:"accuracyMeters,omitempty" bson:"accuracyMeters,omitempty"`
	SpeedKmh       float64   `json:"speedKmh" bson:"speedKmh"`
	RecordedAt     time.Time `json:"recordedAt" bson:"recordedAt"`
	ReceivedAt     time.Time `json:"receivedAt" bson:"receivedAt"`
	IsValid        bool      `json:"isValid" bson:"isValid"`
	InvalidReason  string    `json:"invalidReason,omitempty" bson:"invalidReason,omitempty"`
}

func (l ShipmentLocation) Point() geo.Point {
	return geo.Point{Lat: l.Lat, Lng: l.Lng}
}

const ReasonSpeedTooHigh = "speed_too_high"
