package models

import "time"

// SettlementEvent is published for catalog and notification consumers.
type SettlementEvent struct {
	Type     string         `json:"type"`
	EntityID string         `json:"entityId"`
	OrderID  string         `json:"orderId,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}
