package db

import (
	"context"
	"errors"

	"agrimart/models"
	"agrimart/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (m *Mongo) CreateShipment(ctx context.Context, s models.Shipment) error {
	_, err := m.shipments.InsertOne(ctx, s)
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}

func (m *Mongo) GetShipment(ctx context.Context, id string) (models.Shipment, error) {
	var s models.Shipment
	err := findOne(ctx, m.shipments, bson.M{"_id": id}, &s)
	return s, err
}

func (m *Mongo) GetShipmentByOrder(ctx context.Context, orderID string) (models.Shipment, error) {
	var s models.Shipment
	err := findOne(ctx, m.shipments, bson.M{"orderId": orderID}, &s)
	return s, err
}

func shipmentSet(patch store.ShipmentPatch) bson.M {
	set := bson.M{}
	if patch.Status != "" {
		set["status"] = patch.Status
	}
	if patch.LogisticsProviderID != "" {
		set["logisticsProviderId"] = patch.LogisticsProviderID
	}
	if patch.TrackingNumber != "" {
		set["trackingNumber"] = patch.TrackingNumber
	}
	if patch.DeliveredAt != nil {
		set["deliveredAt"] = *patch.DeliveredAt
	}
	return set
}

func (m *Mongo) UpdateShipment(ctx context.Context, id string, from models.ShipmentStatus, patch store.ShipmentPatch) (bool, error) {
	set := shipmentSet(patch)
	set["updatedAt"] = m.now()
	res, err := m.shipments.UpdateOne(ctx, bson.M{"_id": id, "status": from}, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	found, err := exists(ctx, m.shipments, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if !found {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (m *Mongo) InsertLocation(ctx context.Context, loc models.ShipmentLocation) error {
	_, err := m.locations.InsertOne(ctx, loc)
	return err
}

func (m *Mongo) LatestValidLocation(ctx context.Context, shipmentID string) (models.ShipmentLocation, error) {
	var loc models.ShipmentLocation
	err := m.locations.FindOne(ctx,
		bson.M{"shipmentId": shipmentID, "isValid": true},
		options.FindOne().SetSort(bson.D{{Key: "recordedAt", Value: -1}}),
	).Decode(&loc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ShipmentLocation{}, store.ErrNotFound
	}
	return loc, err
}

func (m *Mongo) RecentValidLocations(ctx context.Context, shipmentID string, limit int) ([]models.ShipmentLocation, error) {
	return findAll[models.ShipmentLocation](ctx, m.locations,
		bson.M{"shipmentId": shipmentID, "isValid": true},
		limitOpt(limit).SetSort(bson.D{{Key: "recordedAt", Value: -1}}),
	)
}

// --- Idempotency ---

// InsertIdempotency claims a key. The TTL monitor runs about once a minute,
// so an expired record that is still present is replaced here.
func (m *Mongo) InsertIdempotency(ctx context.Context, rec models.IdempotencyRecord) error {
	_, err := m.idempotency.InsertOne(ctx, rec)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	res, err := m.idempotency.ReplaceOne(ctx,
		bson.M{"key": rec.Key, "expires_at": bson.M{"$lte": m.now()}},
		rec,
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrDuplicate
	}
	return nil
}

func (m *Mongo) GetIdempotency(ctx context.Context, key string) (models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := findOne(ctx, m.idempotency, bson.M{"key": key}, &rec)
	return rec, err
}

func (m *Mongo) DeleteIdempotency(ctx context.Context, key string) error {
	_, err := m.idempotency.DeleteOne(ctx, bson.M{"key": key})
	return err
}

func (m *Mongo) SaveIdempotencyResponse(ctx context.Context, key string, resp map[string]interface{}) error {
	res, err := m.idempotency.UpdateOne(ctx, bson.M{"key": key}, bson.M{"$set": bson.M{"response": resp}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
