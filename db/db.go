// Package db is the MongoDB implementation of store.Store.
//
// State transitions are single conditional UpdateOne calls whose filter names
// the allowed source states. The two multi-document steps (escrow to payout
// handoff, payout result plus escrow mirror) run in a transaction, which needs
// a replica set or sharded cluster.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agrimart/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type Mongo struct {
	client      *mongo.Client
	orders      *mongo.Collection
	items       *mongo.Collection
	payments    *mongo.Collection
	escrows     *mongo.Collection
	payouts     *mongo.Collection
	recipients  *mongo.Collection
	shipments   *mongo.Collection
	locations   *mongo.Collection
	idempotency *mongo.Collection
	products    *mongo.Collection
	now         func() time.Time
}

var _ store.Store = (*Mongo)(nil)

// Connect dials MongoDB and checks the primary answers.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func NewMongo(client *mongo.Client, database string) *Mongo {
	d := client.Database(database)
	return &Mongo{
		client:      client,
		orders:      d.Collection("orders"),
		items:       d.Collection("order_items"),
		payments:    d.Collection("payments"),
		escrows:     d.Collection("escrows"),
		payouts:     d.Collection("payouts"),
		recipients:  d.Collection("payout_recipients"),
		shipments:   d.Collection("shipments"),
		locations:   d.Collection("shipment_locations"),
		idempotency: d.Collection("idempotency"),
		products:    d.Collection("products"),
		now:         time.Now,
	}
}

// Products is the catalog collection the inventory collaborator reads.
func (m *Mongo) Products() *mongo.Collection {
	return m.products
}

// EnsureIndexes creates the unique and TTL indexes the conditional updates
// rely on.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll *mongo.Collection
		idx  []mongo.IndexModel
	}{
		{m.items, []mongo.IndexModel{
			{Keys: bson.D{{Key: "orderId", Value: 1}}},
		}},
		{m.payments, []mongo.IndexModel{
			{Keys: bson.D{{Key: "reference", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_reference")},
			{Keys: bson.D{{Key: "orderId", Value: 1}, {Key: "createdAt", Value: 1}}},
		}},
		{m.escrows, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "orderId", Value: 1}, {Key: "sellerId", Value: 1}, {Key: "beneficiaryType", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_beneficiary"),
			},
		}},
		{m.payouts, []mongo.IndexModel{
			{Keys: bson.D{{Key: "escrowId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_escrow")},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "transferCode", Value: 1}}, Options: options.Index().SetSparse(true)},
		}},
		{m.shipments, []mongo.IndexModel{
			{Keys: bson.D{{Key: "orderId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_order")},
		}},
		{m.locations, []mongo.IndexModel{
			{Keys: bson.D{{Key: "shipmentId", Value: 1}, {Key: "isValid", Value: 1}, {Key: "recordedAt", Value: -1}}},
		}},
		{m.idempotency, []mongo.IndexModel{
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_key")},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at")},
		}},
	}
	for _, s := range specs {
		if _, err := s.coll.Indexes().CreateMany(ctx, s.idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", s.coll.Name(), err)
		}
	}
	return nil
}

// inTxn runs fn in a transaction. A false result commits nothing fn did not
// write.
func (m *Mongo) inTxn(ctx context.Context, fn func(sc mongo.SessionContext) (bool, error)) (bool, error) {
	sess, err := m.client.StartSession()
	if err != nil {
		return false, fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	res, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return fn(sc)
	})
	if err != nil {
		return false, err
	}
	ok, _ := res.(bool)
	return ok, nil
}

// findOne decodes a single document, mapping no-documents to store.ErrNotFound.
func findOne(ctx context.Context, coll *mongo.Collection, filter interface{}, out interface{}) error {
	err := coll.FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, opts ...*options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []T
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// exists separates "row missing" from "row not in the expected state" after a
// conditional update matched nothing.
func exists(ctx context.Context, coll *mongo.Collection, filter interface{}) (bool, error) {
	n, err := coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func limitOpt(limit int) *options.FindOptions {
	o := options.Find()
	if limit > 0 {
		o.SetLimit(int64(limit))
	}
	return o
}
