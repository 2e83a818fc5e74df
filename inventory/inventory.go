// Package inventory is the catalog collaborator used at checkout and cancellation.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agrimart/models"
	"agrimart/store"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrInvalidQuantity is returned for a stock move of zero or fewer units.
var ErrInvalidQuantity = errors.New("inventory: quantity must be positive")

// Catalog fetches products and moves their stock.
type Catalog interface {
	FetchProduct(ctx context.Context, id string) (models.Product, error)
	// Decrement takes qty from stock only if at least qty remains.
	Decrement(ctx context.Context, id string, qty int) (bool, error)
	Restore(ctx context.Context, id string, qty int) error
}

// MongoCatalog reads the products collection owned by the catalog service.
type MongoCatalog struct {
	products *mongo.Collection
}

func NewMongoCatalog(products *mongo.Collection) *MongoCatalog {
	return &MongoCatalog{products: products}
}

func (c *MongoCatalog) FetchProduct(ctx context.Context, id string) (models.Product, error) {
	var p models.Product
	err := c.products.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Product{}, store.ErrNotFound
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("fetch product %s: %w", id, err)
	}
	return p, nil
}

func (c *MongoCatalog) Decrement(ctx context.Context, id string, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	filter := bson.M{
		"_id":      id,
		"quantity": bson.M{"$gte": qty},
	}
	update := bson.M{
		"$inc": bson.M{"quantity": -qty},
		"$set": bson.M{"updatedAt": time.Now()},
	}
	res, err := c.products.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("decrement stock %s: %w", id, err)
	}
	return res.ModifiedCount == 1, nil
}

func (c *MongoCatalog) Restore(ctx context.Context, id string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	_, err := c.products.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"quantity": qty},
		"$set": bson.M{"updatedAt": time.Now()},
	})
	if err != nil {
		return fmt.Errorf("restore stock %s: %w", id, err)
	}
	return nil
}

// Memory is an in-process Catalog for tests and local runs.
type Memory struct {
	mu       sync.Mutex
	products map[string]models.Product
}

func NewMemory(products ...models.Product) *Memory {
	m := &Memory{products: make(map[string]models.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *Memory) FetchProduct(_ context.Context, id string) (models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return models.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (m *Memory) Decrement(_ context.Context, id string, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	m.products[id] = p
	return true, nil
}

func (m *Memory) Restore(_ context.Context, id string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Stock += qty
	m.products[id] = p
	return nil
}

// Stock returns the current stock of a product.
func (m *Memory) Stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}
