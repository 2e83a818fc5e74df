// Package orders runs checkout and the order status lifecycle.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrimart/apperr"
	"agrimart/escrow"
	"agrimart/inventory"
	"agrimart/models"
	"agrimart/money"
	"agrimart/mq"
	"agrimart/store"
	"agrimart/utils"

	"go.uber.org/zap"
)

// EscrowReleaser is called when an order reaches delivered.
type EscrowReleaser interface {
	ReleaseForOrder(ctx context.Context, orderID string) (escrow.ReleaseReport, error)
}

type Service struct {
	store    store.Store
	catalog  inventory.Catalog
	escrow   EscrowReleaser
	taxBps   int
	currency string
	emitter  mq.Emitter
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(st store.Store, catalog inventory.Catalog, releaser EscrowReleaser, taxBps int, currency string, emitter mq.Emitter, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		catalog:  catalog,
		escrow:   releaser,
		taxBps:   taxBps,
		currency: currency,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
	}
}

// OrderView is an order with its items.
type OrderView struct {
	models.Order
	Items []models.OrderItem `json:"items"`
}

type CheckoutInput struct {
	Items           []models.CartLine `json:"items"`
	ShippingAddress string            `json:"shippingAddress"`
	ShippingCost    float64           `json:"shippingCost"`
	Notes           string            `json:"notes"`
}

type reserved struct {
	productID string
	qty       int
}

// Checkout creates a pending order from a single-seller cart, taking stock
// from the catalog with a conditional decrement. Any failure gives back the
// stock already taken.
func (s *Service) Checkout(ctx context.Context, by models.Principal, in CheckoutInput) (OrderView, error) {
	if !by.Has(models.RoleBuyer) && !by.IsAdmin() {
		return OrderView{}, apperr.Forbidden("buyer_only")
	}
	lines, err := mergeLines(in.Items)
	if err != nil {
		return OrderView{}, err
	}
	address := strings.TrimSpace(in.ShippingAddress)
	if address == "" {
		return OrderView{}, apperr.Validation("shipping_address_required")
	}
	if in.ShippingCost < 0 {
		return OrderView{}, apperr.Validation("shipping_cost_negative")
	}

	products := make([]models.Product, len(lines))
	sellerID := ""
	for i, line := range lines {
		p, err := s.catalog.FetchProduct(ctx, line.ProductID)
		if errors.Is(err, store.ErrNotFound) {
			return OrderView{}, apperr.NotFound("product")
		}
		if err != nil {
			return OrderView{}, fmt.Errorf("fetch product %s: %w", line.ProductID, err)
		}
		if sellerID == "" {
			sellerID = p.SellerID
		} else if p.SellerID != sellerID {
			return OrderView{}, apperr.Validation("multiple_sellers")
		}
		if p.Price < 0 {
			return OrderView{}, apperr.Validation("product_price_invalid")
		}
		products[i] = p
	}

	var taken []reserved
	giveBack := func() {
		for _, r := range taken {
			if err := s.catalog.Restore(context.WithoutCancel(ctx), r.productID, r.qty); err != nil {
				s.logger.Error("stock compensation failed",
					zap.String("product_id", r.productID),
					zap.Int("quantity", r.qty),
					zap.Error(err),
				)
			}
		}
	}

	now := s.now()
	orderID := utils.GetUUID()
	items := make([]models.OrderItem, len(lines))
	var subtotal int64
	for i, line := range lines {
		ok, err := s.catalog.Decrement(ctx, line.ProductID, line.Quantity)
		if err != nil {
			giveBack()
			return OrderView{}, fmt.Errorf("reserve stock %s: %w", line.ProductID, err)
		}
		if !ok {
			giveBack()
			return OrderView{}, apperr.Conflict("insufficient_stock")
		}
		taken = append(taken, reserved{productID: line.ProductID, qty: line.Quantity})

		p := products[i]
		unit := money.ToMinor(p.Price)
		lineTotal := unit * int64(line.Quantity)
		subtotal += lineTotal
		items[i] = models.OrderItem{
			ID:          utils.GetUUID(),
			OrderID:     orderID,
			ProductID:   p.ID,
			ProductName: p.Name,
			SellerID:    p.SellerID,
			Quantity:    line.Quantity,
			Unit:        p.Unit,
			UnitPrice:   money.ToMajor(unit),
			TotalPrice:  money.ToMajor(lineTotal),
			CreatedAt:   now,
		}
	}

	tax := money.Percent(subtotal, s.taxBps)
	shipping := money.ToMinor(in.ShippingCost)
	order := models.Order{
		ID:              orderID,
		BuyerID:         by.UserID,
		SellerID:        sellerID,
		Status:          models.OrderPending,
		PaymentStatus:   models.PaymentPending,
		Subtotal:        money.ToMajor(subtotal),
		Tax:             money.ToMajor(tax),
		ShippingCost:    money.ToMajor(shipping),
		TotalAmount:     money.ToMajor(subtotal + tax + shipping),
		Currency:        s.currency,
		ShippingAddress: address,
		Notes:           strings.TrimSpace(in.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateOrder(ctx, order, items); err != nil {
		giveBack()
		return OrderView{}, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("buyer_id", order.BuyerID),
		zap.String("seller_id", order.SellerID),
		zap.Int64("total_kobo", subtotal+tax+shipping),
		zap.Int("lines", len(items)),
	)
	mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.OrderCreated, order.ID, order.ID, map[string]any{
		"buyerId":  order.BuyerID,
		"sellerId": order.SellerID,
		"total":    order.TotalAmount,
	}))
	return OrderView{Order: order, Items: items}, nil
}

// MaxLineQuantity caps one product's quantity in a cart after merging
// duplicate lines.
const MaxLineQuantity = 1_000_000

func mergeLines(in []models.CartLine) ([]models.CartLine, error) {
	if len(in) == 0 {
		return nil, apperr.Validation("cart_empty")
	}
	index := make(map[string]int)
	var out []models.CartLine
	for _, l := range in {
		id := strings.TrimSpace(l.ProductID)
		if id == "" {
			return nil, apperr.Validation("product_id_required")
		}
		if l.Quantity <= 0 {
			return nil, apperr.Validation("quantity_must_be_positive")
		}
		if l.Quantity > MaxLineQuantity {
			return nil, apperr.Validation("quantity_too_large")
		}
		if i, ok := index[id]; ok {
			if out[i].Quantity > MaxLineQuantity-l.Quantity {
				return nil, apperr.Validation("quantity_too_large")
			}
			out[i].Quantity += l.Quantity
			continue
		}
		index[id] = len(out)
		out = append(out, models.CartLine{ProductID: id, Quantity: l.Quantity})
	}
	return out, nil
}

func (s *Service) load(ctx context.Context, id string) (models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Order{}, nil, apperr.NotFound("order")
	}
	if err != nil {
		return models.Order{}, nil, fmt.Errorf("load order %s: %w", id, err)
	}
	items, err := s.store.ListOrderItems(ctx, id)
	if err != nil {
		return models.Order{}, nil, fmt.Errorf("load items %s: %w", id, err)
	}
	return order, items, nil
}

func ownsItem(items []models.OrderItem, userID string) bool {
	for _, it := range items {
		if it.SellerID == userID {
			return true
		}
	}
	return false
}

// Get returns the order to its buyer, seller, assigned carrier or an admin.
func (s *Service) Get(ctx context.Context, id string, by models.Principal) (OrderView, error) {
	order, items, err := s.load(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	if by.IsAdmin() || by.UserID == order.BuyerID || by.UserID == order.SellerID || ownsItem(items, by.UserID) {
		return OrderView{Order: order, Items: items}, nil
	}
	if sh, err := s.store.GetShipmentByOrder(ctx, id); err == nil && sh.LogisticsProviderID == by.UserID {
		return OrderView{Order: order, Items: items}, nil
	}
	return OrderView{}, apperr.Forbidden("not_order_party")
}

// UpdateStatus applies a status change through the transition rules. Moving
// into delivered releases the seller escrows; if that fails the status is
// put back and the error returned.
func (s *Service) UpdateStatus(ctx context.Context, id string, by models.Principal, raw string) (models.Order, error) {
	target, ok := models.ParseOrderStatus(strings.TrimSpace(raw))
	if !ok {
		return models.Order{}, apperr.Validation("unknown_status")
	}
	order, items, err := s.load(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if err := Transition(order, by, ownsItem(items, by.UserID), target); err != nil {
		return models.Order{}, err
	}
	from := order.Status
	if from == target {
		return order, nil
	}

	moved, err := s.store.SetOrderStatus(ctx, id, from, target)
	if err != nil {
		return models.Order{}, fmt.Errorf("set order status %s: %w", id, err)
	}
	if !moved {
		return models.Order{}, apperr.Conflict("order_changed")
	}

	if target == models.OrderDelivered {
		report, err := s.escrow.ReleaseForOrder(ctx, id)
		if err != nil {
			if _, rerr := s.store.SetOrderStatus(context.WithoutCancel(ctx), id, target, from); rerr != nil {
				s.logger.Error("revert order status failed", zap.String("order_id", id), zap.Error(rerr))
			}
			s.logger.Warn("escrow release failed, delivery reverted",
				zap.String("order_id", id),
				zap.String("status", string(from)),
				zap.Error(err),
			)
			return models.Order{}, err
		}
		s.logger.Info("order delivered",
			zap.String("order_id", id),
			zap.Int("payouts_queued", report.Queued()),
		)
	}
	if target == models.OrderCancelled {
		s.restoreStock(ctx, id, items)
	}

	s.logger.Info("order status changed",
		zap.String("order_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.String("by", by.UserID),
	)
	mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.OrderStatusChanged, id, id, map[string]any{
		"from": from,
		"to":   target,
	}))
	order.Status = target
	order.UpdatedAt = s.now()
	return order, nil
}

// Cancel cancels an order that has not shipped and gives its stock back.
// The status is claimed first so concurrent cancels restore stock once.
func (s *Service) Cancel(ctx context.Context, id string, by models.Principal) (models.Order, error) {
	order, items, err := s.load(ctx, id)
	if err != nil {
		return models.Order{}, err
	}
	if !by.IsAdmin() && by.UserID != order.BuyerID {
		return models.Order{}, apperr.Forbidden("buyer_or_admin_only")
	}
	if !Cancellable(order.Status) {
		return models.Order{}, apperr.Conflict("order_not_cancellable")
	}

	moved, err := s.store.SetOrderStatus(ctx, id, order.Status, models.OrderCancelled)
	if err != nil {
		return models.Order{}, fmt.Errorf("cancel order %s: %w", id, err)
	}
	if !moved {
		return models.Order{}, apperr.Conflict("order_changed")
	}
	s.restoreStock(ctx, id, items)

	s.logger.Info("order cancelled", zap.String("order_id", id), zap.String("by", by.UserID))
	order.Status = models.OrderCancelled
	order.UpdatedAt = s.now()
	return order, nil
}

// restoreStock gives back every item's quantity and announces the
// cancellation with the lines so the catalog can reconcile any that failed.
func (s *Service) restoreStock(ctx context.Context, id string, items []models.OrderItem) {
	lines := make([]map[string]any, 0, len(items))
	for _, it := range items {
		restored := true
		if err := s.catalog.Restore(context.WithoutCancel(ctx), it.ProductID, it.Quantity); err != nil {
			restored = false
			s.logger.Error("stock restore failed",
				zap.String("order_id", id),
				zap.String("product_id", it.ProductID),
				zap.Int("quantity", it.Quantity),
				zap.Error(err),
			)
		}
		lines = append(lines, map[string]any{
			"productId": it.ProductID,
			"quantity":  it.Quantity,
			"restored":  restored,
		})
	}
	mq.Publish(ctx, s.emitter, s.logger, mq.New(mq.OrderCancelled, id, id, map[string]any{"items": lines}))
}
