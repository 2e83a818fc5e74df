// Package receipts renders a signed PDF receipt for a paid order.
package receipts

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"agrimart/apperr"
	"agrimart/models"
	"agrimart/money"
	"agrimart/orders"
	"agrimart/store"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// OrderReader resolves an order the caller is allowed to see.
type OrderReader interface {
	Get(ctx context.Context, id string, by models.Principal) (orders.OrderView, error)
}

type Data struct {
	Order    orders.OrderView
	Payment  models.Payment
	Escrows  []models.Escrow
	IssuedAt time.Time
}

type Service struct {
	orders OrderReader
	store  store.Store
	key    []byte
	logger *zap.Logger
	now    func() time.Time
}

func NewService(orders OrderReader, st store.Store, signingKey string, logger *zap.Logger) *Service {
	return &Service{
		orders: orders,
		store:  st,
		key:    []byte(signingKey),
		logger: logger,
		now:    time.Now,
	}
}

// Build gathers what goes on the receipt. Only paid orders have one.
func (s *Service) Build(ctx context.Context, orderID string, by models.Principal) (Data, error) {
	view, err := s.orders.Get(ctx, orderID, by)
	if err != nil {
		return Data{}, err
	}
	if view.PaymentStatus != models.PaymentPaid {
		return Data{}, apperr.Conflict("order_not_paid")
	}
	payments, err := s.store.ListPaymentsForOrder(ctx, orderID)
	if err != nil {
		return Data{}, fmt.Errorf("list payments %s: %w", orderID, err)
	}
	d := Data{Order: view, IssuedAt: s.now()}
	for _, p := range payments {
		if p.Status == models.PaymentSuccess {
			d.Payment = p
			break
		}
	}
	d.Escrows, err = s.store.ListEscrows(ctx, orderID, "")
	if err != nil {
		return Data{}, fmt.Errorf("list escrows %s: %w", orderID, err)
	}
	return d, nil
}

// Render lays the receipt out on one A4 page with a signed QR code.
func (s *Service) Render(d Data) ([]byte, error) {
	o := d.Order
	payload := Payload(s.key, o.ID, d.Payment.Reference, d.IssuedAt)
	qrPNG, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode receipt qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 12, "AgriMart Order Receipt", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.MultiCell(110, 6, fmt.Sprintf(
		"Order: %s\nBuyer: %s\nSeller: %s\nPayment reference: %s\nIssued: %s",
		o.ID,
		o.BuyerID,
		o.SellerID,
		d.Payment.Reference,
		d.IssuedAt.Format("02 Jan 2006 15:04 MST"),
	), "", "L", false)

	imgOpts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", imgOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 20, 40, 40, false, imgOpts, 0, "")

	pdf.SetY(70)
	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(235, 245, 235)
	for _, h := range []struct {
		w     float64
		label string
	}{{80, "Item"}, {20, "Qty"}, {35, "Unit price"}, {35, "Total"}} {
		pdf.CellFormat(h.w, 8, h.label, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, it := range o.Items {
		name := it.ProductName
		if name == "" {
			name = it.ProductID
		}
		if it.Unit != "" {
			name += " (" + it.Unit + ")"
		}
		pdf.CellFormat(80, 7, name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%d", it.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, money.Format(money.ToMinor(it.UnitPrice), o.Currency), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, money.Format(money.ToMinor(it.TotalPrice), o.Currency), "1", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	line := func(label string, major float64) {
		pdf.CellFormat(135, 7, label, "", 0, "R", false, 0, "")
		pdf.CellFormat(35, 7, money.Format(money.ToMinor(major), o.Currency), "", 1, "R", false, 0, "")
	}
	line("Subtotal", o.Subtotal)
	line("Tax", o.Tax)
	line("Shipping", o.ShippingCost)
	pdf.SetFont("Arial", "B", 11)
	line("Total paid", o.TotalAmount)

	if len(d.Escrows) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(0, 8, "Settlement", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, e := range d.Escrows {
			pdf.CellFormat(0, 6, fmt.Sprintf("%s %s: gross %s, platform fee %s, net %s (%s)",
				e.BeneficiaryType,
				e.SellerID,
				money.Format(e.GrossAmountKobo, e.Currency),
				money.Format(e.PlatformFeeKobo, e.Currency),
				money.Format(e.NetAmountKobo, e.Currency),
				e.Status,
			), "", 1, "L", false, 0, "")
		}
	}

	pdf.SetY(-30)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 10, "Scan the code to verify this receipt.", "T", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}
