package models

import (
	"context"
	"fmt"
	"math"

	"github.com/mmdatafocus/storefront_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CartLine struct {
	VariantId int `json:"variant_id" binding:"required,gt=0"`
	Quantity  int `json:"quantity" binding:"required,gt=0"`
}

type QuoteInput struct {
	Lines          []CartLine `json:"lines" binding:"required,min=1,dive"`
	Address        Address    `json:"address"`
	ShippingMethod string     `json:"shipping_method" binding:"omitempty,max=50"`
}

type QuoteLine struct {
	VariantId int    `json:"variant_id"`
	Sku       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

// Quote is a priced cart. All amounts are integer minor units of Currency.
type Quote struct {
	TenantId           string      `json:"tenant_id"`
	Currency           string      `json:"currency"`
	Lines              []QuoteLine `json:"lines"`
	Subtotal           int64       `json:"subtotal"`
	ShippingMethod     string      `json:"shipping_method"`
	ShippingMethodName string      `json:"shipping_method_name"`
	ShippingAmount     int64       `json:"shipping_amount"`
	TaxAmount          int64       `json:"tax_amount"`
	Total              int64       `json:"total"`
}

// ReserveLines turns the quote into one reservation request per line.
func (q *Quote) ReserveLines() []ReserveLine {
	lines := make([]ReserveLine, 0, len(q.Lines))
	for _, l := range q.Lines {
		lines = append(lines, ReserveLine{VariantId: l.VariantId, Quantity: l.Quantity})
	}
	return lines
}

// BuildQuote prices a cart against a snapshot of variants and tenant settings.
// It has no side effects: the same inputs always give the same quote.
// Repeated lines of one variant are merged in first-seen order before any check.
func BuildQuote(input QuoteInput, variants map[int]*Variant, settings *TenantSettings) (*Quote, error) {
	if len(input.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	if settings == nil {
		return nil, ErrTenantRequired
	}

	order := make([]int, 0, len(input.Lines))
	requested := make(map[int]int, len(input.Lines))
	for _, l := range input.Lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: variant %d", ErrInvalidQuantity, l.VariantId)
		}
		if _, seen := requested[l.VariantId]; !seen {
			order = append(order, l.VariantId)
		}
		if l.Quantity > math.MaxInt-requested[l.VariantId] {
			// Saturate so an oversized cart fails the stock check instead of wrapping.
			requested[l.VariantId] = math.MaxInt
			continue
		}
		requested[l.VariantId] += l.Quantity
	}

	quote := &Quote{
		TenantId: settings.TenantId,
		Currency: settings.Currency,
		Lines:    make([]QuoteLine, 0, len(order)),
	}
	for _, id := range order {
		v, ok := variants[id]
		if !ok || v == nil || !v.Sellable() {
			return nil, fmt.Errorf("%w: %d", ErrVariantNotFound, id)
		}
		qty := requested[id]
		if qty > v.Available() {
			return nil, &InsufficientStockError{
				VariantId: v.ID,
				Sku:       v.Sku,
				Requested: qty,
				Available: v.Available(),
			}
		}
		line := QuoteLine{
			VariantId: v.ID,
			Sku:       v.Sku,
			Name:      v.Name,
			Quantity:  qty,
			UnitPrice: v.Price,
			LineTotal: v.Price * int64(qty),
		}
		quote.Lines = append(quote.Lines, line)
		quote.Subtotal += line.LineTotal
	}

	method, ok := settings.ResolveShippingMethod(input.ShippingMethod)
	if !ok {
		return nil, ErrNoShippingMethod
	}
	quote.ShippingMethod = method.Code
	quote.ShippingMethodName = method.Name
	quote.ShippingAmount = method.Amount
	if method.FreeOverAmount > 0 && quote.Subtotal >= method.FreeOverAmount {
		quote.ShippingAmount = 0
	}

	quote.TaxAmount = ComputeTax(quote.Subtotal, quote.ShippingAmount, settings)
	quote.Total = quote.Subtotal + quote.ShippingAmount + quote.TaxAmount
	return quote, nil
}

// ComputeTax applies the tenant's flat rate, rounded half away from zero to a whole minor unit.
func ComputeTax(subtotal int64, shipping int64, settings *TenantSettings) int64 {
	taxable := subtotal
	if settings.TaxShipping {
		taxable += shipping
	}
	return decimal.NewFromInt(taxable).Mul(settings.TaxRate).Round(0).IntPart()
}

// ValidateQuoteInput checks the request shape and the shipping phone number.
func ValidateQuoteInput(input *QuoteInput) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if input.Address.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Address.Phone, input.Address.Country); err != nil {
			return fmt.Errorf("%w: address phone: %v", ErrInvalidInput, err)
		}
	}
	return nil
}

// ComputeQuote loads the variant snapshot for input and prices it.
func ComputeQuote(ctx context.Context, db *gorm.DB, settings *TenantSettings, input QuoteInput) (*Quote, error) {
	if settings == nil || settings.TenantId == "" {
		return nil, ErrTenantRequired
	}
	if err := ValidateQuoteInput(&input); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(input.Lines))
	for _, l := range input.Lines {
		ids = append(ids, l.VariantId)
	}
	variants, err := GetVariants(ctx, db, settings.TenantId, utils.UniqueSlice(ids))
	if err != nil {
		return nil, err
	}
	return BuildQuote(input, variants, settings)
}
