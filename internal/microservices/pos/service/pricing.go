package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Montivagant/rms-nova-sub000/internal/common/apperr"
	"github.com/Montivagant/rms-nova-sub000/internal/common/money"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/repository"
)

type ItemRequest struct {
	MenuItemID uuid.UUID
	Quantity   decimal.Decimal
}

// PricedTicket is the outcome of pricing a set of items at a location.
type PricedTicket struct {
	LocationID uuid.UUID
	Currency   string
	Lines      []domain.LineItem
	Subtotal   decimal.Decimal
	TaxAmount  decimal.Decimal
	Total      decimal.Decimal
}

// MergeItems sums the quantities of repeated menu items, keeping the order
// in which each item first appeared.
func MergeItems(items []ItemRequest) ([]ItemRequest, error) {
	if len(items) == 0 {
		return nil, apperr.New(apperr.KindValidation, "at least one item is required")
	}
	idx := make(map[uuid.UUID]int, len(items))
	out := make([]ItemRequest, 0, len(items))
	for _, it := range items {
		if it.MenuItemID == uuid.Nil {
			return nil, apperr.New(apperr.KindValidation, "menuItemId is required")
		}
		if !it.Quantity.IsPositive() {
			return nil, apperr.Newf(apperr.KindValidation, "invalid quantity %s for item %s", it.Quantity, it.MenuItemID)
		}
		if i, ok := idx[it.MenuItemID]; ok {
			out[i].Quantity = out[i].Quantity.Add(it.Quantity)
			continue
		}
		idx[it.MenuItemID] = len(out)
		out = append(out, it)
	}
	return out, nil
}

// PriceLines computes line and ticket amounts. Every line amount is rounded
// to cents before it is summed.
func PriceLines(items []ItemRequest, prices map[uuid.UUID]domain.MenuPrice) (*PricedTicket, error) {
	pt := &PricedTicket{}
	subtotals := make([]decimal.Decimal, 0, len(items))
	taxes := make([]decimal.Decimal, 0, len(items))

	for i, it := range items {
		p, ok := prices[it.MenuItemID]
		if !ok {
			return nil, apperr.Newf(apperr.KindNotFound, "no price for menu item %s", it.MenuItemID)
		}
		unit := money.Round2(p.Price)
		lineSubtotal := money.Round2(unit.Mul(it.Quantity))
		lineTax := money.Percent(lineSubtotal, p.TaxRate)
		pt.Lines = append(pt.Lines, domain.LineItem{
			ID:           uuid.New(),
			Position:     i + 1,
			MenuItemID:   it.MenuItemID,
			Name:         p.Name,
			Quantity:     it.Quantity,
			UnitPrice:    unit,
			LineSubtotal: lineSubtotal,
			LineTax:      lineTax,
			Currency:     p.Currency,
		})
		subtotals = append(subtotals, lineSubtotal)
		taxes = append(taxes, lineTax)
	}

	pt.Subtotal = money.Sum(subtotals...)
	pt.TaxAmount = money.Sum(taxes...)
	pt.Total = money.Sum(pt.Subtotal, pt.TaxAmount)
	if !pt.Subtotal.IsPositive() {
		return nil, apperr.New(apperr.KindValidation, "ticket subtotal must be positive")
	}
	pt.Currency = pt.Lines[0].Currency
	return pt, nil
}

// Price resolves location-specific prices, falling back to the tenant's
// default location, and computes the ticket amounts.
func (s *Service) Price(ctx context.Context, tx repository.Tx, tenantID uuid.UUID, locationID *uuid.UUID, items []ItemRequest) (*PricedTicket, error) {
	merged, err := MergeItems(items)
	if err != nil {
		return nil, err
	}

	def, err := tx.DefaultLocation(ctx, tenantID)
	if err != nil {
		return nil, notFound(err, "tenant has no default location")
	}
	loc := def
	if locationID != nil && *locationID != def.ID {
		loc, err = tx.GetLocation(ctx, tenantID, *locationID)
		if err != nil {
			return nil, notFound(err, "location %s not found", *locationID)
		}
		if !loc.Active {
			return nil, apperr.Newf(apperr.KindNotFound, "location %s not found", *locationID)
		}
	}

	ids := make([]uuid.UUID, len(merged))
	for i, it := range merged {
		ids[i] = it.MenuItemID
	}
	locs := []uuid.UUID{loc.ID}
	if loc.ID != def.ID {
		locs = append(locs, def.ID)
	}
	candidates, err := tx.PriceCandidates(ctx, tenantID, ids, locs)
	if err != nil {
		return nil, err
	}

	prices, err := pickPrices(merged, candidates, loc.ID, def.ID)
	if err != nil {
		return nil, err
	}
	pt, err := PriceLines(merged, prices)
	if err != nil {
		return nil, err
	}
	pt.LocationID = loc.ID
	return pt, nil
}

// pickPrices prefers the override at the ticket's location over the default
// location's row. Inactive items count as unpriced.
func pickPrices(items []ItemRequest, candidates []domain.MenuPrice, locationID, defaultID uuid.UUID) (map[uuid.UUID]domain.MenuPrice, error) {
	byLoc := make(map[uuid.UUID]map[uuid.UUID]domain.MenuPrice, 2)
	for _, c := range candidates {
		if byLoc[c.LocationID] == nil {
			byLoc[c.LocationID] = map[uuid.UUID]domain.MenuPrice{}
		}
		byLoc[c.LocationID][c.MenuItemID] = c
	}

	out := make(map[uuid.UUID]domain.MenuPrice, len(items))
	for _, it := range items {
		p, ok := byLoc[locationID][it.MenuItemID]
		if !ok {
			p, ok = byLoc[defaultID][it.MenuItemID]
		}
		if !ok || !p.Active {
			return nil, apperr.Newf(apperr.KindNotFound, "menu item %s is not available", it.MenuItemID)
		}
		out[it.MenuItemID] = p
	}
	return out, nil
}

// Quote prices items without creating anything.
func (s *Service) Quote(ctx context.Context, tenantID uuid.UUID, locationID *uuid.UUID, items []ItemRequest) (*PricedTicket, error) {
	var pt *PricedTicket
	err := s.read(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		pt, err = s.Price(ctx, tx, tenantID, locationID, items)
		return err
	})
	if err != nil && !errors.As(err, new(*apperr.Error)) {
		return nil, apperr.Wrap(apperr.KindInternal, err, "pricing failed")
	}
	return pt, err
}
