package app

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Montivagant/rms-nova-sub000/internal/config"
	"github.com/Montivagant/rms-nova-sub000/internal/domain"
	"github.com/Montivagant/rms-nova-sub000/internal/repository"
)

const defaultCurrency = "USD"

// SeedMemory loads the offline catalog into the memory store. The config
// has already been validated, so parse failures here are programming errors
// and are still reported rather than skipped.
func SeedMemory(store *repository.MemoryStore, seed config.SeedConfig) (int, error) {
	prices := 0
	for _, t := range seed.Tenants {
		tenantID, err := uuid.Parse(t.ID)
		if err != nil {
			return prices, fmt.Errorf("seed tenant %q: %w", t.ID, err)
		}
		for _, l := range t.Locations {
			locID, err := uuid.Parse(l.ID)
			if err != nil {
				return prices, fmt.Errorf("seed location %q: %w", l.ID, err)
			}
			store.SeedLocation(domain.Location{ID: locID, TenantID: tenantID, Name: l.Name, IsDefault: l.Default, Active: true})
		}
		for _, m := range t.Menu {
			itemID, err := uuid.Parse(m.ID)
			if err != nil {
				return prices, fmt.Errorf("seed menu item %q: %w", m.ID, err)
			}
			for _, p := range m.Prices {
				locID, err := uuid.Parse(p.LocationID)
				if err != nil {
					return prices, fmt.Errorf("seed price location %q: %w", p.LocationID, err)
				}
				amount, err := decimal.NewFromString(p.Price)
				if err != nil {
					return prices, fmt.Errorf("seed price %q: %w", p.Price, err)
				}
				tax := decimal.Zero
				if p.TaxRate != "" {
					if tax, err = decimal.NewFromString(p.TaxRate); err != nil {
						return prices, fmt.Errorf("seed tax rate %q: %w", p.TaxRate, err)
					}
				}
				currency := p.Currency
				if currency == "" {
					currency = defaultCurrency
				}
				store.SeedPrice(tenantID, domain.MenuPrice{
					MenuItemID: itemID,
					LocationID: locID,
					Name:       m.Name,
					Price:      amount,
					Currency:   currency,
					TaxRate:    tax,
					Active:     true,
				})
				prices++
			}
		}
	}
	return prices, nil
}
