package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TicketStatus string

const (
	TicketOpen    TicketStatus = "open"
	TicketSettled TicketStatus = "settled"
)

type Ticket struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	LocationID uuid.UUID
	Status     TicketStatus
	Subtotal   decimal.Decimal
	TaxAmount  decimal.Decimal
	Total      decimal.Decimal
	Currency   string
	Notes      string
	OpenedBy   string
	OpenedAt   time.Time
	ClosedBy   *string
	ClosedAt   *time.Time
	Items      []LineItem
}

type LineItem struct {
	ID           uuid.UUID
	TicketID     uuid.UUID
	Position     int
	MenuItemID   uuid.UUID
	Name         string
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	LineSubtotal decimal.Decimal
	LineTax      decimal.Decimal
	Currency     string
}

// Location is the pricing scope a ticket is opened at.
type Location struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	IsDefault bool
	Active    bool
}

// MenuPrice is one candidate price row for a menu item. A row is either
// specific to the ticket's location or belongs to the tenant's default
// location.
type MenuPrice struct {
	MenuItemID uuid.UUID
	LocationID uuid.UUID
	Name       string
	Price      decimal.Decimal
	Currency   string
	TaxRate    decimal.Decimal // percent, e.g. 8.5
	Active     bool
}
