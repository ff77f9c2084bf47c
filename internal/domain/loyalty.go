package domain

import (
	"time"

	"github.com/google/uuid"
)

type LoyaltyAccountStatus string

const (
	LoyaltyAccountActive    LoyaltyAccountStatus = "active"
	LoyaltyAccountSuspended LoyaltyAccountStatus = "suspended"
)

type LoyaltyAccount struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	ExternalCustomerID string
	Balance            int64
	PendingBalance     int64
	Status             LoyaltyAccountStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type LoyaltyTxType string

const (
	LoyaltyEarn   LoyaltyTxType = "earn"
	LoyaltyRedeem LoyaltyTxType = "redeem"
)

// LoyaltyTransaction is an immutable ledger row. Points is signed: earns are
// positive, redemptions negative. BalanceAfter is the account balance right
// after this row was applied.
type LoyaltyTransaction struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	Type         LoyaltyTxType
	Points       int64
	BalanceAfter int64
	Reference    string
	Source       string
	Metadata     map[string]string
	CreatedAt    time.Time
}
