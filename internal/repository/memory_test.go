package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Montivagant/rms-nova-sub000/internal/domain"
)

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tenant := uuid.New()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertAccount(ctx, &domain.LoyaltyAccount{ID: uuid.New(), TenantID: tenant, ExternalCustomerID: "c"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}

	err = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.GetAccountByCustomer(ctx, tenant, "c")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("rolled back insert is visible: %v", err)
	}
}

func TestMemoryBestEffortUndoesOnlyRecoverableFailures(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tenant := uuid.New()
	isDup := func(err error) bool { return errors.Is(err, ErrDuplicate) }

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		first := &domain.LoyaltyAccount{ID: uuid.New(), TenantID: tenant, ExternalCustomerID: "c"}
		if err := tx.InsertAccount(ctx, first); err != nil {
			return err
		}

		recovered, err := tx.BestEffort(ctx, "dup", isDup, func() error {
			if err := tx.UpdateAccountBalance(ctx, first.ID, 99, time.Now()); err != nil {
				return err
			}
			return tx.InsertAccount(ctx, &domain.LoyaltyAccount{ID: uuid.New(), TenantID: tenant, ExternalCustomerID: "c"})
		})
		if err != nil || !recovered {
			t.Fatalf("recovered=%v err=%v", recovered, err)
		}
		acct, err := tx.GetAccountByCustomer(ctx, tenant, "c")
		if err != nil {
			return err
		}
		if acct.Balance != 0 {
			t.Fatalf("write inside the failed step survived: %d", acct.Balance)
		}

		other := errors.New("other")
		recovered, err = tx.BestEffort(ctx, "other", isDup, func() error { return other })
		if recovered || !errors.Is(err, other) {
			t.Fatalf("non recoverable error swallowed: %v %v", recovered, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemoryCloseTicketKeepsFirstCloseTime(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tenant := uuid.New()
	tk := &domain.Ticket{ID: uuid.New(), TenantID: tenant, Status: domain.TicketOpen, Total: decimal.NewFromInt(1), OpenedBy: "u"}
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertTicket(ctx, tk); err != nil {
			return err
		}
		closed, err := tx.CloseTicket(ctx, tenant, tk.ID, "u", first)
		if err != nil || !closed {
			t.Fatalf("first close: %v %v", closed, err)
		}
		closed, err = tx.CloseTicket(ctx, tenant, tk.ID, "someone-else", first.Add(time.Hour))
		if err != nil || closed {
			t.Fatalf("second close: %v %v", closed, err)
		}
		got, err := tx.GetTicket(ctx, tenant, tk.ID)
		if err != nil {
			return err
		}
		if got.Status != domain.TicketSettled || !got.ClosedAt.Equal(first) || *got.ClosedBy != "u" {
			t.Fatalf("unexpected ticket %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := closeMissing(ctx, s, tenant); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func closeMissing(ctx context.Context, s *MemoryStore, tenant uuid.UUID) (bool, error) {
	var closed bool
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		closed, err = tx.CloseTicket(ctx, tenant, uuid.New(), "u", time.Now())
		return err
	})
	return closed, err
}

func TestMemoryPriceCandidatesScopedByTenant(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tenant, other := uuid.New(), uuid.New()
	item, loc := uuid.New(), uuid.New()
	s.SeedPrice(tenant, domain.MenuPrice{MenuItemID: item, LocationID: loc, Name: "Latte", Price: decimal.RequireFromString("4.50"), Currency: "USD", Active: true})

	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		mine, err := tx.PriceCandidates(ctx, tenant, []uuid.UUID{item}, []uuid.UUID{loc})
		if err != nil {
			return err
		}
		theirs, err := tx.PriceCandidates(ctx, other, []uuid.UUID{item}, []uuid.UUID{loc})
		if err != nil {
			return err
		}
		if len(mine) != 1 || len(theirs) != 0 {
			t.Fatalf("mine=%d theirs=%d", len(mine), len(theirs))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
