package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Montivagant/rms-nova-sub000/internal/domain"
)

const uniqueViolation = "23505"

// PostgresStore runs every transaction at READ COMMITTED and relies on
// SELECT ... FOR UPDATE for the rows it mutates.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) BestEffort(ctx context.Context, name string, recoverable func(error) bool, fn func() error) (bool, error) {
	sp := pgx.Identifier{name}.Sanitize()
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return false, fmt.Errorf("savepoint %s: %w", name, err)
	}
	err := fn()
	if err == nil {
		if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
			return false, fmt.Errorf("release savepoint %s: %w", name, err)
		}
		return false, nil
	}
	if recoverable == nil || !recoverable(err) {
		return false, err
	}
	if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
		return false, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr)
	}
	return true, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---- pricing ----

func (t *pgTx) DefaultLocation(ctx context.Context, tenantID uuid.UUID) (domain.Location, error) {
	var loc domain.Location
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, is_default, active
		FROM locations WHERE tenant_id = $1 AND is_default`, tenantID).
		Scan(&loc.ID, &loc.TenantID, &loc.Name, &loc.IsDefault, &loc.Active)
	return loc, notFound(err)
}

func (t *pgTx) GetLocation(ctx context.Context, tenantID, locationID uuid.UUID) (domain.Location, error) {
	var loc domain.Location
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, is_default, active
		FROM locations WHERE tenant_id = $1 AND id = $2`, tenantID, locationID).
		Scan(&loc.ID, &loc.TenantID, &loc.Name, &loc.IsDefault, &loc.Active)
	return loc, notFound(err)
}

func (t *pgTx) PriceCandidates(ctx context.Context, tenantID uuid.UUID, itemIDs, locationIDs []uuid.UUID) ([]domain.MenuPrice, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT p.menu_item_id, p.location_id, mi.name, p.price, p.currency, p.tax_rate, (mi.active AND p.active)
		FROM menu_item_prices p
		JOIN menu_items mi ON mi.id = p.menu_item_id AND mi.tenant_id = p.tenant_id
		WHERE p.tenant_id = $1
		  AND p.menu_item_id = ANY($2::uuid[])
		  AND p.location_id = ANY($3::uuid[])`,
		tenantID, uuidStrings(itemIDs), uuidStrings(locationIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	var out []domain.MenuPrice
	for rows.Next() {
		var p domain.MenuPrice
		if err := rows.Scan(&p.MenuItemID, &p.LocationID, &p.Name, &p.Price, &p.Currency, &p.TaxRate, &p.Active); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// ---- tickets ----

func (t *pgTx) InsertTicket(ctx context.Context, tk *domain.Ticket) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tickets
		    (id, tenant_id, location_id, status, subtotal, tax_amount, total, currency, notes, opened_by, opened_at, closed_by, closed_at)
		VALUES
		    ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tk.ID, tk.TenantID, tk.LocationID, tk.Status, tk.Subtotal, tk.TaxAmount, tk.Total,
		tk.Currency, tk.Notes, tk.OpenedBy, tk.OpenedAt, tk.ClosedBy, tk.ClosedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert ticket: %w", err)
	}

	for _, it := range tk.Items {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO ticket_line_items
			    (id, ticket_id, position, menu_item_id, name, quantity, unit_price, line_subtotal, line_tax, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, tk.ID, it.Position, it.MenuItemID, it.Name, it.Quantity, it.UnitPrice,
			it.LineSubtotal, it.LineTax, it.Currency)
		if err != nil {
			return fmt.Errorf("failed to insert line item %s: %w", it.Name, err)
		}
	}
	return nil
}

func (t *pgTx) GetTicket(ctx context.Context, tenantID, ticketID uuid.UUID) (*domain.Ticket, error) {
	var (
		tk       domain.Ticket
		closedBy sql.NullString
		closedAt sql.NullTime
	)
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, location_id, status, subtotal, tax_amount, total, currency, notes,
		       opened_by, opened_at, closed_by, closed_at
		FROM tickets WHERE tenant_id = $1 AND id = $2`, tenantID, ticketID).
		Scan(&tk.ID, &tk.TenantID, &tk.LocationID, &tk.Status, &tk.Subtotal, &tk.TaxAmount, &tk.Total,
			&tk.Currency, &tk.Notes, &tk.OpenedBy, &tk.OpenedAt, &closedBy, &closedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if closedBy.Valid {
		tk.ClosedBy = &closedBy.String
	}
	if closedAt.Valid {
		tk.ClosedAt = &closedAt.Time
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, ticket_id, position, menu_item_id, name, quantity, unit_price, line_subtotal, line_tax, currency
		FROM ticket_line_items WHERE ticket_id = $1 ORDER BY position`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.LineItem
		if err := rows.Scan(&it.ID, &it.TicketID, &it.Position, &it.MenuItemID, &it.Name, &it.Quantity,
			&it.UnitPrice, &it.LineSubtotal, &it.LineTax, &it.Currency); err != nil {
			return nil, err
		}
		tk.Items = append(tk.Items, it)
	}
	return &tk, rows.Err()
}

func (t *pgTx) CloseTicket(ctx context.Context, tenantID, ticketID uuid.UUID, closedBy string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tickets
		SET status = 'settled', closed_by = $3, closed_at = $4
		WHERE tenant_id = $1 AND id = $2 AND closed_at IS NULL`, tenantID, ticketID, closedBy, at)
	if err != nil {
		return false, fmt.Errorf("failed to close ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// already closed, or missing
	var status string
	err = t.tx.QueryRowContext(ctx, `SELECT status FROM tickets WHERE tenant_id = $1 AND id = $2`, tenantID, ticketID).Scan(&status)
	if err != nil {
		return false, notFound(err)
	}
	if status != string(domain.TicketSettled) {
		if _, err := t.tx.ExecContext(ctx, `UPDATE tickets SET status = 'settled' WHERE tenant_id = $1 AND id = $2`, tenantID, ticketID); err != nil {
			return false, fmt.Errorf("failed to settle ticket: %w", err)
		}
	}
	return false, nil
}

// ---- payments ----

const paymentColumns = `id, tenant_id, ticket_id, amount, tip_amount, method, status, processor,
	processor_payment_id, reference, method_type, method_brand, method_last4, receipt_url,
	failure_reason, refunded_amount, metadata, processed_by, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*domain.Payment, error) {
	var (
		p       domain.Payment
		failure sql.NullString
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.TicketID, &p.Amount, &p.TipAmount, &p.Method, &p.Status,
		&p.Processor, &p.ProcessorPaymentID, &p.Reference, &p.MethodType, &p.MethodBrand, &p.MethodLast4,
		&p.ReceiptURL, &failure, &p.RefundedAmount, &p.Metadata, &p.ProcessedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if failure.Valid {
		p.FailureReason = &failure.String
	}
	return &p, nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		p.ID, p.TenantID, p.TicketID, p.Amount, p.TipAmount, p.Method, p.Status, p.Processor,
		p.ProcessorPaymentID, p.Reference, p.MethodType, p.MethodBrand, p.MethodLast4, p.ReceiptURL,
		p.FailureReason, p.RefundedAmount, p.Metadata, p.ProcessedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) GetPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*domain.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND id = $2`, tenantID, paymentID))
}

func (t *pgTx) GetPaymentByTicket(ctx context.Context, tenantID, ticketID uuid.UUID) (*domain.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND ticket_id = $2`, tenantID, ticketID))
}

func (t *pgTx) LockPayment(ctx context.Context, tenantID, paymentID uuid.UUID) (*domain.Payment, error) {
	return scanPayment(t.tx.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`, tenantID, paymentID))
}

func (t *pgTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE payments SET
		    status = $3, processor_payment_id = $4, reference = $5, receipt_url = $6,
		    failure_reason = $7, refunded_amount = $8, metadata = $9, updated_at = $10
		WHERE tenant_id = $1 AND id = $2`,
		p.TenantID, p.ID, p.Status, p.ProcessorPaymentID, p.Reference, p.ReceiptURL,
		p.FailureReason, p.RefundedAmount, p.Metadata, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendStatusEvent(ctx context.Context, ev domain.PaymentStatusEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payment_status_log (payment_id, from_status, to_status, changed_by, changed_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.PaymentID, ev.From, ev.To, ev.ChangedBy, ev.ChangedAt, ev.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert payment status log: %w", err)
	}
	return nil
}

func (t *pgTx) ListStatusEvents(ctx context.Context, paymentID uuid.UUID) ([]domain.PaymentStatusEvent, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT payment_id, from_status, to_status, changed_by, changed_at, notes
		FROM payment_status_log WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PaymentStatusEvent
	for rows.Next() {
		var ev domain.PaymentStatusEvent
		if err := rows.Scan(&ev.PaymentID, &ev.From, &ev.To, &ev.ChangedBy, &ev.ChangedAt, &ev.Notes); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ---- refunds ----

func (t *pgTx) InsertRefund(ctx context.Context, r *domain.Refund) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO refunds
		    (id, tenant_id, payment_id, amount, status, processor, processor_refund_id, reason,
		     failure_reason, requested_by, processed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.TenantID, r.PaymentID, r.Amount, r.Status, r.Processor, r.ProcessorRefundID, r.Reason,
		r.FailureReason, r.RequestedBy, r.ProcessedAt, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert refund: %w", err)
	}
	return nil
}

func (t *pgTx) ListRefunds(ctx context.Context, tenantID, paymentID uuid.UUID) ([]domain.Refund, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, tenant_id, payment_id, amount, status, processor, processor_refund_id, reason,
		       failure_reason, requested_by, processed_at, created_at
		FROM refunds WHERE tenant_id = $1 AND payment_id = $2 ORDER BY created_at`, tenantID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query refunds: %w", err)
	}
	defer rows.Close()

	var out []domain.Refund
	for rows.Next() {
		var (
			r         domain.Refund
			failure   sql.NullString
			processed sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.PaymentID, &r.Amount, &r.Status, &r.Processor,
			&r.ProcessorRefundID, &r.Reason, &failure, &r.RequestedBy, &processed, &r.CreatedAt); err != nil {
			return nil, err
		}
		if failure.Valid {
			r.FailureReason = &failure.String
		}
		if processed.Valid {
			r.ProcessedAt = &processed.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- loyalty ----

const accountColumns = `id, tenant_id, external_customer_id, balance, pending_balance, status, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*domain.LoyaltyAccount, error) {
	var a domain.LoyaltyAccount
	err := row.Scan(&a.ID, &a.TenantID, &a.ExternalCustomerID, &a.Balance, &a.PendingBalance, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (t *pgTx) GetAccountByCustomer(ctx context.Context, tenantID uuid.UUID, externalCustomerID string) (*domain.LoyaltyAccount, error) {
	return scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM loyalty_accounts
		WHERE tenant_id = $1 AND external_customer_id = $2`, tenantID, externalCustomerID))
}

func (t *pgTx) LockAccountByCustomer(ctx context.Context, tenantID uuid.UUID, externalCustomerID string) (*domain.LoyaltyAccount, error) {
	return scanAccount(t.tx.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM loyalty_accounts
		WHERE tenant_id = $1 AND external_customer_id = $2 FOR UPDATE`, tenantID, externalCustomerID))
}

func (t *pgTx) InsertAccount(ctx context.Context, a *domain.LoyaltyAccount) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.TenantID, a.ExternalCustomerID, a.Balance, a.PendingBalance, a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("loyalty account %s: %w", a.ExternalCustomerID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert loyalty account: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE loyalty_accounts SET balance = $2, updated_at = $3 WHERE id = $1`, accountID, balance, at)
	if err != nil {
		return fmt.Errorf("failed to update loyalty balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) InsertLoyaltyTransaction(ctx context.Context, lt *domain.LoyaltyTransaction) error {
	meta, err := json.Marshal(lt.Metadata)
	if err != nil {
		return err
	}
	if lt.Metadata == nil {
		meta = []byte("{}")
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO loyalty_transactions
		    (id, account_id, type, points, balance_after, reference, source, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lt.ID, lt.AccountID, lt.Type, lt.Points, lt.BalanceAfter, lt.Reference, lt.Source, string(meta), lt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert loyalty transaction: %w", err)
	}
	return nil
}

func (t *pgTx) ListLoyaltyTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LoyaltyTransaction, error) {
	q := `
		SELECT id, account_id, type, points, balance_after, reference, source, metadata, created_at
		FROM loyalty_transactions WHERE account_id = $1 ORDER BY seq DESC`
	args := []any{accountID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loyalty transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.LoyaltyTransaction
	for rows.Next() {
		var (
			lt   domain.LoyaltyTransaction
			meta []byte
		)
		if err := rows.Scan(&lt.ID, &lt.AccountID, &lt.Type, &lt.Points, &lt.BalanceAfter, &lt.Reference,
			&lt.Source, &meta, &lt.CreatedAt); err != nil {
			return nil, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &lt.Metadata); err != nil {
				return nil, fmt.Errorf("loyalty transaction metadata: %w", err)
			}
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}
