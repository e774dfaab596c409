package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/asintiko/ASINTSaveiOS-beta-v0.0.1/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// NUMERIC amounts travel as text, so no pgx type extension is needed for
// shopspring decimals.

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func fromNullDecimal(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}

const invoiceColumns = `id, gateway, user_id, plan, period, amount_stars, amount_usd::text,
	discounted, pay_url, status, created_at, settled_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var (
		inv                           domain.Invoice
		gateway, plan, period, status string
		usd                           decimal.NullDecimal
	)
	err := row.Scan(
		&inv.ID,
		&gateway,
		&inv.UserID,
		&plan,
		&period,
		&inv.AmountStars,
		&usd,
		&inv.Discounted,
		&inv.PayURL,
		&status,
		&inv.CreatedAt,
		&inv.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Gateway = domain.Gateway(gateway)
	inv.Plan = domain.PlanKey(plan)
	inv.Period = domain.Period(period)
	inv.Status = domain.InvoiceStatus(status)
	inv.AmountUSD = fromNullDecimal(usd)
	return &inv, nil
}

// CreateInvoice inserts a pending invoice.
func (q *Queries) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO invoices (id, gateway, user_id, plan, period, amount_stars, amount_usd,
		                      discounted, pay_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)`,
		inv.ID, string(inv.Gateway), inv.UserID, string(inv.Plan), string(inv.Period),
		inv.AmountStars, decimalText(inv.AmountUSD), inv.Discounted, inv.PayURL,
		string(inv.Status), inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// GetInvoice returns the invoice with id.
func (q *Queries) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := scanInvoice(q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// GetInvoiceForUpdate returns the invoice with id and locks its row.
func (q *Queries) GetInvoiceForUpdate(ctx context.Context, id string) (*domain.Invoice, error) {
	inv, err := scanInvoice(q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("get invoice for update: %w", err)
	}
	return inv, nil
}

// MarkInvoiceSettled moves a pending invoice to status. It reports false
// when the invoice was already settled.
func (q *Queries) MarkInvoiceSettled(ctx context.Context, id string, status domain.InvoiceStatus, now time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE invoices SET status = $2, settled_at = $3
		WHERE id = $1 AND status = 'pending'`,
		id, string(status), now,
	)
	if err != nil {
		return false, fmt.Errorf("mark invoice settled: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreatePaymentTransaction appends a ledger row and returns its id.
func (q *Queries) CreatePaymentTransaction(ctx context.Context, t *domain.PaymentTransaction) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `
		INSERT INTO payment_transactions (user_id, plan, period, amount_stars, amount_usd, method,
		                                  status, is_manual, initiator_id, details, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5::numeric, $6, $7, $8, $9, NULLIF($10, ''), $11)
		RETURNING id`,
		t.UserID, string(t.Plan), string(t.Period), t.AmountStars, decimalText(t.AmountUSD),
		string(t.Method), t.Status, t.IsManual, t.InitiatorID, t.Details, t.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create payment transaction: %w", err)
	}
	return id, nil
}
