package repository

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"vpn-bot/internal/domain"
)

// InvoiceRepository registra los cobros emitidos y cuales ya activaron una suscripcion.
type InvoiceRepository interface {
	Create(ctx context.Context, inv domain.Invoice) error
	// MarkPaid marca el cobro como consumido; devuelve false si ya lo estaba.
	MarkPaid(ctx context.Context, invoiceID, userID int64, paidAt time.Time) (bool, error)
	// Unmark devuelve el cobro a pendiente cuando la activacion no llego a guardarse.
	Unmark(ctx context.Context, invoiceID int64) error
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgInvoiceRepository implementa InvoiceRepository sobre Postgres.
type PgInvoiceRepository struct {
	pool pgExecer
}

func NewPgInvoiceRepository(pool pgExecer) *PgInvoiceRepository {
	return &PgInvoiceRepository{pool: pool}
}

func (r *PgInvoiceRepository) Create(ctx context.Context, inv domain.Invoice) error {
	const query = `
		INSERT INTO invoices (invoice_id, user_id, status, amount, asset, pay_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (invoice_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		inv.ID,
		inv.UserID,
		inv.Status,
		inv.Amount,
		inv.Asset,
		inv.PayURL,
		inv.CreatedAt,
	)
	return err
}

func (r *PgInvoiceRepository) MarkPaid(ctx context.Context, invoiceID, userID int64, paidAt time.Time) (bool, error) {
	// El upsert cubre cobros creados antes de un reinicio sin ledger persistente.
	const query = `
		INSERT INTO invoices (invoice_id, user_id, status, paid_at)
		VALUES ($1, $2, 'paid', $3)
		ON CONFLICT (invoice_id) DO UPDATE
		SET status = 'paid', paid_at = EXCLUDED.paid_at
		WHERE invoices.paid_at IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, invoiceID, userID, paidAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgInvoiceRepository) Unmark(ctx context.Context, invoiceID int64) error {
	const query = `
		UPDATE invoices SET status = 'active', paid_at = NULL
		WHERE invoice_id = $1
	`
	_, err := r.pool.Exec(ctx, query, invoiceID)
	return err
}

// MemoryInvoiceRepository se usa cuando no hay DATABASE_URL configurada.
type MemoryInvoiceRepository struct {
	mu    sync.Mutex
	items map[int64]domain.Invoice
}

func NewMemoryInvoiceRepository() *MemoryInvoiceRepository {
	return &MemoryInvoiceRepository{items: make(map[int64]domain.Invoice)}
}

func (r *MemoryInvoiceRepository) Create(_ context.Context, inv domain.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[inv.ID]; ok {
		return nil
	}
	r.items[inv.ID] = inv
	return nil
}

func (r *MemoryInvoiceRepository) MarkPaid(_ context.Context, invoiceID, userID int64, paidAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.items[invoiceID]
	if ok && inv.PaidAt != nil {
		return false, nil
	}
	if !ok {
		inv = domain.Invoice{ID: invoiceID, UserID: userID}
	}
	inv.Status = domain.InvoiceStatusPaid
	inv.PaidAt = &paidAt
	r.items[invoiceID] = inv
	return true, nil
}

func (r *MemoryInvoiceRepository) Unmark(_ context.Context, invoiceID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.items[invoiceID]
	if !ok {
		return nil
	}
	inv.Status = domain.InvoiceStatusActive
	inv.PaidAt = nil
	r.items[invoiceID] = inv
	return nil
}
