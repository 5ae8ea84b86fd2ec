package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a customer record is not found.
var ErrNotFound = errors.New("customer not found")

// ErrSubdomainExists is returned when a customer with the same subdomain
// already exists.
var ErrSubdomainExists = errors.New("subdomain already exists")

// portAllocLockKey serializes port allocation across concurrent provisioning
// transactions. Arbitrary but must stay stable.
const portAllocLockKey int64 = 421001

// Repository provides durable storage for customer records and the
// processed-event idempotency ledger.
type Repository interface {
	// CreatePending inserts a new customer row with deployed=false, assigning
	// the next free port inside the same transaction. On return c.ID, c.Port,
	// c.CreatedAt and c.UpdatedAt are populated.
	CreatePending(ctx context.Context, c *Customer, basePort int) error

	// NextPort reports the port the next insert would receive: basePort when
	// no record exists, max(existing)+1 otherwise. Advisory only; the
	// authoritative assignment happens inside CreatePending.
	NextPort(ctx context.Context, basePort int) (int, error)

	SubdomainTaken(ctx context.Context, subdomain string) (bool, error)
	Get(ctx context.Context, subdomain string) (*Customer, error)
	List(ctx context.Context, filter ListFilter) ([]Customer, error)

	MarkDeployed(ctx context.Context, subdomain string) error
	MarkMailboxStatus(ctx context.Context, subdomain, address, status string) error
	UpdateSubscription(ctx context.Context, subdomain string, su SubscriptionUpdate) error
	UpdatePasswordHash(ctx context.Context, subdomain, hash string) error

	// Delete removes the record. Callers run it only after the deployment
	// unit and container are confirmed gone.
	Delete(ctx context.Context, subdomain string) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

const customerColumns = `id, subdomain, email, organization_name, plan, port,
       admin_password_hash, deployed, subscription_status, billing_frequency,
       price_ref, renews_at, payment_amount, currency,
       mailbox_address, mailbox_status, mailbox_forward_to, mailbox_created_at,
       created_at, updated_at`

// CreatePending computes the next free port and inserts the row as one atomic
// unit. The advisory transaction lock keeps two concurrent allocations from
// reading the same max(port); the unique constraints on subdomain and port
// are the backstop.
func (r *PostgresRepository) CreatePending(ctx context.Context, c *Customer, basePort int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning allocation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, portAllocLockKey); err != nil {
		return fmt.Errorf("acquiring allocation lock: %w", err)
	}

	var port int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(port) + 1, $1) FROM customers`, basePort).Scan(&port); err != nil {
		return fmt.Errorf("computing next port: %w", err)
	}

	if c.Plan == "" {
		c.Plan = PlanStandard
	}
	if c.SubscriptionStatus == "" {
		c.SubscriptionStatus = SubscriptionActive
	}
	if c.Currency == "" {
		c.Currency = "cad"
	}

	query := `
		INSERT INTO customers (subdomain, email, organization_name, plan, port,
		                       admin_password_hash, deployed, subscription_status,
		                       billing_frequency, price_ref, renews_at,
		                       payment_amount, currency, mailbox_status,
		                       mailbox_forward_to)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, port, created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		c.Subdomain,
		c.Email,
		c.OrganizationName,
		c.Plan,
		port,
		c.AdminPasswordHash,
		c.SubscriptionStatus,
		c.BillingFrequency,
		c.PriceRef,
		c.RenewsAt,
		c.PaymentAmount,
		c.Currency,
		MailboxPending,
		c.MailboxForwardTo,
	).Scan(&c.ID, &c.Port, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrSubdomainExists
		}
		return fmt.Errorf("inserting customer: %w", err)
	}

	c.Deployed = false
	c.MailboxStatus = MailboxPending

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing allocation transaction: %w", err)
	}

	return nil
}

// NextPort reports what CreatePending would assign right now.
func (r *PostgresRepository) NextPort(ctx context.Context, basePort int) (int, error) {
	var port int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(port) + 1, $1) FROM customers`, basePort).Scan(&port)
	if err != nil {
		return 0, fmt.Errorf("computing next port: %w", err)
	}
	return port, nil
}

// SubdomainTaken reports whether a customer row exists for the subdomain.
func (r *PostgresRepository) SubdomainTaken(ctx context.Context, subdomain string) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE subdomain = $1)`, subdomain).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("checking subdomain %s: %w", subdomain, err)
	}
	return taken, nil
}

// Get retrieves a single customer by subdomain.
func (r *PostgresRepository) Get(ctx context.Context, subdomain string) (*Customer, error) {
	query := fmt.Sprintf(`SELECT %s FROM customers WHERE subdomain = $1`, customerColumns)
	return r.scanOne(ctx, query, subdomain)
}

// List retrieves customers matching the filter, oldest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Customer, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if filter.Deployed != nil {
		conditions = append(conditions, fmt.Sprintf("deployed = $%d", argIdx))
		args = append(args, *filter.Deployed)
		argIdx++
	}
	if filter.SubscriptionStatus != nil {
		conditions = append(conditions, fmt.Sprintf("subscription_status = $%d", argIdx))
		args = append(args, *filter.SubscriptionStatus)
		argIdx++
	}

	query := fmt.Sprintf(`SELECT %s FROM customers`, customerColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing customers: %w", err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating customer rows: %w", err)
	}

	if customers == nil {
		customers = []Customer{}
	}
	return customers, nil
}

// MarkDeployed flips the deployed flag once the container is confirmed
// running. A missing subdomain logs a warning instead of failing; the
// mismatch is a reconciliation issue, not a crash.
func (r *PostgresRepository) MarkDeployed(ctx context.Context, subdomain string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE customers SET deployed = TRUE, updated_at = NOW() WHERE subdomain = $1`, subdomain)
	if err != nil {
		return fmt.Errorf("marking %s deployed: %w", subdomain, err)
	}
	if result.RowsAffected() == 0 {
		slog.Warn("mark deployed: no such customer", "subdomain", subdomain)
	}
	return nil
}

// MarkMailboxStatus records the outcome of mailbox provisioning. Missing
// subdomains warn rather than fail, same as MarkDeployed.
func (r *PostgresRepository) MarkMailboxStatus(ctx context.Context, subdomain, address, status string) error {
	query := `
		UPDATE customers
		SET mailbox_address = NULLIF($2, ''),
		    mailbox_status = $3,
		    mailbox_created_at = CASE WHEN $3 = 'success' THEN NOW() ELSE mailbox_created_at END,
		    updated_at = NOW()
		WHERE subdomain = $1`

	result, err := r.pool.Exec(ctx, query, subdomain, address, status)
	if err != nil {
		return fmt.Errorf("marking mailbox status for %s: %w", subdomain, err)
	}
	if result.RowsAffected() == 0 {
		slog.Warn("mark mailbox status: no such customer", "subdomain", subdomain, "status", status)
	}
	return nil
}

// UpdateSubscription mutates billing fields from a subscription event.
func (r *PostgresRepository) UpdateSubscription(ctx context.Context, subdomain string, su SubscriptionUpdate) error {
	var setClauses []string
	var args []any
	argIdx := 1

	if su.Status != nil {
		setClauses = append(setClauses, fmt.Sprintf("subscription_status = $%d", argIdx))
		args = append(args, *su.Status)
		argIdx++
	}
	if su.BillingFrequency != nil {
		setClauses = append(setClauses, fmt.Sprintf("billing_frequency = $%d", argIdx))
		args = append(args, *su.BillingFrequency)
		argIdx++
	}
	if su.PriceRef != nil {
		setClauses = append(setClauses, fmt.Sprintf("price_ref = $%d", argIdx))
		args = append(args, *su.PriceRef)
		argIdx++
	}
	if su.RenewsAt != nil {
		setClauses = append(setClauses, fmt.Sprintf("renews_at = $%d", argIdx))
		args = append(args, *su.RenewsAt)
		argIdx++
	}
	if su.PaymentAmount != nil {
		setClauses = append(setClauses, fmt.Sprintf("payment_amount = $%d", argIdx))
		args = append(args, *su.PaymentAmount)
		argIdx++
	}
	if su.Currency != nil {
		setClauses = append(setClauses, fmt.Sprintf("currency = $%d", argIdx))
		args = append(args, *su.Currency)
		argIdx++
	}

	if len(setClauses) == 0 {
		return nil
	}
	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, subdomain)

	query := fmt.Sprintf(`UPDATE customers SET %s WHERE subdomain = $%d`,
		strings.Join(setClauses, ", "), argIdx)

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating subscription for %s: %w", subdomain, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePasswordHash stores a new admin password hash.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, subdomain, hash string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE customers SET admin_password_hash = $2, updated_at = NOW() WHERE subdomain = $1`,
		subdomain, hash)
	if err != nil {
		return fmt.Errorf("updating password hash for %s: %w", subdomain, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the customer row.
func (r *PostgresRepository) Delete(ctx context.Context, subdomain string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM customers WHERE subdomain = $1`, subdomain)
	if err != nil {
		return fmt.Errorf("deleting customer %s: %w", subdomain, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanOne scans a single Customer row from a query. Returns ErrNotFound if no rows.
func (r *PostgresRepository) scanOne(ctx context.Context, query string, args ...any) (*Customer, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanCustomer(row pgx.Row) (*Customer, error) {
	var c Customer
	err := row.Scan(
		&c.ID, &c.Subdomain, &c.Email, &c.OrganizationName, &c.Plan, &c.Port,
		&c.AdminPasswordHash, &c.Deployed, &c.SubscriptionStatus, &c.BillingFrequency,
		&c.PriceRef, &c.RenewsAt, &c.PaymentAmount, &c.Currency,
		&c.MailboxAddress, &c.MailboxStatus, &c.MailboxForwardTo, &c.MailboxCreatedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning customer row: %w", err)
	}
	return &c, nil
}
