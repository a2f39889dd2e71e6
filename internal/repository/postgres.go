package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/deal-escrow/internal/domain"
	"github.com/ayo6706/deal-escrow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists deals and payments as JSONB documents next to the
// columns used for lookups and version checks.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunInTx executes fn within a database transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

func (s *PostgresStore) PutUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return domain.Validationf("user id is required")
	}
	role := user.Role
	if role == "" {
		role = domain.UserRoleUser
	}
	kyc := user.KYCStatus
	if kyc == "" {
		kyc = domain.KYCNotStarted
	}
	accountType := user.AccountType
	if accountType == "" {
		accountType = domain.PartyPersonal
	}
	query := `
		INSERT INTO users (id, name, email, phone, role, kyc_status, account_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			role = EXCLUDED.role,
			kyc_status = EXCLUDED.kyc_status,
			account_type = EXCLUDED.account_type
	`
	if _, err := s.db.Exec(ctx, query, user.ID, user.Name, user.Email, user.Phone, role, string(kyc), string(accountType)); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var (
		u           models.User
		kyc         string
		accountType string
	)
	query := `SELECT id, name, email, phone, role, kyc_status, account_type FROM users WHERE id = $1`
	err := s.db.QueryRow(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.Role, &kyc, &accountType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("user %s", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.KYCStatus = domain.KYCStatus(kyc)
	u.AccountType = domain.PartyType(accountType)
	return &u, nil
}

func (s *PostgresStore) NextDealNumber(ctx context.Context) (int64, error) {
	return s.nextval(ctx, "deal_number_seq")
}

func (s *PostgresStore) NextPaymentNumber(ctx context.Context) (int64, error) {
	return s.nextval(ctx, "payment_number_seq")
}

func (s *PostgresStore) nextval(ctx context.Context, seq string) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT nextval($1::regclass)`, seq).Scan(&n); err != nil {
		return 0, fmt.Errorf("nextval %s: %w", seq, err)
	}
	return n, nil
}

func (s *PostgresStore) CreateDeal(ctx context.Context, deal *models.Deal) error {
	deal.Version = 1
	doc, err := json.Marshal(deal)
	if err != nil {
		deal.Version = 0
		return fmt.Errorf("encode deal: %w", err)
	}
	err = s.RunInTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO deals (id, deal_id, buyer_id, seller_id, status, version, document, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		if _, err := tx.Exec(ctx, query, deal.ID, deal.DealID, deal.Buyer, deal.Seller, string(deal.Status), deal.Version, doc, deal.CreatedAt, deal.UpdatedAt); err != nil {
			return fmt.Errorf("insert deal: %w", err)
		}
		return insertAudit(ctx, tx, "deal", deal.DealID, deal.AuditTrail.Pending())
	})
	if err != nil {
		deal.Version = 0
		return err
	}
	deal.AuditTrail.MarkCommitted()
	return nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	var (
		doc     []byte
		version int64
	)
	err := s.db.QueryRow(ctx, `SELECT document, version FROM deals WHERE deal_id = $1`, dealID).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("deal %s", dealID)
		}
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return decodeDeal(doc, version)
}

func decodeDeal(doc []byte, version int64) (*models.Deal, error) {
	var d models.Deal
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("decode deal: %w", err)
	}
	d.Version = version
	return &d, nil
}

func decodePayment(doc []byte, version int64) (*models.Payment, error) {
	var p models.Payment
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	p.Version = version
	return &p, nil
}

func (s *PostgresStore) ListDealsByStatus(ctx context.Context, status domain.DealStatus, limit int) ([]*models.Deal, error) {
	query := `
		SELECT document, version
		FROM deals
		WHERE status = $1
		ORDER BY updated_at
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	defer rows.Close()

	var out []*models.Deal
	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		d, err := decodeDeal(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	var (
		doc     []byte
		version int64
	)
	err := s.db.QueryRow(ctx, `SELECT document, version FROM payments WHERE payment_id = $1`, paymentID).Scan(&doc, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("payment %s", paymentID)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return decodePayment(doc, version)
}

func (s *PostgresStore) ListPaymentsForDeal(ctx context.Context, dealID string) ([]*models.Payment, error) {
	return s.queryPayments(ctx, `
		SELECT document, version
		FROM payments
		WHERE deal_id = $1
		ORDER BY payment_id
	`, dealID)
}

func (s *PostgresStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*models.Payment, error) {
	return s.queryPayments(ctx, `
		SELECT document, version
		FROM payments
		WHERE status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2
	`, now, limit)
}

func (s *PostgresStore) queryPayments(ctx context.Context, query string, args ...any) ([]*models.Payment, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []*models.Payment
	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p, err := decodePayment(doc, version)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Commit writes the changeset in one transaction. A stale version on any
// entity rolls back everything and returns domain.ErrVersionConflict.
func (s *PostgresStore) Commit(ctx context.Context, cs Changeset) error {
	err := s.RunInTx(ctx, func(tx pgx.Tx) error {
		if cs.Deal != nil {
			if err := updateDeal(ctx, tx, cs.Deal); err != nil {
				return err
			}
		}
		for _, p := range cs.Payments {
			if err := writePayment(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cs.applied()
	return nil
}

func updateDeal(ctx context.Context, tx pgx.Tx, deal *models.Deal) error {
	next := *deal
	next.Version = deal.Version + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode deal: %w", err)
	}
	query := `
		UPDATE deals
		SET status = $1, version = version + 1, document = $2, updated_at = $3
		WHERE deal_id = $4 AND version = $5
	`
	tag, err := tx.Exec(ctx, query, string(deal.Status), doc, deal.UpdatedAt, deal.DealID, deal.Version)
	if err != nil {
		return fmt.Errorf("update deal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	if err := requireExactlyOne(tag.RowsAffected(), "update deal"); err != nil {
		return err
	}
	return insertAudit(ctx, tx, "deal", deal.DealID, deal.AuditTrail.Pending())
}

func writePayment(ctx context.Context, tx pgx.Tx, p *models.Payment) error {
	next := *p
	next.Version = p.Version + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode payment: %w", err)
	}

	if p.Version == 0 {
		query := `
			INSERT INTO payments (id, payment_id, deal_id, status, next_retry_at, version, document, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8)
			ON CONFLICT (payment_id) DO NOTHING
		`
		tag, err := tx.Exec(ctx, query, p.ID, p.PaymentID, p.DealID, string(p.Status), p.NextRetryAt, doc, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
	} else {
		query := `
			UPDATE payments
			SET status = $1, next_retry_at = $2, version = version + 1, document = $3, updated_at = $4
			WHERE payment_id = $5 AND version = $6
		`
		tag, err := tx.Exec(ctx, query, string(p.Status), p.NextRetryAt, doc, p.UpdatedAt, p.PaymentID, p.Version)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrVersionConflict
		}
	}
	return insertAudit(ctx, tx, "payment", p.PaymentID, p.AuditTrail.Pending())
}

func insertAudit(ctx context.Context, tx pgx.Tx, entityType, entityID string, entries []models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO audit_log (entity_type, entity_id, action, performed_by, prev_state, next_state, details, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, entityType, entityID, e.Action, e.PerformedBy, textParam(e.OldStatus), textParam(e.NewStatus), textParam(e.Details), e.Timestamp)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// AuditLog returns the mirrored audit rows for one entity in insertion order.
func (s *PostgresStore) AuditLog(ctx context.Context, entityType, entityID string) ([]AuditRecord, error) {
	query := `
		SELECT action, performed_by, COALESCE(prev_state, ''), COALESCE(next_state, ''), COALESCE(details, ''), created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		r := AuditRecord{EntityType: entityType, EntityID: entityID}
		if err := rows.Scan(&r.Action, &r.PerformedBy, &r.OldStatus, &r.NewStatus, &r.Details, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
