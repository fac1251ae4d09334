package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"warrantly.org/internal/warranty"
)

// Store is the Postgres-backed warranty store. Every transition runs as a
// short transaction: compare-and-swap on version plus the event append, both
// or neither.
type Store struct {
	db *sql.DB
}

var _ warranty.Store = (*Store)(nil)

// Open connects to Postgres via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for readiness probes and migrations.
func (s *Store) DB() *sql.DB { return s.db }

const warrantyColumns = `id, tenant_id, code, product_id, product_name,
	coalesce(serial_number,''), customer_name, customer_phone,
	coalesce(customer_email,''), purchase_date, period_months, expiry_date,
	coalesce(supplier_name,''), status, version, created_at, updated_at`

func scanWarranty(row interface{ Scan(...any) error }) (warranty.Warranty, error) {
	var w warranty.Warranty
	var status string
	err := row.Scan(
		&w.ID, &w.TenantID, &w.Code, &w.ProductID, &w.ProductName,
		&w.SerialNumber, &w.CustomerName, &w.CustomerPhone, &w.CustomerEmail,
		&w.PurchaseDate, &w.PeriodMonths, &w.ExpiryDate, &w.SupplierName,
		&status, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return warranty.Warranty{}, err
	}
	w.Status = warranty.Status(status)
	return w, nil
}

func (s *Store) CreateWarranty(ctx context.Context, w *warranty.Warranty, registered warranty.ClaimEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		insert into warranties(
			id, tenant_id, code, product_id, product_name, serial_number,
			customer_name, customer_phone, customer_email,
			purchase_date, period_months, expiry_date, supplier_name,
			status, version, created_at, updated_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),$7,$8,nullif($9,''),
			$10,$11,$12,nullif($13,''),$14,$15,$16,$17)
	`, w.ID, w.TenantID, w.Code, w.ProductID, w.ProductName, w.SerialNumber,
		w.CustomerName, w.CustomerPhone, w.CustomerEmail,
		w.PurchaseDate, w.PeriodMonths, w.ExpiryDate, w.SupplierName,
		string(w.Status), w.Version, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return warranty.ErrCodeTaken
		}
		return err
	}

	registered.Sequence = 1
	if err := insertEvent(ctx, tx, registered); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetWarranty(ctx context.Context, tenantID, id string) (warranty.Warranty, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+warrantyColumns+`
		from warranties where id=$1 and tenant_id=$2
	`, id, tenantID)
	w, err := scanWarranty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return warranty.Warranty{}, warranty.ErrNotFound
	}
	if err != nil {
		return warranty.Warranty{}, err
	}
	return w, nil
}

func (s *Store) ListWarranties(ctx context.Context, tenantID string, f warranty.ListFilter) ([]warranty.Warranty, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}

	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	switch f.Status {
	case "":
	case warranty.StatusExpired:
		where = append(where, "status = 'active'", "expiry_date < now()")
	case warranty.StatusActive:
		where = append(where, "status = 'active'", "expiry_date >= now()")
	default:
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.CustomerPhone != "" {
		args = append(args, "%"+f.CustomerPhone+"%")
		where = append(where, fmt.Sprintf("customer_phone like $%d", len(args)))
	}
	cond := strings.Join(where, " and ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from warranties where `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Skip)
	rows, err := s.db.QueryContext(ctx, `
		select `+warrantyColumns+`
		from warranties where `+cond+`
		order by created_at desc
		limit $`+fmt.Sprint(len(args)-1)+` offset $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []warranty.Warranty
	for rows.Next() {
		w, err := scanWarranty(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, w)
	}
	return res, total, rows.Err()
}

func (s *Store) CountByStatus(ctx context.Context, tenantID string) (map[warranty.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		select case
			when status = 'active' and expiry_date < now() then 'expired'
			else status
		end as bucket, count(*)
		from warranties
		where tenant_id = $1
		group by bucket
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[warranty.Status]int)
	for rows.Next() {
		var bucket string
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, err
		}
		counts[warranty.Status(bucket)] = n
	}
	return counts, rows.Err()
}

func (s *Store) ApplyTransition(ctx context.Context, tenantID, id string, fromVersion int64, upd warranty.TransitionUpdate, ev warranty.ClaimEvent) (warranty.Warranty, warranty.ClaimEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return warranty.Warranty{}, warranty.ClaimEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var name, phone, email string
	if c := upd.Customer; c != nil {
		name, phone, email = c.Name, c.Phone, c.Email
	}

	row := tx.QueryRowContext(ctx, `
		update warranties set
			status = $1,
			version = version + 1,
			updated_at = now(),
			customer_name = coalesce(nullif($2,''), customer_name),
			customer_phone = coalesce(nullif($3,''), customer_phone),
			customer_email = coalesce(nullif($4,''), customer_email)
		where id = $5 and tenant_id = $6 and version = $7
		returning `+warrantyColumns+`
	`, string(upd.To), name, phone, email, id, tenantID, fromVersion)

	w, err := scanWarranty(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a stale version from a missing row.
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`select exists(select 1 from warranties where id=$1 and tenant_id=$2)`,
			id, tenantID).Scan(&exists); err != nil {
			return warranty.Warranty{}, warranty.ClaimEvent{}, err
		}
		if exists {
			return warranty.Warranty{}, warranty.ClaimEvent{}, warranty.ErrConflict
		}
		return warranty.Warranty{}, warranty.ClaimEvent{}, warranty.ErrNotFound
	}
	if err != nil {
		return warranty.Warranty{}, warranty.ClaimEvent{}, err
	}

	seq, err := nextSequence(ctx, tx, id)
	if err != nil {
		return warranty.Warranty{}, warranty.ClaimEvent{}, err
	}
	ev.Sequence = seq
	if err := insertEvent(ctx, tx, ev); err != nil {
		return warranty.Warranty{}, warranty.ClaimEvent{}, err
	}

	if err := tx.Commit(); err != nil {
		return warranty.Warranty{}, warranty.ClaimEvent{}, err
	}
	return w, ev, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev warranty.ClaimEvent) (warranty.ClaimEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return warranty.ClaimEvent{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from warranties where id=$1 and tenant_id=$2)`,
		ev.WarrantyID, ev.TenantID).Scan(&exists); err != nil {
		return warranty.ClaimEvent{}, err
	}
	if !exists {
		return warranty.ClaimEvent{}, warranty.ErrNotFound
	}

	seq, err := nextSequence(ctx, tx, ev.WarrantyID)
	if err != nil {
		return warranty.ClaimEvent{}, err
	}
	ev.Sequence = seq
	if err := insertEvent(ctx, tx, ev); err != nil {
		return warranty.ClaimEvent{}, err
	}
	if err := tx.Commit(); err != nil {
		return warranty.ClaimEvent{}, err
	}
	return ev, nil
}

func (s *Store) Events(ctx context.Context, tenantID, id string, afterSeq int64, limit int) ([]warranty.ClaimEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from warranties where id=$1 and tenant_id=$2)`,
		id, tenantID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, warranty.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, warranty_id, tenant_id, sequence, event_type, actor_type,
			coalesce(actor_id,''), coalesce(note,''), meta, attachments, created_at
		from claim_events
		where warranty_id = $1 and sequence > $2
		order by sequence asc
		limit $3
	`, id, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []warranty.ClaimEvent
	for rows.Next() {
		var ev warranty.ClaimEvent
		var eventType, actorType string
		var meta, attachments []byte
		if err := rows.Scan(&ev.ID, &ev.WarrantyID, &ev.TenantID, &ev.Sequence,
			&eventType, &actorType, &ev.ActorID, &ev.Note, &meta, &attachments,
			&ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.EventType = warranty.EventType(eventType)
		ev.ActorType = warranty.ActorType(actorType)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Meta); err != nil {
				return nil, err
			}
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &ev.Attachments); err != nil {
				return nil, err
			}
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

// --- helpers ---

func nextSequence(ctx context.Context, tx *sql.Tx, warrantyID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `
		select coalesce(max(sequence), 0) + 1 from claim_events where warranty_id = $1
	`, warrantyID).Scan(&seq)
	return seq, err
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev warranty.ClaimEvent) error {
	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return err
	}
	attachments, err := json.Marshal(ev.Attachments)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		insert into claim_events(
			id, warranty_id, tenant_id, sequence, event_type, actor_type,
			actor_id, note, meta, attachments, created_at)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),nullif($8,''),$9,$10,$11)
	`, ev.ID, ev.WarrantyID, ev.TenantID, ev.Sequence, string(ev.EventType),
		string(ev.ActorType), ev.ActorID, ev.Note, meta, attachments, ev.CreatedAt)
	return err
}

func isUniqueViolation(err error) bool {
	// pgx wraps server errors; SQLSTATE 23505 is unique_violation.
	return err != nil && strings.Contains(err.Error(), "23505")
}
