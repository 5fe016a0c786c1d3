package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-record-service/record"
	"github.com/uptrace/bun"
)

// Records is the Store contract the orchestrator depends on.
type Records interface {
	Create(ctx context.Context, in record.NewRecord) (*record.Record, error)
	GetByID(ctx context.Context, id int64) (*record.Record, error)
	List(ctx context.Context, skip, limit int) ([]record.Record, error)
	Update(ctx context.Context, id int64, patch record.Patch) (*record.Record, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Owners is the owner lookup collaborator.
type Owners interface {
	CreateOwner(ctx context.Context, owner *record.Owner) (*record.Owner, error)
	GetOwner(ctx context.Context, id int64) (*record.Owner, error)
	GetOwnerByEmail(ctx context.Context, email string) (*record.Owner, error)
}

var (
	_ Records = (*BunStore)(nil)
	_ Owners  = (*BunStore)(nil)
)

// BunStore implements Records and Owners on top of a bun database.
type BunStore struct {
	db  *bun.DB
	now func() time.Time
}

// Option configures a BunStore.
type Option func(*BunStore)

// WithClock overrides the timestamp source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *BunStore) {
		if now != nil {
			s.now = now
		}
	}
}

// New wraps db. The caller owns the database handle.
func New(db *bun.DB, opts ...Option) *BunStore {
	s := &BunStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for components sharing the pool.
func (s *BunStore) DB() *bun.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *BunStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create inserts a record and returns it with the assigned identifier.
func (s *BunStore) Create(ctx context.Context, in record.NewRecord) (*record.Record, error) {
	now := s.now()
	rec := &record.Record{
		Title:       in.Title,
		Description: in.Description,
		PriceCents:  in.PriceCents,
		OwnerID:     in.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(rec).Returning("*").Exec(ctx)
		return err
	})
	if err != nil {
		return nil, classify("create record", err)
	}
	return rec, nil
}

// GetByID loads a record with its owner joined.
func (s *BunStore) GetByID(ctx context.Context, id int64) (*record.Record, error) {
	return getRecord(ctx, s.db, id)
}

// List returns a page of records with owners joined, ordered by identifier.
func (s *BunStore) List(ctx context.Context, skip, limit int) ([]record.Record, error) {
	if skip < 0 {
		skip = 0
	}
	records := make([]record.Record, 0, limit)
	err := s.db.NewSelect().
		Model(&records).
		Relation("Owner").
		OrderExpr("r.id ASC").
		Offset(skip).
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// Update applies only the supplied fields and refreshes UpdatedAt.
func (s *BunStore) Update(ctx context.Context, id int64, patch record.Patch) (*record.Record, error) {
	var updated *record.Record
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rec, err := getRecord(ctx, tx, id)
		if err != nil {
			return err
		}

		columns := patch.Apply(rec)
		rec.UpdatedAt = s.now()
		columns = append(columns, "updated_at")

		res, err := tx.NewUpdate().Model(rec).Column(columns...).WherePK().Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return record.ErrNotFound
		}

		updated, err = getRecord(ctx, tx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, err
		}
		return nil, classify("update record", err)
	}
	return updated, nil
}

// Delete removes the record and reports whether a row was deleted.
func (s *BunStore) Delete(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model(&record.Record{ID: id}).WherePK().Exec(ctx)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, classify("delete record", err)
	}
	return deleted, nil
}

// CreateOwner inserts an owner. A duplicate email is a conflict.
func (s *BunStore) CreateOwner(ctx context.Context, owner *record.Owner) (*record.Owner, error) {
	now := s.now()
	if owner.CreatedAt.IsZero() {
		owner.CreatedAt = now
	}
	owner.UpdatedAt = now

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(owner).Returning("*").Exec(ctx)
		return err
	})
	if err != nil {
		return nil, classify("create owner", err)
	}
	return owner, nil
}

// GetOwner loads an owner by identifier.
func (s *BunStore) GetOwner(ctx context.Context, id int64) (*record.Owner, error) {
	owner := new(record.Owner)
	if err := s.db.NewSelect().Model(owner).Where("o.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound("get owner", err)
	}
	return owner, nil
}

// GetOwnerByEmail loads an owner by its unique email.
func (s *BunStore) GetOwnerByEmail(ctx context.Context, email string) (*record.Owner, error) {
	owner := new(record.Owner)
	if err := s.db.NewSelect().Model(owner).Where("o.email = ?", email).Scan(ctx); err != nil {
		return nil, notFound("get owner by email", err)
	}
	return owner, nil
}

func getRecord(ctx context.Context, db bun.IDB, id int64) (*record.Record, error) {
	rec := new(record.Record)
	err := db.NewSelect().
		Model(rec).
		Relation("Owner").
		Where("r.id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound("get record", err)
	}
	return rec, nil
}

func notFound(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, record.ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
