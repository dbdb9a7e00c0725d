package postgres

import (
	"context"
	"database/sql"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/repositories"
)

const journalColumns = "id, title, description, price, quantity, cover_url, created_at, updated_at"

// JournalRepository persists the back-issue catalog.
type JournalRepository struct {
	store *Store
}

// Journals returns the journal repository bound to the store.
func (s *Store) Journals() *JournalRepository {
	return &JournalRepository{store: s}
}

// Insert stores a new journal and returns it with the generated id.
func (r *JournalRepository) Insert(ctx context.Context, journal domain.Journal) (domain.Journal, error) {
	now := r.store.now()
	row := r.store.db.QueryRowContext(ctx, `
		INSERT INTO journals (title, description, price, quantity, cover_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+journalColumns,
		strings.TrimSpace(journal.Title), journal.Description, journal.Price.StringFixed(2),
		journal.Quantity, strings.TrimSpace(journal.CoverURL), now,
	)
	saved, err := scanJournal(row)
	if err != nil {
		return domain.Journal{}, translateError("journals.insert", err)
	}
	return saved, nil
}

// Update overwrites journal fields, including the stock counter.
func (r *JournalRepository) Update(ctx context.Context, journal domain.Journal) (domain.Journal, error) {
	row := r.store.db.QueryRowContext(ctx, `
		UPDATE journals
		SET title = $2, description = $3, price = $4, quantity = $5, cover_url = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+journalColumns,
		journal.ID, strings.TrimSpace(journal.Title), journal.Description,
		journal.Price.StringFixed(2), journal.Quantity, strings.TrimSpace(journal.CoverURL), r.store.now(),
	)
	saved, err := scanJournal(row)
	if err != nil {
		return domain.Journal{}, translateError("journals.update", err)
	}
	return saved, nil
}

// Delete removes a journal from the catalog.
func (r *JournalRepository) Delete(ctx context.Context, journalID int64) error {
	res, err := r.store.db.ExecContext(ctx, `DELETE FROM journals WHERE id = $1`, journalID)
	if err != nil {
		return translateError("journals.delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return translateError("journals.delete", err)
	}
	if affected == 0 {
		return repositories.NewStoreError("journals.delete", repositories.StoreErrorNotFound, "journal not found", sql.ErrNoRows)
	}
	return nil
}

// FindByID loads a single journal.
func (r *JournalRepository) FindByID(ctx context.Context, journalID int64) (domain.Journal, error) {
	row := r.store.db.QueryRowContext(ctx, `SELECT `+journalColumns+` FROM journals WHERE id = $1`, journalID)
	journal, err := scanJournal(row)
	if err != nil {
		return domain.Journal{}, translateError("journals.find", err)
	}
	return journal, nil
}

// List returns the catalog ordered by id.
func (r *JournalRepository) List(ctx context.Context) ([]domain.Journal, error) {
	rows, err := r.store.db.QueryContext(ctx, `SELECT `+journalColumns+` FROM journals ORDER BY id`)
	if err != nil {
		return nil, translateError("journals.list", err)
	}
	defer rows.Close()

	var journals []domain.Journal
	for rows.Next() {
		journal, err := scanJournal(rows)
		if err != nil {
			return nil, translateError("journals.list", err)
		}
		journals = append(journals, journal)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError("journals.list", err)
	}
	return journals, nil
}

// Reserve decrements stock only when enough copies remain. The condition and
// the decrement execute as one statement, so concurrent reservations cannot
// oversell.
func (r *JournalRepository) Reserve(ctx context.Context, journalID int64, quantity int) (bool, error) {
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE journals
		SET quantity = quantity - $2, updated_at = $3
		WHERE id = $1 AND quantity >= $2`,
		journalID, quantity, r.store.now(),
	)
	if err != nil {
		return false, translateError("journals.reserve", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, translateError("journals.reserve", err)
	}
	return affected > 0, nil
}

// Release returns reserved copies to stock.
func (r *JournalRepository) Release(ctx context.Context, journalID int64, quantity int) error {
	res, err := r.store.db.ExecContext(ctx, `
		UPDATE journals
		SET quantity = quantity + $2, updated_at = $3
		WHERE id = $1`,
		journalID, quantity, r.store.now(),
	)
	if err != nil {
		return translateError("journals.release", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return translateError("journals.release", err)
	}
	if affected == 0 {
		return repositories.NewStoreError("journals.release", repositories.StoreErrorNotFound, "journal not found", sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJournal(row rowScanner) (domain.Journal, error) {
	var (
		journal domain.Journal
		price   string
	)
	if err := row.Scan(
		&journal.ID, &journal.Title, &journal.Description, &price,
		&journal.Quantity, &journal.CoverURL, &journal.CreatedAt, &journal.UpdatedAt,
	); err != nil {
		return domain.Journal{}, err
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Journal{}, err
	}
	journal.Price = parsed
	return journal, nil
}
