package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid catalog fields.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the journal does not exist.
	ErrCatalogNotFound = errors.New("catalog: journal not found")
	// ErrCatalogUnavailable indicates catalog dependencies are currently unavailable.
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
)

// CatalogServiceDeps wires the dependencies required by the catalog service.
type CatalogServiceDeps struct {
	Journals repositories.JournalRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	journals repositories.JournalRepository
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewCatalogService constructs a CatalogService validating required dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Journals == nil {
		return nil, errors.New("catalog service: journal repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		journals: deps.Journals,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ListJournals returns the catalog.
func (s *catalogService) ListJournals(ctx context.Context) ([]domain.Journal, error) {
	journals, err := s.journals.List(ctx)
	if err != nil {
		return nil, s.translateStoreError(err)
	}
	return journals, nil
}

// GetJournal loads a single journal.
func (s *catalogService) GetJournal(ctx context.Context, journalID int64) (domain.Journal, error) {
	if journalID <= 0 {
		return domain.Journal{}, ErrCatalogInvalidInput
	}
	journal, err := s.journals.FindByID(ctx, journalID)
	if err != nil {
		return domain.Journal{}, s.translateStoreError(err)
	}
	return journal, nil
}

// CreateJournal adds a back issue to the catalog.
func (s *catalogService) CreateJournal(ctx context.Context, cmd JournalCommand) (domain.Journal, error) {
	cmd = normalizeJournalCommand(cmd)
	if err := validateJournalCommand(cmd); err != nil {
		return domain.Journal{}, err
	}

	now := s.now()
	journal, err := s.journals.Insert(ctx, domain.Journal{
		Title:       cmd.Title,
		Description: cmd.Description,
		Price:       cmd.Price,
		Quantity:    cmd.Quantity,
		CoverURL:    cmd.CoverURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.Journal{}, s.translateStoreError(err)
	}

	s.logger(ctx, "catalog.journal_created", map[string]any{
		"journalId": journal.ID,
		"title":     journal.Title,
	})
	return journal, nil
}

// UpdateJournal overwrites catalog fields, including the stock counter.
func (s *catalogService) UpdateJournal(ctx context.Context, journalID int64, cmd JournalCommand) (domain.Journal, error) {
	if journalID <= 0 {
		return domain.Journal{}, ErrCatalogInvalidInput
	}
	cmd = normalizeJournalCommand(cmd)
	if err := validateJournalCommand(cmd); err != nil {
		return domain.Journal{}, err
	}

	journal, err := s.journals.Update(ctx, domain.Journal{
		ID:          journalID,
		Title:       cmd.Title,
		Description: cmd.Description,
		Price:       cmd.Price,
		Quantity:    cmd.Quantity,
		CoverURL:    cmd.CoverURL,
		UpdatedAt:   s.now(),
	})
	if err != nil {
		return domain.Journal{}, s.translateStoreError(err)
	}

	s.logger(ctx, "catalog.journal_updated", map[string]any{"journalId": journalID})
	return journal, nil
}

// DeleteJournal removes a back issue from the catalog.
func (s *catalogService) DeleteJournal(ctx context.Context, journalID int64) error {
	if journalID <= 0 {
		return ErrCatalogInvalidInput
	}
	if err := s.journals.Delete(ctx, journalID); err != nil {
		return s.translateStoreError(err)
	}
	s.logger(ctx, "catalog.journal_deleted", map[string]any{"journalId": journalID})
	return nil
}

func (s *catalogService) translateStoreError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrCatalogNotFound
		}
		return ErrCatalogUnavailable
	}
	return ErrCatalogUnavailable
}

func normalizeJournalCommand(cmd JournalCommand) JournalCommand {
	cmd.Title = strings.TrimSpace(cmd.Title)
	cmd.Description = strings.TrimSpace(cmd.Description)
	cmd.CoverURL = strings.TrimSpace(cmd.CoverURL)
	return cmd
}

func validateJournalCommand(cmd JournalCommand) error {
	if cmd.Title == "" || cmd.Quantity < 0 || !cmd.Price.IsPositive() {
		return ErrCatalogInvalidInput
	}
	return nil
}
