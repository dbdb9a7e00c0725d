package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iglaboq/shop/internal/domain"
	"github.com/iglaboq/shop/internal/platform/httpx"
	"github.com/iglaboq/shop/internal/services"
)

const maxJournalBodySize = 16 * 1024

type journalPayload struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Quantity    int    `json:"quantity"`
	CoverURL    string `json:"cover_url,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type journalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       string `json:"price"`
	Quantity    int    `json:"quantity"`
	CoverURL    string `json:"cover_url"`
}

// CatalogHandlers exposes the back-issue catalog endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs a CatalogHandlers instance.
func NewCatalogHandlers(catalog services.CatalogService) (*CatalogHandlers, error) {
	if catalog == nil {
		return nil, errors.New("catalog handlers: catalog service is required")
	}
	return &CatalogHandlers{catalog: catalog}, nil
}

// Routes registers the /journals endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listJournals)
	r.Post("/", h.createJournal)
	r.Get("/{journalID}", h.getJournal)
	r.Put("/{journalID}", h.updateJournal)
	r.Delete("/{journalID}", h.deleteJournal)
}

func (h *CatalogHandlers) listJournals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	journals, err := h.catalog.ListJournals(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]journalPayload, 0, len(journals))
	for _, journal := range journals {
		items = append(items, journalToPayload(journal))
	}
	writeJSON(w, http.StatusOK, map[string]any{"journals": items})
}

func (h *CatalogHandlers) getJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	journalID, ok := journalIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	journal, err := h.catalog.GetJournal(ctx, journalID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, journalToPayload(journal))
}

func (h *CatalogHandlers) createJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cmd, ok := journalCommandFromRequest(ctx, w, r)
	if !ok {
		return
	}

	journal, err := h.catalog.CreateJournal(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, journalToPayload(journal))
}

func (h *CatalogHandlers) updateJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	journalID, ok := journalIDFromRequest(ctx, w, r)
	if !ok {
		return
	}
	cmd, ok := journalCommandFromRequest(ctx, w, r)
	if !ok {
		return
	}

	journal, err := h.catalog.UpdateJournal(ctx, journalID, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, journalToPayload(journal))
}

func (h *CatalogHandlers) deleteJournal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	journalID, ok := journalIDFromRequest(ctx, w, r)
	if !ok {
		return
	}

	if err := h.catalog.DeleteJournal(ctx, journalID); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func journalIDFromRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "journalID"))
	journalID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || journalID <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "journal id must be a positive integer", http.StatusBadRequest))
		return 0, false
	}
	return journalID, true
}

func journalCommandFromRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (services.JournalCommand, bool) {
	var req journalRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJournalBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return services.JournalCommand{}, false
	}

	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "price must be a decimal string", http.StatusBadRequest))
		return services.JournalCommand{}, false
	}

	return services.JournalCommand{
		Title:       req.Title,
		Description: req.Description,
		Price:       price,
		Quantity:    req.Quantity,
		CoverURL:    req.CoverURL,
	}, true
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("journal_not_found", "the requested journal does not exist", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "journal fields are missing or invalid", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog storage is temporarily unavailable", http.StatusServiceUnavailable))
	}
}

func journalToPayload(journal domain.Journal) journalPayload {
	return journalPayload{
		ID:          journal.ID,
		Title:       journal.Title,
		Description: journal.Description,
		Price:       journal.Price.StringFixed(2),
		Quantity:    journal.Quantity,
		CoverURL:    journal.CoverURL,
		CreatedAt:   journal.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   journal.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
