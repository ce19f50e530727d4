package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fluxpay/fluxpay/internal/platform/httpx"
)

// BatchEnqueuer submits a batch for background processing and returns the
// queued task id. Implemented by the jobs client.
type BatchEnqueuer interface {
	EnqueueBatch(ctx context.Context, reqs []Request) (string, error)
}

// Handler exposes the transfer API over HTTP.
type Handler struct {
	orchestrator *Orchestrator
	repo         Repository
	queue        BatchEnqueuer
	logger       *slog.Logger
	validator    *validator.Validate
}

// NewHandler constructs the HTTP handler. queue may be nil when the async
// batch endpoint is not wired.
func NewHandler(orchestrator *Orchestrator, repo Repository, queue BatchEnqueuer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orchestrator: orchestrator,
		repo:         repo,
		queue:        queue,
		logger:       logger,
		validator:    validator.New(),
	}
}

// Routes mounts the transfer endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/transfers", h.processSingle)
	r.Post("/transfers/batch", h.processBatch)
	r.Post("/transfers/batch/file", h.processBatchFile)
	r.Post("/transfers/batch/async", h.enqueueBatch)
	r.Post("/accounts", h.createAccount)
	r.Get("/accounts/{id}", h.getAccount)
	r.Get("/accounts/{id}/entries", h.listEntries)
}

type legPayload struct {
	AccountID string `json:"account_id" validate:"required"`
	Currency  string `json:"currency" validate:"required,len=3"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
}

type transferPayload struct {
	EventID       string     `json:"event_id" validate:"required"`
	Source        legPayload `json:"source" validate:"required"`
	Destination   legPayload `json:"destination" validate:"required"`
	OperationDate *time.Time `json:"operation_date"`
}

func (p transferPayload) toRequest() Request {
	operationDate := time.Now()
	if p.OperationDate != nil {
		operationDate = *p.OperationDate
	}
	return Request{
		EventID:       p.EventID,
		Source:        Leg{AccountID: p.Source.AccountID, Currency: p.Source.Currency, Amount: p.Source.Amount},
		Destination:   Leg{AccountID: p.Destination.AccountID, Currency: p.Destination.Currency, Amount: p.Destination.Amount},
		OperationDate: operationDate,
	}
}

type batchPayload struct {
	Transfers []transferPayload `json:"transfers" validate:"required,min=1,dive"`
}

type accountPayload struct {
	ID       string `json:"id"`
	Balance  int64  `json:"balance" validate:"gte=0"`
	Currency string `json:"currency" validate:"required,len=3"`
}

func (h *Handler) processSingle(w http.ResponseWriter, r *http.Request) {
	var payload transferPayload
	if !h.decode(w, r, &payload) {
		return
	}
	outcome := h.orchestrator.ProcessSingle(r.Context(), payload.toRequest())
	httpx.JSON(w, outcomeStatusCode(outcome.Status), outcome)
}

func (h *Handler) processBatch(w http.ResponseWriter, r *http.Request) {
	var payload batchPayload
	if !h.decode(w, r, &payload) {
		return
	}
	reqs := make([]Request, len(payload.Transfers))
	for i, t := range payload.Transfers {
		reqs[i] = t.toRequest()
	}
	summary := h.orchestrator.ProcessBatch(r.Context(), reqs)
	httpx.JSON(w, http.StatusOK, summary)
}

// processBatchFile accepts a multipart upload whose "file" field holds a JSON
// array of transfers and runs it as one synchronous batch.
func (h *Handler) processBatchFile(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", `multipart field "file" required`)
		return
	}
	defer file.Close()

	var transfers []transferPayload
	if err := json.NewDecoder(file).Decode(&transfers); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "file is not a valid JSON transfer array")
		return
	}
	payload := batchPayload{Transfers: transfers}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	reqs := make([]Request, len(payload.Transfers))
	for i, t := range payload.Transfers {
		reqs[i] = t.toRequest()
	}
	summary := h.orchestrator.ProcessBatch(r.Context(), reqs)
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "queue unavailable", "async processing is not available")
		return
	}
	var payload batchPayload
	if !h.decode(w, r, &payload) {
		return
	}
	reqs := make([]Request, len(payload.Transfers))
	for i, t := range payload.Transfers {
		reqs[i] = t.toRequest()
	}
	taskID, err := h.queue.EnqueueBatch(r.Context(), reqs)
	if err != nil {
		h.logger.Error("enqueue batch", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "could not enqueue batch")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{
		"task_id": taskID,
		"total":   len(reqs),
	})
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var payload accountPayload
	if !h.decode(w, r, &payload) {
		return
	}
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	account := &Account{ID: payload.ID, Balance: payload.Balance, Currency: payload.Currency}
	if err := h.repo.CreateAccount(r.Context(), account); err != nil {
		if errors.Is(err, ErrAccountExists) {
			httpx.Problem(w, http.StatusConflict, "conflict", "account already exists")
			return
		}
		h.logger.Error("create account", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "could not create account")
		return
	}
	httpx.JSON(w, http.StatusCreated, accountResponse(account))
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	account, err := h.repo.GetAccount(r.Context(), id)
	if err != nil {
		var notFound *AccountNotFoundError
		if errors.As(err, &notFound) {
			httpx.Problem(w, http.StatusNotFound, "not found", "account not found")
			return
		}
		h.logger.Error("get account", slog.String("account_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "could not load account")
		return
	}
	httpx.JSON(w, http.StatusOK, accountResponse(account))
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entries, err := h.repo.ListEntries(r.Context(), id)
	if err != nil {
		h.logger.Error("list entries", slog.String("account_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "internal error", "could not load entries")
		return
	}
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{
			"id":             e.ID,
			"account_id":     e.AccountID,
			"event_id":       e.EventID,
			"currency":       e.Currency,
			"amount":         e.Amount,
			"balance_after":  e.BalanceAfter,
			"type":           e.Type,
			"status":         e.Status,
			"operation_date": e.OperationDate,
			"processed_at":   e.ProcessedAt,
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", "request body is not valid JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

func accountResponse(a *Account) map[string]any {
	return map[string]any{
		"id":       a.ID,
		"balance":  a.Balance,
		"currency": a.Currency,
		"version":  a.Version,
	}
}

func outcomeStatusCode(status Status) int {
	switch status {
	case StatusSuccess, StatusAlreadyProcessed:
		return http.StatusOK
	case StatusAlreadyProcessing:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
