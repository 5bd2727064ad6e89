package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/guregu/null/v6"
	"github.com/krobus00/composite-order-service/internal/cache"
	"github.com/krobus00/composite-order-service/internal/config"
	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/krobus00/composite-order-service/internal/service/composite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const maxRequestBodyBytes = 1 << 20

type errorResponse struct {
	Error     string      `json:"error"`
	RequestID null.String `json:"request_id"`
}

// PriceFeeder is implemented by the paper exchange.
type PriceFeeder interface {
	SetPrice(symbol string, price decimal.Decimal) int
}

// EventHistory reads the lifecycle journal.
type EventHistory interface {
	GetByCompositeID(ctx context.Context, compositeID string) ([]entity.CompositeOrderEventRecord, error)
}

// SnapshotCache reads snapshots published to the shared cache.
type SnapshotCache interface {
	Load(ctx context.Context, kind entity.CompositeKind, compositeID string) (cache.StoredSnapshot, bool, error)
}

type EventHistoryItem struct {
	EventID    string          `json:"event_id"`
	Kind       string          `json:"kind"`
	EventType  string          `json:"event_type"`
	Symbol     string          `json:"symbol"`
	Status     string          `json:"status"`
	Message    null.String     `json:"message"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Handler struct {
	grid      *composite.GridService
	oco       *composite.OCOService
	twap      *composite.TWAPService
	paper     PriceFeeder
	history   EventHistory
	snapshots SnapshotCache
	apiKeys   []config.APIKeyConfig
	now       func() time.Time
}

func NewCompositeHTTPHandler(grid *composite.GridService, oco *composite.OCOService, twap *composite.TWAPService, apiKeys []config.APIKeyConfig) *Handler {
	return &Handler{
		grid:    grid,
		oco:     oco,
		twap:    twap,
		apiKeys: apiKeys,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithPriceFeeder enables the paper price route.
func (h *Handler) WithPriceFeeder(feeder PriceFeeder) *Handler {
	h.paper = feeder
	return h
}

func (h *Handler) WithEventHistory(history EventHistory) *Handler {
	h.history = history
	return h
}

func (h *Handler) WithSnapshotCache(snapshots SnapshotCache) *Handler {
	h.snapshots = snapshots
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /composite/v1/grid", h.authenticated(h.CreateGrid))
	mux.HandleFunc("GET /composite/v1/grid", h.authenticated(h.ListGrid))
	mux.HandleFunc("GET /composite/v1/grid/{id}", h.authenticated(h.GetGrid))
	mux.HandleFunc("GET /composite/v1/grid/{id}/performance", h.authenticated(h.GetGridPerformance))
	mux.HandleFunc("DELETE /composite/v1/grid/{id}", h.authenticated(h.CancelGrid))

	mux.HandleFunc("POST /composite/v1/oco", h.authenticated(h.CreateOCO))
	mux.HandleFunc("POST /composite/v1/oco/bracket", h.authenticated(h.CreateBracket))
	mux.HandleFunc("GET /composite/v1/oco", h.authenticated(h.ListOCO))
	mux.HandleFunc("GET /composite/v1/oco/{id}", h.authenticated(h.GetOCO))
	mux.HandleFunc("DELETE /composite/v1/oco/{id}", h.authenticated(h.CancelOCO))

	mux.HandleFunc("POST /composite/v1/twap", h.authenticated(h.CreateTWAP))
	mux.HandleFunc("GET /composite/v1/twap", h.authenticated(h.ListTWAP))
	mux.HandleFunc("GET /composite/v1/twap/{id}", h.authenticated(h.GetTWAP))
	mux.HandleFunc("DELETE /composite/v1/twap/{id}", h.authenticated(h.CancelTWAP))

	if h.paper != nil {
		mux.HandleFunc("PUT /composite/v1/paper/{symbol}/price", h.authenticated(h.SetPaperPrice))
	}
	if h.history != nil {
		mux.HandleFunc("GET /composite/v1/events/{id}", h.authenticated(h.ListEvents))
	}
	if h.snapshots != nil {
		mux.HandleFunc("GET /composite/v1/snapshots/{kind}/{id}", h.authenticated(h.GetCachedSnapshot))
	}
}

func (h *Handler) CreateGrid(w http.ResponseWriter, r *http.Request) {
	var body GridOrderRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toEntity()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	snapshot, err := h.grid.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (h *Handler) ListGrid(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.grid.ListActive())
}

func (h *Handler) GetGrid(w http.ResponseWriter, r *http.Request) {
	status, err := h.grid.Status(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) GetGridPerformance(w http.ResponseWriter, r *http.Request) {
	performance, err := h.grid.Performance(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, performance)
}

func (h *Handler) CancelGrid(w http.ResponseWriter, r *http.Request) {
	status, err := h.grid.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) CreateOCO(w http.ResponseWriter, r *http.Request) {
	var body OCOOrderRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toEntity()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	snapshot, err := h.oco.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (h *Handler) CreateBracket(w http.ResponseWriter, r *http.Request) {
	var body BracketOrderRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toEntity()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	bracket, err := h.oco.CreateBracket(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bracket)
}

func (h *Handler) ListOCO(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.oco.ListActive(r.Context()))
}

func (h *Handler) GetOCO(w http.ResponseWriter, r *http.Request) {
	status, err := h.oco.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) CancelOCO(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.oco.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) CreateTWAP(w http.ResponseWriter, r *http.Request) {
	var body TWAPOrderRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req, err := body.toEntity()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	snapshot, err := h.twap.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (h *Handler) ListTWAP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.twap.ListActive())
}

func (h *Handler) GetTWAP(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.twap.Status(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) CancelTWAP(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.twap.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) SetPaperPrice(w http.ResponseWriter, r *http.Request) {
	var body PaperPriceRequest
	if !decodeBody(w, r, &body) {
		return
	}
	price, err := decimal.NewFromString(strings.TrimSpace(body.Price))
	if err != nil || !price.IsPositive() {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid price"))
		return
	}

	symbol := strings.ToUpper(r.PathValue("symbol"))
	matched := h.paper.SetPrice(symbol, price)
	writeJSON(w, http.StatusOK, PaperPriceResponse{
		Symbol:        symbol,
		Price:         price,
		OrdersMatched: matched,
	})
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.GetByCompositeID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if len(records) == 0 {
		writeError(w, r, http.StatusNotFound, composite.ErrNotFound)
		return
	}

	items := make([]EventHistoryItem, 0, len(records))
	for _, record := range records {
		items = append(items, EventHistoryItem{
			EventID:    record.EventID,
			Kind:       record.Kind,
			EventType:  record.EventType,
			Symbol:     record.Symbol,
			Status:     record.Status,
			Message:    record.Message,
			Snapshot:   json.RawMessage(record.Snapshot),
			OccurredAt: record.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetCachedSnapshot(w http.ResponseWriter, r *http.Request) {
	kind := entity.CompositeKind(strings.ToUpper(r.PathValue("kind")))
	switch kind {
	case entity.CompositeKindGrid, entity.CompositeKindOCO, entity.CompositeKindTWAP:
	default:
		writeError(w, r, http.StatusBadRequest, errors.New("unknown composite kind"))
		return
	}

	stored, ok, err := h.snapshots.Load(r.Context(), kind, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, composite.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid json body"))
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, composite.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err)
	case errors.Is(err, composite.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err)
	case errors.Is(err, composite.ErrNotActive):
		writeError(w, r, http.StatusConflict, err)
	case errors.Is(err, composite.ErrGateway),
		errors.Is(err, composite.ErrLegPlacementFailed),
		errors.Is(err, composite.ErrNoLevelsPlaced):
		writeError(w, r, http.StatusBadGateway, err)
	default:
		logrus.WithField("path", r.URL.Path).WithError(err).Error("unhandled composite order error")
		writeError(w, r, http.StatusInternalServerError, errors.New("internal server error"))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = w.Header().Get("X-Request-Id")
	}
	writeJSON(w, code, errorResponse{
		Error:     err.Error(),
		RequestID: null.NewString(requestID, requestID != ""),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
