// Package api provides the HTTP handlers for admitting signals, driving
// their lifecycle, and reading positions, the audit trail and the account.
//
// All monetary values use shopspring/decimal, never float64.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tradeassist/signal-engine/internal/interpret"
	"github.com/tradeassist/signal-engine/internal/lifecycle"
	"github.com/tradeassist/signal-engine/internal/model"
	"github.com/tradeassist/signal-engine/internal/voice"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler serves the /api/v1 routes on top of one lifecycle engine.
type Handler struct {
	engine  *lifecycle.Engine
	interp  *interpret.Interpreter
	voice   *voice.Dispatcher
	balance lifecycle.BalanceSource
	log     zerolog.Logger
}

// NewHandler creates the API handler. interp, dispatcher and balance may be
// nil; the routes that need them then answer 503.
func NewHandler(engine *lifecycle.Engine, interp *interpret.Interpreter, dispatcher *voice.Dispatcher, balance lifecycle.BalanceSource, log zerolog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		interp:  interp,
		voice:   dispatcher,
		balance: balance,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Routes registers the handler's endpoints on r, which is expected to be
// mounted at /api/v1.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/signals", h.ListSignals)
	r.Post("/signals", h.CreateSignal)
	r.Post("/signals/ingest", h.IngestSignal)
	r.Get("/signals/{id}", h.GetSignal)
	r.Post("/signals/{id}/confirm", h.ConfirmSignal)
	r.Post("/signals/{id}/cancel", h.CancelSignal)
	r.Post("/signals/{id}/execute", h.ExecuteSignal)

	r.Get("/positions", h.ListPositions)
	r.Post("/positions/{id}/close", h.ClosePosition)
	r.Post("/kill-switch", h.KillSwitch)

	r.Get("/logs", h.ListLogs)

	r.Get("/account", h.GetAccount)
	r.Put("/account", h.UpdateAccount)
	r.Post("/account/sync", h.SyncAccount)

	r.Post("/voice", h.Voice)
}

// --- Request/Response types ---

// SignalRequest is the JSON body for POST /signals.
type SignalRequest struct {
	ParentID    string            `json:"parent_id"`
	Kind        model.Kind        `json:"kind"` // NEW (default), UPDATE or CLOSE
	Pair        string            `json:"pair"` // BTCUSDT, BTC/USDT, btc-usdt
	Direction   model.Direction   `json:"direction"`
	EntryPrices []decimal.Decimal `json:"entry_prices"`
	StopLoss    decimal.Decimal   `json:"stop_loss"`
	TakeProfits []decimal.Decimal `json:"take_profits"`
	Leverage    decimal.Decimal   `json:"leverage"` // 0 → 1
	Source      string            `json:"source"`
	Notes       string            `json:"notes"`
}

// IngestRequest is the JSON body for POST /signals/ingest.
type IngestRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// AccountRequest is the JSON body for PUT /account.
type AccountRequest struct {
	lifecycle.ProfileUpdate
	ExecutionMode *model.ExecutionMode `json:"execution_mode,omitempty"`
}

// AccountResponse is the account profile plus the engine execution mode.
type AccountResponse struct {
	model.AccountProfile
	ExecutionMode model.ExecutionMode `json:"execution_mode"`
}

// VoiceRequest is the JSON body for POST /voice. A structured Command skips
// transcript interpretation.
type VoiceRequest struct {
	Transcript string             `json:"transcript"`
	Command    *interpret.Command `json:"command,omitempty"`
}

// KillSwitchResponse is the JSON body returned from POST /kill-switch.
type KillSwitchResponse struct {
	Closed int `json:"closed"`
}

// --- HTTP Handlers ---

// ListSignals handles GET /api/v1/signals. ?status= filters by status.
func (h *Handler) ListSignals(w http.ResponseWriter, r *http.Request) {
	signals := h.engine.Signals()
	if status := strings.ToUpper(r.URL.Query().Get("status")); status != "" {
		if !model.Status(status).Valid() {
			writeError(w, "unknown status "+status, http.StatusBadRequest)
			return
		}
		filtered := signals[:0]
		for _, s := range signals {
			if s.Status == model.Status(status) {
				filtered = append(filtered, s)
			}
		}
		signals = filtered
	}
	writeJSON(w, http.StatusOK, signals)
}

// GetSignal handles GET /api/v1/signals/{id}
func (h *Handler) GetSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := h.engine.Signal(chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// CreateSignal handles POST /api/v1/signals with a structured candidate.
func (h *Handler) CreateSignal(w http.ResponseWriter, r *http.Request) {
	var req SignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	sig, err := h.engine.Admit(r.Context(), &model.Signal{
		ParentID:    req.ParentID,
		Kind:        model.Kind(strings.ToUpper(string(req.Kind))),
		Pair:        req.Pair,
		Direction:   model.Direction(strings.ToUpper(string(req.Direction))),
		EntryPrices: req.EntryPrices,
		StopLoss:    req.StopLoss,
		TakeProfits: req.TakeProfits,
		Leverage:    req.Leverage,
		Source:      source,
		Notes:       req.Notes,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

// IngestSignal handles POST /api/v1/signals/ingest: raw alert text is
// interpreted and the result admitted.
func (h *Handler) IngestSignal(w http.ResponseWriter, r *http.Request) {
	if h.interp == nil {
		writeError(w, "interpreter not configured", http.StatusServiceUnavailable)
		return
	}
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	candidate, err := h.interp.Signal(r.Context(), req.Text)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	candidate.Source = req.Source
	if candidate.Source == "" {
		candidate.Source = "telegram"
	}
	sig, err := h.engine.Admit(r.Context(), candidate)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sig)
}

// ConfirmSignal handles POST /api/v1/signals/{id}/confirm?immediate=true|false
func (h *Handler) ConfirmSignal(w http.ResponseWriter, r *http.Request) {
	immediate := false
	if v := r.URL.Query().Get("immediate"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, "immediate must be a boolean", http.StatusBadRequest)
			return
		}
		immediate = b
	}
	sig, err := h.engine.Confirm(r.Context(), chi.URLParam(r, "id"), immediate)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// CancelSignal handles POST /api/v1/signals/{id}/cancel
func (h *Handler) CancelSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := h.engine.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// ExecuteSignal handles POST /api/v1/signals/{id}/execute
func (h *Handler) ExecuteSignal(w http.ResponseWriter, r *http.Request) {
	sig, err := h.engine.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// ListPositions handles GET /api/v1/positions
func (h *Handler) ListPositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Positions())
}

// ClosePosition handles POST /api/v1/positions/{id}/close
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	sig, err := h.engine.ClosePosition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// KillSwitch handles POST /api/v1/kill-switch: every open position and armed
// entry is closed.
func (h *Handler) KillSwitch(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.CloseAll(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.log.Warn().Int("closed", n).Msg("kill switch activated")
	writeJSON(w, http.StatusOK, KillSwitchResponse{Closed: n})
}

// ListLogs handles GET /api/v1/logs. ?limit=N returns the newest N entries.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	logs := h.engine.Logs()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if n < len(logs) {
			logs = logs[len(logs)-n:]
		}
	}
	writeJSON(w, http.StatusOK, logs)
}

// GetAccount handles GET /api/v1/account
func (h *Handler) GetAccount(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.account())
}

// UpdateAccount handles PUT /api/v1/account. Omitted fields are kept.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExecutionMode != nil && !req.ExecutionMode.Valid() {
		writeError(w, "execution_mode must be MANUAL or ASSISTED", http.StatusUnprocessableEntity)
		return
	}

	u := req.ProfileUpdate
	if u.FuturesBalance != nil || u.RiskPercent != nil || u.SessionStatus != nil {
		if _, err := h.engine.UpdateProfile(r.Context(), u); err != nil {
			h.writeEngineError(w, err)
			return
		}
	}
	if req.ExecutionMode != nil && *req.ExecutionMode != h.engine.ExecutionMode() {
		if err := h.engine.SetExecutionMode(r.Context(), *req.ExecutionMode); err != nil {
			h.writeEngineError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.account())
}

// SyncAccount handles POST /api/v1/account/sync
func (h *Handler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	if h.balance == nil {
		writeError(w, "balance source not configured", http.StatusServiceUnavailable)
		return
	}
	if _, err := h.engine.SyncBalance(r.Context(), h.balance); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.account())
}

// Voice handles POST /api/v1/voice: a transcript (or structured command) is
// dispatched onto the engine.
func (h *Handler) Voice(w http.ResponseWriter, r *http.Request) {
	if h.voice == nil {
		writeError(w, "voice control not configured", http.StatusServiceUnavailable)
		return
	}
	var req VoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var cmd interpret.Command
	switch {
	case req.Command != nil:
		cmd = *req.Command
		cmd.Name = interpret.CommandName(strings.ToUpper(string(cmd.Name)))
	case h.interp != nil:
		var err error
		cmd, err = h.interp.Command(r.Context(), req.Transcript)
		if err != nil {
			h.writeEngineError(w, err)
			return
		}
	default:
		writeError(w, "interpreter not configured", http.StatusServiceUnavailable)
		return
	}

	reply, err := h.voice.Dispatch(r.Context(), cmd)
	if err != nil {
		if errors.Is(err, voice.ErrUnknownCommand) {
			writeJSON(w, http.StatusUnprocessableEntity, reply)
			return
		}
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","service":"signal-engine"}`))
}

func (h *Handler) account() AccountResponse {
	return AccountResponse{AccountProfile: h.engine.Profile(), ExecutionMode: h.engine.ExecutionMode()}
}

// writeEngineError maps engine and interpreter rejections onto status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrInvalidSession),
		errors.Is(err, lifecycle.ErrSizeTooLarge):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, lifecycle.ErrInvalidSignal),
		errors.Is(err, lifecycle.ErrInvalidProfile),
		errors.Is(err, interpret.ErrNoSignal):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, interpret.ErrModelUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
