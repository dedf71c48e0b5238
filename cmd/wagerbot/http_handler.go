package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/fystack/community-bot/internal/economy"
	"github.com/fystack/community-bot/internal/wager"
	"github.com/fystack/community-bot/pkg/common/enum"
	"github.com/fystack/community-bot/pkg/common/logger"
	"github.com/fystack/community-bot/pkg/common/types"
	"github.com/fystack/community-bot/pkg/ratelimiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	headerUserID       = "X-User-ID"
	headerUserNickname = "X-User-Nickname"
	maxBodyBytes       = 1 << 16
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type APIErrorResponse struct {
	Status    string          `json:"status"`
	Kind      types.ErrorKind `json:"kind,omitempty"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

type openRoomRequest struct {
	Name string        `json:"name"`
	Mode enum.RoomMode `json:"mode"`
}

type roomRequest struct {
	RoomID string `json:"room_id"`
}

type betRequest struct {
	RoomID string `json:"room_id"`
	Amount int64  `json:"amount"`
}

type convertRequest struct {
	Amount int64 `json:"amount"`
}

type transferRequest struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

// BotHTTPHandler is the command surface the chat bridge calls. Caller
// identity arrives in headers; the bridge is trusted to set them.
type BotHTTPHandler struct {
	version string
	rooms   *wager.Manager
	economy *economy.Economy
	ledgers []string
	limiter *ratelimiter.PooledRateLimiter
}

func NewBotHTTPHandler(
	version string,
	rooms *wager.Manager,
	eco *economy.Economy,
	ledgers []string,
	limiter *ratelimiter.PooledRateLimiter,
) *BotHTTPHandler {
	return &BotHTTPHandler{
		version: version,
		rooms:   rooms,
		economy: eco,
		ledgers: ledgers,
		limiter: limiter,
	}
}

func (h *BotHTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /room", h.command(h.HandleRoomStatus))
	mux.HandleFunc("POST /room/open", h.command(h.HandleOpenRoom))
	mux.HandleFunc("POST /room/join", h.command(h.HandleJoin))
	mux.HandleFunc("POST /room/bet", h.command(h.HandleBet))
	mux.HandleFunc("POST /room/start", h.command(h.HandleStartDraw))
	mux.HandleFunc("POST /room/close", h.command(h.HandleCloseRoom))
	mux.HandleFunc("POST /room/retry", h.command(h.HandleRetrySettlement))

	mux.HandleFunc("GET /balance", h.command(h.HandleBalance))
	mux.HandleFunc("POST /convert", h.command(h.HandleConvert))
	mux.HandleFunc("POST /transfer", h.command(h.HandleTransfer))

	mux.HandleFunc("POST /admin/room/unlock", h.command(h.HandleForceUnlock))
	mux.HandleFunc("POST /admin/room/close", h.command(h.HandleForceClose))
}

type commandFunc func(w http.ResponseWriter, r *http.Request, caller types.User)

// command resolves the caller and applies the per-caller rate limit.
func (h *BotHTTPHandler) command(next commandFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := types.User{
			ID:       strings.TrimSpace(r.Header.Get(headerUserID)),
			Nickname: strings.TrimSpace(r.Header.Get(headerUserNickname)),
		}
		if caller.ID == "" || caller.Nickname == "" {
			writeDomainError(w, types.Errorf(types.KindInvalidRequest,
				"%s and %s headers are required", headerUserID, headerUserNickname))
			return
		}
		if h.limiter != nil && !h.limiter.TryAcquire(caller.ID) {
			writeDomainError(w, types.Errorf(types.KindRateLimited, "slow down, try again in a moment"))
			return
		}
		next(w, r, caller)
	}
}

func (h *BotHTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

func (h *BotHTTPHandler) HandleRoomStatus(w http.ResponseWriter, r *http.Request, caller types.User) {
	view, err := h.rooms.Status(r.Context(), strings.TrimSpace(r.URL.Query().Get("room_id")))
	respond(w, view, err)
}

func (h *BotHTTPHandler) HandleOpenRoom(w http.ResponseWriter, r *http.Request, caller types.User) {
	var req openRoomRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.rooms.OpenRoom(r.Context(), caller, req.Name, req.Mode)
	respond(w, view, err)
}

func (h *BotHTTPHandler) HandleJoin(w http.ResponseWriter, r *http.Request, caller types.User) {
	var req roomRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.rooms.Join(r.Context(), req.RoomID, caller)
	respond(w, view, err)
}

func (h *BotHTTPHandler) HandleBet(w http.ResponseWriter, r *http.Request, caller types.User) {
	var req betRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.rooms.PlaceBet(r.Context(), req.RoomID, caller, req.Amount)
	respond(w, res, err)
}

func (h *BotHTTPHandler) HandleStartDraw(w http.ResponseWriter, r *http.Request, caller types.User) {
	var req roomRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.rooms.StartDraw(r.Context(), req.RoomID, caller)
	respond(w, out, err)
}

func (h *BotHTTPHandler) HandleCloseRoom(w http.ResponseWriter, r *http.Request, caller types.User) {
	var req roomRequest
	if !decode(w, r, &req) {
		return
	}
	view, err := h.rooms.CloseRoom(r.Context(), req.RoomID, caller)
	respond(w, view, err)
}

func (h *BotHTTPHandler) HandleRetrySettlement(w http.ResponseWriter, r *http.Request, caller types.User) {
	var req roomRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.rooms.RetrySettlement(r.Context(), req.RoomID, caller)
	respond(w, out, err)
}

func (h *BotHTTPHandler) HandleBalance(w http.ResponseWriter, r *http.Request, caller types.User) {
	ledger := strings.TrimSpace(r.URL.Query().Get("ledger"))
	if ledger == "" {
		ledger = h.economy.GamblingLedger()
	}
	if !slices.Contains(h.ledgers, ledger) {
		writeDomainError(w, types.Errorf(types.KindInvalidRequest, "unknown ledger %q", ledger))
		return
	}
	balance, err := h.economy.Balance(r.Context(), ledger, caller.Nickname)
	respond(w, types.BalanceResult{Ledger: ledger, Nickname: caller.Nickname, NewBalance: balance}, err)
}

func (h *BotHTTPHandler) HandleConvert(w http.ResponseWriter, r *http.Request, caller types.User) {
	var req convertRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.economy.Convert(r.Context(), caller.Nickname, req.Amount)
	respond(w, res, err)
}

func (h *BotHTTPHandler) HandleTransfer(w http.ResponseWriter, r *http.Request, caller types.User) {
	var req transferRequest
	if !decode(w, r, &req) {
		return
	}
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		writeDomainError(w, types.Errorf(types.KindInvalidRequest, "a recipient nickname is required"))
		return
	}
	res, err := h.economy.Transfer(r.Context(), caller.Nickname, recipient, req.Amount)
	respond(w, res, err)
}

func (h *BotHTTPHandler) HandleForceUnlock(w http.ResponseWriter, r *http.Request, caller types.User) {
	view, err := h.rooms.ForceUnlock(r.Context(), caller)
	respond(w, view, err)
}

func (h *BotHTTPHandler) HandleForceClose(w http.ResponseWriter, r *http.Request, caller types.User) {
	view, err := h.rooms.ForceClose(r.Context(), caller)
	respond(w, view, err)
}

func startHTTPServer(port int, handler *BotHTTPHandler) *http.Server {
	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Wager HTTP server started",
			"port", port,
			"health_endpoint", "/health",
			"metrics_endpoint", "/metrics",
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed to start", "error", err)
		}
	}()

	return server
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeDomainError(w, types.Errorf(types.KindInvalidRequest, "malformed request body"))
		return false
	}
	return true
}

func respond(w http.ResponseWriter, payload any, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindInvalidAmount, types.KindInvalidRequest:
		return http.StatusBadRequest
	case types.KindNotOwner, types.KindNotAdmin:
		return http.StatusForbidden
	case types.KindNoActiveRoom, types.KindUnknownRecipient:
		return http.StatusNotFound
	case types.KindRoomAlreadyOpen, types.KindDrawInProgress:
		return http.StatusConflict
	case types.KindInsufficientFunds, types.KindTooFewParticipants, types.KindTooManyParticipants:
		return http.StatusUnprocessableEntity
	case types.KindRateLimited:
		return http.StatusTooManyRequests
	case types.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError renders err as {kind, message}. Raw internal text never
// reaches the response.
func writeDomainError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.Error("Command failed", "kind", kind, "err", err)
	}
	writeJSON(w, status, APIErrorResponse{
		Status:    "error",
		Kind:      kind,
		Error:     types.UserMessage(err),
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "status", statusCode, "err", err)
	}
}
