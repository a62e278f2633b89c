package app

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"parley/cmd/internal/auth"
	"parley/cmd/internal/realtime"
)

// otpHandler serves the phone sign-in flow.
type otpHandler struct {
	log *slog.Logger
	svc *auth.Service

	limit  int
	window time.Duration

	mu       sync.Mutex
	limiters map[string]*realtime.RateLimiter
}

type otpRequest struct {
	DialCode    string `json:"dial_code"`
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
}

type otpVerifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	OTP         string `json:"otp"`
	Name        string `json:"name"`
}

type meResponse struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	DisplayName string    `json:"display_name"`
	Phone       string    `json:"phone"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func newOTPHandler(log *slog.Logger, svc *auth.Service, limit int, window time.Duration) *otpHandler {
	return &otpHandler{
		log:      log,
		svc:      svc,
		limit:    limit,
		window:   window,
		limiters: make(map[string]*realtime.RateLimiter),
	}
}

func (h *otpHandler) register(mux *http.ServeMux, authed func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /auth/otp/request", h.handleRequest)
	mux.HandleFunc("POST /auth/otp/verify", h.handleVerify)
	mux.Handle("GET /me", authed(http.HandlerFunc(h.handleMe)))
}

func (h *otpHandler) handleRequest(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	if wait, ok := h.allow(clientIP(r), now); !ok {
		writeRateLimited(w, wait)
		return
	}

	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c, err := h.svc.RequestOTP(req.DialCode, req.Phone, req.CountryCode)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *otpHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	issued, err := h.svc.VerifyOTP(req.ChallengeID, req.OTP, req.Name)
	if err != nil {
		h.writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}

func (h *otpHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	c, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not signed in")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:      c.UserID,
		SessionID:   c.SessionID,
		DisplayName: c.DisplayName,
		Phone:       c.Phone,
		ExpiresAt:   c.ExpiresAt,
	})
}

func (h *otpHandler) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case auth.IsValidation(err):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, auth.ErrChallengeNotFound):
		writeError(w, http.StatusNotFound, "challenge_not_found", "challenge not found or expired")
	default:
		h.log.Error("http.auth.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// allow applies the per-address OTP request window. Idle limiters are
// pruned once the table grows.
func (h *otpHandler) allow(key string, now time.Time) (time.Duration, bool) {
	if h.limit <= 0 {
		return 0, true
	}

	h.mu.Lock()
	if len(h.limiters) > 1024 {
		for k, l := range h.limiters {
			if l.Idle(now) {
				delete(h.limiters, k)
			}
		}
	}
	l, ok := h.limiters[key]
	if !ok {
		l = realtime.NewRateLimiter(h.limit, h.window)
		h.limiters[key] = l
	}
	h.mu.Unlock()

	if l.Allow(now) {
		return 0, true
	}
	return l.RetryAfter(now), false
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
