package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/logger"
	"repairpos/backend/internal/metrics"
	"repairpos/backend/internal/service"
	"repairpos/backend/internal/xid"
)

const rpcPrefix = "/rpc/"

type Options struct {
	AllowedOrigin string
	Logger        *zap.Logger
	Metrics       *metrics.Recorder
	// Location is the shop's local time zone, used for day ranges in cash
	// reports.
	Location *time.Location
}

type rpcHandler func(w http.ResponseWriter, r *http.Request, caller domain.Caller)

type API struct {
	engine        *service.Engine
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	validator     *validator.Validate
	logger        *zap.Logger
	metrics       *metrics.Recorder
	location      *time.Location
	rpcs          map[string]rpcHandler
}

func New(engine *service.Engine, auth *AuthManager, opts Options) *API {
	a := &API{
		engine:        engine,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		validator:     newValidator(),
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		location:      opts.Location,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.location == nil {
		a.location = time.FixedZone("ICT", 7*60*60)
	}
	a.rpcs = map[string]rpcHandler{
		"work_order_create_atomic":              a.rpcCreate,
		"work_order_update_atomic":              a.rpcUpdate,
		"work_order_complete_payment":           a.rpcCompletePayment,
		"work_order_refund_atomic":              a.rpcRefund,
		"work_order_get":                        a.rpcGet,
		"work_order_list":                       a.rpcList,
		"work_order_delete":                     a.rpcDelete,
		"work_order_movements":                  a.rpcMovements,
		"work_order_margin":                     a.rpcMargin,
		"work_order_record_debt":                a.rpcRecordDebt,
		"work_order_outsourcing_expense":        a.rpcOutsourcingExpense,
		"work_order_service_adjustment_expense": a.rpcAdjustmentExpense,
		"cash_balances":                         a.rpcCashBalances,
		"cash_transactions":                     a.rpcCashTransactions,
		"cash_book_export":                      a.rpcCashBookExport,
		"debts_list":                            a.rpcDebts,
		"user_create":                           a.rpcUserCreate,
		"user_list":                             a.rpcUserList,
	}
	return a
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc(rpcPrefix+"auth_login", a.handleLogin)
	mux.HandleFunc(rpcPrefix, a.requireAuth(a.handleRPC))

	return a.withMiddleware(mux)
}

type callerKey struct{}

func callerFrom(ctx context.Context) (domain.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(domain.Caller)
	return c, ok
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeAppError(w, r, apperr.Wrap(apperr.Unauthorized, errors.New("missing bearer token")))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		caller, err := a.auth.ParseToken(token)
		if err != nil {
			writeAppError(w, r, apperr.Wrap(apperr.Unauthorized, err))
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	}
}

func (a *API) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, rpcPrefix), "/")
	handler, ok := a.rpcs[name]
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown rpc "+name))
		return
	}
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeAppError(w, r, apperr.New(apperr.Unauthorized, nil))
		return
	}
	handler(w, r, caller)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, apperr.Wrap(apperr.InvalidInput, err))
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language, X-Request-ID")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Content-Disposition")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 64 {
			requestID = xid.New("req")
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx, reqLog := logger.WithRequestID(r.Context(), a.logger, requestID)
		r = r.WithContext(ctx)

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		a.metrics.HTTPRequest(a.routeLabel(r.URL.Path), strconv.Itoa(rec.status))
		reqLog.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(startedAt)))
	})
}

// routeLabel keeps the metrics label set bounded to known routes.
func (a *API) routeLabel(path string) string {
	switch path {
	case "/healthz", "/metrics", rpcPrefix + "auth_login":
		return path
	}
	if name := strings.TrimPrefix(path, rpcPrefix); name != path {
		if _, ok := a.rpcs[name]; ok {
			return path
		}
	}
	return "other"
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeParams reads and validates RPC params. An empty body means no
// params.
func decodeParams[T any](a *API, r *http.Request) (T, error) {
	var params T
	if err := decodeJSON(r, &params); err != nil && !errors.Is(err, io.EOF) {
		return params, apperr.Wrap(apperr.InvalidInput, err)
	}
	if err := a.validate(params); err != nil {
		return params, err
	}
	return params, nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// writeError writes a transport-level failure that never reached the engine.
func writeError(w http.ResponseWriter, status int, err error) {
	code := strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	writeJSON(w, status, map[string]any{
		"error": errorBody{Code: code, Message: err.Error()},
	})
}

// writeAppError writes a coded error with its message localized by
// Accept-Language. Details of 5xx responses stay in the logs.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	coded := apperr.From(err)
	status := apperr.HTTPStatus(coded.Code)
	body := errorBody{
		Code:    string(coded.Code),
		Message: apperr.Message(coded.Code, apperr.MatchLanguage(r.Header.Get("Accept-Language"))),
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", zap.String("code", body.Code), zap.Error(err))
	} else {
		body.Detail = coded.Detail
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
