// Package service runs the work-order operations. Each mutating operation is
// one store transaction covering the order row, branch stock and cash rows.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"repairpos/backend/internal/apperr"
	"repairpos/backend/internal/cache"
	"repairpos/backend/internal/debt"
	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/gate"
	"repairpos/backend/internal/logger"
	"repairpos/backend/internal/metrics"
	"repairpos/backend/internal/store"
	"repairpos/backend/internal/xid"
)

const (
	opCreate          = "work_order_create_atomic"
	opUpdate          = "work_order_update_atomic"
	opCompletePayment = "work_order_complete_payment"
	opRefund          = "work_order_refund_atomic"
	opOutsourcing     = "work_order_outsourcing_expense"
	opAdjustment      = "work_order_service_adjustment_expense"
	opRecordDebt      = "work_order_record_debt"
	opDelete          = "work_order_delete"
)

type Options struct {
	DefaultBranchID     string
	OrderIDPrefix       string
	LowStockThreshold   int
	DeferStockOnDeposit bool
	ReplayTTL           time.Duration

	Gate    gate.Gate
	Replay  cache.ReplayCache
	Debts   *debt.Service
	Metrics *metrics.Recorder
	Logger  *zap.Logger
}

type Engine struct {
	repo    store.Repository
	opts    Options
	gate    gate.Gate
	replay  cache.ReplayCache
	debts   *debt.Service
	metrics *metrics.Recorder
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

func New(repo store.Repository, opts Options) *Engine {
	if opts.DefaultBranchID == "" {
		opts.DefaultBranchID = "HN"
	}
	if opts.OrderIDPrefix == "" {
		opts.OrderIDPrefix = "SC"
	}
	if opts.LowStockThreshold < 0 {
		opts.LowStockThreshold = 0
	}
	if opts.ReplayTTL <= 0 {
		opts.ReplayTTL = 24 * time.Hour
	}

	e := &Engine{
		repo:    repo,
		opts:    opts,
		gate:    opts.Gate,
		replay:  opts.Replay,
		debts:   opts.Debts,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		tracer:  otel.Tracer("repairpos/backend/internal/service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if e.gate == nil {
		e.gate = gate.NewMemory()
	}
	if e.replay == nil {
		e.replay = cache.NoopReplayCache{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.debts == nil {
		e.debts = debt.NewService(repo, "VN", e.logger)
	}
	return e
}

// begin opens the span for op. The returned func records the outcome and
// converts err into a coded error.
func (e *Engine) begin(ctx context.Context, op string, caller domain.Caller) (context.Context, func(err error, attrs ...attribute.KeyValue) error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("caller.user_id", caller.UserID),
		attribute.String("caller.branch_id", caller.BranchID),
	))

	return ctx, func(err error, attrs ...attribute.KeyValue) error {
		defer span.End()
		span.SetAttributes(attrs...)

		log := e.log(ctx).With(zap.String("operation", op), zap.String("user_id", caller.UserID))
		for _, a := range attrs {
			log = log.With(zap.String(string(a.Key), a.Value.Emit()))
		}
		elapsed := time.Since(started)

		if err == nil {
			e.metrics.ObserveOperation(op, "", elapsed)
			log.Info("operation completed", zap.Duration("elapsed", elapsed))
			return nil
		}

		coded := apperr.From(err)
		e.metrics.ObserveOperation(op, string(coded.Code), elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(coded.Code))

		switch coded.Category {
		case apperr.CategoryInfrastructure, apperr.CategoryUnknown:
			log.Error("operation failed", zap.String("code", string(coded.Code)), zap.Error(err))
		default:
			log.Warn("operation rejected", zap.String("code", string(coded.Code)), zap.Any("detail", coded.Detail))
		}
		return coded
	}
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	if logger.GetRequestID(ctx) != "" {
		return logger.FromContext(ctx)
	}
	return e.logger
}

// authorize checks that caller may act on branchID. Owners act on every
// branch.
func authorize(caller domain.Caller, branchID string) error {
	if caller.IsZero() {
		return apperr.New(apperr.Unauthorized, nil)
	}
	if caller.Role == domain.RoleOwner {
		return nil
	}
	if !strings.EqualFold(caller.BranchID, branchID) {
		return apperr.New(apperr.BranchMismatch, map[string]string{
			"callerBranchId": caller.BranchID,
			"branchId":       branchID,
		})
	}
	return nil
}

func requireRole(caller domain.Caller, roles ...string) error {
	for _, r := range roles {
		if caller.Role == r {
			return nil
		}
	}
	return apperr.New(apperr.Unauthorized, map[string]any{"requiredRoles": roles})
}

func (e *Engine) branchFor(caller domain.Caller, requested string) string {
	branch := strings.ToUpper(strings.TrimSpace(requested))
	if branch == "" {
		branch = strings.ToUpper(strings.TrimSpace(caller.BranchID))
	}
	if branch == "" {
		branch = e.opts.DefaultBranchID
	}
	return branch
}

// acquire takes the in-flight token for a form session, falling back to the
// client idempotency key.
func (e *Engine) acquire(ctx context.Context, session string, key string) (func(), error) {
	if session == "" {
		session = key
	}
	return e.gate.Acquire(ctx, session)
}

// cachedReplay decodes a cached result for key into out. Cache failures are
// treated as misses.
func (e *Engine) cachedReplay(ctx context.Context, key string, op string, out any) (string, bool) {
	if key == "" {
		return "", false
	}
	hit, ok, err := e.replay.Get(ctx, key)
	if err != nil {
		e.log(ctx).Warn("replay cache read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !ok || hit.Operation != op {
		return "", false
	}
	if err := json.Unmarshal(hit.Result, out); err != nil {
		return "", false
	}
	e.metrics.Replayed(op, "cache")
	return hit.OrderID, true
}

// claim reserves key inside tx. When the key already produced a result, that
// result is decoded into out and replayed is true.
func (e *Engine) claim(ctx context.Context, tx store.Tx, key string, op string, out any) (orderID string, replayed bool, err error) {
	rec, err := tx.ClaimRequest(ctx, key, op)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}
	if rec.Operation != op {
		return "", false, apperr.New(apperr.InvalidInput, map[string]string{
			"field":     "idempotency_key",
			"reason":    "key already used by another operation",
			"operation": rec.Operation,
		})
	}
	if len(rec.Result) > 0 {
		if err := json.Unmarshal(rec.Result, out); err != nil {
			return "", false, err
		}
	}
	e.metrics.Replayed(op, "store")
	return rec.OrderID, true, nil
}

func (e *Engine) complete(ctx context.Context, tx store.Tx, key string, orderID string, result any) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return raw, tx.CompleteRequest(ctx, key, orderID, raw)
}

func (e *Engine) remember(ctx context.Context, key string, op string, orderID string, raw []byte) {
	if key == "" || len(raw) == 0 {
		return
	}
	err := e.replay.Set(ctx, key, &cache.Replay{Operation: op, OrderID: orderID, Result: raw}, e.opts.ReplayTTL)
	if err != nil {
		e.log(ctx).Warn("replay cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func requestKey(key string) string {
	if key = strings.TrimSpace(key); key != "" {
		return key
	}
	return xid.New("idem")
}

// loadForUpdate locks the order row and checks the caller's branch.
func loadForUpdate(ctx context.Context, tx store.Tx, caller domain.Caller, orderID string) (*domain.WorkOrder, error) {
	stored, err := tx.GetWorkOrderForUpdate(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.OrderNotFound, map[string]string{"orderId": orderID})
	}
	if err != nil {
		return nil, err
	}
	if err := authorize(caller, stored.BranchID); err != nil {
		return nil, err
	}
	return stored, nil
}

type booking struct {
	cash []domain.CashTransaction
}

func (b *booking) book(ctx context.Context, tx store.Tx, c domain.CashTransaction) (string, error) {
	c.ID = xid.New("cash")
	if err := tx.InsertCashTransaction(ctx, c); err != nil {
		return "", err
	}
	b.cash = append(b.cash, c)
	return c.ID, nil
}

func (e *Engine) recordCash(booked []domain.CashTransaction) {
	for _, c := range booked {
		e.metrics.CashBooked(c.BranchID, c.Category, c.Amount)
	}
}
