package memory

import (
	"cmp"
	"context"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"repairpos/backend/internal/domain"
	"repairpos/backend/internal/store"
)

// Store keeps everything in process. InTx serializes writers behind one
// lock and restores a snapshot when the callback fails.
type Store struct {
	mu              sync.RWMutex
	state           state
	usersByUsername map[string]domain.UserAccount
}

type state struct {
	parts        map[string]domain.Part
	inventory    map[string]map[string]int
	workOrders   map[string]domain.WorkOrder
	cash         []domain.CashTransaction
	movements    []domain.InventoryMovement
	debtsByOrder map[string]domain.Debt
	sequences    map[string]int64
	requests     map[string]store.RequestRecord
}

func newState() state {
	return state{
		parts:        make(map[string]domain.Part),
		inventory:    make(map[string]map[string]int),
		workOrders:   make(map[string]domain.WorkOrder),
		debtsByOrder: make(map[string]domain.Debt),
		sequences:    make(map[string]int64),
		requests:     make(map[string]store.RequestRecord),
	}
}

func (st state) clone() state {
	out := state{
		parts:        maps.Clone(st.parts),
		inventory:    make(map[string]map[string]int, len(st.inventory)),
		workOrders:   make(map[string]domain.WorkOrder, len(st.workOrders)),
		cash:         slices.Clone(st.cash),
		movements:    slices.Clone(st.movements),
		debtsByOrder: maps.Clone(st.debtsByOrder),
		sequences:    maps.Clone(st.sequences),
		requests:     make(map[string]store.RequestRecord, len(st.requests)),
	}
	for branch, stock := range st.inventory {
		out.inventory[branch] = maps.Clone(stock)
	}
	for id, w := range st.workOrders {
		out.workOrders[id] = w.Clone()
	}
	for key, r := range st.requests {
		r.Result = slices.Clone(r.Result)
		out.requests[key] = r
	}
	return out
}

func New() *Store {
	return &Store{
		state:           newState(),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD, with dev defaults otherwise.
// An account whose password cannot be hashed is left out.
func seedUsers(branchID string, log *zap.Logger) map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Warn("memory store is using default dev credentials; set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"manager", ownerPwd, domain.RoleManager},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Error("hash seed password", zap.String("username", u.username), zap.Error(err))
			continue
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			BranchID:  branchID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small parts catalogue stocked in branchID.
func NewSeeded(branchID string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(branchID, log)
	parts := []domain.Part{
		{ID: "PT-LOP-01", Name: "Lốp trước 70/90-17", SKU: "LOP-7090", Price: 350000, CostPrice: 260000, Active: true},
		{ID: "PT-NHOT-01", Name: "Nhớt máy 0.8L", SKU: "NHOT-08", Price: 120000, CostPrice: 85000, Active: true},
		{ID: "PT-MAPH-01", Name: "Má phanh sau", SKU: "MAPH-S", Price: 90000, CostPrice: 55000, Active: true},
		{ID: "PT-BUGI-01", Name: "Bugi NGK", SKU: "BUGI-NGK", Price: 60000, CostPrice: 38000, Active: true},
		{ID: "PT-XICH-01", Name: "Bộ nhông xích", SKU: "XICH-428", Price: 450000, CostPrice: 320000, Active: true},
		{ID: "PT-LOC-01", Name: "Lọc gió", SKU: "LOC-GIO", Price: 110000, CostPrice: 70000, Active: true},
	}
	s.state.inventory[branchID] = make(map[string]int)
	for _, p := range parts {
		s.state.parts[p.ID] = p
		s.state.inventory[branchID][p.ID] = 20
	}
	return s
}

func (s *Store) InTx(_ context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memTx{st: &s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) GetWorkOrder(_ context.Context, id string) (*domain.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.state.workOrders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := w.Clone()
	return &out, nil
}

func (s *Store) ListWorkOrders(_ context.Context, filter domain.WorkOrderFilter) ([]domain.WorkOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.WorkOrder, 0, len(s.state.workOrders))
	for _, w := range s.state.workOrders {
		if filter.BranchID != "" && w.BranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		if filter.PaymentStatus != "" && w.PaymentStatus != filter.PaymentStatus {
			continue
		}
		if filter.CustomerPhone != "" && w.CustomerPhone != filter.CustomerPhone {
			continue
		}
		out = append(out, w.Clone())
	}
	slices.SortFunc(out, func(a, b domain.WorkOrder) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) DeleteWorkOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.workOrders[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.state.workOrders, id)
	return nil
}

func (s *Store) ListMovements(_ context.Context, workOrderID string) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.InventoryMovement, 0, 8)
	for _, m := range s.state.movements {
		if m.WorkOrderID == workOrderID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) UpsertPart(_ context.Context, part domain.Part) error {
	if strings.TrimSpace(part.ID) == "" || part.Price < 0 || part.CostPrice < 0 {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.parts[part.ID] = part
	return nil
}

func (s *Store) GetStockMap(_ context.Context, branchID string, partIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stockMap := make(map[string]int, len(partIDs))
	for _, id := range partIDs {
		stockMap[id] = s.state.inventory[branchID][id]
	}
	return stockMap, nil
}

func (s *Store) SetStock(_ context.Context, branchID string, partID string, qty int) error {
	if partID == "" || qty < 0 {
		return store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.parts[partID]; !ok {
		return store.ErrNotFound
	}
	branchStock, ok := s.state.inventory[branchID]
	if !ok {
		branchStock = make(map[string]int)
		s.state.inventory[branchID] = branchStock
	}
	branchStock[partID] = qty
	return nil
}

func (s *Store) ListCashTransactions(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.CashTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CashTransaction, 0, 32)
	for _, c := range s.state.cash {
		if branchID != "" && c.BranchID != branchID {
			continue
		}
		if !from.IsZero() && c.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b domain.CashTransaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) GetPaymentSourceBalances(_ context.Context, branchID string) ([]domain.PaymentSourceBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySource := map[string]*domain.PaymentSourceBalance{}
	for _, c := range s.state.cash {
		if branchID != "" && c.BranchID != branchID {
			continue
		}
		b, ok := bySource[c.PaymentSource]
		if !ok {
			b = &domain.PaymentSourceBalance{PaymentSource: c.PaymentSource}
			bySource[c.PaymentSource] = b
		}
		if c.Type == domain.CashIncome {
			b.Income += c.Amount
		} else {
			b.Expense += c.Amount
		}
		b.Balance = b.Income - b.Expense
	}
	out := make([]domain.PaymentSourceBalance, 0, len(bySource))
	sources := make([]string, 0, len(bySource))
	for source := range bySource {
		sources = append(sources, source)
	}
	slices.Sort(sources)
	for _, source := range sources {
		out = append(out, *bySource[source])
	}
	return out, nil
}

func (s *Store) CreateDebtIfAbsent(_ context.Context, debt domain.Debt) (*domain.Debt, bool, error) {
	if debt.WorkOrderID == "" {
		return nil, false, store.ErrInvalidTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.state.debtsByOrder[debt.WorkOrderID]; ok {
		return &existing, false, nil
	}
	if debt.CreatedAt.IsZero() {
		debt.CreatedAt = time.Now().UTC()
	}
	s.state.debtsByOrder[debt.WorkOrderID] = debt
	return &debt, true, nil
}

func (s *Store) ListDebts(_ context.Context, branchID string, limit int) ([]domain.Debt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Debt, 0, len(s.state.debtsByOrder))
	for _, d := range s.state.debtsByOrder {
		if branchID != "" && d.BranchID != branchID {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.Debt) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
