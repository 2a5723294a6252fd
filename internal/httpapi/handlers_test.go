package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"repairpos/backend/internal/metrics"
	"repairpos/backend/internal/service"
	"repairpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Engine so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	log := zaptest.NewLogger(t)
	repo := memory.NewSeeded("HN", log)
	recorder := metrics.New()
	engine := service.New(repo, service.Options{
		DefaultBranchID:     "HN",
		LowStockThreshold:   2,
		DeferStockOnDeposit: true,
		Logger:              log,
		Metrics:             recorder,
	})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)

	return New(engine, auth, Options{AllowedOrigin: "*", Logger: log, Metrics: recorder})
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/rpc/auth_login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func callRPC(t *testing.T, handler http.Handler, token, name string, params any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(params)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc/"+name, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type errorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func oilChangeParams() map[string]any {
	return map[string]any{
		"customer_name":  "Trần Thị B",
		"customer_phone": "0987654321",
		"vehicle_model":  "Yamaha Sirius",
		"license_plate":  "30h-55555",
		"labor_cost":     30000,
		"parts_used": []map[string]any{
			{"partId": "PT-NHOT-01", "quantity": 2, "price": 120000},
		},
	}
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
}

func TestLoginReturnsRoleAndBranch(t *testing.T) {
	handler := newTestAPI(t).Handler()

	body, _ := json.Marshal(map[string]string{"username": "staff", "password": "staff123"})
	req := httptest.NewRequest(http.MethodPost, "/rpc/auth_login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "staff", resp["role"])
	assert.Equal(t, "HN", resp["branch_id"])
	assert.NotEmpty(t, resp["access_token"])
}

func TestLoginWrongPassword(t *testing.T) {
	handler := newTestAPI(t).Handler()

	body, _ := json.Marshal(map[string]string{"username": "staff", "password": "nope"})
	req := httptest.NewRequest(http.MethodPost, "/rpc/auth_login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Error.Code)
}

func TestRPCRequiresBearerToken(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := callRPC(t, handler, "", "work_order_list", map[string]any{})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeError(t, rec).Error.Code)

	rec = callRPC(t, handler, "not-a-jwt", "work_order_list", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownRPCAndWrongMethod(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "staff", "staff123")

	rec := callRPC(t, handler, token, "work_order_teleport", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/rpc/work_order_list", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	get := httptest.NewRecorder()
	handler.ServeHTTP(get, req)
	assert.Equal(t, http.StatusMethodNotAllowed, get.Code)
}

func TestCreateWorkOrderRPC(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "staff", "staff123")

	rec := callRPC(t, handler, token, "work_order_create_atomic", oilChangeParams())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		WorkOrder struct {
			ID            string `json:"id"`
			BranchID      string `json:"branchId"`
			Total         int64  `json:"total"`
			PaymentStatus string `json:"paymentStatus"`
			LicensePlate  string `json:"licensePlate"`
			PartsUsed     []struct {
				PartName string `json:"partName"`
			} `json:"partsUsed"`
		} `json:"workOrder"`
		OrderID           string           `json:"orderId"`
		InventoryTxCount  int              `json:"inventoryTxCount"`
		InventoryDeducted bool             `json:"inventoryDeducted"`
		StockWarnings     []map[string]any `json:"stockWarnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "SC-HN-000001", resp.OrderID)
	assert.Equal(t, resp.OrderID, resp.WorkOrder.ID)
	assert.Equal(t, "HN", resp.WorkOrder.BranchID)
	assert.Equal(t, int64(270000), resp.WorkOrder.Total)
	assert.Equal(t, "unpaid", resp.WorkOrder.PaymentStatus)
	assert.Equal(t, "30H-55555", resp.WorkOrder.LicensePlate)
	require.Len(t, resp.WorkOrder.PartsUsed, 1)
	assert.Equal(t, "Nhớt máy 0.8L", resp.WorkOrder.PartsUsed[0].PartName)
	assert.Equal(t, 1, resp.InventoryTxCount)
	assert.True(t, resp.InventoryDeducted)
	assert.NotNil(t, resp.StockWarnings)
	assert.Empty(t, resp.StockWarnings)
}

func TestInsufficientStockErrorCarriesShortages(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "staff", "staff123")

	params := oilChangeParams()
	params["parts_used"] = []map[string]any{
		{"partId": "PT-NHOT-01", "quantity": 25, "price": 120000},
	}
	body, _ := json.Marshal(params)
	req := httptest.NewRequest(http.MethodPost, "/rpc/work_order_create_atomic", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeError(t, rec)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Error.Code)
	assert.Equal(t, "Insufficient stock", env.Error.Message)

	var shortages []map[string]any
	require.NoError(t, json.Unmarshal(env.Error.Detail, &shortages))
	require.Len(t, shortages, 1)
	assert.Equal(t, "PT-NHOT-01", shortages[0]["partId"])
	assert.Equal(t, "Nhớt máy 0.8L", shortages[0]["partName"])
	assert.Equal(t, float64(20), shortages[0]["available"])
	assert.Equal(t, float64(25), shortages[0]["requested"])
}

func TestVietnameseMessageByDefault(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "staff", "staff123")

	rec := callRPC(t, handler, token, "work_order_get", map[string]any{"order_id": "SC-HN-999999"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeError(t, rec)
	assert.Equal(t, "ORDER_NOT_FOUND", env.Error.Code)
	assert.Equal(t, "Không tìm thấy phiếu sửa chữa", env.Error.Message)
}

func TestParamValidation(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "staff", "staff123")

	params := oilChangeParams()
	params["discount_percent"] = 150
	rec := callRPC(t, handler, token, "work_order_create_atomic", params)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeError(t, rec)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
	assert.JSONEq(t, `{"discount_percent":"lte"}`, string(env.Error.Detail))

	rec = callRPC(t, handler, token, "work_order_complete_payment", map[string]any{"payment_amount": 1000})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"order_id":"required"}`, string(decodeError(t, rec).Error.Detail))

	rec = callRPC(t, handler, token, "work_order_create_atomic", map[string]any{"customer": "unknown field"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdempotentCreateReplaysOrderID(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := login(t, handler, "staff", "staff123")

	params := oilChangeParams()
	params["idempotency_key"] = "form-7-submit"

	first := callRPC(t, handler, token, "work_order_create_atomic", params)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := callRPC(t, handler, token, "work_order_create_atomic", params)
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	var replay struct {
		WorkOrder map[string]any `json:"workOrder"`
		Replayed  bool           `json:"replayed"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &replay))
	assert.Equal(t, map[string]any{"id": "SC-HN-000001"}, replay.WorkOrder)
	assert.True(t, replay.Replayed)

	list := callRPC(t, handler, token, "work_order_list", map[string]any{})
	require.Equal(t, http.StatusOK, list.Code)
	var orders struct {
		WorkOrders []map[string]any `json:"workOrders"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &orders))
	assert.Len(t, orders.WorkOrders, 1)
}

func TestPaymentAndRefundFlow(t *testing.T) {
	handler := newTestAPI(t).Handler()
	staff := login(t, handler, "staff", "staff123")
	manager := login(t, handler, "manager", "owner123")

	created := callRPC(t, handler, staff, "work_order_create_atomic", oilChangeParams())
	require.Equal(t, http.StatusOK, created.Code, created.Body.String())

	paid := callRPC(t, handler, staff, "work_order_complete_payment", map[string]any{
		"order_id":       "SC-HN-000001",
		"payment_method": "bank",
		"payment_amount": 270000,
	})
	require.Equal(t, http.StatusOK, paid.Code, paid.Body.String())
	var payment map[string]any
	require.NoError(t, json.Unmarshal(paid.Body.Bytes(), &payment))
	assert.Equal(t, "paid", payment["newPaymentStatus"])
	assert.NotEmpty(t, payment["paymentTransactionId"])

	denied := callRPC(t, handler, staff, "work_order_refund_atomic", map[string]any{"order_id": "SC-HN-000001"})
	assert.Equal(t, http.StatusUnauthorized, denied.Code)

	spoofed := callRPC(t, handler, manager, "work_order_refund_atomic", map[string]any{
		"order_id": "SC-HN-000001",
		"user_id":  "owner",
	})
	assert.Equal(t, http.StatusUnauthorized, spoofed.Code)

	refunded := callRPC(t, handler, manager, "work_order_refund_atomic", map[string]any{
		"order_id":      "SC-HN-000001",
		"refund_reason": "Khách không đồng ý báo giá",
		"user_id":       "manager",
	})
	require.Equal(t, http.StatusOK, refunded.Code, refunded.Body.String())
	var refund map[string]any
	require.NoError(t, json.Unmarshal(refunded.Body.Bytes(), &refund))
	assert.Equal(t, float64(270000), refund["refundAmount"])
	assert.NotEmpty(t, refund["refund_transaction_id"])

	again := callRPC(t, handler, manager, "work_order_refund_atomic", map[string]any{"order_id": "SC-HN-000001"})
	assert.Equal(t, http.StatusConflict, again.Code)
	assert.Equal(t, "ALREADY_REFUNDED", decodeError(t, again).Error.Code)

	balances := callRPC(t, handler, staff, "cash_balances", map[string]any{})
	require.Equal(t, http.StatusOK, balances.Code)
	assert.JSONEq(t, `{"balances":[{"paymentSource":"bank","income":270000,"expense":270000,"balance":0}]}`, balances.Body.String())
}

func TestCashBookExportReturnsSpreadsheet(t *testing.T) {
	handler := newTestAPI(t).Handler()
	staff := login(t, handler, "staff", "staff123")
	owner := login(t, handler, "owner", "owner123")

	params := oilChangeParams()
	params["deposit_amount"] = 50000
	created := callRPC(t, handler, staff, "work_order_create_atomic", params)
	require.Equal(t, http.StatusOK, created.Code, created.Body.String())

	denied := callRPC(t, handler, staff, "cash_book_export", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, denied.Code)

	rec := callRPC(t, handler, owner, "cash_book_export", map[string]any{"branch_id": "HN"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "so-quy-HN")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	bad := callRPC(t, handler, owner, "cash_transactions", map[string]any{"from": "17/10/2026"})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestDebtAndUserRPCs(t *testing.T) {
	handler := newTestAPI(t).Handler()
	staff := login(t, handler, "staff", "staff123")
	owner := login(t, handler, "owner", "owner123")

	params := oilChangeParams()
	params["status"] = "Trả máy"
	params["deposit_amount"] = 70000
	created := callRPC(t, handler, staff, "work_order_create_atomic", params)
	require.Equal(t, http.StatusOK, created.Code, created.Body.String())

	rec := callRPC(t, handler, staff, "work_order_record_debt", map[string]any{"order_id": "SC-HN-000001"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var debt struct {
		Debt struct {
			RemainingAmount int64  `json:"remainingAmount"`
			CustomerID      string `json:"customerId"`
		} `json:"debt"`
		Created bool `json:"created"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &debt))
	assert.True(t, debt.Created)
	assert.Equal(t, int64(200000), debt.Debt.RemainingAmount)
	assert.Equal(t, "+84987654321", debt.Debt.CustomerID)

	denied := callRPC(t, handler, staff, "user_create", map[string]any{"username": "tho-may", "password": "secret99"})
	assert.Equal(t, http.StatusUnauthorized, denied.Code)

	createdUser := callRPC(t, handler, owner, "user_create", map[string]any{
		"username": "tho-may",
		"password": "secret99",
		"role":     "technician",
	})
	require.Equal(t, http.StatusCreated, createdUser.Code, createdUser.Body.String())

	users := callRPC(t, handler, owner, "user_list", map[string]any{})
	require.Equal(t, http.StatusOK, users.Code)
	assert.True(t, strings.Contains(users.Body.String(), `"username":"tho-may"`))

	technician := login(t, handler, "tho-may", "secret99")
	list := callRPC(t, handler, technician, "work_order_list", map[string]any{})
	assert.Equal(t, http.StatusOK, list.Code)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	handler := newTestAPI(t).Handler()

	health := httptest.NewRecorder()
	handler.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, health.Code)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `repairpos_http_requests_total{route="/healthz",status="200"} 1`)
}
