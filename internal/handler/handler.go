package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iurnickita/gamepay/internal/gzip"
	"github.com/iurnickita/gamepay/internal/handler/config"
	"github.com/iurnickita/gamepay/internal/logger"
	"github.com/iurnickita/gamepay/internal/model"
	"github.com/iurnickita/gamepay/internal/p99"
	"github.com/iurnickita/gamepay/internal/service"
)

func Serve(cfg config.Config, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	return srv.ListenAndServe()
}

type handler struct {
	service service.Service
	zaplog  *zap.Logger
}

func newHandler(service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		service: service,
		zaplog:  zaplog,
	}
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/payment/p99/order", gzip.GzipMiddleware(logger.RequestLogMdlw(h.PostOrder, h.zaplog)))
	mux.HandleFunc("POST /api/payment/p99/service-order", gzip.GzipMiddleware(logger.RequestLogMdlw(h.PostServiceOrder, h.zaplog)))
	mux.HandleFunc("POST /api/payment/p99/checkorder", gzip.GzipMiddleware(logger.RequestLogMdlw(h.PostCheckOrder, h.zaplog)))
	mux.HandleFunc("POST /api/payment/p99/settle", gzip.GzipMiddleware(logger.RequestLogMdlw(h.PostSettle, h.zaplog)))
	mux.HandleFunc("GET /api/payment/p99/orders/{userId}", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetOrders, h.zaplog)))
	mux.HandleFunc("GET /api/payment/p99/service-order/{orderId}", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetServiceOrder, h.zaplog)))
	mux.HandleFunc("GET /api/payment/verify/{orderId}", gzip.GzipMiddleware(logger.RequestLogMdlw(h.GetVerify, h.zaplog)))

	// Callback-и шлюза: return приходит и GET-редиректом, и POST-формой
	mux.HandleFunc("/api/payment/p99/return", logger.RequestLogMdlw(h.Return, h.zaplog))
	mux.HandleFunc("POST /api/payment/p99/notify", logger.RequestLogMdlw(h.Notify, h.zaplog))

	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

type PostOrderJSONRequest struct {
	UserID       string  `json:"user_id"`
	Amount       float64 `json:"amount"`
	PaymentAgent string  `json:"payment_agent"`
	ProductName  string  `json:"product_name"`
}

func (h *handler) PostOrder(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var orderJSON PostOrderJSONRequest
	err = json.Unmarshal(buf.Bytes(), &orderJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	form, err := h.service.CreateOrder(r.Context(), service.OrderParams{
		UserID:       orderJSON.UserID,
		AmountCents:  centsInput(orderJSON.Amount),
		PaymentAgent: orderJSON.PaymentAgent,
		ProductName:  orderJSON.ProductName,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, form)
}

type PostServiceOrderJSONRequest struct {
	UserID      string  `json:"user_id"`
	ServiceType string  `json:"service_type"`
	ServiceData string  `json:"service_data"`
	Amount      float64 `json:"amount"`
	ReturnURL   string  `json:"return_url"`
}

func (h *handler) PostServiceOrder(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var orderJSON PostServiceOrderJSONRequest
	err = json.Unmarshal(buf.Bytes(), &orderJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	form, err := h.service.CreateServiceOrder(r.Context(), service.ServiceOrderParams{
		UserID:      orderJSON.UserID,
		ServiceType: orderJSON.ServiceType,
		ServiceData: orderJSON.ServiceData,
		AmountCents: centsInput(orderJSON.Amount),
		ReturnURL:   orderJSON.ReturnURL,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, form)
}

// Return — синхронный callback шлюза: пользователь всегда уходит
// редиректом, даже при ошибке.
func (h *handler) Return(w http.ResponseWriter, r *http.Request) {
	redirect, err := h.service.HandleReturn(r.Context(), r.FormValue("data"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Notify — асинхронный server-to-server callback. Шлюз повторяет
// доставку, пока не получит подтверждение RRN|PAY_STATUS.
func (h *handler) Notify(w http.ResponseWriter, r *http.Request) {
	ack, err := h.service.HandleNotify(r.Context(), r.FormValue("data"))
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("ERROR"))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(ack))
}

type OrderIDJSONRequest struct {
	OrderID string `json:"order_id"`
}

func (h *handler) PostCheckOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.readOrderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.CheckOrder(r.Context(), orderID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse(order))
}

func (h *handler) PostSettle(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.readOrderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Settle(r.Context(), orderID)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse(order))
}

func (h *handler) readOrderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var buf bytes.Buffer
	_, err := buf.ReadFrom(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	var req OrderIDJSONRequest
	err = json.Unmarshal(buf.Bytes(), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	if req.OrderID == "" {
		http.Error(w, "order_id required", http.StatusBadRequest)
		return "", false
	}
	return req.OrderID, true
}

type OrderJSONResponse struct {
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	Amount       float64   `json:"amount"`
	GoldAmount   int64     `json:"gold_amount"`
	Status       string    `json:"status"`
	PayStatus    string    `json:"pay_status,omitempty"`
	RCode        string    `json:"rcode,omitempty"`
	RRN          string    `json:"rrn,omitempty"`
	SettleStatus string    `json:"settle_status,omitempty"`
	NotifyCount  int       `json:"notify_count"`
	CreatedAt    time.Time `json:"created_at"`
}

func orderResponse(order model.PaymentOrder) OrderJSONResponse {
	return OrderJSONResponse{
		OrderID:      order.OrderID,
		UserID:       order.UserID,
		Amount:       centsOutput(order.AmountCents),
		GoldAmount:   order.GoldAmount,
		Status:       order.Status,
		PayStatus:    order.PayStatus,
		RCode:        order.RCode,
		RRN:          order.RRN,
		SettleStatus: order.SettleStatus,
		NotifyCount:  order.NotifyCount,
		CreatedAt:    order.CreatedAt,
	}
}

func (h *handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.GetOrders(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	if len(orders) == 0 {
		http.Error(w, "", http.StatusNoContent)
		return
	}

	var ordersJSON []OrderJSONResponse
	for _, order := range orders {
		ordersJSON = append(ordersJSON, orderResponse(order))
	}
	h.writeJSON(w, http.StatusOK, ordersJSON)
}

type VerifyJSONResponse struct {
	Order       OrderJSONResponse    `json:"order"`
	Credited    bool                 `json:"credited"`
	GoldBalance int64                `json:"gold_balance"`
	Ledger      []LedgerJSONResponse `json:"ledger,omitempty"`
}

type LedgerJSONResponse struct {
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	GameID    string    `json:"game_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *handler) GetVerify(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.VerifyOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.serviceError(w, err)
		return
	}

	resp := VerifyJSONResponse{
		Order:       orderResponse(result.Order),
		Credited:    result.Credited,
		GoldBalance: result.GoldBalance,
	}
	for _, entry := range result.Ledger {
		resp.Ledger = append(resp.Ledger, LedgerJSONResponse{
			Type:      entry.Type,
			Amount:    entry.Amount,
			GameID:    entry.GameID,
			CreatedAt: entry.CreatedAt,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type ServiceOrderJSONResponse struct {
	OrderID       string     `json:"order_id"`
	P99OrderID    string     `json:"payment_order_id"`
	UserID        string     `json:"user_id"`
	ServiceType   string     `json:"service_type"`
	ServiceData   string     `json:"service_data,omitempty"`
	Amount        float64    `json:"amount"`
	GoldAmount    int64      `json:"gold_amount"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status,omitempty"`
	PayStatus     string     `json:"pay_status,omitempty"`
	RCode         string     `json:"rcode,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	FulfilledAt   *time.Time `json:"fulfilled_at,omitempty"`
}

func (h *handler) GetServiceOrder(w http.ResponseWriter, r *http.Request) {
	order, payment, err := h.service.GetServiceOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ServiceOrderJSONResponse{
		OrderID:       order.OrderID,
		P99OrderID:    order.P99OrderID,
		UserID:        order.UserID,
		ServiceType:   order.ServiceType,
		ServiceData:   order.ServiceData,
		Amount:        centsOutput(order.AmountCents),
		GoldAmount:    order.GoldAmount,
		Status:        order.Status,
		PaymentStatus: payment.Status,
		PayStatus:     payment.PayStatus,
		RCode:         payment.RCode,
		CreatedAt:     order.CreatedAt,
		FulfilledAt:   order.FulfilledAt,
	})
}

func (h *handler) serviceError(w http.ResponseWriter, err error) {
	switch err {
	case service.ErrInsufficientData, service.ErrInvalidAmount:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case service.ErrOrderNotFound, service.ErrUserNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case service.ErrNotSettleable:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJSON)
}

// Суммы в API — USD с долями, внутри — целые центы. Лишние дробные
// разряды отбрасываются так же, как при подписи: 9.999 — это 999 центов
func centsInput(amount float64) int64 {
	cents, err := p99.ParseAmount(strconv.FormatFloat(amount, 'f', -1, 64))
	if err != nil {
		return -1
	}
	return cents
}

func centsOutput(cents int64) float64 {
	return float64(cents) / 100
}
