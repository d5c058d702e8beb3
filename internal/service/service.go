package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"
	"go.uber.org/zap"

	"github.com/iurnickita/gamepay/internal/events"
	"github.com/iurnickita/gamepay/internal/metrics"
	"github.com/iurnickita/gamepay/internal/model"
	"github.com/iurnickita/gamepay/internal/p99"
	"github.com/iurnickita/gamepay/internal/service/config"
	"github.com/iurnickita/gamepay/internal/store"
)

type Service interface {
	CreateOrder(ctx context.Context, p OrderParams) (PaymentForm, error)
	HandleReturn(ctx context.Context, data string) (string, error)
	HandleNotify(ctx context.Context, data string) (string, error)
	CheckOrder(ctx context.Context, orderID string) (model.PaymentOrder, error)
	Settle(ctx context.Context, orderID string) (model.PaymentOrder, error)
	GetOrders(ctx context.Context, userID string) ([]model.PaymentOrder, error)
	VerifyOrder(ctx context.Context, orderID string) (VerifyResult, error)
	CreateServiceOrder(ctx context.Context, p ServiceOrderParams) (PaymentForm, error)
	GetServiceOrder(ctx context.Context, orderID string) (model.ServiceOrder, model.PaymentOrder, error)
	StartBackground(ctx context.Context)
}

var (
	ErrInsufficientData   = errors.New("insufficient data")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrUserNotFound       = errors.New("user not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrMalformedCallback  = errors.New("malformed callback data")
	ErrVerificationFailed = errors.New("response verification failed")
	ErrNotSettleable      = errors.New("order is not in a settleable state")
)

// PaymentForm — все, что нужно клиенту, чтобы сабмитнуть форму на шлюз
type PaymentForm struct {
	OrderID        string `json:"order_id"`
	ServiceOrderID string `json:"service_order_id,omitempty"`
	APIURL         string `json:"api_url"`
	Data           string `json:"data"`
	AmountCents    int64  `json:"amount_cents"`
	GoldAmount     int64  `json:"gold_amount"`
}

type OrderParams struct {
	UserID       string
	AmountCents  int64
	PaymentAgent string
	ProductName  string
}

type ServiceOrderParams struct {
	UserID      string
	ServiceType string
	ServiceData string
	AmountCents int64
	ReturnURL   string
}

// VerifyResult — состояние ордера вместе с журналом и текущим балансом
// пользователя: все, что нужно игровому серверу для сверки платежа.
type VerifyResult struct {
	Order       model.PaymentOrder
	Ledger      []model.LedgerEntry
	GoldBalance int64
	Credited    bool
}

type service struct {
	cfg     config.Config
	store   store.Store
	gateway *p99.Client
	events  *events.Publisher
	metrics *metrics.PaymentMetrics
	zaplog  *zap.Logger
	orderID func() string
}

func NewService(cfg config.Config, store store.Store, gateway *p99.Client,
	publisher *events.Publisher, m *metrics.PaymentMetrics, zaplog *zap.Logger) (Service, error) {

	// COID не длиннее 25 символов, поэтому nanoid на узком алфавите
	gen, err := nanoid.CustomASCII("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ", 14)
	if err != nil {
		return nil, err
	}

	service := service{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		events:  publisher,
		metrics: m,
		zaplog:  zaplog,
		orderID: func() string { return "GZ" + gen() },
	}

	return &service, nil
}

// CreateOrder создает платежный ордер на покупку золота: 1 USD = 100 Gold.
func (service *service) CreateOrder(ctx context.Context, p OrderParams) (PaymentForm, error) {
	if p.UserID == "" {
		return PaymentForm{}, ErrInsufficientData
	}
	if p.AmountCents <= 0 {
		return PaymentForm{}, ErrInvalidAmount
	}

	// Ордер создается только для существующего пользователя
	if _, err := service.store.UserGet(ctx, p.UserID); err != nil {
		if err == store.ErrNoRows {
			return PaymentForm{}, ErrUserNotFound
		}
		return PaymentForm{}, err
	}

	order := model.PaymentOrder{
		OrderID:      service.orderID(),
		UserID:       p.UserID,
		AmountCents:  p.AmountCents,
		GoldAmount:   p.AmountCents,
		PaymentAgent: p.PaymentAgent,
		Status:       model.OrderStatusPending,
		CreatedAt:    time.Now(),
	}

	gold := strconv.FormatInt(order.GoldAmount, 10)
	productName := p.ProductName
	if productName == "" {
		productName = "GameZoe Gold x" + gold
	}
	_, encoded, err := service.gateway.BuildOrderRequest(p99.OrderParams{
		COID:         order.OrderID,
		AmountCents:  order.AmountCents,
		PaymentAgent: p.PaymentAgent,
		UserAcctID:   p.UserID,
		ProductName:  productName,
		ProductID:    "GOLD_" + gold,
	})
	if err != nil {
		return PaymentForm{}, err
	}
	order.RawRequest = encoded

	if err := service.store.OrderCreate(ctx, order); err != nil {
		return PaymentForm{}, err
	}

	service.metrics.RecordOrderCreated("gold")
	service.zaplog.Info("payment order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", p.UserID),
		zap.Int64("amount_cents", p.AmountCents))

	return PaymentForm{
		OrderID:     order.OrderID,
		APIURL:      service.gateway.APIURL(),
		Data:        encoded,
		AmountCents: order.AmountCents,
		GoldAmount:  order.GoldAmount,
	}, nil
}

// CreateServiceOrder создает оплату произвольной суммы за именованный
// сервис: золото начисляется и сразу потребляется при исполнении.
func (service *service) CreateServiceOrder(ctx context.Context, p ServiceOrderParams) (PaymentForm, error) {
	if p.UserID == "" || p.ServiceType == "" {
		return PaymentForm{}, ErrInsufficientData
	}
	if p.AmountCents <= 0 {
		return PaymentForm{}, ErrInvalidAmount
	}

	if _, err := service.store.UserGet(ctx, p.UserID); err != nil {
		if err == store.ErrNoRows {
			return PaymentForm{}, ErrUserNotFound
		}
		return PaymentForm{}, err
	}

	order := model.PaymentOrder{
		OrderID:     service.orderID(),
		UserID:      p.UserID,
		AmountCents: p.AmountCents,
		GoldAmount:  p.AmountCents,
		Status:      model.OrderStatusPending,
		CreatedAt:   time.Now(),
	}
	serviceOrder := model.ServiceOrder{
		OrderID:     uuid.NewString(),
		P99OrderID:  order.OrderID,
		UserID:      p.UserID,
		ServiceType: p.ServiceType,
		ServiceData: p.ServiceData,
		AmountCents: p.AmountCents,
		GoldAmount:  p.AmountCents,
		Status:      model.ServiceOrderStatusPending,
		ReturnURL:   p.ReturnURL,
		CreatedAt:   order.CreatedAt,
	}

	_, encoded, err := service.gateway.BuildOrderRequest(p99.OrderParams{
		COID:        order.OrderID,
		AmountCents: order.AmountCents,
		UserAcctID:  p.UserID,
		ProductName: p.ServiceType,
		ProductID:   p.ServiceType,
		Memo:        serviceOrder.OrderID,
		ReturnURL:   p.ReturnURL,
	})
	if err != nil {
		return PaymentForm{}, err
	}
	order.RawRequest = encoded

	if err := service.store.OrderCreate(ctx, order); err != nil {
		return PaymentForm{}, err
	}
	if err := service.store.ServiceOrderCreate(ctx, serviceOrder); err != nil {
		return PaymentForm{}, err
	}

	service.metrics.RecordOrderCreated("service")
	service.zaplog.Info("service order created",
		zap.String("order_id", serviceOrder.OrderID),
		zap.String("payment_order_id", order.OrderID),
		zap.String("service_type", p.ServiceType))

	return PaymentForm{
		OrderID:        order.OrderID,
		ServiceOrderID: serviceOrder.OrderID,
		APIURL:         service.gateway.APIURL(),
		Data:           encoded,
		AmountCents:    order.AmountCents,
		GoldAmount:     order.GoldAmount,
	}, nil
}

// HandleReturn обрабатывает синхронный callback (браузерный редирект).
// Всегда возвращает URL для редиректа пользователя; ошибка — только
// при сбое хранилища.
func (service *service) HandleReturn(ctx context.Context, data string) (string, error) {
	resp, err := p99.ParseResponse(data)
	if err != nil {
		service.metrics.RecordVerificationFailure("return")
		return service.redirectURL(url.Values{
			"status": {"error"},
			"msg":    {"malformed payment data"},
		}), nil
	}

	order, err := service.applyCallback(ctx, resp, "return", false)
	if err != nil {
		switch err {
		case ErrOrderNotFound:
			return service.redirectURL(url.Values{
				"status":  {"error"},
				"orderId": {resp.COID},
				"msg":     {"unknown order"},
			}), nil
		case ErrVerificationFailed:
			return service.redirectURL(url.Values{
				"status":  {"error"},
				"orderId": {resp.COID},
				"msg":     {"verification failed"},
			}), nil
		default:
			return "", err
		}
	}

	switch resp.PayStatus {
	case p99.PayStatusSuccess:
		return service.redirectURL(url.Values{
			"status":  {"success"},
			"orderId": {order.OrderID},
			"amount":  {p99.AmountString(order.AmountCents)},
		}), nil
	case p99.PayStatusWaiting:
		return service.redirectURL(url.Values{
			"status":  {"pending"},
			"orderId": {order.OrderID},
		}), nil
	default:
		return service.redirectURL(url.Values{
			"status":  {"error"},
			"orderId": {order.OrderID},
			"rcode":   {resp.FailureCode()},
			"msg":     {resp.FailureMessage()},
		}), nil
	}
}

// HandleNotify обрабатывает асинхронный server-to-server callback.
// Возвращает подтверждение RRN|PAY_STATUS; без него шлюз повторяет
// доставку.
func (service *service) HandleNotify(ctx context.Context, data string) (string, error) {
	resp, err := p99.ParseResponse(data)
	if err != nil {
		service.metrics.RecordVerificationFailure("notify")
		return "", ErrMalformedCallback
	}

	if _, err := service.applyCallback(ctx, resp, "notify", true); err != nil {
		if err == ErrVerificationFailed {
			return "", err
		}
		// Внутренний сбой после разбора не задерживает подтверждение:
		// неизвестный ордер или отказ хранилища чинят фоновые циклы,
		// а не повторная доставка шлюзом
		service.zaplog.Warn("notify acked with processing error",
			zap.String("order_id", resp.COID),
			zap.Error(err))
	}
	return resp.Ack(), nil
}

// applyCallback — общая часть return/notify/poll: верификация ERPC,
// запись результата, идемпотентное начисление. Каналы отличаются только
// счетчиком notify_count и метриками.
func (service *service) applyCallback(ctx context.Context, resp *p99.Response, channel string, countNotify bool) (model.PaymentOrder, error) {
	order, err := service.store.OrderGet(ctx, resp.COID)
	if err != nil {
		if err == store.ErrNoRows {
			service.zaplog.Warn("callback for unknown order",
				zap.String("channel", channel),
				zap.String("order_id", resp.COID))
			return model.PaymentOrder{}, ErrOrderNotFound
		}
		return model.PaymentOrder{}, err
	}

	service.metrics.RecordCallback(channel, resp.PayStatus)

	// Неверифицированный payload не меняет состояние ордера: статус,
	// суммы и RRN из него брать нельзя
	if !service.gateway.VerifyResponse(resp) {
		service.metrics.RecordVerificationFailure(channel)
		service.zaplog.Warn("ERPC verification failed",
			zap.String("channel", channel),
			zap.String("order_id", order.OrderID))
		return model.PaymentOrder{}, ErrVerificationFailed
	}

	order.RRN = resp.RRN
	order.PayStatus = resp.PayStatus
	order.RCode = resp.RCode
	order.ERPCVerified = true
	order.RawResponse = data64(resp)

	switch resp.PayStatus {
	case p99.PayStatusSuccess:
		order.Status = model.OrderStatusSuccess
	case p99.PayStatusFailed:
		order.Status = model.OrderStatusFailed
	default:
		// W: агент еще не подтвердил, ордер остается pending
		order.Status = model.OrderStatusPending
	}

	if err := service.store.OrderSaveCallback(ctx, order, countNotify); err != nil {
		return model.PaymentOrder{}, err
	}

	if resp.PayStatus == p99.PayStatusSuccess {
		if err := service.creditOrder(ctx, order); err != nil {
			return model.PaymentOrder{}, err
		}
		// Перечисление средств запускается сразу после успешной оплаты.
		// Его отказ не трогает начисление: повтор возможен вручную
		if _, err := service.Settle(ctx, order.OrderID); err != nil {
			service.zaplog.Warn("auto settle",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
		}
	}

	return order, nil
}

// creditOrder начисляет золото за успешный ордер и исполняет связанные
// сервисные ордера. Повторный вызов — no-op на уровне журнала.
func (service *service) creditOrder(ctx context.Context, order model.PaymentOrder) error {
	credited, err := service.store.CreditGold(ctx, order.OrderID, order.UserID,
		order.GoldAmount, "gold purchase "+order.OrderID)
	if err != nil {
		return err
	}
	if credited {
		service.metrics.RecordCredit(order.GoldAmount)
		service.zaplog.Info("gold credited",
			zap.String("order_id", order.OrderID),
			zap.String("user_id", order.UserID),
			zap.Int64("gold", order.GoldAmount))
		service.publishEvent(ctx, order)
	} else {
		service.metrics.RecordDuplicateDelivery()
	}

	serviceOrders, err := service.store.ServiceOrdersByPayment(ctx, order.OrderID)
	if err != nil {
		return err
	}
	for _, so := range serviceOrders {
		if so.Status != model.ServiceOrderStatusPending {
			continue
		}
		if err := service.store.ServiceOrderFulfill(ctx, so); err != nil {
			return err
		}
		service.metrics.RecordFulfillment()
		service.zaplog.Info("service order fulfilled",
			zap.String("order_id", so.OrderID),
			zap.String("service_type", so.ServiceType))
	}
	return nil
}

func (service *service) publishEvent(ctx context.Context, order model.PaymentOrder) {
	if service.events == nil {
		return
	}
	err := service.events.Publish(ctx, events.PaymentEvent{
		OrderID:     order.OrderID,
		UserID:      order.UserID,
		Status:      order.Status,
		PayStatus:   order.PayStatus,
		RCode:       order.RCode,
		AmountCents: order.AmountCents,
		GoldAmount:  order.GoldAmount,
		OccurredAt:  time.Now(),
	})
	if err != nil {
		// Шина — не источник истины, платеж от ее недоступности не страдает
		service.zaplog.Warn("publish payment event", zap.Error(err))
	}
}

// CheckOrder запрашивает статус ордера у шлюза и применяет ответ так же,
// как callback.
func (service *service) CheckOrder(ctx context.Context, orderID string) (model.PaymentOrder, error) {
	order, err := service.store.OrderGet(ctx, orderID)
	if err != nil {
		if err == store.ErrNoRows {
			return model.PaymentOrder{}, ErrOrderNotFound
		}
		return model.PaymentOrder{}, err
	}

	resp, err := service.gateway.CheckOrder(ctx, order.OrderID, order.AmountCents)
	if err != nil {
		// Транспортный сбой или нечитаемый ответ состояние не меняют
		service.metrics.RecordGatewayError("checkorder")
		return model.PaymentOrder{}, err
	}

	updated, err := service.applyCallback(ctx, resp, "poll", false)
	if err == ErrVerificationFailed || err == ErrOrderNotFound {
		return order, nil
	}
	if err != nil {
		return model.PaymentOrder{}, err
	}
	return updated, nil
}

// Settle выполняет перечисление средств по успешному ордеру. Транспортный
// сбой оставляет прежнее состояние, можно повторить позже.
func (service *service) Settle(ctx context.Context, orderID string) (model.PaymentOrder, error) {
	order, err := service.store.OrderGet(ctx, orderID)
	if err != nil {
		if err == store.ErrNoRows {
			return model.PaymentOrder{}, ErrOrderNotFound
		}
		return model.PaymentOrder{}, err
	}
	if order.Status == model.OrderStatusSettled {
		return order, nil
	}
	if order.Status != model.OrderStatusSuccess {
		return model.PaymentOrder{}, ErrNotSettleable
	}

	// Агент по умолчанию для перечисления — кошелек
	paid := order.PaymentAgent
	if paid == "" {
		paid = p99.PaymentAgentKiwiWallet
	}

	resp, err := service.gateway.SettleOrder(ctx, order.OrderID, order.AmountCents, paid)
	if err != nil {
		service.metrics.RecordGatewayError("settle")
		return model.PaymentOrder{}, err
	}

	if resp.RCode == p99.RCodeSuccess {
		order.SettleStatus = model.SettleStatusSettled
		order.SettleRCode = resp.RCode
		order.Status = model.OrderStatusSettled
		service.metrics.RecordSettlement("settled")
	} else {
		order.SettleStatus = model.SettleStatusFailed
		order.SettleRCode = resp.RCode
		service.metrics.RecordSettlement("failed")
		if p99.IsRetryCode(resp.RCode) {
			service.zaplog.Warn("settle rejected with transient code",
				zap.String("order_id", order.OrderID),
				zap.String("rcode", resp.RCode))
		}
	}

	err = service.store.OrderUpdateSettle(ctx, order.OrderID,
		order.SettleStatus, order.SettleRCode, order.Status)
	if err != nil {
		return model.PaymentOrder{}, err
	}
	return order, nil
}

func (service *service) GetOrders(ctx context.Context, userID string) ([]model.PaymentOrder, error) {
	if userID == "" {
		return nil, ErrInsufficientData
	}
	return service.store.OrdersByUser(ctx, userID, service.cfg.HistoryLimit)
}

// VerifyOrder — внутренняя сверка для игровых серверов: состояние ордера,
// журнальные записи по нему и текущий баланс пользователя.
func (service *service) VerifyOrder(ctx context.Context, orderID string) (VerifyResult, error) {
	order, err := service.store.OrderGet(ctx, orderID)
	if err != nil {
		if err == store.ErrNoRows {
			return VerifyResult{}, ErrOrderNotFound
		}
		return VerifyResult{}, err
	}
	ledger, err := service.store.LedgerGetByOrder(ctx, orderID)
	if err != nil {
		return VerifyResult{}, err
	}

	result := VerifyResult{Order: order, Ledger: ledger}
	for _, entry := range ledger {
		if entry.Type == model.LedgerTypeDeposit {
			result.Credited = true
		}
	}
	user, err := service.store.UserGet(ctx, order.UserID)
	if err != nil && err != store.ErrNoRows {
		return VerifyResult{}, err
	}
	result.GoldBalance = user.GoldBalance
	return result, nil
}

// GetServiceOrder возвращает сервисный ордер вместе с состоянием
// связанного платежа.
func (service *service) GetServiceOrder(ctx context.Context, orderID string) (model.ServiceOrder, model.PaymentOrder, error) {
	order, err := service.store.ServiceOrderGet(ctx, orderID)
	if err != nil {
		if err == store.ErrNoRows {
			return model.ServiceOrder{}, model.PaymentOrder{}, ErrOrderNotFound
		}
		return model.ServiceOrder{}, model.PaymentOrder{}, err
	}
	payment, err := service.store.OrderGet(ctx, order.P99OrderID)
	if err != nil && err != store.ErrNoRows {
		return model.ServiceOrder{}, model.PaymentOrder{}, err
	}
	return order, payment, nil
}

func (service *service) redirectURL(params url.Values) string {
	return service.cfg.RedirectBase + "?" + params.Encode()
}

// data64 приводит разобранный ответ обратно к проводному виду для
// аудиторского следа в raw_response
func data64(resp *p99.Response) string {
	raw, err := json.Marshal(resp)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
