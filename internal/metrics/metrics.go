package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics содержит метрики платежного контура
type PaymentMetrics struct {
	// Созданные ордера
	OrdersCreatedTotal prometheus.CounterVec

	// Callback-и от шлюза по каналам доставки
	CallbacksTotal prometheus.CounterVec

	// Отклоненные проверкой ERPC payload-ы: возможная подмена
	// или рассогласование ключей
	VerificationFailuresTotal prometheus.CounterVec

	// Начисления золота
	CreditsTotal     prometheus.Counter
	CreditsGoldTotal prometheus.Counter

	// Повторные доставки, отсеченные журнальной защитой
	DuplicateDeliveriesTotal prometheus.Counter

	// Результаты перечисления средств
	SettlementsTotal prometheus.CounterVec

	// Начисления, восстановленные reconcile-джобой
	ReconcileRepairsTotal prometheus.Counter

	// Исполненные сервисные ордера
	FulfillmentsTotal prometheus.Counter

	// Ошибки обращений к шлюзу
	GatewayErrorsTotal prometheus.CounterVec
}

// NewPaymentMetrics создает и регистрирует метрики
func NewPaymentMetrics() *PaymentMetrics {
	return &PaymentMetrics{
		OrdersCreatedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_orders_created_total",
				Help: "Общее количество созданных платежных ордеров",
			},
			[]string{"kind"},
		),

		CallbacksTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_callbacks_total",
				Help: "Callback-и шлюза по каналам и статусам оплаты",
			},
			[]string{"channel", "pay_status"},
		),

		VerificationFailuresTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_verification_failures_total",
				Help: "Payload-ы, не прошедшие проверку ERPC",
			},
			[]string{"channel"},
		),

		CreditsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_credits_total",
				Help: "Количество начислений золота",
			},
		),

		CreditsGoldTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_credits_gold_total",
				Help: "Суммарно начисленное золото",
			},
		),

		DuplicateDeliveriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_duplicate_deliveries_total",
				Help: "Повторные доставки, отсеченные журнальной защитой",
			},
		),

		SettlementsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_settlements_total",
				Help: "Результаты запросов на перечисление средств",
			},
			[]string{"result"},
		),

		ReconcileRepairsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_reconcile_repairs_total",
				Help: "Начисления, восстановленные фоновой сверкой",
			},
		),

		FulfillmentsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_fulfillments_total",
				Help: "Исполненные сервисные ордера",
			},
		),

		GatewayErrorsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_gateway_errors_total",
				Help: "Ошибки обращений к API шлюза",
			},
			[]string{"operation"},
		),
	}
}

// RecordOrderCreated записывает созданный ордер
func (m *PaymentMetrics) RecordOrderCreated(kind string) {
	m.OrdersCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordCallback записывает принятый callback
func (m *PaymentMetrics) RecordCallback(channel, payStatus string) {
	m.CallbacksTotal.WithLabelValues(channel, payStatus).Inc()
}

// RecordVerificationFailure записывает отклоненный payload
func (m *PaymentMetrics) RecordVerificationFailure(channel string) {
	m.VerificationFailuresTotal.WithLabelValues(channel).Inc()
}

// RecordCredit записывает начисление
func (m *PaymentMetrics) RecordCredit(gold int64) {
	m.CreditsTotal.Inc()
	m.CreditsGoldTotal.Add(float64(gold))
}

// RecordDuplicateDelivery записывает отсеченный дубль
func (m *PaymentMetrics) RecordDuplicateDelivery() {
	m.DuplicateDeliveriesTotal.Inc()
}

// RecordSettlement записывает исход settle-запроса
func (m *PaymentMetrics) RecordSettlement(result string) {
	m.SettlementsTotal.WithLabelValues(result).Inc()
}

// RecordReconcileRepair записывает восстановленное начисление
func (m *PaymentMetrics) RecordReconcileRepair() {
	m.ReconcileRepairsTotal.Inc()
}

// RecordFulfillment записывает исполнение сервисного ордера
func (m *PaymentMetrics) RecordFulfillment() {
	m.FulfillmentsTotal.Inc()
}

// RecordGatewayError записывает ошибку обращения к шлюзу
func (m *PaymentMetrics) RecordGatewayError(operation string) {
	m.GatewayErrorsTotal.WithLabelValues(operation).Inc()
}
