package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/gamepay/internal/model"
)

// StartBackground запускает фоновые циклы: опрос зависших pending-ордеров
// и сверку начислений. Оба останавливаются по отмене контекста.
func (service *service) StartBackground(ctx context.Context) {
	go service.pendingLoop(ctx)
	go service.reconcileLoop(ctx)
}

func (service *service) pendingLoop(ctx context.Context) {
	ticker := time.NewTicker(service.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			service.pendingPass(ctx)
		}
	}
}

func (service *service) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(service.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			service.reconcilePass(ctx)
		}
	}
}

// pendingPass опрашивает шлюз по ордерам, зависшим в pending дольше
// grace-периода: callback мог не дойти, статус забирается poll-ом.
func (service *service) pendingPass(ctx context.Context) {
	cutoff := time.Now().Add(-service.cfg.PendingGrace)
	orders, err := service.store.OrdersPendingSince(ctx, cutoff)
	if err != nil {
		service.zaplog.Error("pending poll: list orders", zap.Error(err))
		return
	}

	for _, order := range orders {
		if _, err := service.CheckOrder(ctx, order.OrderID); err != nil {
			// Недоступность шлюза не фатальна, ордер попадет
			// в следующий проход
			service.zaplog.Warn("pending poll: check order",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
		}
	}
}

// reconcilePass — страховочная сетка: доначисляет золото по ордерам,
// которые шлюз подтвердил, а депозит в журнал не попал, и доисполняет
// зависшие сервисные ордера по уже успешным платежам.
func (service *service) reconcilePass(ctx context.Context) {
	lookback := time.Now().Add(-service.cfg.ReconcileLookback)
	orders, err := service.store.OrdersUnreconciled(ctx, lookback)
	if err != nil {
		service.zaplog.Error("reconcile: list orders", zap.Error(err))
		return
	}

	for _, order := range orders {
		// Начисляем только по верифицированным подтверждениям
		if !order.ERPCVerified {
			continue
		}
		credited, err := service.store.CreditGold(ctx, order.OrderID, order.UserID,
			order.GoldAmount, "reconcile "+order.OrderID)
		if err != nil {
			service.zaplog.Error("reconcile: credit",
				zap.String("order_id", order.OrderID),
				zap.Error(err))
			continue
		}
		if credited {
			service.metrics.RecordCredit(order.GoldAmount)
			service.metrics.RecordReconcileRepair()
			service.zaplog.Warn("reconcile: repaired lost credit",
				zap.String("order_id", order.OrderID),
				zap.Int64("gold", order.GoldAmount))
			// Подтвержденный шлюзом ордер мог застрять в pending, если
			// запись статуса потерялась вместе с начислением
			if order.Status == model.OrderStatusPending {
				if err := service.store.OrderUpdateStatus(ctx, order.OrderID, model.OrderStatusSuccess); err != nil {
					service.zaplog.Error("reconcile: update status",
						zap.String("order_id", order.OrderID),
						zap.Error(err))
					continue
				}
				order.Status = model.OrderStatusSuccess
			}
			service.publishEvent(ctx, order)
			if _, err := service.Settle(ctx, order.OrderID); err != nil {
				service.zaplog.Warn("reconcile: settle",
					zap.String("order_id", order.OrderID),
					zap.Error(err))
			}
		}
	}

	service.fulfillPending(ctx)
}

func (service *service) fulfillPending(ctx context.Context) {
	serviceOrders, err := service.store.ServiceOrdersPending(ctx)
	if err != nil {
		service.zaplog.Error("reconcile: list service orders", zap.Error(err))
		return
	}

	for _, so := range serviceOrders {
		payment, err := service.store.OrderGet(ctx, so.P99OrderID)
		if err != nil {
			service.zaplog.Error("reconcile: payment lookup",
				zap.String("order_id", so.OrderID),
				zap.Error(err))
			continue
		}
		if payment.Status != model.OrderStatusSuccess && payment.Status != model.OrderStatusSettled {
			continue
		}
		if err := service.store.ServiceOrderFulfill(ctx, so); err != nil {
			service.zaplog.Error("reconcile: fulfill",
				zap.String("order_id", so.OrderID),
				zap.Error(err))
			continue
		}
		service.metrics.RecordFulfillment()
		service.zaplog.Warn("reconcile: fulfilled stale service order",
			zap.String("order_id", so.OrderID),
			zap.String("service_type", so.ServiceType))
	}
}
