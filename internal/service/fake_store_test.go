package service

import (
	"context"
	"sync"
	"time"

	"github.com/iurnickita/gamepay/internal/model"
	"github.com/iurnickita/gamepay/internal/store"
)

// fakeStore повторяет семантику постгрес-хранилища в памяти: условная
// вставка депозита, терминальные статусы, атомарное исполнение.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]model.User
	orders        map[string]model.PaymentOrder
	ledger        []model.LedgerEntry
	serviceOrders map[string]model.ServiceOrder
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]model.User),
		orders:        make(map[string]model.PaymentOrder),
		serviceOrders: make(map[string]model.ServiceOrder),
	}
}

func (f *fakeStore) UserGet(_ context.Context, userID string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return model.User{}, store.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) UserCreate(_ context.Context, user model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; ok {
		return store.ErrAlreadyExists
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) OrderCreate(_ context.Context, order model.PaymentOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[order.OrderID]; ok {
		return store.ErrAlreadyExists
	}
	f.orders[order.OrderID] = order
	return nil
}

func (f *fakeStore) OrderGet(_ context.Context, orderID string) (model.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return model.PaymentOrder{}, store.ErrNoRows
	}
	return order, nil
}

func (f *fakeStore) OrdersByUser(_ context.Context, userID string, limit int) ([]model.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []model.PaymentOrder
	for _, order := range f.orders {
		if order.UserID == userID && len(orders) < limit {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (f *fakeStore) OrderSaveCallback(_ context.Context, order model.PaymentOrder, countNotify bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.orders[order.OrderID]
	if !ok {
		return nil
	}
	if current.Status == model.OrderStatusSettled || current.Status == model.OrderStatusFailed {
		return nil
	}
	current.RRN = order.RRN
	current.PayStatus = order.PayStatus
	current.RCode = order.RCode
	current.ERPCVerified = order.ERPCVerified
	current.Status = order.Status
	current.RawResponse = order.RawResponse
	if countNotify {
		current.NotifyCount++
	}
	current.UpdatedAt = time.Now()
	f.orders[order.OrderID] = current
	return nil
}

func (f *fakeStore) OrderUpdateStatus(_ context.Context, orderID string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := f.orders[orderID]
	order.Status = status
	f.orders[orderID] = order
	return nil
}

func (f *fakeStore) OrderUpdateSettle(_ context.Context, orderID string, settleStatus, settleRCode, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	order := f.orders[orderID]
	order.SettleStatus = settleStatus
	order.SettleRCode = settleRCode
	order.Status = status
	f.orders[orderID] = order
	return nil
}

func (f *fakeStore) OrdersPendingSince(_ context.Context, cutoff time.Time) ([]model.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []model.PaymentOrder
	for _, order := range f.orders {
		if order.Status == model.OrderStatusPending && order.CreatedAt.Before(cutoff) {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (f *fakeStore) OrdersUnreconciled(_ context.Context, lookback time.Time) ([]model.PaymentOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []model.PaymentOrder
	for _, order := range f.orders {
		if order.PayStatus == "S" && !f.hasEntry(order.OrderID, model.LedgerTypeDeposit) &&
			order.CreatedAt.After(lookback) {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (f *fakeStore) hasEntry(orderID, entryType string) bool {
	for _, entry := range f.ledger {
		if entry.OrderID == orderID && entry.Type == entryType {
			return true
		}
	}
	return false
}

func (f *fakeStore) CreditGold(_ context.Context, orderID, userID string, amount int64, description string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if amount <= 0 {
		return false, store.ErrPointsIncorrect
	}
	if f.hasEntry(orderID, model.LedgerTypeDeposit) {
		return false, nil
	}
	f.ledger = append(f.ledger, model.LedgerEntry{
		OrderID:     orderID,
		UserID:      userID,
		Amount:      amount,
		Type:        model.LedgerTypeDeposit,
		Description: description,
		CreatedAt:   time.Now(),
	})
	user := f.users[userID]
	user.ID = userID
	user.GoldBalance += amount
	f.users[userID] = user
	return true, nil
}

func (f *fakeStore) LedgerGetByOrder(_ context.Context, orderID string) ([]model.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []model.LedgerEntry
	for _, entry := range f.ledger {
		if entry.OrderID == orderID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (f *fakeStore) ServiceOrderCreate(_ context.Context, order model.ServiceOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.serviceOrders[order.OrderID]; ok {
		return store.ErrAlreadyExists
	}
	f.serviceOrders[order.OrderID] = order
	return nil
}

func (f *fakeStore) ServiceOrderGet(_ context.Context, orderID string) (model.ServiceOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.serviceOrders[orderID]
	if !ok {
		return model.ServiceOrder{}, store.ErrNoRows
	}
	return order, nil
}

func (f *fakeStore) ServiceOrdersByPayment(_ context.Context, p99OrderID string) ([]model.ServiceOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []model.ServiceOrder
	for _, order := range f.serviceOrders {
		if order.P99OrderID == p99OrderID {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (f *fakeStore) ServiceOrdersPending(_ context.Context) ([]model.ServiceOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var orders []model.ServiceOrder
	for _, order := range f.serviceOrders {
		if order.Status == model.ServiceOrderStatusPending {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (f *fakeStore) ServiceOrderFulfill(_ context.Context, order model.ServiceOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.serviceOrders[order.OrderID]
	if !ok || current.Status != model.ServiceOrderStatusPending {
		return nil
	}
	user := f.users[current.UserID]
	if user.GoldBalance < current.GoldAmount {
		// транзакция откатывается целиком, статус не меняется
		return store.ErrInsufficientFunds
	}
	user.GoldBalance -= current.GoldAmount
	f.users[current.UserID] = user

	now := time.Now()
	current.Status = model.ServiceOrderStatusFulfilled
	current.FulfilledAt = &now
	f.serviceOrders[order.OrderID] = current

	f.ledger = append(f.ledger,
		model.LedgerEntry{
			OrderID: current.OrderID,
			UserID:  current.UserID,
			Amount:  current.GoldAmount,
			Type:    model.LedgerTypeGameDeposit,
			GameID:  current.ServiceType,
		},
		model.LedgerEntry{
			OrderID: current.OrderID,
			UserID:  current.UserID,
			Amount:  -current.GoldAmount,
			Type:    model.LedgerTypeConsume,
			GameID:  current.ServiceType,
		})
	return nil
}
