package model

import "time"

// Платежные ордера P99PAY

type PaymentOrder struct {
	OrderID      string // COID: локальный идентификатор, он же merchant correlation ID
	UserID       string
	AmountCents  int64 // сумма в USD-центах
	GoldAmount   int64 // начисляемое золото, 1 USD = 100 Gold
	PaymentAgent string // PAID, пусто = выбор на стороне шлюза
	Status       string
	PayStatus    string // S/W/F от шлюза
	RCode        string
	RRN          string // референс транзакции шлюза
	ERPCVerified bool
	SettleStatus string
	SettleRCode  string
	NotifyCount  int
	RawRequest   string
	RawResponse  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const (
	OrderStatusPending = "pending"
	OrderStatusSuccess = "success"
	OrderStatusFailed  = "failed"
	OrderStatusSettled = "settled"
)

const (
	SettleStatusNone    = ""
	SettleStatusSettled = "settled"
	SettleStatusFailed  = "settle_failed"
)

// Сервисные ордера: оплата произвольной суммы с одновременным
// потреблением эквивалента золота на именованный сервис

type ServiceOrder struct {
	OrderID     string
	P99OrderID  string
	UserID      string
	ServiceType string
	ServiceData string
	AmountCents int64
	GoldAmount  int64
	Status      string
	ReturnURL   string
	CreatedAt   time.Time
	FulfilledAt *time.Time
}

const (
	ServiceOrderStatusPending   = "pending"
	ServiceOrderStatusFulfilled = "fulfilled"
)

// Журнал движений валюты. Запись с типом deposit на order_id служит
// одновременно защитой от повторного начисления

type LedgerEntry struct {
	ID          int64
	OrderID     string
	UserID      string
	Amount      int64
	Currency    string
	Type        string
	Description string
	Status      string
	GameID      string
	CreatedAt   time.Time
}

const (
	LedgerTypeDeposit     = "deposit"
	LedgerTypeGameDeposit = "game_deposit"
	LedgerTypeConsume     = "consume"
)

// Пользователи (user directory)

type User struct {
	ID          string
	Name        string
	GoldBalance int64
}
