package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/gamepay/internal/model"
	"github.com/iurnickita/gamepay/internal/store/config"
)

type Store interface {
	UserGet(ctx context.Context, userID string) (model.User, error)
	UserCreate(ctx context.Context, user model.User) error

	OrderCreate(ctx context.Context, order model.PaymentOrder) error
	OrderGet(ctx context.Context, orderID string) (model.PaymentOrder, error)
	OrdersByUser(ctx context.Context, userID string, limit int) ([]model.PaymentOrder, error)
	OrderSaveCallback(ctx context.Context, order model.PaymentOrder, countNotify bool) error
	OrderUpdateStatus(ctx context.Context, orderID string, status string) error
	OrderUpdateSettle(ctx context.Context, orderID string, settleStatus, settleRCode, status string) error
	OrdersPendingSince(ctx context.Context, cutoff time.Time) ([]model.PaymentOrder, error)
	OrdersUnreconciled(ctx context.Context, lookback time.Time) ([]model.PaymentOrder, error)

	CreditGold(ctx context.Context, orderID, userID string, amount int64, description string) (bool, error)
	LedgerGetByOrder(ctx context.Context, orderID string) ([]model.LedgerEntry, error)

	ServiceOrderCreate(ctx context.Context, order model.ServiceOrder) error
	ServiceOrderGet(ctx context.Context, orderID string) (model.ServiceOrder, error)
	ServiceOrdersByPayment(ctx context.Context, p99OrderID string) ([]model.ServiceOrder, error)
	ServiceOrdersPending(ctx context.Context) ([]model.ServiceOrder, error)
	ServiceOrderFulfill(ctx context.Context, order model.ServiceOrder) error
}

var (
	ErrNoRows            = errors.New("no rows")
	ErrAlreadyExists     = errors.New("already exists")
	ErrPointsIncorrect   = errors.New("points value is incorrect")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица пользователей: user directory + баланс золота
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS users (" +
			" id VARCHAR (64) PRIMARY KEY," +
			" name VARCHAR (100) NOT NULL DEFAULT ''," +
			" gold_balance BIGINT NOT NULL DEFAULT 0" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица платежных ордеров P99.
	// Одна строка на ордер, записи не удаляются — это аудиторский след
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS p99_orders (" +
			" order_id VARCHAR (25) PRIMARY KEY," +
			" user_id VARCHAR (64) NOT NULL," +
			" amount_cents BIGINT NOT NULL," +
			" gold_amount BIGINT NOT NULL," +
			" paid VARCHAR (20) NOT NULL DEFAULT ''," +
			" status VARCHAR (20) NOT NULL," +
			" pay_status VARCHAR (2) NOT NULL DEFAULT ''," +
			" rcode VARCHAR (10) NOT NULL DEFAULT ''," +
			" rrn VARCHAR (40) NOT NULL DEFAULT ''," +
			" erpc_verified BOOLEAN NOT NULL DEFAULT FALSE," +
			" settle_status VARCHAR (20) NOT NULL DEFAULT ''," +
			" settle_rcode VARCHAR (10) NOT NULL DEFAULT ''," +
			" notify_count INTEGER NOT NULL DEFAULT 0," +
			" raw_request TEXT NOT NULL DEFAULT ''," +
			" raw_response TEXT NOT NULL DEFAULT ''," +
			" created_at TIMESTAMP NOT NULL," +
			" updated_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	// Журнал движений валюты.
	// Уникальность (order_id, type) — транзакционная защита от повторного
	// начисления: повторная вставка того же депозита не проходит
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS wallet_transactions (" +
			" id BIGSERIAL PRIMARY KEY," +
			" order_id VARCHAR (40) NOT NULL," +
			" user_id VARCHAR (64) NOT NULL," +
			" amount BIGINT NOT NULL," +
			" currency VARCHAR (10) NOT NULL," +
			" type VARCHAR (20) NOT NULL," +
			" description TEXT NOT NULL DEFAULT ''," +
			" status VARCHAR (20) NOT NULL," +
			" game_id VARCHAR (64) NOT NULL DEFAULT ''," +
			" created_at TIMESTAMP NOT NULL," +
			" UNIQUE (order_id, type)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Балансы по сервисам/играм
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS user_game_balances (" +
			" user_id VARCHAR (64)," +
			" game_id VARCHAR (64)," +
			" balance BIGINT NOT NULL DEFAULT 0," +
			" total_deposited BIGINT NOT NULL DEFAULT 0," +
			" total_consumed BIGINT NOT NULL DEFAULT 0," +
			" updated_at TIMESTAMP NOT NULL," +
			" PRIMARY KEY (user_id, game_id)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Сервисные ордера
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS service_orders (" +
			" order_id VARCHAR (40) PRIMARY KEY," +
			" p99_order_id VARCHAR (25) NOT NULL," +
			" user_id VARCHAR (64) NOT NULL," +
			" service_type VARCHAR (40) NOT NULL," +
			" service_data TEXT NOT NULL DEFAULT ''," +
			" amount_cents BIGINT NOT NULL," +
			" gold_amount BIGINT NOT NULL," +
			" status VARCHAR (20) NOT NULL," +
			" return_url TEXT NOT NULL DEFAULT ''," +
			" created_at TIMESTAMP NOT NULL," +
			" fulfilled_at TIMESTAMP" +
			" );")
	if err != nil {
		return nil, err
	}

	return &store{
		database: db,
	}, nil
}

func (store *store) UserGet(ctx context.Context, userID string) (model.User, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT id, name, gold_balance FROM users"+
			" WHERE id = $1",
		userID)
	var user model.User
	err := row.Scan(&user.ID, &user.Name, &user.GoldBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.User{}, ErrNoRows
		}
		return model.User{}, err
	}
	return user, nil
}

func (store *store) UserCreate(ctx context.Context, user model.User) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO users (id, name, gold_balance)"+
			" VALUES ($1, $2, $3)",
		user.ID,
		user.Name,
		user.GoldBalance)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

const orderColumns = " order_id, user_id, amount_cents, gold_amount, paid, status," +
	" pay_status, rcode, rrn, erpc_verified, settle_status, settle_rcode," +
	" notify_count, raw_request, raw_response, created_at, updated_at"

func scanOrder(row interface{ Scan(...any) error }) (model.PaymentOrder, error) {
	var order model.PaymentOrder
	err := row.Scan(&order.OrderID,
		&order.UserID,
		&order.AmountCents,
		&order.GoldAmount,
		&order.PaymentAgent,
		&order.Status,
		&order.PayStatus,
		&order.RCode,
		&order.RRN,
		&order.ERPCVerified,
		&order.SettleStatus,
		&order.SettleRCode,
		&order.NotifyCount,
		&order.RawRequest,
		&order.RawResponse,
		&order.CreatedAt,
		&order.UpdatedAt)
	return order, err
}

func (store *store) OrderCreate(ctx context.Context, order model.PaymentOrder) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO p99_orders (order_id, user_id, amount_cents, gold_amount, paid, status, raw_request, created_at, updated_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)",
		order.OrderID,
		order.UserID,
		order.AmountCents,
		order.GoldAmount,
		order.PaymentAgent,
		order.Status,
		order.RawRequest,
		order.CreatedAt)
	if err != nil {
		// Проверка: уже существует (коллизия order_id)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (store *store) OrderGet(ctx context.Context, orderID string) (model.PaymentOrder, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT"+orderColumns+
			" FROM p99_orders"+
			" WHERE order_id = $1",
		orderID)
	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.PaymentOrder{}, ErrNoRows
		}
		return model.PaymentOrder{}, err
	}
	return order, nil
}

func (store *store) OrdersByUser(ctx context.Context, userID string, limit int) ([]model.PaymentOrder, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT"+orderColumns+
			" FROM p99_orders"+
			" WHERE user_id = $1"+
			" ORDER BY created_at DESC"+
			" LIMIT $2",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]model.PaymentOrder, error) {
	var orders []model.PaymentOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// OrderSaveCallback записывает результат callback/poll. Терминальные
// статусы settled/failed не понижаются более поздними доставками
func (store *store) OrderSaveCallback(ctx context.Context, order model.PaymentOrder, countNotify bool) error {
	notifyInc := 0
	if countNotify {
		notifyInc = 1
	}
	_, err := store.database.ExecContext(ctx,
		"UPDATE p99_orders SET"+
			" rrn = $1, pay_status = $2, rcode = $3, erpc_verified = $4,"+
			" status = $5, raw_response = $6,"+
			" notify_count = notify_count + $7, updated_at = $8"+
			" WHERE order_id = $9"+
			"   AND status NOT IN ('settled', 'failed')",
		order.RRN,
		order.PayStatus,
		order.RCode,
		order.ERPCVerified,
		order.Status,
		order.RawResponse,
		notifyInc,
		time.Now(),
		order.OrderID)
	return err
}

func (store *store) OrderUpdateStatus(ctx context.Context, orderID string, status string) error {
	_, err := store.database.ExecContext(ctx,
		"UPDATE p99_orders SET status = $1, updated_at = $2"+
			" WHERE order_id = $3",
		status, time.Now(), orderID)
	return err
}

func (store *store) OrderUpdateSettle(ctx context.Context, orderID string, settleStatus, settleRCode, status string) error {
	_, err := store.database.ExecContext(ctx,
		"UPDATE p99_orders SET settle_status = $1, settle_rcode = $2, status = $3, updated_at = $4"+
			" WHERE order_id = $5",
		settleStatus, settleRCode, status, time.Now(), orderID)
	return err
}

func (store *store) OrdersPendingSince(ctx context.Context, cutoff time.Time) ([]model.PaymentOrder, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT"+orderColumns+
			" FROM p99_orders"+
			" WHERE status = 'pending'"+
			"   AND created_at < $1",
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// OrdersUnreconciled: шлюз подтвердил оплату, а депозита в журнале нет —
// начисление потеряно (например, сбой между верификацией и записью)
func (store *store) OrdersUnreconciled(ctx context.Context, lookback time.Time) ([]model.PaymentOrder, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT p.order_id, p.user_id, p.amount_cents, p.gold_amount, p.paid, p.status,"+
			" p.pay_status, p.rcode, p.rrn, p.erpc_verified, p.settle_status, p.settle_rcode,"+
			" p.notify_count, p.raw_request, p.raw_response, p.created_at, p.updated_at"+
			" FROM p99_orders p"+
			" LEFT JOIN wallet_transactions w"+
			"   ON w.order_id = p.order_id AND w.type = 'deposit'"+
			" WHERE p.pay_status = 'S'"+
			"   AND w.id IS NULL"+
			"   AND p.created_at > $1",
		lookback)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// CreditGold начисляет золото ровно один раз на order_id. Идемпотентность
// обеспечивает условная вставка в журнал: конкурирующие return/notify
// сериализуются на уникальном индексе, а не на проверке статуса в памяти.
// Возвращает false, если депозит по этому ордеру уже был записан.
func (store *store) CreditGold(ctx context.Context, orderID, userID string, amount int64, description string) (bool, error) {
	if amount <= 0 {
		return false, ErrPointsIncorrect
	}

	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO wallet_transactions (order_id, user_id, amount, currency, type, description, status, created_at)"+
			" VALUES ($1, $2, $3, 'gold', 'deposit', $4, 'completed', $5)"+
			" ON CONFLICT (order_id, type) DO NOTHING",
		orderID, userID, amount, description, time.Now())
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted == 0 {
		// уже начислено
		return false, nil
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE users SET gold_balance = gold_balance + $1 WHERE id = $2",
		amount, userID)
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

func (store *store) LedgerGetByOrder(ctx context.Context, orderID string) ([]model.LedgerEntry, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, order_id, user_id, amount, currency, type, description, status, game_id, created_at"+
			" FROM wallet_transactions"+
			" WHERE order_id = $1"+
			" ORDER BY id",
		orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []model.LedgerEntry
	for rows.Next() {
		var entry model.LedgerEntry
		err := rows.Scan(&entry.ID,
			&entry.OrderID,
			&entry.UserID,
			&entry.Amount,
			&entry.Currency,
			&entry.Type,
			&entry.Description,
			&entry.Status,
			&entry.GameID,
			&entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const serviceOrderColumns = " order_id, p99_order_id, user_id, service_type, service_data," +
	" amount_cents, gold_amount, status, return_url, created_at, fulfilled_at"

func scanServiceOrder(row interface{ Scan(...any) error }) (model.ServiceOrder, error) {
	var order model.ServiceOrder
	err := row.Scan(&order.OrderID,
		&order.P99OrderID,
		&order.UserID,
		&order.ServiceType,
		&order.ServiceData,
		&order.AmountCents,
		&order.GoldAmount,
		&order.Status,
		&order.ReturnURL,
		&order.CreatedAt,
		&order.FulfilledAt)
	return order, err
}

func (store *store) ServiceOrderCreate(ctx context.Context, order model.ServiceOrder) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO service_orders (order_id, p99_order_id, user_id, service_type, service_data, amount_cents, gold_amount, status, return_url, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		order.OrderID,
		order.P99OrderID,
		order.UserID,
		order.ServiceType,
		order.ServiceData,
		order.AmountCents,
		order.GoldAmount,
		order.Status,
		order.ReturnURL,
		order.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (store *store) ServiceOrderGet(ctx context.Context, orderID string) (model.ServiceOrder, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT"+serviceOrderColumns+
			" FROM service_orders"+
			" WHERE order_id = $1",
		orderID)
	order, err := scanServiceOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.ServiceOrder{}, ErrNoRows
		}
		return model.ServiceOrder{}, err
	}
	return order, nil
}

func (store *store) ServiceOrdersByPayment(ctx context.Context, p99OrderID string) ([]model.ServiceOrder, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT"+serviceOrderColumns+
			" FROM service_orders"+
			" WHERE p99_order_id = $1",
		p99OrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectServiceOrders(rows)
}

func (store *store) ServiceOrdersPending(ctx context.Context) ([]model.ServiceOrder, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT"+serviceOrderColumns+
			" FROM service_orders"+
			" WHERE status = 'pending'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectServiceOrders(rows)
}

func collectServiceOrders(rows *sql.Rows) ([]model.ServiceOrder, error) {
	var orders []model.ServiceOrder
	for rows.Next() {
		order, err := scanServiceOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// ServiceOrderFulfill выполняет исполнение сервисного ордера одной
// транзакцией: списание с общего баланса, зачисление на баланс сервиса,
// немедленное потребление той же суммы, две записи журнала, перевод
// статуса pending -> fulfilled. Либо все шаги, либо ни одного.
// Повторный вызов по исполненному ордеру — no-op без ошибки.
func (store *store) ServiceOrderFulfill(ctx context.Context, order model.ServiceOrder) error {
	if order.GoldAmount <= 0 {
		return ErrPointsIncorrect
	}
	now := time.Now()

	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Перевод статуса первым шагом: блокирует строку ордера и отсекает
	// конкурирующее повторное исполнение
	res, err := tx.ExecContext(ctx,
		"UPDATE service_orders SET status = 'fulfilled', fulfilled_at = $1"+
			" WHERE order_id = $2"+
			"   AND status = 'pending'",
		now, order.OrderID)
	if err != nil {
		return err
	}
	flipped, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if flipped == 0 {
		// уже исполнен
		return nil
	}

	// Списание с общего баланса, только если средств достаточно
	res, err = tx.ExecContext(ctx,
		"UPDATE users SET gold_balance = gold_balance - $1"+
			" WHERE id = $2"+
			"   AND gold_balance >= $1",
		order.GoldAmount, order.UserID)
	if err != nil {
		return err
	}
	debited, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if debited == 0 {
		return ErrInsufficientFunds
	}

	// Зачисление на баланс сервиса и немедленное потребление
	_, err = tx.ExecContext(ctx,
		"INSERT INTO user_game_balances (user_id, game_id, balance, total_deposited, total_consumed, updated_at)"+
			" VALUES ($1, $2, 0, $3, $3, $4)"+
			" ON CONFLICT (user_id, game_id) DO UPDATE SET"+
			" total_deposited = user_game_balances.total_deposited + $3,"+
			" total_consumed = user_game_balances.total_consumed + $3,"+
			" updated_at = $4",
		order.UserID, order.ServiceType, order.GoldAmount, now)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO wallet_transactions (order_id, user_id, amount, currency, type, description, status, game_id, created_at)"+
			" VALUES ($1, $2, $3, 'gold', 'game_deposit', $4, 'completed', $5, $6)"+
			" ON CONFLICT (order_id, type) DO NOTHING",
		order.OrderID, order.UserID, order.GoldAmount,
		"service "+order.ServiceType+" deposit", order.ServiceType, now)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO wallet_transactions (order_id, user_id, amount, currency, type, description, status, game_id, created_at)"+
			" VALUES ($1, $2, $3, 'gold', 'consume', $4, 'completed', $5, $6)"+
			" ON CONFLICT (order_id, type) DO NOTHING",
		order.OrderID, order.UserID, -order.GoldAmount,
		"service "+order.ServiceType+" consume", order.ServiceType, now)
	if err != nil {
		return err
	}

	return tx.Commit()
}
