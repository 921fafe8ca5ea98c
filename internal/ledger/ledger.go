// Package ledger 维护订单、支付、客户与调度状态四个持久化集合。
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/store"
)

var (
	// ErrOrderNotFound 表示目标订单不存在。
	ErrOrderNotFound = errors.New("ledger: 订单不存在")
	// ErrIllegalTransition 表示状态迁移违反了只进不退的约束。
	ErrIllegalTransition = errors.New("ledger: 非法的订单状态迁移")
	// ErrClientNotFound 表示目标客户不存在。
	ErrClientNotFound = errors.New("ledger: 客户不存在")
)

// Ledger 负责持久化集合的读写，初始化时创建所需表结构。
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// New 初始化账本。
func New(st *store.Store, logger *zap.Logger) (*Ledger, error) {
	if st == nil {
		return nil, errors.New("ledger: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{db: st.DB(), logger: logger}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			internal_id TEXT PRIMARY KEY,
			marketplace_order_id TEXT NOT NULL UNIQUE,
			counterparty_name TEXT NOT NULL,
			fiat_amount REAL NOT NULL,
			crypto_amount REAL NOT NULL,
			payment_reference TEXT,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			amount REAL NOT NULL,
			bank_code TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			account TEXT NOT NULL,
			bank_code TEXT NOT NULL,
			payout_amount REAL NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cycle_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			status TEXT NOT NULL,
			last_run_time TEXT
		);`,
	}

	for _, stmt := range schema {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("ledger: 初始化表结构失败: %w", err)
		}
	}
	return nil
}

// InsertOrder 写入新订单记录。
func (l *Ledger) InsertOrder(ctx context.Context, record OrderRecord) error {
	if record.InternalID == "" {
		record.InternalID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO orders (internal_id, marketplace_order_id, counterparty_name, fiat_amount, crypto_amount, payment_reference, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.InternalID,
		record.MarketplaceOrder,
		record.CounterpartyName,
		record.FiatAmount,
		record.CryptoAmount,
		nullable(record.PaymentReference),
		string(record.Status),
		record.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger: 写入订单失败: %w", err)
	}
	return nil
}

// UpdateOrderStatus 推进订单状态。paymentRef 非空时一并记录支付凭证号。
// 迁移必须满足状态机约束，否则返回 ErrIllegalTransition。
func (l *Ledger) UpdateOrderStatus(ctx context.Context, marketplaceOrderID string, status OrderStatus, paymentRef string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var current string
	row := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE marketplace_order_id = ?`, marketplaceOrderID)
	if scanErr := row.Scan(&current); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			err = fmt.Errorf("%w: %s", ErrOrderNotFound, marketplaceOrderID)
			return err
		}
		err = fmt.Errorf("ledger: 查询订单状态失败: %w", scanErr)
		return err
	}

	if !CanTransition(OrderStatus(current), status) {
		err = fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, status)
		return err
	}

	if paymentRef != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, payment_reference = ? WHERE marketplace_order_id = ?`,
			string(status), paymentRef, marketplaceOrderID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET status = ? WHERE marketplace_order_id = ?`,
			string(status), marketplaceOrderID)
	}
	if err != nil {
		err = fmt.Errorf("ledger: 更新订单状态失败: %w", err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger: 提交订单状态失败: %w", err)
	}

	l.logger.Info("订单状态已推进",
		zap.String("order_no", marketplaceOrderID),
		zap.String("from", current),
		zap.String("to", string(status)),
	)
	return nil
}

// ListOrders 按创建时间倒序返回全部订单记录。
func (l *Ledger) ListOrders(ctx context.Context) ([]OrderRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT internal_id, marketplace_order_id, counterparty_name, fiat_amount, crypto_amount, payment_reference, status, created_at
		 FROM orders ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询订单失败: %w", err)
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var (
			record  OrderRecord
			ref     sql.NullString
			status  string
			created string
		)
		if err := rows.Scan(&record.InternalID, &record.MarketplaceOrder, &record.CounterpartyName,
			&record.FiatAmount, &record.CryptoAmount, &ref, &status, &created); err != nil {
			return nil, fmt.Errorf("ledger: 解析订单失败: %w", err)
		}
		record.PaymentReference = ref.String
		record.Status = OrderStatus(status)
		record.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("ledger: 解析订单时间失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 读取订单失败: %w", err)
	}
	return records, nil
}

// InsertPayment 写入支付记录，状态固定为 Success。
func (l *Ledger) InsertPayment(ctx context.Context, record PaymentRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	record.Status = PaymentStatusSuccess

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO payments (id, label, amount, bank_code, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.Label, record.Amount, record.BankCode, record.Status,
		record.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("ledger: 写入支付记录失败: %w", err)
	}
	return nil
}

// ListPayments 按时间倒序返回全部支付记录。
func (l *Ledger) ListPayments(ctx context.Context) ([]PaymentRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, label, amount, bank_code, status, created_at FROM payments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询支付记录失败: %w", err)
	}
	defer rows.Close()

	var records []PaymentRecord
	for rows.Next() {
		var (
			record  PaymentRecord
			created string
		)
		if err := rows.Scan(&record.ID, &record.Label, &record.Amount, &record.BankCode, &record.Status, &created); err != nil {
			return nil, fmt.Errorf("ledger: 解析支付记录失败: %w", err)
		}
		record.Timestamp, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("ledger: 解析支付时间失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 读取支付记录失败: %w", err)
	}
	return records, nil
}

// AddClient 新增客户，入库前校验不变量。
func (l *Ledger) AddClient(ctx context.Context, client Client) (Client, error) {
	if client.Name == "" || client.Account == "" || client.BankCode == "" {
		return Client{}, errors.New("ledger: 客户的 name/account/bank 均不能为空")
	}
	if client.PayoutAmount <= 0 {
		return Client{}, errors.New("ledger: 客户打款金额必须大于0")
	}
	if client.ID == "" {
		client.ID = uuid.NewString()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO clients (id, name, account, bank_code, payout_amount, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		client.ID, client.Name, client.Account, client.BankCode, client.PayoutAmount,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Client{}, fmt.Errorf("ledger: 写入客户失败: %w", err)
	}

	l.logger.Info("已新增客户", zap.String("client_id", client.ID), zap.String("name", client.Name))
	return client, nil
}

// RemoveClient 删除客户。
func (l *Ledger) RemoveClient(ctx context.Context, clientID string) error {
	result, err := l.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("ledger: 删除客户失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger: 删除客户失败: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}
	return nil
}

// ListClients 按插入顺序返回客户列表，打款按此顺序执行。
func (l *Ledger) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, name, account, bank_code, payout_amount FROM clients ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询客户失败: %w", err)
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var client Client
		if err := rows.Scan(&client.ID, &client.Name, &client.Account, &client.BankCode, &client.PayoutAmount); err != nil {
			return nil, fmt.Errorf("ledger: 解析客户失败: %w", err)
		}
		clients = append(clients, client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: 读取客户失败: %w", err)
	}
	return clients, nil
}

// SaveCycleState 持久化调度器状态，供崩溃后恢复展示。
func (l *Ledger) SaveCycleState(ctx context.Context, state CycleState) error {
	var lastRun interface{}
	if !state.LastRunTime.IsZero() {
		lastRun = state.LastRunTime.Format(time.RFC3339Nano)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO cycle_state (id, status, last_run_time) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, last_run_time = excluded.last_run_time`,
		state.Status, lastRun,
	)
	if err != nil {
		return fmt.Errorf("ledger: 保存调度状态失败: %w", err)
	}
	return nil
}

// LoadCycleState 读取上次持久化的调度状态，无记录时返回 Idle。
func (l *Ledger) LoadCycleState(ctx context.Context) (CycleState, error) {
	var (
		state   CycleState
		lastRun sql.NullString
	)
	row := l.db.QueryRowContext(ctx, `SELECT status, last_run_time FROM cycle_state WHERE id = 1`)
	if err := row.Scan(&state.Status, &lastRun); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CycleState{Status: "Idle"}, nil
		}
		return CycleState{}, fmt.Errorf("ledger: 读取调度状态失败: %w", err)
	}

	if lastRun.Valid {
		ts, err := time.Parse(time.RFC3339Nano, lastRun.String)
		if err != nil {
			return CycleState{}, fmt.Errorf("ledger: 解析调度时间失败: %w", err)
		}
		state.LastRunTime = ts
	}
	return state, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
