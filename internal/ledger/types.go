package ledger

import "time"

// OrderStatus 表示订单记录的处理状态。状态只会沿管线向前推进，
// 人工处理状态与 Completed 均为终态。
type OrderStatus string

const (
	StatusOrderPlaced              OrderStatus = "OrderPlaced"
	StatusPaymentSent              OrderStatus = "PaymentSent"
	StatusPaymentConfirmedUpstream OrderStatus = "PaymentConfirmedUpstream"
	StatusCompleted                OrderStatus = "Completed"

	StatusManualPaymentUnknownBank    OrderStatus = "ManualPaymentNeeded (unknown bank)"
	StatusManualPaymentGatewayFailure OrderStatus = "ManualPaymentNeeded (gateway failure)"
	StatusManualConfirmationNeeded    OrderStatus = "ManualConfirmationNeeded"
	StatusManualReleaseNeeded         OrderStatus = "ManualReleaseNeeded"
)

// allowedTransitions 列出各状态允许的下一状态，未列出的皆为终态。
var allowedTransitions = map[OrderStatus][]OrderStatus{
	StatusOrderPlaced: {
		StatusPaymentSent,
		StatusManualPaymentUnknownBank,
		StatusManualPaymentGatewayFailure,
	},
	StatusPaymentSent: {
		StatusPaymentConfirmedUpstream,
		StatusManualConfirmationNeeded,
	},
	StatusPaymentConfirmedUpstream: {
		StatusCompleted,
		StatusManualReleaseNeeded,
	},
}

// CanTransition 判断状态迁移是否合法。
func CanTransition(from, to OrderStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal 判断状态是否为终态。
func (s OrderStatus) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

// OrderRecord 为一笔市场采购订单的持久化记录，下单成功即创建，永不删除。
type OrderRecord struct {
	InternalID       string      `json:"id"`
	MarketplaceOrder string      `json:"marketplaceOrderId"`
	CounterpartyName string      `json:"counterpartyName"`
	FiatAmount       float64     `json:"fiatAmount"`
	CryptoAmount     float64     `json:"cryptoAmount"`
	PaymentReference string      `json:"paymentReferenceId,omitempty"`
	Status           OrderStatus `json:"status"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// PaymentRecord 只在转账确认成功时创建，失败不会留下支付记录。
type PaymentRecord struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Amount    float64   `json:"amount"`
	BankCode  string    `json:"bankCode"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentStatusSuccess 是支付记录唯一合法的状态值。
const PaymentStatusSuccess = "Success"

// Client 为收款客户配置。
type Client struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Account      string  `json:"account"`
	BankCode     string  `json:"bank"`
	PayoutAmount float64 `json:"amount"`
}

// CycleState 为调度器的持久化状态，进程重启后据此恢复展示。
type CycleState struct {
	Status      string    `json:"status"`
	LastRunTime time.Time `json:"lastRunTime"`
}
