package marketplace

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Offer 为市场广告的原始快照。市场侧所有数值字段均以字符串下发，
// 解析与合法性判断推迟到筛选阶段进行。
type Offer struct {
	ID               string `json:"advNo"`
	SellerName       string `json:"nickName"`
	Price            string `json:"price"`
	MinTradeAmount   string `json:"minTradeAmount"`
	MaxTradeAmount   string `json:"maxTradeAmount"`
	TradableQuantity string `json:"tradableQuantity"`
	TimeLimit        string `json:"timeLimit"`
}

// OfferQuery 描述一次报价查询。
type OfferQuery struct {
	Crypto        string
	Fiat          string
	Side          string
	PaymentMethod string
}

// OrderDetails 为下单成功后市场返回的订单信息。
type OrderDetails struct {
	OrderNo string `json:"orderNo"`
}

// CounterpartyDetails 为卖方收款信息。
type CounterpartyDetails struct {
	AccountNumber     string
	BankName          string
	AccountHolderName string
}

// Complete 判断收款信息是否齐备。缺字段视为数据完整性失败而非网络失败。
func (d CounterpartyDetails) Complete() bool {
	return d.AccountNumber != "" && d.BankName != "" && d.AccountHolderName != ""
}

// CryptoAmount 按报价单价换算指定法币金额对应的加密货币数量。
func (o Offer) CryptoAmount(fiatAmount float64) (float64, error) {
	price, err := decimal.NewFromString(o.Price)
	if err != nil {
		return 0, fmt.Errorf("marketplace: 报价单价 %q 无法解析: %w", o.Price, err)
	}
	if price.Sign() <= 0 {
		return 0, fmt.Errorf("marketplace: 报价单价 %s 无效", price)
	}

	amount := decimal.NewFromFloat(fiatAmount).DivRound(price, 8)
	value, _ := amount.Float64()
	return value, nil
}
