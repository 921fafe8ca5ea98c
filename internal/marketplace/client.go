package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/config"
)

const (
	offersPath       = "/fiat/v1/public/ads"
	placeOrderPath   = "/fiat/v1/private/trade/order"
	orderDetailPath  = "/fiat/v1/private/trade/order-detail"
	markPaidPath     = "/fiat/v1/private/trade/paid"
	confirmPath      = "/fiat/v1/private/trade/confirm"
	recvWindowMillis = "5000"
)

// Client 负责与 P2P 市场的法币接口交互。
// 调用方通过 retry 包包裹每次调用，Client 本身只做单次请求。
type Client struct {
	cfg        config.MarketplaceConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 构造市场客户端。
func NewClient(cfg config.MarketplaceConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// apiEnvelope 兼容市场两套响应外壳：法币交易接口使用 code/message，
// 商户接口使用 retCode/retMsg。
type apiEnvelope struct {
	Code    *int            `json:"code"`
	RetCode *int            `json:"retCode"`
	Message string          `json:"message"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (e apiEnvelope) ok() bool {
	if e.Code != nil {
		return *e.Code == 0
	}
	if e.RetCode != nil {
		return *e.RetCode == 0
	}
	return false
}

func (e apiEnvelope) errorMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.RetMsg != "" {
		return e.RetMsg
	}
	return "unknown error"
}

// FetchOffers 拉取公开报价列表。
func (c *Client) FetchOffers(ctx context.Context, query OfferQuery) ([]Offer, error) {
	params := map[string]string{
		"page":       "1",
		"limit":      "50",
		"tokenId":    query.Crypto,
		"currencyId": query.Fiat,
		"side":       query.Side,
		"payment":    query.PaymentMethod,
	}

	result, err := c.doRequest(ctx, http.MethodGet, offersPath, params, false)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Items []Offer `json:"items"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("marketplace: 解析报价列表失败: %w", err)
	}

	c.logger.Info("已拉取市场报价",
		zap.Int("count", len(payload.Items)),
		zap.String("crypto", query.Crypto),
		zap.String("fiat", query.Fiat),
	)
	return payload.Items, nil
}

// PlaceOrder 按报价下单。
func (c *Client) PlaceOrder(ctx context.Context, offerID string, fiatAmount float64) (OrderDetails, error) {
	params := map[string]string{
		"advNo":  offerID,
		"amount": strconv.FormatFloat(fiatAmount, 'f', -1, 64),
	}

	result, err := c.doRequest(ctx, http.MethodPost, placeOrderPath, params, true)
	if err != nil {
		return OrderDetails{}, err
	}

	var details OrderDetails
	if err := json.Unmarshal(result, &details); err != nil {
		return OrderDetails{}, fmt.Errorf("marketplace: 解析下单响应失败: %w", err)
	}
	if details.OrderNo == "" {
		return OrderDetails{}, fmt.Errorf("marketplace: 下单响应缺少订单号")
	}

	c.logger.Info("市场下单成功", zap.String("order_no", details.OrderNo), zap.String("offer_id", offerID))
	return details, nil
}

// FetchCounterpartyDetails 获取指定订单的卖方收款信息。
func (c *Client) FetchCounterpartyDetails(ctx context.Context, orderNo string) (CounterpartyDetails, error) {
	params := map[string]string{"orderNo": orderNo}

	result, err := c.doRequest(ctx, http.MethodGet, orderDetailPath, params, true)
	if err != nil {
		return CounterpartyDetails{}, err
	}

	var payload struct {
		TradeDetails struct {
			AccountNo         string `json:"accountNo"`
			BankName          string `json:"bankName"`
			AccountHolderName string `json:"accountHolderName"`
		} `json:"tradeDetails"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return CounterpartyDetails{}, fmt.Errorf("marketplace: 解析订单详情失败: %w", err)
	}

	return CounterpartyDetails{
		AccountNumber:     payload.TradeDetails.AccountNo,
		BankName:          payload.TradeDetails.BankName,
		AccountHolderName: payload.TradeDetails.AccountHolderName,
	}, nil
}

// MarkPaid 将订单标记为已付款。
func (c *Client) MarkPaid(ctx context.Context, orderNo string) error {
	params := map[string]string{"orderNo": orderNo}
	if _, err := c.doRequest(ctx, http.MethodPost, markPaidPath, params, true); err != nil {
		return err
	}
	c.logger.Info("订单已标记为已付款", zap.String("order_no", orderNo))
	return nil
}

// ConfirmCompletion 确认订单完成，触发放币。
func (c *Client) ConfirmCompletion(ctx context.Context, orderNo string) error {
	params := map[string]string{"orderNo": orderNo}
	if _, err := c.doRequest(ctx, http.MethodPost, confirmPath, params, true); err != nil {
		return err
	}
	c.logger.Info("订单已确认完成", zap.String("order_no", orderNo))
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, params map[string]string, signed bool) (json.RawMessage, error) {
	if signed {
		params["api_key"] = c.cfg.APIKey
		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		params["recvWindow"] = recvWindowMillis
		params["sign"] = signParams(c.cfg.APISecret, params)
	}

	var req *http.Request
	var err error

	switch method {
	case http.MethodGet:
		values := url.Values{}
		for key, value := range params {
			values.Set(key, value)
		}
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path+"?"+values.Encode(), nil)
	case http.MethodPost:
		var body []byte
		body, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marketplace: 序列化请求体失败: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		return nil, fmt.Errorf("marketplace: 不支持的请求方法 %s", method)
	}
	if err != nil {
		return nil, fmt.Errorf("marketplace: 构造请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace: 请求 %s 失败: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("marketplace: 读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("marketplace: 请求 %s 返回 HTTP %d: %s", path, resp.StatusCode, truncate(raw, 200))
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("marketplace: 解析响应外壳失败: %w", err)
	}
	if !envelope.ok() {
		return nil, fmt.Errorf("marketplace: 接口 %s 返回业务错误: %s", path, envelope.errorMessage())
	}

	return envelope.Result, nil
}

func truncate(raw []byte, limit int) string {
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
