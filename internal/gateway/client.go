// Package gateway 封装法币支付网关的转账流程。
// 一次 SendPayment 内部依次完成收款账户校验、收款人创建与转账发起，
// 对上层管线表现为单个原子调用。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/config"
)

const (
	resolvePath   = "/bank/resolve"
	recipientPath = "/transferrecipient"
	transferPath  = "/transfer"
)

// Client 负责与支付网关交互。
type Client struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 构造支付网关客户端。
func NewClient(cfg config.GatewayConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type gatewayResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// SendPayment 向指定银行账户发起转账，成功返回网关转账编号。
func (c *Client) SendPayment(ctx context.Context, accountNumber, bankCode string, amount float64) (string, error) {
	accountName, err := c.resolveAccount(ctx, accountNumber, bankCode)
	if err != nil {
		return "", err
	}

	recipientCode, err := c.createRecipient(ctx, accountName, accountNumber, bankCode)
	if err != nil {
		return "", err
	}

	return c.initiateTransfer(ctx, recipientCode, amount)
}

// resolveAccount 校验账号并返回户名。户名对不上会导致后续转账被网关拒绝。
func (c *Client) resolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	path := fmt.Sprintf("%s?account_number=%s&bank_code=%s", resolvePath, accountNumber, bankCode)
	data, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("gateway: 账户校验失败: %w", err)
	}

	var payload struct {
		AccountName string `json:"account_name"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("gateway: 解析账户校验响应失败: %w", err)
	}
	if payload.AccountName == "" {
		return "", fmt.Errorf("gateway: 账户 %s 校验未返回户名", accountNumber)
	}

	c.logger.Info("收款账户校验通过",
		zap.String("account_number", accountNumber),
		zap.String("account_name", payload.AccountName),
	)
	return payload.AccountName, nil
}

func (c *Client) createRecipient(ctx context.Context, accountName, accountNumber, bankCode string) (string, error) {
	body := map[string]interface{}{
		"type":           "nuban",
		"name":           accountName,
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       "NGN",
	}

	data, err := c.doRequest(ctx, http.MethodPost, recipientPath, body)
	if err != nil {
		return "", fmt.Errorf("gateway: 创建收款人失败: %w", err)
	}

	var payload struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("gateway: 解析收款人响应失败: %w", err)
	}
	if payload.RecipientCode == "" {
		return "", fmt.Errorf("gateway: 收款人响应缺少 recipient_code")
	}

	return payload.RecipientCode, nil
}

func (c *Client) initiateTransfer(ctx context.Context, recipientCode string, amount float64) (string, error) {
	// 网关以最小货币单位（kobo）计价，用 decimal 避免浮点换算误差
	kobo := decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	reference := uuid.NewString()

	body := map[string]interface{}{
		"source":    "balance",
		"amount":    kobo,
		"recipient": recipientCode,
		"reason":    "P2P Bot Payout",
		"reference": reference,
	}

	data, err := c.doRequest(ctx, http.MethodPost, transferPath, body)
	if err != nil {
		return "", fmt.Errorf("gateway: 发起转账失败: %w", err)
	}

	var payload struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("gateway: 解析转账响应失败: %w", err)
	}
	if payload.TransferCode == "" {
		return "", fmt.Errorf("gateway: 转账响应缺少 transfer_code")
	}

	c.logger.Info("转账已发起",
		zap.String("transfer_code", payload.TransferCode),
		zap.String("reference", reference),
		zap.Int64("amount_kobo", kobo),
		zap.String("transfer_status", payload.Status),
	)
	return payload.TransferCode, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body map[string]interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}

	var payload gatewayResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("解析响应失败 (HTTP %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("鉴权失败 (HTTP 401): %s，请检查网关密钥权限", payload.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !payload.Status {
		return nil, fmt.Errorf("网关返回失败 (HTTP %d): %s", resp.StatusCode, payload.Message)
	}

	return payload.Data, nil
}
