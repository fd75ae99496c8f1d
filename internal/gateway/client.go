package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"qrpay/internal/config"
)

var (
	// ErrGatewayUnavailable 超时或 5xx，调用方可带退避重试
	ErrGatewayUnavailable = errors.New("支付网关暂时不可用")
	// ErrGatewayRejected 4xx，请求本身有问题，重试无意义
	ErrGatewayRejected = errors.New("支付网关拒绝请求")
)

// Client 外部支付网关客户端
// 只负责远端下单，签名校验见 signature.go
type Client struct {
	baseURL     string
	keyID       string
	keySecret   string
	maxAttempts int
	httpClient  *http.Client
}

func NewClient(cfg *config.GatewayConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		keyID:       cfg.KeyID,
		keySecret:   cfg.KeySecret,
		maxAttempts: maxAttempts,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// CreateOrderRequest 远端下单请求
// Receipt 由内部订单号确定性派生，重试时必须原样携带，
// 网关按 receipt 去重，天然防止重复下单
type CreateOrderRequest struct {
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Receipt         string `json:"receipt"`
	InternalOrderID int64  `json:"internal_order_id"`
}

type CreateOrderResponse struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type createOrderPayload struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

// CreateOrder 在外部网关创建交易单
// 超时 / 5xx 按指数退避重试，每次携带相同 receipt；4xx 直接失败
func (c *Client) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	payload := &createOrderPayload{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes: map[string]string{
			"internal_order_id": fmt.Sprintf("%d", req.InternalOrderID),
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化下单请求失败: %w", err)
	}

	backoff := 200 * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.doCreateOrder(ctx, body)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if errors.Is(err, ErrGatewayRejected) {
			return nil, err
		}

		if attempt < c.maxAttempts {
			log.Printf("[Gateway] 下单失败，准备重试: attempt=%d, receipt=%s, err=%v", attempt, req.Receipt, err)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return nil, lastErr
}

func (c *Client) doCreateOrder(ctx context.Context, body []byte) (*CreateOrderResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取响应失败: %v", ErrGatewayUnavailable, err)
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		var resp CreateOrderResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return nil, fmt.Errorf("%w: 解析响应失败: %v", ErrGatewayUnavailable, err)
		}
		if resp.ID == "" {
			return nil, fmt.Errorf("%w: 响应缺少订单ID", ErrGatewayUnavailable)
		}
		return &resp, nil
	case httpResp.StatusCode >= 400 && httpResp.StatusCode < 500:
		return nil, fmt.Errorf("%w: status=%d", ErrGatewayRejected, httpResp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status=%d", ErrGatewayUnavailable, httpResp.StatusCode)
	}
}
