package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client инкапсулирует HTTP-взаимодействие с платёжным рельсом.
type Client struct {
	baseURL    string
	treasury   string
	httpClient *http.Client
}

type transferRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type accountResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// NewClient создаёт HTTP-клиент платёжного рельса, списывающий средства с указанного казначейского счёта.
func NewClient(baseURL, treasury string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:  base,
		treasury: treasury,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Transfer переводит средства с казначейского счёта. Повторов нет: неуспешный перевод возвращается вызывающему.
func (c *Client) Transfer(ctx context.Context, t Transfer) error {
	return c.post(ctx, transferRequest{
		From:      c.treasury,
		To:        t.To,
		Amount:    t.Amount,
		Reference: t.Reference,
	})
}

// Collect списывает приложенный к вызову платёж со счёта плательщика на казначейский счёт.
func (c *Client) Collect(ctx context.Context, from string, amount int64) error {
	return c.post(ctx, transferRequest{
		From:      from,
		To:        c.treasury,
		Amount:    amount,
		Reference: "collect",
	})
}

func (c *Client) post(ctx context.Context, tr transferRequest) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("payment client not configured")
	}

	body, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/transfers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, tr.From)
	case http.StatusConflict, http.StatusUnprocessableEntity, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrTransferRejected, resp.StatusCode)
	default:
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}

// Balance запрашивает баланс казначейского счёта.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	if c == nil || c.baseURL == "" {
		return 0, fmt.Errorf("payment client not configured")
	}

	u := fmt.Sprintf("%s/api/accounts/%s", c.baseURL, url.PathEscape(c.treasury))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result accountResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}

	return result.Balance, nil
}
