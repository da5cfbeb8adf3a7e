// Package cryptopay implementa el cliente de la API de Crypto Pay.
package cryptopay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vpn-bot/internal/domain"
)

const DefaultBaseURL = "https://pay.crypt.bot/api"

var ErrInvoiceNotFound = errors.New("invoice not found")

// APIError es un error devuelto por la API con ok=false.
type APIError struct {
	Code int    `json:"code"`
	Name string `json:"name"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cryptopay api error %d: %s", e.Code, e.Name)
}

// Client habla con Crypto Pay usando el token de la app.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient construye un cliente con timeout propio.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateInvoice crea un cobro y devuelve el invoice con su URL de pago.
func (c *Client) CreateInvoice(ctx context.Context, req domain.InvoiceRequest) (domain.Invoice, error) {
	body := createInvoiceRequest{
		CurrencyType:   "crypto",
		Asset:          req.Asset,
		Amount:         req.Amount,
		Description:    req.Description,
		Payload:        req.Payload,
		AllowComments:  false,
		AllowAnonymous: true,
	}
	if req.ExpiresIn > 0 {
		body.ExpiresIn = int(req.ExpiresIn.Seconds())
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("marshal request: %w", err)
	}

	var item invoiceItem
	if err := c.call(ctx, http.MethodPost, "/createInvoice", nil, bodyBytes, &item); err != nil {
		return domain.Invoice{}, err
	}
	return item.toDomain(), nil
}

// GetInvoice consulta un cobro por id.
func (c *Client) GetInvoice(ctx context.Context, invoiceID int64) (domain.Invoice, error) {
	q := url.Values{}
	q.Set("invoice_ids", strconv.FormatInt(invoiceID, 10))

	var page struct {
		Items []invoiceItem `json:"items"`
	}
	if err := c.call(ctx, http.MethodGet, "/getInvoices", q, nil, &page); err != nil {
		return domain.Invoice{}, err
	}
	if len(page.Items) == 0 {
		return domain.Invoice{}, fmt.Errorf("%w: %d", ErrInvoiceNotFound, invoiceID)
	}
	return page.Items[0].toDomain(), nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Crypto-Pay-API-Token", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env apiResponse
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode >= 400 {
			c.logger.Warn("cryptopay error status",
				zap.Int("status", resp.StatusCode),
				zap.String("path", path),
			)
			return fmt.Errorf("cryptopay http error: status=%d", resp.StatusCode)
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if !env.OK {
		if env.Error == nil {
			return fmt.Errorf("cryptopay http error: status=%d", resp.StatusCode)
		}
		c.logger.Warn("cryptopay api error",
			zap.Int("code", env.Error.Code),
			zap.String("name", env.Error.Name),
			zap.String("path", path),
		)
		return env.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *APIError       `json:"error,omitempty"`
}

type createInvoiceRequest struct {
	CurrencyType   string `json:"currency_type"`
	Asset          string `json:"asset"`
	Amount         string `json:"amount"`
	Description    string `json:"description,omitempty"`
	Payload        string `json:"payload,omitempty"`
	ExpiresIn      int    `json:"expires_in,omitempty"`
	AllowComments  bool   `json:"allow_comments"`
	AllowAnonymous bool   `json:"allow_anonymous"`
}

type invoiceItem struct {
	InvoiceID     int64      `json:"invoice_id"`
	Status        string     `json:"status"`
	Asset         string     `json:"asset"`
	Amount        string     `json:"amount"`
	Payload       string     `json:"payload"`
	BotInvoiceURL string     `json:"bot_invoice_url"`
	PayURL        string     `json:"pay_url"`
	CreatedAt     time.Time  `json:"created_at"`
	PaidAt        *time.Time `json:"paid_at"`
}

func (it invoiceItem) toDomain() domain.Invoice {
	payURL := it.BotInvoiceURL
	if payURL == "" {
		payURL = it.PayURL
	}
	inv := domain.Invoice{
		ID:        it.InvoiceID,
		Status:    it.Status,
		Amount:    it.Amount,
		Asset:     it.Asset,
		PayURL:    payURL,
		Payload:   it.Payload,
		CreatedAt: it.CreatedAt,
		PaidAt:    it.PaidAt,
	}
	if id, err := strconv.ParseInt(it.Payload, 10, 64); err == nil {
		inv.UserID = id
	}
	return inv
}
