// Package venue implements live order connectors. The HTTP connector talks
// to a venue order gateway: one signed JSON POST per limit order, answered
// with the fill.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/spreadbot/internal/crypto"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
)

// Config describes one venue gateway.
type Config struct {
	Name      string
	BaseURL   string
	OrderPath string
	Auth      *crypto.HMACAuth
	// RatePerSecond and Burst bound outgoing order requests. Zero disables
	// the limiter.
	RatePerSecond float64
	Burst         int
	Timeout       time.Duration
}

// HTTPConnector implements domain.Connector.
type HTTPConnector struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPConnector creates a connector. OrderPath defaults to
// /api/v1/order and Timeout to 10s.
func NewHTTPConnector(cfg Config, logger *slog.Logger) *HTTPConnector {
	if cfg.OrderPath == "" {
		cfg.OrderPath = "/api/v1/order"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &HTTPConnector{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(slog.String("component", "venue"), slog.String("venue", cfg.Name)),
	}
}

// Name returns the venue name used in signals.
func (c *HTTPConnector) Name() string { return c.cfg.Name }

type orderPayload struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
}

type orderResponse struct {
	OrderID     string          `json:"order_id"`
	Status      string          `json:"status"`
	FilledPrice decimal.Decimal `json:"filled_price"`
	FilledQty   decimal.Decimal `json:"filled_qty"`
	Fee         decimal.Decimal `json:"fee"`
	FilledAt    int64           `json:"filled_at"`
	Message     string          `json:"message"`
}

// PlaceOrder sends a limit order and waits for the gateway's fill report.
// Network failures, rate limit waits past the deadline, 429 and 5xx come
// back as *domain.TransientNetworkError; gateway rejections are final.
func (c *HTTPConnector) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderFill, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return domain.OrderFill{}, fmt.Errorf("venue %s: rate limit wait: %w", c.cfg.Name, err)
			}
			// A token past the deadline; the next attempt gets a fresh one.
			err = &domain.TransientNetworkError{Op: c.cfg.Name + " rate limit wait", Err: err}
			c.count(err)
			return domain.OrderFill{}, err
		}
	}

	body, err := json.Marshal(orderPayload{
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          "LIMIT",
		Quantity:      req.Quantity.String(),
		Price:         req.LimitPrice.String(),
	})
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("venue %s: marshal order: %w", c.cfg.Name, err)
	}

	respBody, err := c.do(ctx, http.MethodPost, c.cfg.OrderPath, body)
	if err != nil {
		c.count(err)
		return domain.OrderFill{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		c.count(err)
		return domain.OrderFill{}, fmt.Errorf("venue %s: decode order response: %w", c.cfg.Name, err)
	}

	switch strings.ToUpper(resp.Status) {
	case "FILLED", "PARTIALLY_FILLED":
	default:
		err := fmt.Errorf("venue %s: order %s %s: %s", c.cfg.Name, req.ClientOrderID, strings.ToLower(resp.Status), resp.Message)
		c.count(err)
		return domain.OrderFill{}, err
	}

	fill := domain.OrderFill{
		OrderID:     resp.OrderID,
		FilledPrice: resp.FilledPrice,
		FilledQty:   resp.FilledQty,
		Fee:         resp.Fee,
		FilledAt:    time.Now().UTC(),
	}
	if resp.FilledAt > 0 {
		fill.FilledAt = time.UnixMilli(resp.FilledAt).UTC()
	}
	c.count(nil)
	c.logger.Debug("venue: order filled",
		slog.String("client_order_id", req.ClientOrderID),
		slog.String("order_id", fill.OrderID),
		slog.String("price", fill.FilledPrice.String()),
	)
	return fill, nil
}

func (c *HTTPConnector) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	op := "place_order:" + c.cfg.Name

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("venue %s: create request: %w", c.cfg.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Auth != nil {
		for k, v := range c.cfg.Auth.Headers(method, path, string(body)) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("venue %s: %w", c.cfg.Name, err)
		}
		return nil, &domain.TransientNetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransientNetworkError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if err := checkHTTPStatus(op, resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx responses to the error taxonomy.
func checkHTTPStatus(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusTooManyRequests:
		return &domain.TransientNetworkError{Op: op, Err: fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)}
	case status >= 500:
		return &domain.TransientNetworkError{Op: op, Err: fmt.Errorf("HTTP %d: %s", status, msg)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", op, domain.ErrUnauthorized, msg)
	default:
		return fmt.Errorf("%s: HTTP %d: %s", op, status, msg)
	}
}

func (c *HTTPConnector) count(err error) {
	outcome := "filled"
	var tne *domain.TransientNetworkError
	switch {
	case err == nil:
	case errors.As(err, &tne):
		outcome = "transient"
	default:
		outcome = "rejected"
	}
	metrics.VenueRequestsTotal.WithLabelValues(c.cfg.Name, outcome).Inc()
}

var _ domain.Connector = (*HTTPConnector)(nil)
