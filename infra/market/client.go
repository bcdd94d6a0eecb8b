package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kilianp07/flexgrid/core/model"
	"github.com/kilianp07/flexgrid/infra/logger"
)

// Config defines the market API connection settings.
type Config struct {
	APIURL              string   `json:"api_url"`
	PollIntervalSeconds int      `json:"poll_interval_seconds"`
	Auth                AuthConf `json:"auth"`
}

// PriceObserver consumes fetched price points.
type PriceObserver interface {
	Observe(p model.PricePoint)
}

// Client polls a wholesale market API for spot prices and feeds them
// into a price observer. Authentication uses OAuth2 client
// credentials; when no auth URL is configured requests go out
// unauthenticated.
type Client struct {
	observer PriceObserver
	log      logger.Logger
	client   *http.Client
	auth     *ClientCred
	apiURL   string
	interval time.Duration
}

// NewClient creates a market API client.
func NewClient(cfg Config, observer PriceObserver) *Client {
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = 300
	}
	c := &Client{
		observer: observer,
		log:      logger.New("market-client"),
		client:   &http.Client{Timeout: 10 * time.Second},
		apiURL:   cfg.APIURL,
		interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	}
	if cfg.Auth.AuthURL != "" {
		c.auth = NewClientCred(cfg.Auth)
	}
	return c
}

// Start polls immediately and then on every interval tick until the
// context is canceled.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Poll(ctx); err != nil {
		c.log.Errorf("poll error: %v", err)
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Poll(ctx); err != nil {
				c.log.Errorf("poll error: %v", err)
			}
		}
	}
}

// pricePayload is the market API wire format.
type pricePayload struct {
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
	VolumeMW  float64 `json:"volume_mw"`
	Currency  string  `json:"currency"`
}

// Poll fetches the latest prices once and forwards them to the
// observer.
func (c *Client) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return err
	}
	if c.auth != nil {
		if err := c.auth.SetAuthHeader(req); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("market api status %d", resp.StatusCode)
	}

	var payload []pricePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode prices: %w", err)
	}
	for _, p := range payload {
		c.observer.Observe(model.PricePoint{
			Timestamp: time.Unix(0, p.Timestamp*int64(time.Millisecond)).UTC(),
			Price:     p.Price,
			VolumeMW:  p.VolumeMW,
			Currency:  p.Currency,
		})
	}
	c.log.Debugf("observed %d market price points", len(payload))
	return nil
}
