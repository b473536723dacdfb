package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rewired-gh/polyagent/internal/models"
	"github.com/rewired-gh/polyagent/internal/retry"
)

// Client provides access to the Polymarket Gamma API
type Client struct {
	apiBaseURL string
	httpClient *http.Client
	timeout    time.Duration
}

// gammaMarket represents a market as returned by the Gamma API. Outcome names
// and prices arrive as JSON-encoded strings inside string fields.
type gammaMarket struct {
	ID            string  `json:"id"`
	Question      string  `json:"question"`
	Description   string  `json:"description"`
	Outcomes      string  `json:"outcomes"`
	OutcomePrices string  `json:"outcomePrices"`
	Liquidity     string  `json:"liquidity"`
	Volume        string  `json:"volume"`
	Spread        float64 `json:"spread"`
	EndDate       string  `json:"endDate"`
	Active        bool    `json:"active"`
	Closed        bool    `json:"closed"`
}

// NewClient creates a new Polymarket client
func NewClient(apiBaseURL string, timeout time.Duration) *Client {
	return &Client{
		apiBaseURL: apiBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// FetchMarkets retrieves active markets from the Gamma API, keeps those with at
// least minLiquidity, and returns the maxMarkets most liquid ones.
func (c *Client) FetchMarkets(ctx context.Context, minLiquidity float64, maxMarkets int) ([]models.MarketSnapshot, error) {
	url := fmt.Sprintf("%s/markets?active=true&closed=false&limit=100&order=liquidity&ascending=false", c.apiBaseURL)

	raw, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}

	var gammaMarkets []gammaMarket
	if err := json.Unmarshal(raw, &gammaMarkets); err != nil {
		return nil, fmt.Errorf("failed to decode markets: %w", err)
	}

	var snapshots []models.MarketSnapshot
	for _, gm := range gammaMarkets {
		if !gm.Active || gm.Closed {
			continue
		}
		snap, err := gm.toSnapshot()
		if err != nil {
			// Skip markets with unusable payloads rather than failing the fetch.
			continue
		}
		if snap.Liquidity < minLiquidity {
			continue
		}
		snapshots = append(snapshots, snap)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Liquidity > snapshots[j].Liquidity
	})
	if maxMarkets > 0 && len(snapshots) > maxMarkets {
		snapshots = snapshots[:maxMarkets]
	}

	return snapshots, nil
}

// FetchMarket retrieves a single market by ID.
func (c *Client) FetchMarket(ctx context.Context, marketID string) (*models.MarketSnapshot, error) {
	url := fmt.Sprintf("%s/markets/%s", c.apiBaseURL, marketID)

	raw, err := c.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch market %s: %w", marketID, err)
	}

	var gm gammaMarket
	if err := json.Unmarshal(raw, &gm); err != nil {
		return nil, fmt.Errorf("failed to decode market %s: %w", marketID, err)
	}

	snap, err := gm.toSnapshot()
	if err != nil {
		return nil, fmt.Errorf("unusable market %s: %w", marketID, err)
	}
	return &snap, nil
}

func (gm gammaMarket) toSnapshot() (models.MarketSnapshot, error) {
	var snap models.MarketSnapshot

	var outcomes []string
	if gm.Outcomes != "" {
		if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
			return snap, fmt.Errorf("bad outcomes field: %w", err)
		}
	}

	var priceStrings []string
	if gm.OutcomePrices != "" {
		if err := json.Unmarshal([]byte(gm.OutcomePrices), &priceStrings); err != nil {
			return snap, fmt.Errorf("bad outcomePrices field: %w", err)
		}
	}
	prices := make([]float64, 0, len(priceStrings))
	for _, ps := range priceStrings {
		p, err := strconv.ParseFloat(ps, 64)
		if err != nil {
			return snap, fmt.Errorf("bad outcome price %q: %w", ps, err)
		}
		prices = append(prices, p)
	}

	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)
	volume, _ := strconv.ParseFloat(gm.Volume, 64)

	var closeTime time.Time
	if gm.EndDate != "" {
		closeTime, _ = time.Parse(time.RFC3339, gm.EndDate)
	}

	snap = models.MarketSnapshot{
		ID:            gm.ID,
		Question:      gm.Question,
		Description:   gm.Description,
		Outcomes:      outcomes,
		OutcomePrices: prices,
		Liquidity:     liquidity,
		Volume:        volume,
		Spread:        gm.Spread,
		CloseTime:     closeTime,
	}
	return snap, nil
}

// doRequest performs an HTTP GET with retry on transient failures.
func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	cfg := retry.Config{
		MaxRetries:        2,
		DelayBase:         time.Second,
		PerAttemptTimeout: c.timeout,
	}

	return retry.Do(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.Transient(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.Transient(fmt.Errorf("server error: %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, retry.Permanent(fmt.Errorf("unexpected status: %d", resp.StatusCode))
		}

		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, retry.Transient(err)
		}
		return buf, nil
	})
}
