package efd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"filingwatch/internal/domain"
)

const SourceID = "efd"

// rateLimitSteps is the in-place retry ladder for 429 responses: the first
// wait doubles each step, then the call gives up and the owning item is
// marked failed for the pass.
const rateLimitSteps = 3

// Config holds source client configuration.
type Config struct {
	BaseURL          string
	APIKey           string
	PageSize         int
	Timeout          time.Duration
	RequestsPerHour  int
	RateLimitBackoff time.Duration
	Cycle            int
}

// Client fetches the filer index and per-filer filings under a shared
// requests-per-hour budget. It holds no local state beyond the token
// bucket; the throttle is waited on before every call, so a failed call
// still consumes its slot.
type Client struct {
	httpClient       *http.Client
	baseURL          string
	apiKey           string
	pageSize         int
	cycle            int
	limiter          *rate.Limiter
	rateLimitBackoff time.Duration
	sleep            func(ctx context.Context, d time.Duration) error
	logger           *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:          cfg.BaseURL,
		apiKey:           cfg.APIKey,
		pageSize:         cfg.PageSize,
		cycle:            cfg.Cycle,
		limiter:          rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.RequestsPerHour)), 1),
		rateLimitBackoff: cfg.RateLimitBackoff,
		sleep:            sleepContext,
		logger:           logger.With("source", SourceID),
	}
}

// ID returns the source identifier.
func (c *Client) ID() string {
	return SourceID
}

// FetchIndex fetches one page of the filer index.
func (c *Client) FetchIndex(ctx context.Context, page int) (*domain.IndexPage, error) {
	u := fmt.Sprintf("%s/filers?cycle=%d&pageSize=%d&page=%d", c.baseURL, c.cycle, c.pageSize, page)

	var resp indexResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetch index page %d: %w", page, err)
	}

	filers := make([]domain.RawFiler, 0, len(resp.Filers))
	for _, f := range resp.Filers {
		filers = append(filers, domain.RawFiler{
			RawID:        f.ID,
			FullName:     f.Name,
			Jurisdiction: f.State,
			Role:         f.Office,
			Committee:    f.Committee,
		})
	}

	c.logger.Debug("fetched index page",
		"page", page,
		"filers", len(filers),
		"num_pages", resp.PageInfo.NumPages,
	)

	return &domain.IndexPage{
		Filers:   filers,
		Page:     resp.PageInfo.Page,
		NumPages: resp.PageInfo.NumPages,
	}, nil
}

// FetchFilings fetches the detail filings for one raw filer. A nil slice
// with a nil error is a legitimate empty result, not a failure.
func (c *Client) FetchFilings(ctx context.Context, rawID string) ([]domain.Filing, error) {
	u := fmt.Sprintf("%s/filers/%s/filings", c.baseURL, url.PathEscape(rawID))

	var resp filingsResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetch filings for %s: %w", rawID, err)
	}

	return c.transform(rawID, resp.Results), nil
}

// get issues a throttled request, retrying rate-limited calls in place on
// the doubling ladder before surfacing the classified error.
func (c *Client) get(ctx context.Context, url string, v any) error {
	var lastErr error

	for step := 0; ; step++ {
		lastErr = c.doRequest(ctx, url, v)
		if lastErr == nil {
			return nil
		}

		if KindOf(lastErr) != domain.ErrorKindRateLimit || step >= rateLimitSteps {
			return lastErr
		}

		backoff := c.rateLimitBackoff << step
		c.logger.Warn("rate limited, backing off",
			"url", url,
			"step", step+1,
			"backoff", backoff,
		)

		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func (c *Client) doRequest(ctx context.Context, url string, v any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "FilingWatch/1.0")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &Error{Kind: domain.ErrorKindServer, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

func (c *Client) transform(rawID string, records []filingRecord) []domain.Filing {
	var filings []domain.Filing

	for _, r := range records {
		periodStart, err := time.Parse("2006-01-02", r.PeriodStart)
		if err != nil {
			c.logger.Warn("failed to parse period start",
				"filing_id", r.FilingID,
				"period_start", r.PeriodStart,
			)
			continue
		}
		periodEnd, err := time.Parse("2006-01-02", r.PeriodEnd)
		if err != nil {
			c.logger.Warn("failed to parse period end",
				"filing_id", r.FilingID,
				"period_end", r.PeriodEnd,
			)
			continue
		}

		filings = append(filings, domain.Filing{
			RawEntityID:    rawID,
			Cycle:          r.Cycle,
			ReportType:     r.ReportType,
			PeriodStart:    periodStart,
			PeriodEnd:      periodEnd,
			Committee:      r.Committee,
			Receipts:       decimal.NewFromFloat(r.Receipts),
			Disbursements:  decimal.NewFromFloat(r.Disbursements),
			CashOnHand:     decimal.NewFromFloat(r.CashOnHand),
			SourceFilingID: r.FilingID,
			SourceFiledAt:  time.UnixMilli(r.FiledAt).UTC(),
		})
	}

	return filings
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
