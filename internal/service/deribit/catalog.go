package deribit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/haritsf/deribit-collector/internal/config"
	"github.com/haritsf/deribit-collector/internal/entity"
	"github.com/sirupsen/logrus"
)

const defaultRestBaseURL = "https://test.deribit.com"

// RestClient is the one-shot catalog client. It owns no retry policy; a
// failed fetch is fatal at startup and the coordinator decides what to do.
type RestClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewRestClient(cfg config.DeribitConfig) *RestClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultRestBaseURL
	}

	return &RestClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		httpClient:   &http.Client{Timeout: 15 * time.Second},
	}
}

type Instrument struct {
	InstrumentName      string `json:"instrument_name"`
	IsActive            bool   `json:"is_active"`
	ExpirationTimestamp int64  `json:"expiration_timestamp"`
}

// FetchInstruments returns up to limit subscribable instrument names for the
// given currency and kind. Every failure mode wraps ErrCatalogUnavailable.
func (c *RestClient) FetchInstruments(ctx context.Context, currency, kind string, limit int) ([]string, error) {
	token, err := c.authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrCatalogUnavailable, err)
	}

	instruments, err := c.getInstruments(ctx, token, currency, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrCatalogUnavailable, err)
	}

	selected := selectActiveInstruments(instruments, limit, time.Now())
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no active %s %s instruments", entity.ErrCatalogUnavailable, currency, kind)
	}

	logrus.WithFields(logrus.Fields{
		"currency": currency,
		"kind":     kind,
		"fetched":  len(instruments),
		"selected": len(selected),
	}).Info("instrument catalog fetched")

	return selected, nil
}

func (c *RestClient) authenticate(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/public/auth", strings.NewReader(string(body)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		Result struct {
			AccessToken string `json:"access_token"`
		} `json:"result"`
	}

	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return "", fmt.Errorf("auth response parse failed: %w", err)
	}

	if authResp.Result.AccessToken == "" {
		return "", fmt.Errorf("auth response missing access token: %s", string(respBody))
	}

	return authResp.Result.AccessToken, nil
}

func (c *RestClient) getInstruments(ctx context.Context, token, currency, kind string) ([]Instrument, error) {
	params := url.Values{}
	params.Set("currency", currency)
	params.Set("kind", kind)
	params.Set("expired", "false")

	endpoint := c.baseURL + "/api/v2/public/get_instruments?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get_instruments failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var instrumentsResp struct {
		Result []Instrument `json:"result"`
	}

	if err := json.Unmarshal(respBody, &instrumentsResp); err != nil {
		return nil, fmt.Errorf("get_instruments response parse failed: %w", err)
	}

	return instrumentsResp.Result, nil
}

// selectActiveInstruments keeps active instruments that have not expired yet,
// capped at limit to stay inside the venue's subscription throughput budget.
func selectActiveInstruments(instruments []Instrument, limit int, now time.Time) []string {
	if limit <= 0 {
		limit = 5
	}

	selected := make([]string, 0, limit)
	for _, instrument := range instruments {
		if len(selected) >= limit {
			break
		}

		if !instrument.IsActive || strings.TrimSpace(instrument.InstrumentName) == "" {
			continue
		}

		if instrument.ExpirationTimestamp <= now.UnixMilli() {
			continue
		}

		selected = append(selected, instrument.InstrumentName)
	}

	return selected
}
