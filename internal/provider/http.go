package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const latestPath = "/latest"

// HTTPOptions parameterise the HTTP provider.
type HTTPOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// HTTP fetches NAV and reserve figures from a custodian/administrator API
// that reports them as decimal strings in whole units.
type HTTP struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHTTP constructs an HTTP provider.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTP{
		opts:    opts,
		logger:  logger.With().Str("component", "http_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchLatest queries {base}/latest for the pool/asset pair.
func (h *HTTP) FetchLatest(ctx context.Context, poolID, assetID common.Hash) (*big.Int, *big.Int, error) {
	if h.baseURL == "" {
		return nil, nil, errors.New("provider base url not configured")
	}

	query := url.Values{}
	query.Set("poolId", poolID.Hex())
	query.Set("assetId", assetID.Hex())
	endpoint := h.baseURL + latestPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "auraoracle/1.0")
	}
	if h.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.opts.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, parseHTTPError(resp.StatusCode, payload)
	}

	var res latestResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, nil, fmt.Errorf("decode provider response: %w", err)
	}

	nav, err := toScaled("nav", res.NAV)
	if err != nil {
		return nil, nil, err
	}
	reserve, err := toScaled("reserve", res.Reserve)
	if err != nil {
		return nil, nil, err
	}

	h.logger.Debug().
		Str("pool_id", poolID.Hex()).
		Str("nav", res.NAV).
		Str("reserve", res.Reserve).
		Msg("provider values fetched")

	return nav, reserve, nil
}

// toScaled converts a whole-unit decimal string to 18-decimal fixed point,
// truncating precision beyond 18 places.
func toScaled(field, raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("provider response missing %s", field)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("provider returned negative %s", field)
	}
	return d.Shift(18).Truncate(0).BigInt(), nil
}

type latestResponse struct {
	NAV     string `json:"nav"`
	Reserve string `json:"reserve"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("provider api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("provider api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("provider api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("provider api error (%d)", status)
}

var _ Provider = (*HTTP)(nil)
