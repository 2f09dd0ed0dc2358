package indicators

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jpillora/backoff"

	"github.com/cmorley/perp-agent/internal/config"
	"github.com/cmorley/perp-agent/internal/logger"
)

const baseURL = "https://api.taapi.io/"

// Client fetches technical indicators from TAAPI. All methods hit the same
// endpoint shape: GET /<indicator>?secret=...&exchange=binance&symbol=...
type Client struct {
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		apiKey:     cfg.TAAPI.APIKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     log,
	}
}

// pairSymbol maps a bare asset ("BTC") to the TAAPI pair form.
func pairSymbol(asset string) string {
	return asset + "/USDT"
}

func (c *Client) get(ctx context.Context, indicator string, params map[string]string) ([]byte, error) {
	query := url.Values{}
	query.Set("secret", c.apiKey)
	query.Set("exchange", "binance")
	for k, v := range params {
		query.Set(k, v)
	}

	endpoint := baseURL + indicator + "?" + query.Encode()

	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    8 * time.Second,
		Factor: 2,
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.Duration()):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("taapi %s: status %d", indicator, resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("taapi %s: status %d: %.200s", indicator, resp.StatusCode, body)
		}
		return body, nil
	}
	return nil, fmt.Errorf("taapi %s: retries exhausted: %w", indicator, lastErr)
}

// Fetch returns the raw decoded response for an arbitrary indicator. Used by
// the decision provider's tool calls, where the model picks the indicator.
func (c *Client) Fetch(ctx context.Context, indicator, symbol, interval string, params map[string]string) (map[string]any, error) {
	merged := map[string]string{"symbol": symbol, "interval": interval}
	for k, v := range params {
		merged[k] = v
	}
	body, err := c.get(ctx, indicator, merged)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode taapi %s response: %w", indicator, err)
	}
	return result, nil
}

// Value fetches a single numeric reading keyed by "value".
func (c *Client) Value(ctx context.Context, indicator, asset, interval string, params map[string]string) (float64, error) {
	return c.valueKey(ctx, indicator, asset, interval, params, "value")
}

func (c *Client) valueKey(ctx context.Context, indicator, asset, interval string, params map[string]string, key string) (float64, error) {
	merged := map[string]string{"symbol": pairSymbol(asset), "interval": interval}
	for k, v := range params {
		merged[k] = v
	}
	body, err := c.get(ctx, indicator, merged)
	if err != nil {
		return 0, err
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("decode taapi %s response: %w", indicator, err)
	}
	raw, ok := result[key]
	if !ok {
		return 0, fmt.Errorf("taapi %s: missing key %q", indicator, key)
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("taapi %s: %q is not a number", indicator, key)
	}
	return value, nil
}

// Series fetches the last `results` readings for an indicator. TAAPI returns
// {"value": [...]} for simple indicators and {"valueMACD": [...], ...} for
// composite ones, hence the explicit valueKey.
func (c *Client) Series(ctx context.Context, indicator, asset, interval string, results int, params map[string]string, valueKey string) ([]float64, error) {
	merged := map[string]string{
		"symbol":   pairSymbol(asset),
		"interval": interval,
		"results":  fmt.Sprintf("%d", results),
	}
	for k, v := range params {
		merged[k] = v
	}
	body, err := c.get(ctx, indicator, merged)
	if err != nil {
		return nil, err
	}

	var result map[string]json.RawMessage
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode taapi %s response: %w", indicator, err)
	}
	raw, ok := result[valueKey]
	if !ok {
		return nil, fmt.Errorf("taapi %s: missing key %q", indicator, valueKey)
	}
	var series []float64
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("taapi %s: %q is not a numeric array", indicator, valueKey)
	}
	return series, nil
}

// MACD returns the latest MACD line value for the asset on the interval.
func (c *Client) MACD(ctx context.Context, asset, interval string) (float64, error) {
	return c.valueKey(ctx, "macd", asset, interval, nil, "valueMACD")
}

// EMA returns the latest EMA reading for the given period.
func (c *Client) EMA(ctx context.Context, asset, interval string, period int) (float64, error) {
	return c.Value(ctx, "ema", asset, interval, map[string]string{"period": fmt.Sprintf("%d", period)})
}

// Snapshot bundles the intraday and higher-timeframe readings fed into the
// decision context for one asset.
type Snapshot struct {
	EMA20Series  []float64
	MACDSeries   []float64
	RSI7Series   []float64
	RSI14Series  []float64
	LTEMA20      float64
	LTEMA50      float64
	LTATR3       float64
	LTATR14      float64
	LTMACDSeries []float64
	LTRSISeries  []float64
}

// Snapshot fetches the full indicator bundle for one asset. Individual
// fetch failures leave the corresponding field zero rather than failing the
// whole snapshot; only a failure of every intraday series is an error.
func (c *Client) Snapshot(ctx context.Context, asset, intradayInterval string) (*Snapshot, error) {
	snap := &Snapshot{}
	var firstErr error
	failures := 0

	fetchSeries := func(dst *[]float64, indicator, interval string, params map[string]string, key string) {
		series, err := c.Series(ctx, indicator, asset, interval, 10, params, key)
		if err != nil {
			c.logger.Debug("indicator series fetch failed",
				"asset", asset, "indicator", indicator, "interval", interval, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			failures++
			return
		}
		*dst = series
	}

	fetchSeries(&snap.EMA20Series, "ema", intradayInterval, map[string]string{"period": "20"}, "value")
	fetchSeries(&snap.MACDSeries, "macd", intradayInterval, nil, "valueMACD")
	fetchSeries(&snap.RSI7Series, "rsi", intradayInterval, map[string]string{"period": "7"}, "value")
	fetchSeries(&snap.RSI14Series, "rsi", intradayInterval, map[string]string{"period": "14"}, "value")

	if failures == 4 {
		return nil, fmt.Errorf("snapshot %s: no intraday data: %w", asset, firstErr)
	}

	snap.LTEMA20, _ = c.EMA(ctx, asset, "4h", 20)
	snap.LTEMA50, _ = c.EMA(ctx, asset, "4h", 50)
	snap.LTATR3, _ = c.Value(ctx, "atr", asset, "4h", map[string]string{"period": "3"})
	snap.LTATR14, _ = c.Value(ctx, "atr", asset, "4h", map[string]string{"period": "14"})
	fetchSeries(&snap.LTMACDSeries, "macd", "4h", nil, "valueMACD")
	fetchSeries(&snap.LTRSISeries, "rsi", "4h", map[string]string{"period": "14"}, "value")

	return snap, nil
}
