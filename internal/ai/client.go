package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/cmorley/perp-agent/internal/config"
	"github.com/cmorley/perp-agent/internal/logger"
)

// maxToolIterations caps the tool-call loop within one Decide call.
const maxToolIterations = 6

// capability tracks what request features the provider has accepted so far.
// It only ever moves downward; a provider that rejected tools once is not
// asked for them again.
type capability int

const (
	capFull         capability = iota // tools + structured outputs
	capNoTools                        // structured outputs only
	capNoStructured                   // plain chat completions
)

// IndicatorFetcher backs the model's fetch_indicator tool.
type IndicatorFetcher interface {
	Fetch(ctx context.Context, indicator, symbol, interval string, params map[string]string) (map[string]any, error)
}

// Client talks to a DeepSeek-compatible chat completion API and turns market
// context into per-asset trading decisions.
type Client struct {
	client     *openai.Client
	model      string
	timeout    time.Duration
	indicators IndicatorFetcher
	logger     *logger.Logger
	capability capability
}

func NewClient(cfg *config.Config, fetcher IndicatorFetcher, log *logger.Logger) *Client {
	ocfg := openai.DefaultConfig(cfg.DeepSeek.APIKey)
	ocfg.BaseURL = cfg.DeepSeek.BaseURL

	return &Client{
		client:     openai.NewClientWithConfig(ocfg),
		model:      cfg.DeepSeek.Model,
		timeout:    cfg.DeepSeekTimeout(),
		indicators: fetcher,
		logger:     log,
	}
}

// Decide requests one decision per asset for the given market context. It
// runs the model's tool calls in a bounded loop and returns the decisions
// along with the raw final response. When strict is set the user message is
// prefixed with a reformat instruction; the caller uses that for its single
// retry after a malformed response. If the tool loop never produces a final
// answer, every asset defaults to hold.
func (c *Client) Decide(ctx context.Context, assets []string, marketContext string, strict bool) ([]Decision, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	userContent := marketContext
	if strict {
		userContent = strictRetryPrefix + marketContext
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(assets)},
		{Role: openai.ChatMessageRoleUser, Content: userContent},
	}

	c.logger.Info("requesting trading decisions",
		"assets", len(assets), "model", c.model, "strict", strict)

	for iter := 0; iter < maxToolIterations; iter++ {
		req := openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
		}
		if c.capability == capFull || c.capability == capNoTools {
			schema := decisionSchema(assets)
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "trade_decisions",
					Strict: true,
					Schema: &schema,
				},
			}
		}
		if c.capability == capFull {
			req.Tools = []openai.Tool{indicatorTool()}
			req.ToolChoice = "auto"
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if c.downgrade(err) {
				continue
			}
			return nil, "", fmt.Errorf("decision API call: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, "", fmt.Errorf("decision API returned no choices")
		}

		msg := resp.Choices[0].Message
		messages = append(messages, msg)

		if c.capability == capFull && len(msg.ToolCalls) > 0 {
			messages = append(messages, c.runToolCalls(ctx, msg.ToolCalls)...)
			continue
		}

		raw := msg.Content
		c.logger.Debug("AI raw response", "content", raw)
		decisions, err := ParseDecisions(raw)
		if err != nil {
			return nil, raw, fmt.Errorf("parse AI response: %w", err)
		}
		return decisions, raw, nil
	}

	c.logger.Warn("tool loop cap reached, defaulting to hold", "assets", assets)
	return HoldDefaults(assets, "tool loop cap"), "", nil
}

// downgrade reacts to a provider rejection of a request feature. It returns
// true when the capability was lowered and the request should be retried.
func (c *Client) downgrade(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.HTTPStatusCode != 400 && apiErr.HTTPStatusCode != 422 {
		return false
	}
	msg := strings.ToLower(fmt.Sprint(apiErr.Message))

	if c.capability == capFull && strings.Contains(msg, "tool") {
		c.logger.Warn("provider rejected tool schema, retrying without tools", "error", apiErr.Message)
		c.capability = capNoTools
		return true
	}
	if c.capability != capNoStructured {
		c.logger.Warn("provider rejected structured outputs, retrying without response_format",
			"error", apiErr.Message)
		c.capability = capNoStructured
		return true
	}
	return false
}

type indicatorArgs struct {
	Indicator   string         `json:"indicator"`
	Symbol      string         `json:"symbol"`
	Interval    string         `json:"interval"`
	Period      *int           `json:"period"`
	Backtrack   *int           `json:"backtrack"`
	OtherParams map[string]any `json:"other_params"`
}

// runToolCalls executes every fetch_indicator call and returns the tool
// messages to feed back. Fetch failures go back to the model as text so it
// can decide without the reading.
func (c *Client) runToolCalls(ctx context.Context, calls []openai.ToolCall) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(calls))
	for _, tc := range calls {
		if tc.Type != openai.ToolTypeFunction || tc.Function.Name != "fetch_indicator" {
			continue
		}
		content := c.fetchForTool(ctx, tc.Function.Arguments)
		out = append(out, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Name:       "fetch_indicator",
			ToolCallID: tc.ID,
			Content:    content,
		})
	}
	return out
}

func (c *Client) fetchForTool(ctx context.Context, arguments string) string {
	var args indicatorArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return fmt.Sprintf("Error: invalid tool arguments: %v", err)
	}

	params := map[string]string{}
	if args.Period != nil {
		params["period"] = strconv.Itoa(*args.Period)
	}
	if args.Backtrack != nil {
		params["backtrack"] = strconv.Itoa(*args.Backtrack)
	}
	for k, v := range args.OtherParams {
		params[k] = fmt.Sprint(v)
	}

	c.logger.Info("model requested indicator",
		"indicator", args.Indicator, "symbol", args.Symbol, "interval", args.Interval)

	result, err := c.indicators.Fetch(ctx, args.Indicator, args.Symbol, args.Interval, params)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return string(data)
}

func indicatorTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name: "fetch_indicator",
			Description: "Fetch any TAAPI indicator reading. Available: ema, sma, rsi, macd, bbands, " +
				"stochastic, adx, atr, cci, supertrend, vwap, obv, mfi, roc, mom and many more. " +
				"Symbol uses the pair form, e.g. \"BTC/USDT\".",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"indicator": {Type: jsonschema.String},
					"symbol":    {Type: jsonschema.String},
					"interval":  {Type: jsonschema.String},
					"period":    {Type: jsonschema.Integer},
					"backtrack": {Type: jsonschema.Integer},
				},
				Required: []string{"indicator", "symbol", "interval"},
			},
		},
	}
}

func decisionSchema(assets []string) jsonschema.Definition {
	item := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"asset":          {Type: jsonschema.String, Enum: assets},
			"action":         {Type: jsonschema.String, Enum: []string{ActionBuy, ActionSell, ActionHold}},
			"allocation_usd": {Type: jsonschema.Number},
			"tp_price":       {Type: jsonschema.Number},
			"sl_price":       {Type: jsonschema.Number},
			"exit_plan":      {Type: jsonschema.String},
			"rationale":      {Type: jsonschema.String},
		},
		Required: []string{"asset", "action", "allocation_usd", "tp_price", "sl_price", "exit_plan", "rationale"},
	}
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"trade_decisions": {Type: jsonschema.Array, Items: &item},
		},
		Required: []string{"trade_decisions"},
	}
}
