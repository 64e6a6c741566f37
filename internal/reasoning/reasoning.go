package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/ksred/novatrade/internal/types"
)

var (
	// ErrNotConfigured means no API key was supplied; it is not retried
	ErrNotConfigured = errors.New("reasoning service key is not configured")
	// ErrUnavailable covers timeouts, network errors and non-2xx replies
	ErrUnavailable = errors.New("reasoning service unavailable")
	// ErrMalformed means the reply did not match the analysis schema
	ErrMalformed = errors.New("reasoning service returned malformed output")
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-3-pro-preview"
	historyPoints  = 5
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// Client asks the reasoning model for signals on the current market snapshot
type Client struct {
	client      *resty.Client
	apiKey      string
	model       string
	temperature float64
	now         func() time.Time
}

func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.1
	}

	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(timeout).
			SetRetryCount(0).
			SetHeader("Content-Type", "application/json"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: temperature,
		now:         time.Now,
	}
}

// Enabled reports whether an API key is configured
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Analyze returns the model's analysis for coins. Invalid individual signals
// are dropped; a reply without a signals list is ErrMalformed.
func (c *Client) Analyze(ctx context.Context, coins []types.Coin) (*types.Analysis, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	logger := log.With().Str("component", "reasoning").Str("model", c.model).Logger()

	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: BuildPrompt(coins)}}}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   signalSchema,
			Temperature:      c.temperature,
		},
	}

	start := c.now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", c.apiKey).
		SetBody(body).
		Post("/v1beta/models/" + c.model + ":generateContent")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var out generateResponse
	jsonErr := json.Unmarshal(resp.Body(), &out)

	if resp.StatusCode() != http.StatusOK {
		msg := http.StatusText(resp.StatusCode())
		if jsonErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode(), msg)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, jsonErr)
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrMalformed)
	}

	var text strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	analysis, err := ParseAnalysis(text.String(), c.now())
	if err != nil {
		return nil, err
	}

	logger.Info().
		Dur("latency", c.now().Sub(start)).
		Str("sentiment", string(analysis.MarketSentiment)).
		Int("signals", len(analysis.Signals)).
		Msg("market analysis received")
	return analysis, nil
}

// ParseAnalysis validates raw model output against the analysis schema
func ParseAnalysis(raw string, at time.Time) (*types.Analysis, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	var payload analysisPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Signals == nil {
		return nil, fmt.Errorf("%w: missing signals", ErrMalformed)
	}

	analysis := &types.Analysis{
		Timestamp:       at,
		MarketSentiment: parseSentiment(payload.MarketSentiment),
		TopPick:         strings.ToUpper(strings.TrimSpace(payload.TopPick)),
		Signals:         make([]types.TradeSignal, 0, len(*payload.Signals)),
	}

	for _, s := range *payload.Signals {
		signal, ok := toSignal(s)
		if !ok {
			log.Debug().Str("component", "reasoning").Str("symbol", s.Symbol).Str("action", s.Action).Msg("dropping invalid signal")
			continue
		}
		analysis.Signals = append(analysis.Signals, signal)
	}
	return analysis, nil
}

func toSignal(s signalPayload) (types.TradeSignal, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(s.Symbol))
	action := types.Action(strings.ToUpper(strings.TrimSpace(s.Action)))
	if symbol == "" || !action.Valid() || s.Confidence == nil {
		return types.TradeSignal{}, false
	}
	confidence := *s.Confidence
	if math.IsNaN(confidence) || confidence < 0 || confidence > 100 {
		return types.TradeSignal{}, false
	}

	signal := types.TradeSignal{
		Symbol:     symbol,
		Action:     action,
		Confidence: confidence,
		Reasoning:  s.Reasoning,
		Target:     s.Target,
		StopLoss:   s.StopLoss,
	}
	if len(s.EntryRange) == 2 {
		signal.EntryRange = &[2]float64{s.EntryRange[0], s.EntryRange[1]}
	}
	return signal, true
}

func parseSentiment(s string) types.Sentiment {
	switch types.Sentiment(strings.ToUpper(strings.TrimSpace(s))) {
	case types.SentimentBullish:
		return types.SentimentBullish
	case types.SentimentBearish:
		return types.SentimentBearish
	}
	return types.SentimentNeutral
}

// BuildPrompt renders the market snapshot the model reasons over
func BuildPrompt(coins []types.Coin) string {
	lines := make([]string, 0, len(coins))
	for _, c := range coins {
		history := c.History
		if len(history) > historyPoints {
			history = history[len(history)-historyPoints:]
		}
		points := make([]string, len(history))
		for i, h := range history {
			points[i] = fmt.Sprintf("%.2f", h)
		}
		lines = append(lines, fmt.Sprintf("%s: $%.2f (%.2f%% 24h). Volume: $%.0f. History trend: %s",
			c.Symbol, c.Price, c.Change24h, c.Volume24h, strings.Join(points, ",")))
	}

	return "You are a professional Quant Strategy Agent.\n" +
		"Analyze the current market state and generate high-confidence signals.\n" +
		"Only suggest a BUY if the technical setup is strong and confidence exceeds 80.\n\n" +
		"Live Market Snapshot:\n" + strings.Join(lines, "\n")
}
