package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"

	"github.com/vibecoder/taskman/internal/config"
	"github.com/vibecoder/taskman/internal/errs"
	"github.com/vibecoder/taskman/pkg/models"
)

// System prompts per oracle call. Each demands a bare JSON object so
// salvage is a safety net, not the expected path.
const (
	intentSystemPrompt = `You map user utterances about task management to intents.
Respond with exactly one JSON object:
{"intent": "<one of create_project|create_task|list_projects|list_tasks|update_project|check_status|run_task|parse_prd|parse_tasks|import_artifact|unknown>",
 "confidence": <0..1>, "parameters": {...}, "alternatives": [{"intent": "...", "confidence": <0..1>}]}`

	atomicSystemPrompt = `You judge whether a software task is atomic: completable in 5-10 minutes
(0.08-0.17 hours), one acceptance criterion, at most three files touched.
Respond with exactly one JSON object:
{"isAtomic": <bool>, "confidence": <0..1>, "reasoning": "...",
 "estimatedHours": <number>, "complexityFactors": [...], "recommendations": [...]}`

	decomposeSystemPrompt = `You decompose a software task into 2-8 smaller child tasks. Each child
must have exactly one acceptance criterion and an estimate in hours.
Respond with exactly one JSON object:
{"tasks": [{"title": "...", "description": "...", "estimatedHours": <number>,
 "acceptanceCriteria": ["..."], "priority": "low|medium|high|critical", "tags": [...]}]}`
)

// defaultRetryBackoff is the first retry delay; it doubles per attempt.
const defaultRetryBackoff = 500 * time.Millisecond

// AnthropicOracle implements Oracle over the Anthropic SDK, optionally
// routed through AWS Bedrock.
type AnthropicOracle struct {
	client     anthropic.Client
	model      anthropic.Model
	threshold  int
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	log        zerolog.Logger
}

// NewAnthropicOracle creates the production oracle from configuration.
// The API key comes from ANTHROPIC_API_KEY when not using Bedrock.
func NewAnthropicOracle(cfg config.OracleConfig, log zerolog.Logger) (*AnthropicOracle, error) {
	var opts []option.RequestOption

	if cfg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	// The SDK retries internally by default; retry policy lives here.
	opts = append(opts, option.WithMaxRetries(0))

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &AnthropicOracle{
		client:     anthropic.NewClient(opts...),
		model:      model,
		threshold:  cfg.SalvageThreshold,
		timeout:    timeout,
		maxRetries: maxRetries,
		backoff:    defaultRetryBackoff,
		log:        log.With().Str("component", "oracle").Logger(),
	}, nil
}

// RecognizeIntent implements Oracle.
func (o *AnthropicOracle) RecognizeIntent(ctx context.Context, utterance string, params map[string]string) (*IntentResult, error) {
	payload := map[string]any{"utterance": utterance}
	if len(params) > 0 {
		payload["context"] = params
	}

	raw, err := o.call(ctx, intentSystemPrompt, payload, func(r json.RawMessage) bool {
		var probe struct {
			Intent Intent `json:"intent"`
		}
		return json.Unmarshal(r, &probe) == nil && probe.Intent != ""
	}, "alternatives")
	if err != nil {
		return nil, err
	}

	res := &IntentResult{}
	if err := json.Unmarshal([]byte(raw), res); err != nil {
		return nil, errs.Wrap(errs.KindOracleMalformed, err, "intent response is not valid JSON")
	}
	if !res.Intent.Valid() {
		res.Intent = IntentUnknown
	}
	return res, nil
}

// DetectAtomic implements Oracle.
func (o *AnthropicOracle) DetectAtomic(ctx context.Context, task *models.AtomicTask, pc ProjectContext) (*AtomicResult, error) {
	payload := map[string]any{"task": task, "projectContext": pc}

	raw, err := o.call(ctx, atomicSystemPrompt, payload, func(r json.RawMessage) bool {
		var probe struct {
			Confidence *float64 `json:"confidence"`
		}
		return json.Unmarshal(r, &probe) == nil && probe.Confidence != nil
	}, "complexityFactors")
	if err != nil {
		return nil, err
	}

	res := &AtomicResult{}
	if err := json.Unmarshal([]byte(raw), res); err != nil {
		return nil, errs.Wrap(errs.KindOracleMalformed, err, "atomic response is not valid JSON")
	}
	return res, nil
}

// DecomposeTask implements Oracle.
func (o *AnthropicOracle) DecomposeTask(ctx context.Context, task *models.AtomicTask, pc ProjectContext) (*DecomposeResult, error) {
	payload := map[string]any{"task": task, "projectContext": pc}

	raw, err := o.call(ctx, decomposeSystemPrompt, payload, func(r json.RawMessage) bool {
		var probe struct {
			Tasks []json.RawMessage `json:"tasks"`
		}
		return json.Unmarshal(r, &probe) == nil && probe.Tasks != nil
	}, "tasks")
	if err != nil {
		return nil, err
	}

	res := &DecomposeResult{}
	if err := json.Unmarshal([]byte(raw), res); err != nil {
		return nil, errs.Wrap(errs.KindOracleMalformed, err, "decompose response is not valid JSON")
	}
	return res, nil
}

// call sends the message, retrying unavailable-oracle failures with
// exponential back-off, and returns the salvaged response text. Each
// attempt is bounded by the configured timeout.
func (o *AnthropicOracle) call(ctx context.Context, system string, payload any, valid SchemaPredicate, primaryArray string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, err, "encode oracle request")
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			wait := o.backoff << (attempt - 1)
			o.log.Warn().Err(lastErr).Int("attempt", attempt).Dur("wait", wait).Msg("oracle call retrying")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", errs.Wrap(errs.KindCancelled, ctx.Err(), "oracle call cancelled")
			}
		}

		text, err := o.attempt(ctx, system, body)
		if err == nil {
			o.log.Debug().Int("responseBytes", len(text)).Msg("oracle response received")
			return Salvage(text, o.threshold, valid, primaryArray), nil
		}
		if !errs.Retryable(err) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// attempt issues a single timeout-bounded message call.
func (o *AnthropicOracle) attempt(ctx context.Context, system string, body []byte) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     o.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(body))),
		},
	})
	if err != nil {
		return "", errs.Wrap(errs.KindOracleUnavailable, err, "oracle call failed")
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	if text == "" {
		return "", errs.New(errs.KindOracleMalformed, "oracle returned no text content")
	}
	return text, nil
}
