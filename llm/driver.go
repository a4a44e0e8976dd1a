package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Responses endpoint.
const DefaultBaseURL = "https://api.openai.com/v1/responses"

// DefaultMaxOutputTokens is used when neither the driver nor the request sets
// a limit.
const DefaultMaxOutputTokens = 48192

// DefaultTimeouts are the per-attempt limits for each call class.
var DefaultTimeouts = map[CallClass]time.Duration{
	CallConversation: 30 * time.Minute,
	CallApply:        50 * time.Minute,
	CallSummary:      5 * time.Minute,
}

// TurnFunc performs one logical call, including retries.
type TurnFunc func(ctx context.Context, req TurnRequest) (*TurnResult, error)

// Middleware wraps a call. It receives the request and a next function that
// calls the downstream handler.
type Middleware func(ctx context.Context, req TurnRequest, next TurnFunc) (*TurnResult, error)

// Driver sends strict structured-output requests to the Responses endpoint
// and normalizes the replies.
type Driver struct {
	apiKey          string
	model           string
	baseURL         string
	maxOutputTokens int
	httpClient      *http.Client
	policy          RetryPolicy
	timeouts        map[CallClass]time.Duration
	middleware      []Middleware
	dumper          *callDumper
	logger          *zap.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithBaseURL points the driver at a different endpoint.
func WithBaseURL(url string) DriverOption {
	return func(d *Driver) {
		d.baseURL = url
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) DriverOption {
	return func(d *Driver) {
		d.httpClient = c
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p RetryPolicy) DriverOption {
	return func(d *Driver) {
		d.policy = p
	}
}

// WithMaxOutputTokens sets the default output token limit.
func WithMaxOutputTokens(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.maxOutputTokens = n
		}
	}
}

// WithTimeout sets the per-attempt timeout of a call class.
func WithTimeout(class CallClass, timeout time.Duration) DriverOption {
	return func(d *Driver) {
		if timeout > 0 {
			d.timeouts[class] = timeout
		}
	}
}

// WithCallDumps enables .httpcalls dumps under workdir when that directory
// exists.
func WithCallDumps(fs afero.Fs, workdir string) DriverOption {
	return func(d *Driver) {
		d.dumper = &callDumper{fs: fs, dir: filepath.Join(workdir, DumpDirName), now: time.Now}
	}
}

// WithMiddleware adds middleware to the driver.
func WithMiddleware(mw ...Middleware) DriverOption {
	return func(d *Driver) {
		d.middleware = append(d.middleware, mw...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = l
	}
}

// NewDriver creates a driver for the given key and model.
func NewDriver(apiKey, model string, opts ...DriverOption) (*Driver, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "OPENAI_API_KEY is not set"}}
	}
	if model == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "AI_MODEL is not set"}}
	}
	d := &Driver{
		apiKey:          apiKey,
		model:           model,
		baseURL:         DefaultBaseURL,
		maxOutputTokens: DefaultMaxOutputTokens,
		httpClient:      &http.Client{},
		policy:          DefaultRetryPolicy(),
		timeouts:        make(map[CallClass]time.Duration, len(DefaultTimeouts)),
		logger:          zap.NewNop(),
	}
	for class, timeout := range DefaultTimeouts {
		d.timeouts[class] = timeout
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Model returns the configured model name.
func (d *Driver) Model() string {
	return d.model
}

// Turn performs one logical call: the request is preprocessed, sent with
// retries, and the reply is normalized into message text and tool calls.
func (d *Driver) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	handler := d.turn
	for i := len(d.middleware) - 1; i >= 0; i-- {
		mw := d.middleware[i]
		next := handler
		handler = func(ctx context.Context, r TurnRequest) (*TurnResult, error) {
			return mw(ctx, r, next)
		}
	}
	return handler(ctx, req)
}

func (d *Driver) turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	payload, err := json.Marshal(d.buildPayload(req))
	if err != nil {
		return nil, &SDKError{Message: "encode request", Cause: err}
	}

	policy := d.policy
	userHook := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		d.logger.Warn("retrying responses request",
			zap.String("class", string(req.Class)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if userHook != nil {
			userHook(err, attempt, delay)
		}
	}

	return Retry(ctx, policy, func(ctx context.Context) (*TurnResult, error) {
		return d.attempt(ctx, req.Class, payload)
	})
}

type textFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type responsesPayload struct {
	Model           string           `json:"model"`
	Input           []Item           `json:"input"`
	Text            map[string]any   `json:"text"`
	MaxOutputTokens int              `json:"max_output_tokens"`
	Reasoning       map[string]any   `json:"reasoning"`
	Tools           []map[string]any `json:"tools"`
	ToolChoice      string           `json:"tool_choice"`
}

func (d *Driver) buildPayload(req TurnRequest) responsesPayload {
	model := d.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := d.maxOutputTokens
	if req.MaxOutputTokens > 0 {
		maxTokens = req.MaxOutputTokens
	}
	name := req.SchemaName
	if name == "" {
		name = "OrionSchema"
	}
	effort := req.Class.Effort()

	tools := make([]map[string]any, 0, len(req.Tools)+1)
	for _, t := range req.Tools {
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}
	if effort != EffortMinimal {
		tools = append(tools, map[string]any{"type": "web_search"})
	}

	return responsesPayload{
		Model: model,
		Input: Wire(req.Input),
		Text: map[string]any{
			"format": textFormat{
				Type:   "json_schema",
				Name:   name,
				Schema: StrictSchema(req.Schema),
				Strict: true,
			},
		},
		MaxOutputTokens: maxTokens,
		Reasoning:       map[string]any{"effort": effort},
		Tools:           tools,
		ToolChoice:      "auto",
	}
}

func (d *Driver) timeout(class CallClass) time.Duration {
	if t, ok := d.timeouts[class]; ok && t > 0 {
		return t
	}
	return DefaultTimeouts[CallConversation]
}

func (d *Driver) attempt(ctx context.Context, class CallClass, payload []byte) (*TurnResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout(class))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, d.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "build request", Cause: err}}
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	dumpPath := ""
	if d.dumper.enabled() {
		dumpPath, err = d.dumper.writeRequest(httpReq.Method, d.baseURL, httpReq.Header, payload)
		if err != nil {
			d.logger.Debug("write request dump", zap.Error(err))
		}
	}

	start := time.Now()
	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	elapsed := time.Since(start)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	if dumpPath != "" {
		if err := d.dumper.appendResponse(dumpPath, resp, body, elapsed); err != nil {
			d.logger.Debug("write response dump", zap.Error(err))
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ErrorFromStatusCode(resp.StatusCode, string(body))
	}

	result, err := normalizeResponse(body)
	if err != nil {
		return nil, err
	}
	d.logger.Info("responses call complete",
		zap.String("class", string(class)),
		zap.Duration("elapsed", elapsed),
		zap.Int("input_tokens", result.Usage.InputTokens),
		zap.Int("cached_input_tokens", result.Usage.CachedInputTokens),
		zap.Int("output_tokens", result.Usage.OutputTokens),
		zap.Int("tool_calls", len(result.ToolCalls)))
	return result, nil
}

func classifyTransportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: parent.Err()}}
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
	}
	return &NetworkError{SDKError: SDKError{Message: "request failed", Cause: err}}
}

type responseEnvelope struct {
	Output []responseItem `json:"output"`
	Usage  map[string]any `json:"usage"`
}

type responseItem struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// normalizeResponse extracts message text and function calls in order.
func normalizeResponse(body []byte) (*TurnResult, error) {
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &SDKError{Message: "decode response", Cause: err}
	}

	result := &TurnResult{Usage: ParseUsage(env.Usage)}
	var chunks []string
	for _, item := range env.Output {
		switch item.Type {
		case "message":
			chunks = append(chunks, messageChunks(item.Content)...)
		case "function_call":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				CallID:    item.CallID,
				Name:      item.Name,
				Arguments: argumentsText(item.Arguments),
			})
		}
	}
	if len(chunks) > 0 {
		text := strings.Join(chunks, "\n")
		result.Content = &text
	}
	return result, nil
}

func messageChunks(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []string{s}
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	var out []string
	for _, p := range parts {
		if err := json.Unmarshal(p, &s); err == nil {
			out = append(out, s)
			continue
		}
		var cp contentPart
		if err := json.Unmarshal(p, &cp); err == nil && cp.Type == "output_text" {
			out = append(out, cp.Text)
		}
	}
	return out
}

func argumentsText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
