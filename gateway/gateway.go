// Package gateway implements the LLM Gateway: the single point where a task
// process talks to the remote Bedrock Converse API. It enforces the
// proactive per-model pacing delay, backs off on throttling (then returns
// the error without retrying), and
// fans out success/exception notices on the model's pub/sub channels so
// other task processes sharing the same model can observe pressure.
//
// Retry/backoff control flow is grounded on process_llm.go's
// callLLMWithRetry/calculateRetryDelay and agent.go's RetryPolicy; the
// Converse transport itself is grounded on goadesign-goa-ai's and
// haasonsaas-nexus's bedrockruntime usage, replacing the teacher's
// llm/anthropic.go raw-HTTP client entirely. Proactive pacing is grounded on
// original_source/utils.py's proactive_delay.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithy "github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/taskweave/taskweave/llm"
	"github.com/taskweave/taskweave/store"
)

// ErrInterrupted is returned when the calling task's process is no longer
// alive, either before the call was attempted or while it was pacing.
var ErrInterrupted = errors.New("gateway: task no longer alive")

// RuntimeClient is the subset of *bedrockruntime.Client the gateway needs,
// the same narrowing goadesign-goa-ai's bedrock.RuntimeClient uses so a
// fake can stand in for tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Prober is the narrow liveness check the gateway needs from
// *probe.Prober, carved out as its own interface so tests can substitute a
// fake without reading real /proc entries.
type Prober interface {
	IsAlive(ctx context.Context, pid int, taskID string) (bool, error)
}

// Request is one Converse call's worth of input.
type Request struct {
	TaskID   string
	PID      int
	ModelARN string
	Messages []store.Message
	System   string
	Tools    []llm.ToolSchema
}

// Response is the gateway's normalized view of a Converse response.
type Response struct {
	Message    store.Message
	StopReason string
	Usage      store.Usage
}

// State carries the per-task-process pacing state across iterations — the
// "lastReqTime"/"throttleMultiplier" pair the source held as process globals.
// The gateway holds no per-task pacing state (only its per-model limiters);
// the Turn Engine owns one State per running task process and passes it into
// every Call, closing the global-mutable-state design note in SPEC_FULL.md §12.
type State struct {
	LastReqTime        time.Time
	ThrottleMultiplier float64
}

// NewState returns pacing state with the multiplier at its floor.
func NewState() *State {
	return &State{ThrottleMultiplier: 1.0}
}

// Client is the LLM Gateway.
type Client struct {
	runtime   RuntimeClient
	store     store.Client
	prober    Prober
	diagDir   string
	sleep     func(context.Context, time.Duration) error
	randRange func(lo, hi float64) float64

	pacerMu sync.Mutex
	pacers  map[string]*rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithDiagnosticDir overrides where non-retryable error payloads are dumped
// (default os.TempDir()).
func WithDiagnosticDir(dir string) Option {
	return func(c *Client) { c.diagDir = dir }
}

// New builds a Gateway client over a live Bedrock runtime client.
func New(runtime RuntimeClient, st store.Client, prober Prober, opts ...Option) *Client {
	c := &Client{
		runtime: runtime,
		store:   st,
		prober:  prober,
		diagDir: os.TempDir(),
		sleep:   ctxSleep,
	}
	c.randRange = func(lo, hi float64) float64 { return lo + rand.Float64()*(hi-lo) }
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tokenBudgetRate expresses the same 200k-token/minute budget the proactive
// delay formula below is derived from, as a rate.Limit. Every model ARN gets
// its own rate.Limiter at this rate (see pacerFor). The limiters live in the
// Client's memory, so one bucket per model is shared by every Call made
// through that Client within one process; separate task processes each
// have their own.
var tokenBudgetRate = rate.Limit(tokensPerMinuteBudget / 60.0)

const tokensPerMinuteBudget = 200_000

// pacerFor returns the rate.Limiter for a model ARN, creating it on first
// use. Burst is reconfigured on every call (see Call) to the token cost of
// that specific request, so ReserveN always measures against the budget the
// request is actually about to spend.
func (c *Client) pacerFor(modelARN string) *rate.Limiter {
	c.pacerMu.Lock()
	defer c.pacerMu.Unlock()
	if c.pacers == nil {
		c.pacers = make(map[string]*rate.Limiter)
	}
	l, ok := c.pacers[modelARN]
	if !ok {
		l = rate.NewLimiter(tokenBudgetRate, tokensPerMinuteBudget)
		c.pacers[modelARN] = l
	}
	return l
}

func requiredDelay(lastInputTokens, lastOutputTokens int) time.Duration {
	tokens := lastInputTokens + lastOutputTokens + 500
	seconds := float64(tokens) * 60 / tokensPerMinuteBudget
	if seconds < 0.3 {
		seconds = 0.3
	}
	return time.Duration(seconds * float64(time.Second))
}

// Call performs one Converse request, applying mandatory backoff, proactive
// pacing, and throttling retry-classification around it.
func (c *Client) Call(ctx context.Context, req Request, st *State) (*Response, error) {
	alive, err := c.prober.IsAlive(ctx, req.PID, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("gateway: probe %s: %w", req.TaskID, err)
	}
	if !alive {
		return nil, ErrInterrupted
	}

	if err := c.applyMandatoryBackoff(ctx, req); err != nil {
		return nil, err
	}

	rec, ok, err := c.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("gateway: load task %s: %w", req.TaskID, err)
	}
	var tokens int
	if ok {
		tokens = rec.LastUsage.InputTokens + rec.LastUsage.OutputTokens + 500
	} else {
		tokens = 500
	}
	delay := requiredDelay(tokens-500, 0)

	if !st.LastReqTime.IsZero() {
		pacer := c.pacerFor(req.ModelARN)
		pacer.SetBurst(tokens)
		reservation := pacer.ReserveN(time.Now(), tokens)
		if reservation.OK() {
			wait := reservation.Delay()
			if wait < delay {
				wait = delay
			}
			if err := c.sleep(ctx, wait); err != nil {
				reservation.Cancel()
				return nil, err
			}
		}
	}

	alive, err = c.prober.IsAlive(ctx, req.PID, req.TaskID)
	if err != nil {
		return nil, fmt.Errorf("gateway: probe %s: %w", req.TaskID, err)
	}
	if !alive {
		return nil, ErrInterrupted
	}

	input := buildConverseInput(req)
	out, callErr := c.runtime.Converse(ctx, input)
	if callErr == nil {
		st.LastReqTime = time.Now()
		st.ThrottleMultiplier = maxF(1.0, st.ThrottleMultiplier*0.9)
		_ = c.store.PublishThrottleEvent(ctx, store.ThrottleSuccessChannel(req.ModelARN), req.ModelARN, map[string]any{
			"task_id":   req.TaskID,
			"timestamp": time.Now().Unix(),
		})
		return translateResponse(out)
	}

	errCode, extraBackoff, throttling := classifyError(callErr)
	if !throttling {
		c.dumpDiagnostic(input, callErr)
		return nil, fmt.Errorf("gateway: converse: %w", callErr)
	}

	_ = c.store.PublishThrottleEvent(ctx, store.ThrottleExceptionChannel(req.ModelARN), req.ModelARN, map[string]any{
		"task_id":    req.TaskID,
		"error_code": errCode,
		"timestamp":  time.Now().Unix(),
	})
	st.ThrottleMultiplier = minF(3.0, st.ThrottleMultiplier*1.5)
	backoff := time.Duration(float64(delay)*st.ThrottleMultiplier) + extraBackoff
	if err := c.sleep(ctx, backoff); err != nil {
		return nil, err
	}
	// No retry is made here (original_source's recursive retry is
	// commented out): the error propagates, and the Turn Engine's Run
	// returns it, ending the run.
	return nil, fmt.Errorf("gateway: converse throttled (%s): %w", errCode, callErr)
}

func (c *Client) applyMandatoryBackoff(ctx context.Context, req Request) error {
	throttle, err := c.store.GetThrottleState(ctx, req.ModelARN)
	if err != nil {
		return fmt.Errorf("gateway: load throttle state %s: %w", req.ModelARN, err)
	}
	if throttle == nil || !throttle.MandatoryBackoff {
		return nil
	}

	backoff := time.Duration(c.randRange(20, 30) * float64(time.Second))
	if err := c.sleep(ctx, backoff); err != nil {
		return err
	}
	if err := c.store.ClearMandatoryBackoff(ctx, req.ModelARN); err != nil {
		return fmt.Errorf("gateway: clear mandatory backoff %s: %w", req.ModelARN, err)
	}

	alive, err := c.prober.IsAlive(ctx, req.PID, req.TaskID)
	if err != nil {
		return fmt.Errorf("gateway: probe %s: %w", req.TaskID, err)
	}
	if !alive {
		return ErrInterrupted
	}
	return nil
}

func (c *Client) dumpDiagnostic(input *bedrockruntime.ConverseInput, callErr error) {
	name := fmt.Sprintf("llm_api_error_%d.json", time.Now().UnixNano())
	path := filepath.Join(c.diagDir, name)
	payload := map[string]any{
		"model_id": aws.ToString(input.ModelId),
		"error":    callErr.Error(),
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, raw, 0o600)
}

// classifyError maps a Converse error onto (code, extraBackoff, isThrottling)
// per SPEC_FULL.md §4.5 / §10: read-timeouts get the longest extra backoff,
// known throttling codes get a shorter one, anything else is non-retryable.
func classifyError(err error) (code string, extraBackoff time.Duration, throttling bool) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceUnavailable":
			return apiErr.ErrorCode(), 30 * time.Second, true
		}
		return apiErr.ErrorCode(), 0, false
	}
	if isReadTimeout(err) {
		return "ReadTimeoutError", 60 * time.Second, true
	}
	return "Unknown", 0, false
}

func isReadTimeout(err error) bool {
	msg := err.Error()
	for _, sub := range []string{"read timeout", "context deadline exceeded", "i/o timeout"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
