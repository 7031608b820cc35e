// Package textgen provides text-generation adapters: a CLI-backed live
// adapter per provider, and a zero-cost mock used by simulation mode and
// as the universal fallback. Token/cost estimation is adapted from the
// teacher's cost/tokens.go; outbound smoothing per adapter uses
// golang.org/x/time/rate, matching the teacher's rate-limiting idiom in
// ratelimit.go applied to a different resource.
package textgen

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Request is a single generate() call per SPEC_FULL.md §6.2.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	JSONMode     bool
}

// Result is what every adapter returns for a Request.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	CostUsd      float64
}

// Adapter is the text-generation backend contract.
type Adapter interface {
	Name() string
	Provider() string
	Model() string
	Generate(ctx context.Context, req Request) (Result, error)
}

// tokenRe/inputRe/outputRe mirror the teacher's best-effort token-usage
// scraping from CLI stdout, with a length-based fallback estimate.
var (
	tokenRe  = regexp.MustCompile(`Tokens: (\d+) input, (\d+) output`)
	inputRe  = regexp.MustCompile(`Input tokens: (\d+)`)
	outputRe = regexp.MustCompile(`Output tokens: (\d+)`)
)

func extractTokenUsage(output, prompt string) (input, output2 int) {
	if m := tokenRe.FindStringSubmatch(output); len(m) == 3 {
		input, _ = strconv.Atoi(m[1])
		output2, _ = strconv.Atoi(m[2])
		return
	}
	if m := inputRe.FindStringSubmatch(output); len(m) == 2 {
		input, _ = strconv.Atoi(m[1])
	}
	if m := outputRe.FindStringSubmatch(output); len(m) == 2 {
		output2, _ = strconv.Atoi(m[1])
	}
	if input == 0 {
		input = estimateTokens(prompt)
	}
	if output2 == 0 {
		output2 = estimateTokens(output)
	}
	return
}

func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}

func calculateCost(inputTokens, outputTokens int, inputPriceMtok, outputPriceMtok float64) float64 {
	return (float64(inputTokens)/1_000_000.0)*inputPriceMtok + (float64(outputTokens)/1_000_000.0)*outputPriceMtok
}

// CLIConfig describes how to invoke a provider's CLI.
type CLIConfig struct {
	Command         string
	Flags           []string
	InputPriceMtok  float64
	OutputPriceMtok float64
	Timeout         time.Duration
	RateLimitPerSec float64
}

// CLIAdapter shells out to a provider's CLI, substituting placeholders the
// way dispatch.BuildCommand does for the teacher's coder/reviewer agents.
type CLIAdapter struct {
	provider string
	model    string
	cfg      CLIConfig
	limiter  *rate.Limiter
	runner   func(ctx context.Context, name string, args []string) (stdout string, err error)
}

// NewCLIAdapter builds a live adapter for provider/model using cfg.
func NewCLIAdapter(provider, model string, cfg CLIConfig) *CLIAdapter {
	limit := rate.Inf
	if cfg.RateLimitPerSec > 0 {
		limit = rate.Limit(cfg.RateLimitPerSec)
	}
	return &CLIAdapter{
		provider: provider,
		model:    model,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		runner:   runExec,
	}
}

func (a *CLIAdapter) Name() string     { return a.provider + ":" + a.model }
func (a *CLIAdapter) Provider() string { return a.provider }
func (a *CLIAdapter) Model() string    { return a.model }

// Generate waits for the rate limiter, builds the CLI argv, and runs it.
func (a *CLIAdapter) Generate(ctx context.Context, req Request) (Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("textgen: rate limiter: %w", err)
	}

	prompt := req.UserPrompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.UserPrompt
	}

	argv, err := buildCommand(a.cfg.Command, a.model, prompt, a.cfg.Flags)
	if err != nil {
		return Result{}, fmt.Errorf("textgen: %w", err)
	}

	timeout := a.cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, err := a.runner(callCtx, argv[0], argv[1:])
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return Result{}, fmt.Errorf("textgen: %s: %w", a.provider, err)
	}

	inputTokens, outputTokens := extractTokenUsage(stdout, prompt)
	return Result{
		Text:         stdout,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMs:    latency,
		CostUsd:      calculateCost(inputTokens, outputTokens, a.cfg.InputPriceMtok, a.cfg.OutputPriceMtok),
	}, nil
}

func runExec(ctx context.Context, name string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

var supportedPlaceholders = map[string]bool{"{prompt}": true, "{model}": true}
var placeholderMatcher = regexp.MustCompile(`\{[^}]+\}`)

func buildCommand(command, model, prompt string, flags []string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if len(flags) == 0 {
		return []string{command}, nil
	}

	argv := make([]string, 0, len(flags)+1)
	argv = append(argv, command)
	for i, raw := range flags {
		for _, m := range placeholderMatcher.FindAllString(raw, -1) {
			if !supportedPlaceholders[m] {
				return nil, fmt.Errorf("unsupported placeholder %q in flag at index %d", m, i)
			}
		}
		arg := strings.ReplaceAll(raw, "{prompt}", prompt)
		arg = strings.ReplaceAll(arg, "{model}", model)
		argv = append(argv, arg)
	}
	return argv, nil
}

// MockAdapter reports zero cost and deterministic canned output; used in
// simulation mode and as the universal fallback when no live adapter is
// registered or enabled.
type MockAdapter struct {
	provider string
}

// NewMockAdapter returns a mock reporting under providerName.
func NewMockAdapter(providerName string) *MockAdapter {
	return &MockAdapter{provider: providerName}
}

func (m *MockAdapter) Name() string     { return "mock:" + m.provider }
func (m *MockAdapter) Provider() string { return m.provider }
func (m *MockAdapter) Model() string    { return "mock" }

// Generate returns a fixed, valid-JSON-shaped response with zero cost.
func (m *MockAdapter) Generate(ctx context.Context, req Request) (Result, error) {
	text := "{}"
	if req.JSONMode {
		text = `{"simulated":true}`
	}
	return Result{Text: text, InputTokens: 0, OutputTokens: 0, LatencyMs: 0, CostUsd: 0}, nil
}
