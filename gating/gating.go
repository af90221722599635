// Package gating asks a chat model whether a window of conversation is
// visual enough to illustrate, and for a prompt if it is.
package gating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultModel          = "gpt-3.5-turbo"
	DefaultMinProbability = 4
	MaxProbability        = 10
)

type Message struct {
	Role    string
	Content string
}

type CompletionRequest struct {
	Model            string
	Messages         []Message
	Temperature      float32
	TopP             float32
	MaxTokens        int
	PresencePenalty  float32
	FrequencyPenalty float32
}

// Completer is a chat-style completion capability returning free-form text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type Outcome int

const (
	OutcomeScored Outcome = iota
	OutcomeParseFailed
	OutcomeRequestFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeScored:
		return "scored"
	case OutcomeParseFailed:
		return "parse_failed"
	case OutcomeRequestFailed:
		return "request_failed"
	}
	return "unknown"
}

// Result is produced once per Classify call. Prompt is empty when the model
// did not describe an image.
type Result struct {
	Outcome     Outcome
	Probability int
	Prompt      string
	Raw         string
	Err         error
	Elapsed     time.Duration
}

type Decision int

const (
	Rejected Decision = iota
	Accepted
	ParseFailed
	RequestFailed
)

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	case ParseFailed:
		return "parse_failed"
	case RequestFailed:
		return "request_failed"
	}
	return "unknown"
}

// Decide applies the probability threshold.
func (r Result) Decide(minProbability int) Decision {
	switch r.Outcome {
	case OutcomeParseFailed:
		return ParseFailed
	case OutcomeRequestFailed:
		return RequestFailed
	}
	if r.Prompt == "" || r.Probability < minProbability {
		return Rejected
	}
	return Accepted
}

type Client struct {
	completer Completer
	model     string
}

func New(completer Completer, model string) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{completer: completer, model: model}
}

func (c *Client) Model() string { return c.model }

// Classify never returns an error; failures are reported through Outcome.
func (c *Client) Classify(ctx context.Context, window string) Result {
	start := time.Now()
	raw, err := c.completer.Complete(ctx, CompletionRequest{
		Model:            c.model,
		Messages:         []Message{{Role: "user", Content: buildPrompt(window)}},
		Temperature:      0.6,
		TopP:             1,
		MaxTokens:        255,
		PresencePenalty:  0,
		FrequencyPenalty: 0,
	})
	if err != nil {
		return Result{Outcome: OutcomeRequestFailed, Err: err, Elapsed: time.Since(start)}
	}
	res := Parse(raw)
	res.Elapsed = time.Since(start)
	return res
}

var errNoObject = errors.New("no json object in response")

// Parse extracts the verdict from free-form model output: the text between
// the first '{' and the last '}' must be a JSON object with a numeric
// "probability" and a string "prompt".
func Parse(raw string) Result {
	fail := func(err error) Result {
		return Result{Outcome: OutcomeParseFailed, Raw: raw, Err: err}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return fail(errNoObject)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw[start:end+1]), &fields); err != nil {
		return fail(fmt.Errorf("decode verdict: %w", err))
	}

	probRaw, ok := fields["probability"]
	if !ok {
		return fail(errors.New(`missing "probability"`))
	}
	prob, err := parseProbability(probRaw)
	if err != nil {
		return fail(err)
	}

	promptRaw, ok := fields["prompt"]
	if !ok {
		return fail(errors.New(`missing "prompt"`))
	}
	var prompt string
	if err := json.Unmarshal(promptRaw, &prompt); err != nil {
		return fail(fmt.Errorf(`"prompt" is not a string: %w`, err))
	}

	return Result{
		Outcome:     OutcomeScored,
		Probability: prob,
		Prompt:      strings.TrimSpace(prompt),
		Raw:         raw,
	}
}

// parseProbability accepts a JSON number or a numeric string; fractions are
// truncated and the result clamped to [0, MaxProbability].
func parseProbability(raw json.RawMessage) (int, error) {
	var num float64
	if err := json.Unmarshal(raw, &num); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, fmt.Errorf(`"probability" is not numeric: %s`, raw)
		}
		num, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf(`"probability" is not numeric: %q`, s)
		}
	}
	if math.IsNaN(num) {
		return 0, errors.New(`"probability" is NaN`)
	}
	return int(min(max(num, 0), MaxProbability)), nil
}
