package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"slices"
	"strings"
	"time"

	"illustrator/traced"
)

const (
	DefaultHordeURL     = "https://stablehorde.net/api/v2"
	AnonymousHordeKey   = "0000000000"
	DefaultPollInterval = time.Second
	DefaultMaxPolls     = 120
)

// PreferredModels is the order models are offered in. Higher tiers need a
// registered account, so only these are requested.
var PreferredModels = []string{"stable_diffusion", "Midjourney Diffusion", "Darkest Diffusion"}

var ErrNoPreferredModels = errors.New("no preferred models found")

// ModelChooser picks one model when the catalog offers several candidates.
type ModelChooser func(candidates []string) (string, error)

type QueuedOptions struct {
	BaseURL      string
	APIKey       string
	Chooser      ModelChooser
	PollInterval time.Duration
	MaxPolls     int
	Client       *traced.Client
}

// Queued submits jobs to a Stable Horde style API and polls for completion.
type Queued struct {
	client       *traced.Client
	baseURL      string
	apiKey       string
	models       []string
	candidates   []string
	pollInterval time.Duration
	maxPolls     int
}

// NewQueued resolves the model to use before returning. It fails when none
// of PreferredModels is currently served.
func NewQueued(ctx context.Context, opts QueuedOptions) (*Queued, error) {
	q := &Queued{
		client:       opts.Client,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		pollInterval: opts.PollInterval,
		maxPolls:     opts.MaxPolls,
	}
	if q.client == nil {
		q.client = traced.New(30 * time.Second)
	}
	if q.baseURL == "" {
		q.baseURL = DefaultHordeURL
	}
	if q.apiKey == "" {
		q.apiKey = AnonymousHordeKey
	}
	if q.pollInterval <= 0 {
		q.pollInterval = DefaultPollInterval
	}
	if q.maxPolls <= 0 {
		q.maxPolls = DefaultMaxPolls
	}

	catalog, err := q.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	candidates := IntersectPreferred(catalog, PreferredModels)
	if len(candidates) == 0 {
		return nil, ErrNoPreferredModels
	}
	q.candidates = candidates
	choice := candidates[0]
	if len(candidates) > 1 && opts.Chooser != nil {
		choice, err = opts.Chooser(candidates)
		if err != nil {
			return nil, fmt.Errorf("choose model: %w", err)
		}
		if !slices.Contains(candidates, choice) {
			return nil, fmt.Errorf("model %q is not one of %v", choice, candidates)
		}
	}
	q.models = []string{choice}
	return q, nil
}

func (q *Queued) Name() string { return "stablehorde" }

// Models are the model names sent with every job.
func (q *Queued) Models() []string { return q.models }

// Candidates are the preferred models the service offered at construction.
func (q *Queued) Candidates() []string { return q.candidates }

type hordeModel struct {
	Name   string  `json:"name"`
	Count  int     `json:"count"`
	Queued float64 `json:"queued"`
}

// ListModels returns the names of image models currently served.
func (q *Queued) ListModels(ctx context.Context) ([]string, error) {
	resp, err := q.get(ctx, "/status/models?type=image")
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	var models []hordeModel
	if err := json.Unmarshal(resp.Body, &models); err != nil {
		return nil, fmt.Errorf("list models: parse: %w", err)
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names, nil
}

// IntersectPreferred keeps the preferred names present in catalog, in
// preference order.
func IntersectPreferred(catalog, preferred []string) []string {
	var out []string
	for _, p := range preferred {
		if slices.Contains(catalog, p) {
			out = append(out, p)
		}
	}
	return out
}

type hordeParams struct {
	SamplerName string  `json:"sampler_name"`
	Toggles     []int   `json:"toggles"`
	CfgScale    float64 `json:"cfg_scale"`
	Height      int     `json:"height"`
	Width       int     `json:"width"`
	Steps       int     `json:"steps"`
	N           int     `json:"n"`
}

type hordeSubmit struct {
	Prompt         string      `json:"prompt"`
	Params         hordeParams `json:"params"`
	NSFW           bool        `json:"nsfw"`
	TrustedWorkers bool        `json:"trusted_workers"`
	SlowWorkers    bool        `json:"slow_workers"`
	CensorNSFW     bool        `json:"censor_nsfw"`
	Models         []string    `json:"models"`
	R2             bool        `json:"r2"`
}

type hordeSubmitResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type hordeCheck struct {
	Done       bool  `json:"done"`
	Faulted    bool  `json:"faulted"`
	IsPossible *bool `json:"is_possible"`
	WaitTime   int   `json:"wait_time"`
	QueuePos   int   `json:"queue_position"`
}

type hordeStatus struct {
	Generations []struct {
		Img      string `json:"img"`
		Model    string `json:"model"`
		Censored bool   `json:"censored"`
	} `json:"generations"`
}

// Generate submits exactly one job and polls it until it finishes, faults,
// or MaxPolls checks have passed.
func (q *Queued) Generate(ctx context.Context, prompt string) Result {
	start := time.Now()
	res := q.generate(ctx, prompt)
	res.Elapsed = time.Since(start)
	return res
}

func (q *Queued) generate(ctx context.Context, prompt string) Result {
	id, err := q.submit(ctx, prompt)
	if err != nil {
		return Result{Outcome: TransportFailed, Err: err}
	}

	for poll := 1; poll <= q.maxPolls; poll++ {
		if err := sleepCtx(ctx, q.pollInterval); err != nil {
			return Result{Outcome: TransportFailed, JobID: id, Polls: poll - 1, Err: err}
		}
		check, err := q.check(ctx, id)
		if err != nil {
			return Result{Outcome: TransportFailed, JobID: id, Polls: poll, Err: err}
		}
		if check.Faulted {
			return Result{Outcome: Faulted, JobID: id, Polls: poll, Err: fmt.Errorf("job %s faulted", id)}
		}
		if !check.Done {
			continue
		}
		images, err := q.fetch(ctx, id)
		if err != nil {
			return Result{Outcome: TransportFailed, JobID: id, Polls: poll, Err: err}
		}
		if len(images) == 0 {
			return Result{Outcome: Empty, JobID: id, Polls: poll}
		}
		return Result{Outcome: Completed, Images: images, JobID: id, Polls: poll}
	}
	return Result{
		Outcome: TimedOut,
		JobID:   id,
		Polls:   q.maxPolls,
		Err:     fmt.Errorf("job %s not done after %d checks", id, q.maxPolls),
	}
}

func (q *Queued) submit(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(hordeSubmit{
		Prompt: prompt,
		Params: hordeParams{
			SamplerName: "k_euler_a",
			Toggles:     []int{1, 4},
			CfgScale:    7,
			Height:      512,
			Width:       512,
			Steps:       18,
			N:           1,
		},
		NSFW:           false,
		TrustedWorkers: false,
		SlowWorkers:    true,
		CensorNSFW:     true,
		Models:         q.models,
		R2:             false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", q.baseURL+"/generate/async", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", q.apiKey)

	resp, err := q.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	var out hordeSubmitResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("submit: parse response (status %d): %w", resp.StatusCode, err)
	}
	if !resp.OK() || out.ID == "" {
		return "", fmt.Errorf("submit: status %d: %s", resp.StatusCode, out.Message)
	}
	return out.ID, nil
}

func (q *Queued) check(ctx context.Context, id string) (*hordeCheck, error) {
	resp, err := q.get(ctx, "/generate/check/"+id)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", id, err)
	}
	var c hordeCheck
	if err := json.Unmarshal(resp.Body, &c); err != nil {
		return nil, fmt.Errorf("check %s: parse: %w", id, err)
	}
	return &c, nil
}

func (q *Queued) fetch(ctx context.Context, id string) ([]image.Image, error) {
	resp, err := q.get(ctx, "/generate/status/"+id)
	if err != nil {
		return nil, fmt.Errorf("status %s: %w", id, err)
	}
	var st hordeStatus
	if err := json.Unmarshal(resp.Body, &st); err != nil {
		return nil, fmt.Errorf("status %s: parse: %w", id, err)
	}
	payloads := make([]string, 0, len(st.Generations))
	for _, g := range st.Generations {
		payloads = append(payloads, g.Img)
	}
	return decodeAll(payloads)
}

func (q *Queued) get(ctx context.Context, path string) (*traced.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", q.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", q.apiKey)
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(resp.Body, 200))
	}
	return resp, nil
}
