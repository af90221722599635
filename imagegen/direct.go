package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"illustrator/traced"
)

const (
	directDefaultPort = "7860"
	directSampler     = "Euler"
	directSteps       = 18
)

// Direct talks to a local Automatic1111 web UI with the API enabled. Each
// Generate is a single blocking txt2img request.
type Direct struct {
	client  *traced.Client
	baseURL string
	apiURL  string
}

// NewDirect accepts "host", "host:port" or a full base URL. A zero timeout
// leaves the request unbounded.
func NewDirect(host string, timeout time.Duration) (*Direct, error) {
	return newDirect(host, traced.New(timeout))
}

func newDirect(host string, client *traced.Client) (*Direct, error) {
	base, err := directBaseURL(host)
	if err != nil {
		return nil, err
	}
	return &Direct{client: client, baseURL: base, apiURL: base + "/sdapi/v1/txt2img"}, nil
}

func directBaseURL(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", fmt.Errorf("stable diffusion host is empty")
	}
	if !strings.Contains(host, "://") {
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, directDefaultPort)
		}
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return "", fmt.Errorf("stable diffusion host %q: %w", host, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("stable diffusion host %q has no host part", host)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func (d *Direct) Name() string { return "automatic1111" }

// URL is the txt2img endpoint requests are sent to.
func (d *Direct) URL() string { return d.apiURL }

type sdModel struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
}

// Models lists the checkpoints the web UI has loaded. Used as a reachability
// check; Generate does not need it.
func (d *Direct) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", d.baseURL+"/sdapi/v1/sd-models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("list models: status %d: %s", resp.StatusCode, truncate(resp.Body, 200))
	}
	var models []sdModel
	if err := json.Unmarshal(resp.Body, &models); err != nil {
		return nil, fmt.Errorf("list models: parse: %w", err)
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.ModelName)
	}
	return names, nil
}

type txt2imgRequest struct {
	Prompt       string `json:"prompt"`
	SamplerIndex string `json:"sampler_index"`
	Steps        int    `json:"steps"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

func (d *Direct) Generate(ctx context.Context, prompt string) Result {
	start := time.Now()
	res := d.generate(ctx, prompt)
	res.JobID = uuid.NewString()
	res.Elapsed = time.Since(start)
	return res
}

func (d *Direct) generate(ctx context.Context, prompt string) Result {
	fail := func(err error) Result {
		return Result{Outcome: TransportFailed, Err: err}
	}

	body, err := json.Marshal(txt2imgRequest{
		Prompt:       prompt,
		SamplerIndex: directSampler,
		Steps:        directSteps,
	})
	if err != nil {
		return fail(err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", d.apiURL, bytes.NewReader(body))
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fail(err)
	}
	if !resp.OK() {
		return fail(fmt.Errorf("txt2img error %d: %s", resp.StatusCode, truncate(resp.Body, 200)))
	}

	var out txt2imgResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return fail(fmt.Errorf("txt2img response parse error: %w", err))
	}
	images, err := decodeAll(out.Images)
	if err != nil {
		return fail(err)
	}
	if len(images) == 0 {
		return Result{Outcome: Empty}
	}
	return Result{Outcome: Completed, Images: images}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
