package transcriber

import (
	"context"
	"strings"
	"time"

	"illustrator/traced"
)

const openaiURL = "https://api.openai.com/v1/audio/transcriptions"

type OpenAI struct {
	whisper
}

// NewOpenAI uses baseURL (e.g. "https://api.openai.com/v1") when set.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	apiURL := openaiURL
	if baseURL != "" {
		apiURL = strings.TrimRight(baseURL, "/") + "/audio/transcriptions"
	}
	return newOpenAI(apiKey, apiURL, traced.New(30*time.Second))
}

func newOpenAI(apiKey, apiURL string, client *traced.Client) *OpenAI {
	return &OpenAI{whisper{
		client:         client,
		apiURL:         apiURL,
		apiKey:         apiKey,
		model:          "whisper-1",
		responseFormat: "json",
	}}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Transcribe(ctx context.Context, pcm []int16) (*Result, error) {
	return o.transcribe(ctx, "openai", pcm)
}
