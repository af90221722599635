package transcriber

import (
	"context"
	"time"

	"illustrator/traced"
)

const groqURL = "https://api.groq.com/openai/v1/audio/transcriptions"

type Groq struct {
	whisper
}

func NewGroq(apiKey string) *Groq {
	return newGroq(apiKey, groqURL, traced.New(30*time.Second))
}

func newGroq(apiKey, apiURL string, client *traced.Client) *Groq {
	return &Groq{whisper{
		client:         client,
		apiURL:         apiURL,
		apiKey:         apiKey,
		model:          "whisper-large-v3-turbo",
		responseFormat: "verbose_json",
	}}
}

func (g *Groq) Name() string { return "groq" }

func (g *Groq) Transcribe(ctx context.Context, pcm []int16) (*Result, error) {
	return g.transcribe(ctx, "groq", pcm)
}
