package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"illustrator/encoder"
	"illustrator/traced"
)

// ErrNoSpeech means the service heard the audio but recognized nothing.
var ErrNoSpeech = errors.New("no speech recognized")

type Segment struct {
	Text             string
	NoSpeechProb     float64
	AvgLogProb       float64
	CompressionRatio float64
	Temperature      float64
	Start            float64
	End              float64
}

type Result struct {
	Text         string
	Metrics      *traced.Metrics
	RateLimit    string
	NoSpeechProb float64
	AvgLogProb   float64
	Duration     float64
	Segments     []Segment
	AudioS       float64
	EncodedKB    float64
	EncodeTime   time.Duration
}

// Transcriber turns one utterance of 16 kHz mono PCM into text. Calls are
// expected to be sequential.
type Transcriber interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	Transcribe(ctx context.Context, pcm []int16) (*Result, error)
}

// whisper is the multipart upload shared by the OpenAI-compatible
// transcription endpoints.
type whisper struct {
	client         *traced.Client
	apiURL         string
	apiKey         string
	model          string
	responseFormat string
	lang           string
}

func (w *whisper) SetLanguage(lang string) { w.lang = lang }

func (w *whisper) GetLanguage() string { return w.lang }

// Warm opens a connection ahead of the first utterance.
func (w *whisper) Warm() { w.client.Warm(w.apiURL) }

type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text             string  `json:"text"`
		Start            float64 `json:"start"`
		End              float64 `json:"end"`
		NoSpeechProb     float64 `json:"no_speech_prob"`
		AvgLogProb       float64 `json:"avg_logprob"`
		CompressionRatio float64 `json:"compression_ratio"`
		Temperature      float64 `json:"temperature"`
	} `json:"segments"`
}

func (w *whisper) transcribe(ctx context.Context, provider string, pcm []int16) (*Result, error) {
	start := time.Now()
	audioData, err := encoder.EncodeFlac(pcm)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	encodeTime := time.Since(start)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.flac")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", w.responseFormat)
	if w.lang != "" {
		writer.WriteField("language", w.lang)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", w.apiURL, &body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%s API error %d: %s", provider, resp.StatusCode, string(resp.Body))
	}

	var wResp whisperResponse
	if err := json.Unmarshal(resp.Body, &wResp); err != nil {
		return nil, fmt.Errorf("%s response parse error: %w", provider, err)
	}

	var noSpeechProb, avgLogProb float64
	var segments []Segment
	if len(wResp.Segments) > 0 {
		var logProbSum float64
		for _, seg := range wResp.Segments {
			if seg.NoSpeechProb > noSpeechProb {
				noSpeechProb = seg.NoSpeechProb
			}
			logProbSum += seg.AvgLogProb
			segments = append(segments, Segment{
				Text:             seg.Text,
				NoSpeechProb:     seg.NoSpeechProb,
				AvgLogProb:       seg.AvgLogProb,
				CompressionRatio: seg.CompressionRatio,
				Temperature:      seg.Temperature,
				Start:            seg.Start,
				End:              seg.End,
			})
		}
		avgLogProb = logProbSum / float64(len(wResp.Segments))
	}

	remaining := traced.FirstHeader(resp.Header, "x-ratelimit-remaining-requests")
	limit := traced.FirstHeader(resp.Header, "x-ratelimit-limit-requests")

	result := &Result{
		Text:         strings.TrimSpace(wResp.Text),
		Metrics:      resp.Metrics,
		RateLimit:    remaining + "/" + limit,
		NoSpeechProb: noSpeechProb,
		AvgLogProb:   avgLogProb,
		Duration:     wResp.Duration,
		Segments:     segments,
		AudioS:       float64(len(pcm)) / encoder.SampleRate,
		EncodedKB:    float64(len(audioData)) / 1024,
		EncodeTime:   encodeTime,
	}
	if result.Text == "" {
		return result, ErrNoSpeech
	}
	return result, nil
}

// New prefers Groq when a Groq key is set and falls back to OpenAI Whisper
// with the chat completion key.
func New(groqKey, openaiKey, openaiBaseURL string) (Transcriber, error) {
	if groqKey != "" {
		return NewGroq(groqKey), nil
	}
	if openaiKey != "" {
		return NewOpenAI(openaiKey, openaiBaseURL), nil
	}
	return nil, fmt.Errorf("set GROQ_API_KEY or OPENAI_API_KEY environment variable")
}
