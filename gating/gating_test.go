package gating

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeCompleter struct {
	reply string
	err   error
	got   []CompletionRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	f.got = append(f.got, req)
	return f.reply, f.err
}

func TestParseExtractsEmbeddedObject(t *testing.T) {
	res := Parse(`noise {"probability": 7, "prompt": "a red fox in snow"} trailing`)
	if res.Outcome != OutcomeScored {
		t.Fatalf("Outcome = %v, err = %v", res.Outcome, res.Err)
	}
	if res.Probability != 7 || res.Prompt != "a red fox in snow" {
		t.Errorf("got {%d, %q}, want {7, %q}", res.Probability, res.Prompt, "a red fox in snow")
	}
}

func TestParseFailures(t *testing.T) {
	for _, tt := range []struct {
		name string
		raw  string
	}{
		{"no braces", "I cannot help with that"},
		{"only open brace", "{ probability"},
		{"reversed braces", "} nothing {"},
		{"invalid json", `{"probability": 7, "prompt": }`},
		{"missing probability", `{"prompt": "a lake"}`},
		{"missing prompt", `{"probability": 8}`},
		{"non-numeric probability", `{"probability": "high", "prompt": "a lake"}`},
		{"prompt not a string", `{"probability": 8, "prompt": 12}`},
		{"empty", ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.raw)
			if res.Outcome != OutcomeParseFailed {
				t.Fatalf("Outcome = %v, want parse_failed", res.Outcome)
			}
			if res.Probability != 0 || res.Prompt != "" {
				t.Errorf("degraded result carries {%d, %q}", res.Probability, res.Prompt)
			}
			if res.Err == nil {
				t.Error("expected Err to be set for logging")
			}
		})
	}
}

func TestParseProbabilityForms(t *testing.T) {
	for _, tt := range []struct {
		raw  string
		want int
	}{
		{`{"probability": 3, "prompt": "x"}`, 3},
		{`{"probability": 6.9, "prompt": "x"}`, 6},
		{`{"probability": "8", "prompt": "x"}`, 8},
		{`{"probability": 42, "prompt": "x"}`, 10},
		{`{"probability": -2, "prompt": "x"}`, 0},
		{`{"probability": 1e300, "prompt": "x"}`, 10},
		{`{"probability": -1e300, "prompt": "x"}`, 0},
		{`{"probability": "1e300", "prompt": "x"}`, 10},
		{`{"probability": "Inf", "prompt": "x"}`, 10},
	} {
		res := Parse(tt.raw)
		if res.Outcome != OutcomeScored {
			t.Errorf("%s: Outcome = %v (%v)", tt.raw, res.Outcome, res.Err)
			continue
		}
		if res.Probability != tt.want {
			t.Errorf("%s: Probability = %d, want %d", tt.raw, res.Probability, tt.want)
		}
	}
}

func TestDecide(t *testing.T) {
	for _, tt := range []struct {
		name string
		res  Result
		want Decision
	}{
		{"accepted", Result{Outcome: OutcomeScored, Probability: 4, Prompt: "a cave"}, Accepted},
		{"below threshold", Result{Outcome: OutcomeScored, Probability: 3, Prompt: "a cave"}, Rejected},
		{"empty prompt", Result{Outcome: OutcomeScored, Probability: 9}, Rejected},
		{"parse failed", Result{Outcome: OutcomeParseFailed}, ParseFailed},
		{"request failed", Result{Outcome: OutcomeRequestFailed}, RequestFailed},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Decide(DefaultMinProbability); got != tt.want {
				t.Errorf("Decide = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifySendsTemplateAndParameters(t *testing.T) {
	fc := &fakeCompleter{reply: `{"probability": 8, "prompt": "a dark pine forest"}`}
	c := New(fc, "")

	res := c.Classify(context.Background(), "a dark forest with tall pine trees")
	if res.Decide(DefaultMinProbability) != Accepted || res.Prompt != "a dark pine forest" {
		t.Fatalf("unexpected result %+v", res)
	}

	if len(fc.got) != 1 {
		t.Fatalf("completer called %d times", len(fc.got))
	}
	req := fc.got[0]
	if req.Model != DefaultModel {
		t.Errorf("Model = %q", req.Model)
	}
	if req.Temperature != 0.6 || req.TopP != 1 || req.MaxTokens != 255 {
		t.Errorf("sampling params = %v/%v/%v", req.Temperature, req.TopP, req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if !strings.Contains(req.Messages[0].Content, `Conversation: "a dark forest with tall pine trees"`) {
		t.Errorf("window not embedded in prompt: %q", req.Messages[0].Content)
	}
}

func TestClassifyRequestFailureIsSilent(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("connection refused")}
	res := New(fc, "gpt-4o-mini").Classify(context.Background(), "some words here")
	if res.Outcome != OutcomeRequestFailed || res.Probability != 0 || res.Prompt != "" {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Err == nil {
		t.Error("expected underlying error")
	}
}

func TestOpenAICompleter(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"probability\": 5, \"prompt\": \"a beach\"}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	oc := NewOpenAICompleter("sk-test", srv.URL+"/v1")
	res := New(oc, "gpt-3.5-turbo").Classify(context.Background(), "we walked along the sandy beach")
	if res.Outcome != OutcomeScored || res.Probability != 5 || res.Prompt != "a beach" {
		t.Fatalf("unexpected result %+v", res)
	}
	if body["model"] != "gpt-3.5-turbo" {
		t.Errorf("model = %v", body["model"])
	}
	if body["max_tokens"] != float64(255) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
}

func TestOpenAICompleterNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAICompleter("sk-test", srv.URL).Complete(context.Background(), CompletionRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}
