// Package metrics exports pipeline activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"illustrator/gating"
	"illustrator/imagegen"
	"illustrator/log"
	"illustrator/pipeline"
	"illustrator/transcriber"
)

const namespace = "illustrator"

// Recorder implements pipeline.Observer. Each Recorder owns its registry so
// tests can run side by side.
type Recorder struct {
	reg *prometheus.Registry

	fragments       prometheus.Counter
	noResult        prometheus.Counter
	transcribeErrs  prometheus.Counter
	gatingDecisions *prometheus.CounterVec
	generations     *prometheus.CounterVec
	displayed       prometheus.Counter
	displayErrs     prometheus.Counter
	wpm             prometheus.Gauge
	gatingLatency   prometheus.Histogram
	genLatency      *prometheus.HistogramVec

	// Throughput, if set, is sampled after every fragment for the
	// words-per-minute gauge.
	Throughput func() float64
}

var _ pipeline.Observer = (*Recorder)(nil)

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Recognized speech fragments appended to the transcript.",
		}),
		noResult: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "no_result_total",
			Help:      "Utterances with no recognizable speech.",
		}),
		transcribeErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_errors_total",
			Help:      "Utterances whose transcription request failed.",
		}),
		gatingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gating_decisions_total",
			Help:      "Gating calls by decision.",
		}, []string{"decision"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Image generation requests by backend and outcome.",
		}, []string{"backend", "outcome"}),
		displayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_displayed_total",
			Help:      "Images handed to the display.",
		}),
		displayErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_errors_total",
			Help:      "Images the display failed to show.",
		}),
		wpm: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "words_per_minute",
			Help:      "Transcript throughput since the session started.",
		}),
		gatingLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gating_duration_seconds",
			Help:      "Gating completion round trip.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 7), // 250ms → 16s
		}),
		genLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Image generation time, queueing included.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 9), // 1s → 256s
		}, []string{"backend"}),
	}
	r.reg.MustRegister(
		r.fragments,
		r.noResult,
		r.transcribeErrs,
		r.gatingDecisions,
		r.generations,
		r.displayed,
		r.displayErrs,
		r.wpm,
		r.gatingLatency,
		r.genLatency,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Recorder) OnFragment(u pipeline.Utterance, words int) {
	switch {
	case u.Err == nil:
		r.fragments.Inc()
	case errors.Is(u.Err, transcriber.ErrNoSpeech):
		r.noResult.Inc()
	default:
		r.transcribeErrs.Inc()
	}
	if r.Throughput != nil {
		r.wpm.Set(r.Throughput())
	}
}

func (r *Recorder) OnGating(_, _ string, res gating.Result, d gating.Decision) {
	r.gatingDecisions.WithLabelValues(d.String()).Inc()
	if res.Outcome != gating.OutcomeRequestFailed {
		r.gatingLatency.Observe(res.Elapsed.Seconds())
	}
}

func (r *Recorder) OnGeneration(_, backend string, res imagegen.Result) {
	r.generations.WithLabelValues(backend, res.Outcome.String()).Inc()
	r.genLatency.WithLabelValues(backend).Observe(res.Elapsed.Seconds())
}

func (r *Recorder) OnDisplay(_ string, err error) {
	if err != nil {
		r.displayErrs.Inc()
		return
	}
	r.displayed.Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.serve(ctx, ln)
}

func (r *Recorder) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening on " + ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
