package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jinford/teardown/internal/core/job"
	"github.com/jinford/teardown/internal/core/teardown"
	"github.com/jinford/teardown/internal/infra/openai"
)

// Metrics はジョブ、コレクタ、合成、レポート生成の計測値を保持する
type Metrics struct {
	registry *prometheus.Registry

	JobTransitions    *prometheus.CounterVec
	ActiveJobsGauge   prometheus.Gauge
	CollectorRuns     *prometheus.CounterVec
	CollectorDuration *prometheus.HistogramVec
	SynthesisCalls    *prometheus.CounterVec
	AnswersResolved   *prometheus.CounterVec
	PersistFailures   prometheus.Counter
	ReportCompiles    prometheus.Counter
	ReportAnswered    prometheus.Gauge
	AdmissionRejects  prometheus.Counter
	LLMTokens         *prometheus.CounterVec
	LLMLatency        *prometheus.HistogramVec
}

// New は専用レジストリに登録済みの Metrics を作成する
func New() *Metrics {
	m := &Metrics{
		registry:          prometheus.NewRegistry(),
		JobTransitions:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "teardown_job_transitions_total", Help: "Job state transitions by target status"}, []string{"status"}),
		ActiveJobsGauge:   prometheus.NewGauge(prometheus.GaugeOpts{Name: "teardown_jobs_active", Help: "Jobs currently running"}),
		CollectorRuns:     prometheus.NewCounterVec(prometheus.CounterOpts{Name: "teardown_collector_runs_total", Help: "Data collector runs by result"}, []string{"collector", "result"}),
		CollectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "teardown_collector_duration_seconds", Help: "Data collector run time", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600}}, []string{"collector"}),
		SynthesisCalls:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "teardown_synthesis_calls_total", Help: "Text synthesis calls by phase and result"}, []string{"phase", "result"}),
		AnswersResolved:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "teardown_answers_resolved_total", Help: "Resolved answers by strategy"}, []string{"strategy", "degraded"}),
		PersistFailures:   prometheus.NewCounter(prometheus.CounterOpts{Name: "teardown_answer_persist_failures_total", Help: "Answers that could not be stored"}),
		ReportCompiles:    prometheus.NewCounter(prometheus.CounterOpts{Name: "teardown_report_compiles_total", Help: "Report rebuilds"}),
		ReportAnswered:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "teardown_report_answered_sections", Help: "Answered sections in the last compiled report"}),
		AdmissionRejects:  prometheus.NewCounter(prometheus.CounterOpts{Name: "teardown_admission_rejects_total", Help: "Job submissions rejected by the admission limiter"}),
		LLMTokens:         prometheus.NewCounterVec(prometheus.CounterOpts{Name: "teardown_llm_tokens_total", Help: "LLM tokens by model and kind"}, []string{"model", "kind"}),
		LLMLatency:        prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "teardown_llm_request_duration_seconds", Help: "LLM request latency", Buckets: prometheus.ExponentialBuckets(0.25, 2, 10)}, []string{"model"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.JobTransitions,
		m.ActiveJobsGauge,
		m.CollectorRuns,
		m.CollectorDuration,
		m.SynthesisCalls,
		m.AnswersResolved,
		m.PersistFailures,
		m.ReportCompiles,
		m.ReportAnswered,
		m.AdmissionRejects,
		m.LLMTokens,
		m.LLMLatency,
	)
	return m
}

// Handler は /metrics 用の HTTP ハンドラを返す
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry は内部のレジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// === job.Metrics ===

func (m *Metrics) JobTransitioned(to job.Status) {
	m.JobTransitions.WithLabelValues(string(to)).Inc()
}

func (m *Metrics) ActiveJobs(n int) {
	m.ActiveJobsGauge.Set(float64(n))
}

func (m *Metrics) CollectorFinished(name string, ok bool, d time.Duration) {
	m.CollectorRuns.WithLabelValues(name, resultLabel(ok)).Inc()
	m.CollectorDuration.WithLabelValues(name).Observe(d.Seconds())
}

// === teardown.Observer ===

func (m *Metrics) SynthesisCalled(phase string, err error) {
	m.SynthesisCalls.WithLabelValues(phase, resultLabel(err == nil)).Inc()
}

func (m *Metrics) AnswerResolved(strategy teardown.Strategy, degraded bool) {
	m.AnswersResolved.WithLabelValues(string(strategy), strconv.FormatBool(degraded)).Inc()
}

func (m *Metrics) AnswerPersistFailed() {
	m.PersistFailures.Inc()
}

func (m *Metrics) ReportCompiled(sections, answered int) {
	m.ReportCompiles.Inc()
	m.ReportAnswered.Set(float64(answered))
}

// === openai.UsageRecorder ===

func (m *Metrics) RecordUsage(model string, usage openai.TokenUsage, latency time.Duration, err error) {
	m.LLMLatency.WithLabelValues(model).Observe(latency.Seconds())
	if err != nil {
		return
	}
	m.LLMTokens.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
	m.LLMTokens.WithLabelValues(model, "response").Add(float64(usage.ResponseTokens))
}

// AdmissionRejected は受付制限で拒否した投入を数える
func (m *Metrics) AdmissionRejected() {
	m.AdmissionRejects.Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

var (
	_ job.Metrics          = (*Metrics)(nil)
	_ teardown.Observer    = (*Metrics)(nil)
	_ openai.UsageRecorder = (*Metrics)(nil)
)
