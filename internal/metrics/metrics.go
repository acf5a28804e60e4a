package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restobot_webhook_events_total",
			Help: "Inbound webhook events by final pipeline status",
		},
		[]string{"status"},
	)

	PipelineStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restobot_pipeline_step_duration_seconds",
			Help:    "Duration of each pipeline step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	PipelineStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restobot_pipeline_step_failures_total",
			Help: "Pipeline step failures",
		},
		[]string{"step", "required"},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restobot_llm_requests_total",
			Help: "LLM completion calls by purpose and result",
		},
		[]string{"purpose", "result"},
	)

	GatewayRelays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restobot_gateway_relays_total",
			Help: "Outbound WhatsApp deliveries by transport and result",
		},
		[]string{"transport", "result"},
	)

	HTTPRequests = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restobot_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "restobot_realtime_clients",
			Help: "Connected realtime websocket clients",
		},
	)
)
