package metrics

import "github.com/prometheus/client_golang/prometheus"

// WhatsAppMetrics exposes counters/histograms for the inbound and outbound
// WhatsApp flows.
type WhatsAppMetrics struct {
	inboundTotal      *prometheus.CounterVec
	outboundTotal     *prometheus.CounterVec
	processingLatency *prometheus.HistogramVec
}

func NewWhatsAppMetrics(reg prometheus.Registerer) *WhatsAppMetrics {
	m := &WhatsAppMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp_crm",
			Subsystem: "inbound",
			Name:      "events_total",
			Help:      "Inbound WhatsApp messages by kind and outcome",
		}, []string{"kind", "outcome"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "whatsapp_crm",
			Subsystem: "outbound",
			Name:      "sends_total",
			Help:      "Outbound WhatsApp sends by mode and outcome",
		}, []string{"mode", "outcome"}),
		processingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "whatsapp_crm",
			Subsystem: "inbound",
			Name:      "webhook_processing_seconds",
			Help:      "Time spent processing one inbound message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.processingLatency)
	return m
}

func (m *WhatsAppMetrics) ObserveInbound(kind, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *WhatsAppMetrics) ObserveOutbound(mode, outcome string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(mode, outcome).Inc()
}

func (m *WhatsAppMetrics) ObserveProcessing(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.processingLatency.WithLabelValues(kind).Observe(seconds)
}
