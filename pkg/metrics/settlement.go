package metrics

import "github.com/prometheus/client_golang/prometheus"

// SettlementMetrics counts the outcomes of every external handoff in the checkout flow.
type SettlementMetrics struct {
	webhookEvents      *prometheus.CounterVec
	rateQuotes         *prometheus.CounterVec
	chargeIntents      *prometheus.CounterVec
	fulfillments       *prometheus.CounterVec
	credentialRefresh  *prometheus.CounterVec
	rateSourceDuration *prometheus.HistogramVec
}

// NewSettlementMetrics registers the settlement counters on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuka_webhook_events_total",
			Help: "Processor webhook events by outcome.",
		}, []string{"outcome"}),
		rateQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuka_rate_quotes_total",
			Help: "Storefront shipping quotes by source tier.",
		}, []string{"source"}),
		chargeIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuka_charge_intents_total",
			Help: "Charge intent requests by result.",
		}, []string{"result"}),
		fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuka_fulfillment_handoffs_total",
			Help: "Storefront order handoffs by result.",
		}, []string{"result"}),
		credentialRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tuka_credential_refreshes_total",
			Help: "Processor OAuth refreshes by result.",
		}, []string{"result"}),
		rateSourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tuka_rate_source_duration_seconds",
			Help:    "Latency of storefront real-time rate lookups.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"result"}),
	}
	reg.MustRegister(m.webhookEvents, m.rateQuotes, m.chargeIntents, m.fulfillments, m.credentialRefresh, m.rateSourceDuration)
	return m
}

func (m *SettlementMetrics) WebhookEvent(outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SettlementMetrics) RateQuote(source string) {
	if m == nil || m.rateQuotes == nil {
		return
	}
	m.rateQuotes.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *SettlementMetrics) ChargeIntent(result string) {
	if m == nil || m.chargeIntents == nil {
		return
	}
	m.chargeIntents.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *SettlementMetrics) Fulfillment(result string) {
	if m == nil || m.fulfillments == nil {
		return
	}
	m.fulfillments.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *SettlementMetrics) CredentialRefresh(result string) {
	if m == nil || m.credentialRefresh == nil {
		return
	}
	m.credentialRefresh.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveRateSource records how long one real-time rate lookup took.
func (m *SettlementMetrics) ObserveRateSource(result string, seconds float64) {
	if m == nil || m.rateSourceDuration == nil {
		return
	}
	m.rateSourceDuration.WithLabelValues(normalizeLabel(result)).Observe(seconds)
}
