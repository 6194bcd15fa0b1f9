package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HistogramBuckets are latency buckets in milliseconds. Webhook processing and
// quota checks sit well under a second; the tail covers slow provider fetches.
var HistogramBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Metric describes one collector. Type is one of counter_vec, gauge_vec,
// histogram_vec or summary_vec.
type Metric struct {
	ID          string
	Name        string
	Description string
	Type        string
	Args        []string
}

// NewMetric builds the collector described by m. It returns nil for an unknown Type.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case "counter_vec":
		return prometheus.NewCounterVec(prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "gauge_vec":
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	case "histogram_vec":
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets}, m.Args)
	case "summary_vec":
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description}, m.Args)
	}
	return nil
}

var MetricsWebhookDeliveries = &Metric{
	ID:          "webhookDeliveries",
	Name:        "webhook_deliveries_total",
	Description: "Inbound webhook deliveries partitioned by provider and outcome.",
	Type:        "counter_vec",
	Args:        []string{"provider", "outcome"},
}

var MetricsEntitlementDecisions = &Metric{
	ID:          "entitlementDecisions",
	Name:        "entitlement_decisions_total",
	Description: "Entitlement resolutions partitioned by result reason.",
	Type:        "counter_vec",
	Args:        []string{"reason"},
}

var MetricsQuotaDecisions = &Metric{
	ID:          "quotaDecisions",
	Name:        "quota_decisions_total",
	Description: "Quota admissions partitioned by resource, plan and decision.",
	Type:        "counter_vec",
	Args:        []string{"resource", "plan", "decision"},
}

var MetricsUsageRecordFailures = &Metric{
	ID:          "usageRecordFailures",
	Name:        "usage_record_failures_total",
	Description: "Usage events that could not be persisted after a successful operation.",
	Type:        "counter_vec",
	Args:        []string{"resource"},
}

var MetricsAuditFailedDeliveries = &Metric{
	ID:          "auditFailedDeliveries",
	Name:        "audit_failed_deliveries",
	Description: "Webhook deliveries with a processing error or failed verification in the last report window.",
	Type:        "gauge_vec",
	Args:        []string{"provider", "kind"},
}

var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "process_duration_ms",
	Description: "Billing pipeline latency in milliseconds, partitioned by stage and provider.",
	Type:        "histogram_vec",
	Args:        []string{"type", "subtype"},
}

var billingMetrics = []*Metric{
	MetricsWebhookDeliveries,
	MetricsEntitlementDecisions,
	MetricsQuotaDecisions,
	MetricsUsageRecordFailures,
	MetricsAuditFailedDeliveries,
	MetricsBusinessProcess,
}
