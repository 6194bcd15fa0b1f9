package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const billingSubsystem = "billing"

// Billing holds the domain collectors. A nil *Billing is valid and records nothing,
// which keeps services usable in tests and tools without a registry.
type Billing struct {
	webhookDeliveries     *prometheus.CounterVec
	entitlementDecisions  *prometheus.CounterVec
	quotaDecisions        *prometheus.CounterVec
	usageRecordFailures   *prometheus.CounterVec
	auditFailedDeliveries *prometheus.GaugeVec
	businessProcess       *prometheus.HistogramVec
}

// NewBilling creates the billing collectors and registers them on reg.
// Collectors that are already registered are reused.
func NewBilling(reg prometheus.Registerer) (*Billing, error) {
	b := &Billing{}
	for _, def := range billingMetrics {
		c := NewMetric(def, billingSubsystem)
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			c = are.ExistingCollector
		}
		switch def {
		case MetricsWebhookDeliveries:
			b.webhookDeliveries = c.(*prometheus.CounterVec)
		case MetricsEntitlementDecisions:
			b.entitlementDecisions = c.(*prometheus.CounterVec)
		case MetricsQuotaDecisions:
			b.quotaDecisions = c.(*prometheus.CounterVec)
		case MetricsUsageRecordFailures:
			b.usageRecordFailures = c.(*prometheus.CounterVec)
		case MetricsAuditFailedDeliveries:
			b.auditFailedDeliveries = c.(*prometheus.GaugeVec)
		case MetricsBusinessProcess:
			b.businessProcess = c.(*prometheus.HistogramVec)
		}
	}
	return b, nil
}

func (b *Billing) WebhookDelivery(provider, outcome string) {
	if b == nil {
		return
	}
	b.webhookDeliveries.WithLabelValues(provider, outcome).Inc()
}

func (b *Billing) EntitlementDecision(reason string) {
	if b == nil {
		return
	}
	b.entitlementDecisions.WithLabelValues(reason).Inc()
}

func (b *Billing) QuotaDecision(resource, plan string, allowed bool) {
	if b == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	b.quotaDecisions.WithLabelValues(resource, plan, decision).Inc()
}

func (b *Billing) UsageRecordFailure(resource string) {
	if b == nil {
		return
	}
	b.usageRecordFailures.WithLabelValues(resource).Inc()
}

func (b *Billing) SetAuditFailedDeliveries(provider, kind string, n int64) {
	if b == nil {
		return
	}
	b.auditFailedDeliveries.WithLabelValues(provider, kind).Set(float64(n))
}

// ObserveProcess records how long a business step took, in milliseconds.
func (b *Billing) ObserveProcess(typ, subtype string, start time.Time) {
	if b == nil {
		return
	}
	b.businessProcess.WithLabelValues(typ, subtype).Observe(MillisecondsSince(start))
}

func newDefaultBilling(log *zap.SugaredLogger) *Billing {
	b, err := NewBilling(prometheus.DefaultRegisterer)
	if err != nil {
		log.Errorw("billing_metrics_register_failed", "error", err)
		return nil
	}
	return b
}

var Module = fx.Options(
	fx.Provide(newDefaultBilling),
)
