package statistics

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	webhooklog "github.com/fatflowers/billing/internal/app/service/webhook_log"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/metrics"
	"github.com/fatflowers/billing/pkg/tool"
)

// ReportJob periodically summarises webhook deliveries that failed verification
// or processing. It only reads.
type ReportJob struct {
	webhooks *webhooklog.Service
	metrics  *metrics.Billing
	log      *zap.SugaredLogger
	window   time.Duration
	spec     string
	cron     *cron.Cron
	now      func() time.Time
}

func NewReportJob(cfg *config.Config, webhooks *webhooklog.Service, m *metrics.Billing, log *zap.SugaredLogger) *ReportJob {
	window := cfg.Jobs.AuditReportWindow
	if window <= 0 {
		window = time.Hour
	}
	return &ReportJob{
		webhooks: webhooks,
		metrics:  m,
		log:      log.With("job", "audit_report"),
		window:   window,
		spec:     cfg.Jobs.AuditReportSpec,
		now:      time.Now,
	}
}

// Run produces one report.
func (j *ReportJob) Run(ctx context.Context) error {
	start := time.Now()
	defer j.metrics.ObserveProcess("job", "audit_report", start)

	since := j.now().Add(-j.window)
	counts, err := j.webhooks.CountFailures(ctx, since)
	if err != nil {
		j.log.Errorw("audit_report_failed", "error", err)
		return err
	}
	var unverified, failed int64
	for _, c := range counts {
		j.metrics.SetAuditFailedDeliveries(string(c.Provider), "unverified", c.Unverified)
		j.metrics.SetAuditFailedDeliveries(string(c.Provider), "failed", c.Failed)
		unverified += c.Unverified
		failed += c.Failed
	}
	fields := []any{"since", since, "unverified", unverified, "failed", failed, "providers", counts}
	if unverified+failed > 0 {
		j.log.Warnw("audit_report", fields...)
	} else {
		j.log.Infow("audit_report", fields...)
	}
	return nil
}

func (j *ReportJob) start() error {
	if j.spec == "" {
		j.log.Infow("audit report disabled")
		return nil
	}
	j.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{j.log})))
	_, err := j.cron.AddFunc(j.spec, func() {
		ctx := context.WithValue(context.Background(), logctx.TraceIDKey, tool.GenerateUUIDV7())
		_ = j.Run(ctx)
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

func (j *ReportJob) stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

func registerReportJob(lc fx.Lifecycle, j *ReportJob) {
	lc.Append(fx.StartStopHook(j.start, j.stop))
}

// Module exposes the statistics service and the audit report job via Fx.
var Module = fx.Options(
	fx.Provide(New, NewReportJob),
	fx.Invoke(registerReportJob),
)
