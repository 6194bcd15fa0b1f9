package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	webhooklog "github.com/fatflowers/billing/internal/app/service/webhook_log"
	"github.com/fatflowers/billing/internal/platform/db/dbtest"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/types"
)

func TestReportJob_Run(t *testing.T) {
	db := dbtest.New(t)
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core).Sugar()
	webhooks := webhooklog.New(db, log)

	rec, err := webhooks.Begin(context.Background(), types.PaymentProviderPaddle, []byte(`{}`), false)
	require.NoError(t, err)
	rec.HTTPStatusReturned = 400
	webhooks.Finish(context.Background(), rec)

	job := NewReportJob(&config.Config{Jobs: config.JobsConfig{AuditReportWindow: time.Hour}}, webhooks, nil, log)
	require.NoError(t, job.Run(context.Background()))

	entries := logs.FilterMessage("audit_report").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.EqualValues(t, 1, entries[0].ContextMap()["unverified"])
}

func TestReportJob_DisabledWithoutSpec(t *testing.T) {
	job := NewReportJob(&config.Config{}, nil, nil, zap.NewNop().Sugar())
	require.NoError(t, job.start())
	assert.Nil(t, job.cron)
	job.stop()
}

func TestReportJob_InvalidSpec(t *testing.T) {
	job := NewReportJob(&config.Config{Jobs: config.JobsConfig{AuditReportSpec: "not a spec"}}, nil, nil, zap.NewNop().Sugar())
	assert.Error(t, job.start())
}
