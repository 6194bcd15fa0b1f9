package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/billing/internal/app/api/server"
	"github.com/fatflowers/billing/internal/app/service/entitlement"
	"github.com/fatflowers/billing/internal/app/service/generation"
	"github.com/fatflowers/billing/internal/app/service/provider"
	"github.com/fatflowers/billing/internal/app/service/quota"
	"github.com/fatflowers/billing/internal/app/service/statistics"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/internal/app/service/usage"
	webhookhandler "github.com/fatflowers/billing/internal/app/service/webhook_handler"
	webhooklog "github.com/fatflowers/billing/internal/app/service/webhook_log"
	"github.com/fatflowers/billing/internal/platform/db"
	"github.com/fatflowers/billing/internal/platform/redis"
	"github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logger"
	"github.com/fatflowers/billing/pkg/metrics"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CoreModule is everything except the HTTP server and background jobs.
// The operator CLI runs on it.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	metrics.Module,
	db.Module,
	redis.Module,
	provider.Module,
	subscription.Module,
	entitlement.Module,
	usage.Module,
	quota.Module,
	webhooklog.Module,
)

var Module = fx.Options(
	CoreModule,
	webhookhandler.Module,
	generation.Module,
	statistics.Module,
	server.Module,
)
