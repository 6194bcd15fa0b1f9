package webhook_log

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/billing/internal/models"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/tool"
	"github.com/fatflowers/billing/pkg/types"
)

// ListFields are the columns admin filters may target.
var ListFields = []string{
	"provider", "event_type", "event_id", "verified", "verify_reason",
	"http_status_returned", "applied", "related_user_id", "created_at",
}

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Begin writes the audit row for a delivery before any processing happens.
func (s *Service) Begin(ctx context.Context, provider types.PaymentProvider, body []byte, signaturePresent bool) (*models.WebhookEvent, error) {
	rec := &models.WebhookEvent{
		ID:               tool.GenerateUUIDV7(),
		Provider:         provider,
		TraceID:          logctx.TraceID(ctx),
		SignaturePresent: signaturePresent,
		RawBody:          rawJSON(body),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return rec, fmt.Errorf("failed to create webhook event: %w", err)
	}
	return rec, nil
}

// Finish stores the final outcome. A record whose Begin failed is inserted here.
func (s *Service) Finish(ctx context.Context, rec *models.WebhookEvent) {
	if rec == nil {
		return
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("webhook_event_finish_failed",
			"webhook_event_id", rec.ID,
			"provider", rec.Provider,
			"event_id", rec.EventID,
			"error", err,
		)
	}
}

// SetError records a processing error on rec.
func SetError(rec *models.WebhookEvent, err error) {
	if err == nil {
		rec.ProcessError = nil
		return
	}
	rec.ProcessError = lo.ToPtr(err.Error())
}

func (s *Service) Get(ctx context.Context, id string) (*models.WebhookEvent, error) {
	var rec models.WebhookEvent
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &rec, err
}

type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse struct {
	Items []*models.WebhookEvent `json:"items"`
	Total int64                  `json:"total"`
}

// Scan lists deliveries matching the filters, newest first by default.
func (s *Service) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 || req.Size > 200 {
		req.Size = 20
	}
	if req.From < 0 {
		req.From = 0
	}
	if err := types.FiltersAnd(req.Filters).CheckAll(ListFields); err != nil {
		return nil, err
	}
	sortBy := "created_at"
	if req.SortBy != "" {
		if !lo.Contains(ListFields, req.SortBy) {
			return nil, fmt.Errorf("sort field not allowed: %s", req.SortBy)
		}
		sortBy = req.SortBy
	}

	tx := s.db.WithContext(ctx).Model(&models.WebhookEvent{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(req.Filters)}})
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count webhook events: %w", err)
	}

	var rows []*models.WebhookEvent
	q := tx.Order(clause.OrderByColumn{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}).Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list webhook events: %w", err)
	}
	return &ScanResponse{Items: rows, Total: total}, nil
}

// FailureCount is the number of unverified or failed deliveries per provider.
type FailureCount struct {
	Provider   types.PaymentProvider `json:"provider"`
	Unverified int64                 `json:"unverified"`
	Failed     int64                 `json:"failed"`
}

// CountFailures summarises deliveries created since the given instant.
func (s *Service) CountFailures(ctx context.Context, since time.Time) ([]FailureCount, error) {
	var rows []FailureCount
	err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Select("provider, "+
			"SUM(CASE WHEN verified = ? THEN 1 ELSE 0 END) AS unverified, "+
			"SUM(CASE WHEN process_error IS NOT NULL THEN 1 ELSE 0 END) AS failed", false).
		Where("created_at >= ?", since.UTC()).
		Group("provider").
		Order("provider").
		Scan(&rows).Error
	return rows, err
}

// rawJSON keeps a JSON body as-is and wraps anything else as a JSON string.
func rawJSON(body []byte) datatypes.JSON {
	if len(body) == 0 {
		return datatypes.JSON("null")
	}
	if json.Valid(body) {
		return datatypes.JSON(body)
	}
	b, _ := json.Marshal(string(body))
	return datatypes.JSON(b)
}

var Module = fx.Options(
	fx.Provide(New),
)
