package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/types"
)

var ErrEmptyPrompt = errors.New("prompt is required")

type Request struct {
	Prompt string `json:"prompt" binding:"required"`
}

type Result struct {
	ID        string             `json:"id"`
	Resource  types.ResourceType `json:"resource"`
	Output    string             `json:"output"`
	CreatedAt time.Time          `json:"created_at"`
}

// Runner performs the paid operation behind a gated endpoint. Billing treats
// it as opaque: it only learns whether it succeeded.
type Runner interface {
	Run(ctx context.Context, userID string, resource types.ResourceType, req *Request) (*Result, error)
}

// EchoRunner stands in for the real model backends in development.
type EchoRunner struct {
	log *zap.SugaredLogger
}

func NewEchoRunner(log *zap.SugaredLogger) *EchoRunner {
	return &EchoRunner{log: log}
}

func (r *EchoRunner) Run(ctx context.Context, userID string, resource types.ResourceType, req *Request) (*Result, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	res := &Result{
		ID:        uuid.NewString(),
		Resource:  resource,
		Output:    string(resource) + ": " + prompt,
		CreatedAt: time.Now().UTC(),
	}
	logctx.FromCtx(ctx, r.log).Infow("generation_completed", "user_id", userID, "resource", resource, "id", res.ID)
	return res, nil
}

var Module = fx.Options(
	fx.Provide(fx.Annotate(NewEchoRunner, fx.As(new(Runner)))),
)
