package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/pkg/types"
)

func TestEchoRunner(t *testing.T) {
	r := NewEchoRunner(zap.NewNop().Sugar())

	res, err := r.Run(context.Background(), "U1", types.ResourceTypeCreative, &Request{Prompt: "  banner  "})
	require.NoError(t, err)
	assert.Equal(t, "creative: banner", res.Output)
	assert.Equal(t, types.ResourceTypeCreative, res.Resource)
	assert.NotEmpty(t, res.ID)

	_, err = r.Run(context.Background(), "U1", types.ResourceTypeDiscovery, &Request{Prompt: " "})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}
