package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

func TestMultiSyncer(t *testing.T) {
	ctx := context.Background()
	c := &models.Candidate{ProductID: "p1"}

	failing := new(MockSyncer)
	failing.On("Sync", ctx, c).Return(errors.New("unauthorized"))
	ok := new(MockSyncer)
	ok.On("Sync", ctx, c).Return(nil)

	err := MultiSyncer{failing, ok}.Sync(ctx, c)

	assert.ErrorContains(t, err, "mock: unauthorized")
	ok.AssertCalled(t, "Sync", ctx, c)

	assert.NoError(t, MultiSyncer{ok}.Sync(ctx, c))
	assert.NoError(t, MultiSyncer{}.Sync(ctx, c))
}
