package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// Syncer pushes a persisted candidate to a downstream system.
type Syncer interface {
	Name() string
	Sync(ctx context.Context, c *models.Candidate) error
}

// MultiSyncer fans a candidate out to every syncer. All syncers run even
// when one fails; the failures are joined.
type MultiSyncer []Syncer

func (m MultiSyncer) Name() string {
	return "multi"
}

func (m MultiSyncer) Sync(ctx context.Context, c *models.Candidate) error {
	var errs []error
	for _, s := range m {
		if err := s.Sync(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
