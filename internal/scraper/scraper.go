package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrBlocked         = errors.New("blocked by analytics site")
	ErrUnknownSource   = errors.New("unknown ranking source")
)

// Fetcher renders a page and returns its HTML. *browser.Browser is the
// production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, url, waitSelector string) (string, error)
}

// Query selects one ranking list.
type Query struct {
	Region   string
	Category string
	Source   string
	Pages    int
}

// Scraper is what the pipeline and the detail worker need from the site.
type Scraper interface {
	SalesList(ctx context.Context, q Query) ([]models.SalesRecord, error)
	Detail(ctx context.Context, productID string) (*models.ProductDetail, error)
}

type Options struct {
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
}
