// Package parser extracts sales rankings and product details from the
// analytics site's rendered HTML.
package parser

import (
	"github.com/maltedev/tiktok-product-scout/internal/models"
)

type Parser interface {
	ParseSalesList(html string, source string) ([]models.SalesRecord, error)
	ParseDetail(html string, productID string) (*models.ProductDetail, error)
	HasNextPage(html string) bool
}
