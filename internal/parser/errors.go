package parser

import "errors"

var (
	// ErrNotFound means the detail page says the product does not exist.
	ErrNotFound = errors.New("product page not found")
	// ErrNoMetrics means the page rendered but carried none of the known metrics.
	ErrNoMetrics = errors.New("no metrics found on page")
)
