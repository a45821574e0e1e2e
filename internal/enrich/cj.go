package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// CJClient finds sourcing prices on CJ Dropshipping.
type CJClient struct {
	baseURL     string
	accessToken string
	shippingUSD float64
	client      *jsonClient
	logger      *slog.Logger
}

// NewCJClient creates the client. shippingUSD is the flat per-unit freight
// estimate added to every quote.
func NewCJClient(baseURL, accessToken string, shippingUSD float64, opts Options, logger *slog.Logger) *CJClient {
	logger = logger.With("component", "cj")
	return &CJClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		shippingUSD: shippingUSD,
		client:      newJSONClient(opts, logger),
		logger:      logger,
	}
}

type cjListResponse struct {
	Code    int    `json:"code"`
	Result  bool   `json:"result"`
	Message string `json:"message"`
	Data    struct {
		List []struct {
			PID        string          `json:"pid"`
			ProductSKU string          `json:"productSku"`
			NameEn     string          `json:"productNameEn"`
			SellPrice  json.RawMessage `json:"sellPrice"`
		} `json:"list"`
	} `json:"data"`
}

// Quote returns the cheapest offer for the keyword.
func (c *CJClient) Quote(ctx context.Context, keyword string) (*models.SourcingQuote, error) {
	q := url.Values{}
	q.Set("productNameEn", keyword)
	q.Set("pageNum", "1")
	q.Set("pageSize", "20")

	var resp cjListResponse
	err := c.client.getJSON(ctx, c.baseURL+"/api2.0/v1/product/list?"+q.Encode(),
		map[string]string{"CJ-Access-Token": c.accessToken}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to list cj products: %w", err)
	}
	if !resp.Result && resp.Code != 200 {
		return nil, fmt.Errorf("cj api %d: %s", resp.Code, resp.Message)
	}

	var best *models.SourcingQuote
	for _, p := range resp.Data.List {
		price, ok := parseSellPrice(p.SellPrice)
		if !ok {
			continue
		}
		if best == nil || price < best.UnitCostUSD {
			best = &models.SourcingQuote{
				Keyword:     keyword,
				SupplierSKU: p.ProductSKU,
				UnitCostUSD: price,
				ShippingUSD: c.shippingUSD,
			}
		}
	}

	if best == nil {
		return nil, ErrNoResults
	}

	c.logger.Debug("cj quote", "keyword", keyword, "sku", best.SupplierSKU, "unit_cost", best.UnitCostUSD)
	return best, nil
}

// parseSellPrice accepts a number, a numeric string, or a "low -- high"
// range, of which the low end is used.
func parseSellPrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, n > 0
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	if i := strings.Index(s, "--"); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
