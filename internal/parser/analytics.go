package parser

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

// column identifies a ranking-table column by what it holds.
type column int

const (
	colUnknown column = iota
	colRank
	colProduct
	colShop
	colCategory
	colPrice
	colSalesVolume
	colGrowth
	colGMV
	colVideoViews
	colCreators
	colHotIndex
	colGPM
	colCommission
	colListed
)

// headerColumns maps lowercase header labels to columns. The first
// matching prefix wins, so longer labels come first.
var headerColumns = []struct {
	prefix string
	col    column
}{
	{"sales growth", colGrowth},
	{"growth", colGrowth},
	{"sales volume", colSalesVolume},
	{"sales", colSalesVolume},
	{"sold", colSalesVolume},
	{"gmv", colGMV},
	{"revenue", colGMV},
	{"video views", colVideoViews},
	{"views", colVideoViews},
	{"creators", colCreators},
	{"influencers", colCreators},
	{"hot index", colHotIndex},
	{"popularity", colHotIndex},
	{"gpm", colGPM},
	{"commission", colCommission},
	{"launch", colListed},
	{"listed", colListed},
	{"price", colPrice},
	{"product", colProduct},
	{"shop", colShop},
	{"store", colShop},
	{"category", colCategory},
	{"rank", colRank},
	{"#", colRank},
}

var productIDPattern = regexp.MustCompile(`/(?:e-commerce/)?detail/(\d+)`)

// AnalyticsParser reads the ranking and detail pages of the analytics site.
type AnalyticsParser struct{}

func NewAnalyticsParser() *AnalyticsParser {
	return &AnalyticsParser{}
}

var _ Parser = (*AnalyticsParser)(nil)

func classifyHeader(label string) column {
	label = strings.ToLower(strings.TrimSpace(label))
	for _, h := range headerColumns {
		if strings.HasPrefix(label, h.prefix) {
			return h.col
		}
	}
	return colUnknown
}

// ParseSalesList reads every product row of a ranking table. Rows without a
// product ID are skipped; cells the table does not have stay nil.
func (p *AnalyticsParser) ParseSalesList(html string, source string) ([]models.SalesRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	table := doc.Find("table").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Find("thead th").Length() > 0
	}).First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("ranking table not found")
	}

	var columns []column
	table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		columns = append(columns, classifyHeader(th.Text()))
	})

	var records []models.SalesRecord
	table.Find("tbody tr").Each(func(i int, tr *goquery.Selection) {
		rec := models.SalesRecord{Source: source, Rank: i + 1}
		rec.ProductID = rowProductID(tr)
		if rec.ProductID == "" {
			return
		}

		tr.Find("td").Each(func(j int, td *goquery.Selection) {
			if j >= len(columns) {
				return
			}
			text := cellText(td)
			switch columns[j] {
			case colRank:
				if n, err := strconv.Atoi(strings.TrimPrefix(text, "#")); err == nil {
					rec.Rank = n
				}
			case colProduct:
				rec.Title = productTitle(td)
				if rec.ShopName == "" {
					rec.ShopName = cellText(td.Find(".shop-name").First())
				}
			case colShop:
				rec.ShopName = text
			case colCategory:
				rec.Category = text
			case colPrice:
				rec.PriceUSD = metricPtr(text)
			case colSalesVolume:
				rec.SalesVolume = metricPtr(text)
			case colGrowth:
				rec.SalesGrowthRate = metricPtr(text)
			case colGMV:
				rec.GMV = metricPtr(text)
			case colVideoViews:
				rec.VideoViews = metricPtr(text)
			case colCreators:
				rec.CreatorCount = metricPtr(text)
			case colHotIndex:
				rec.HotIndex = metricPtr(text)
			case colGPM:
				rec.GPM = metricPtr(text)
			case colCommission:
				rec.CommissionRate = metricPtr(text)
			case colListed:
				if t, ok := ParseDate(text); ok {
					rec.ListedAt = &t
				}
			}
		})

		records = append(records, rec)
	})

	return records, nil
}

func rowProductID(tr *goquery.Selection) string {
	if key, ok := tr.Attr("data-row-key"); ok && isDigits(key) {
		return key
	}
	if id, ok := tr.Attr("data-product-id"); ok && id != "" {
		return id
	}

	var id string
	tr.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if m := productIDPattern.FindStringSubmatch(href); m != nil {
			id = m[1]
			return false
		}
		return true
	})
	return id
}

func productTitle(td *goquery.Selection) string {
	for _, sel := range []string{".product-title", "[title]", "a"} {
		s := td.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		if t, ok := s.Attr("title"); ok && strings.TrimSpace(t) != "" {
			return strings.TrimSpace(t)
		}
		if t := cellText(s); t != "" {
			return t
		}
	}
	return cellText(td)
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// detailLabels maps lowercase metric labels on the detail page to setters.
var detailLabels = []struct {
	prefix string
	set    func(d *models.ProductDetail, value string)
}{
	{"rating", func(d *models.ProductDetail, v string) { d.Rating = metricPtr(v) }},
	{"review", func(d *models.ProductDetail, v string) {
		if f, ok := ParseMetric(v); ok {
			n := int(math.Round(f))
			d.ReviewCount = &n
		}
	}},
	{"positive", func(d *models.ProductDetail, v string) { d.VocPositiveRate = metricPtr(v) }},
	{"voc", func(d *models.ProductDetail, v string) { d.VocPositiveRate = metricPtr(v) }},
	{"conversion", func(d *models.ProductDetail, v string) { d.ConversionRate = metricPtr(v) }},
	{"shop sales", func(d *models.ProductDetail, v string) { d.ShopSalesVolume = metricPtr(v) }},
	{"store sales", func(d *models.ProductDetail, v string) { d.ShopSalesVolume = metricPtr(v) }},
	{"competition", func(d *models.ProductDetail, v string) { d.CompetitionScore = metricPtr(v) }},
	{"launch", func(d *models.ProductDetail, v string) {
		if t, ok := ParseDate(v); ok {
			d.ListedAt = &t
		}
	}},
	{"listed", func(d *models.ProductDetail, v string) {
		if t, ok := ParseDate(v); ok {
			d.ListedAt = &t
		}
	}},
}

// ParseDetail reads the labelled metrics of a product detail page. The
// page lays metrics out either as metric cards or as a definition list.
func (p *AnalyticsParser) ParseDetail(html string, productID string) (*models.ProductDetail, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	if doc.Find(".product-not-found, .ant-empty, .empty-state").Length() > 0 &&
		doc.Find(".metric-card, dl dt").Length() == 0 {
		return nil, ErrNotFound
	}

	d := &models.ProductDetail{ProductID: productID}
	found := 0

	apply := func(label, value string) {
		label = strings.ToLower(strings.TrimSpace(label))
		for _, l := range detailLabels {
			if strings.HasPrefix(label, l.prefix) {
				l.set(d, value)
				found++
				return
			}
		}
	}

	doc.Find(".metric-card").Each(func(_ int, card *goquery.Selection) {
		apply(cellText(card.Find(".metric-label").First()), cellText(card.Find(".metric-value").First()))
	})

	doc.Find("dl dt").Each(func(_ int, dt *goquery.Selection) {
		apply(cellText(dt), cellText(dt.NextFiltered("dd")))
	})

	if found == 0 {
		return nil, ErrNoMetrics
	}
	return d, nil
}

// HasNextPage reports whether the ranking pager offers another page.
func (p *AnalyticsParser) HasNextPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	next := doc.Find(".ant-pagination-next, .pagination-next, a[rel='next']").First()
	if next.Length() == 0 {
		return false
	}
	if next.HasClass("ant-pagination-disabled") || next.HasClass("disabled") {
		return false
	}
	if v, ok := next.Attr("aria-disabled"); ok && v == "true" {
		return false
	}
	return true
}
