package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/maltedev/tiktok-product-scout/internal/models"
)

const (
	DefaultBaseURL = "https://api.notion.com"
	APIVersion     = "2022-06-28"

	propName      = "Name"
	propProductID = "Product ID"
	propRunID     = "Run ID"
	propRegion    = "Region"
	propBestScore = "Best Score"
	propTags      = "Tags"
)

// Config holds the Notion integration settings.
type Config struct {
	Token      string
	DatabaseID string
	BaseURL    string
	Timeout    time.Duration
}

// Client upserts scored candidates as pages of a Notion database. Pages are
// matched on the Product ID property.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With("component", "notion"),
	}
}

func (c *Client) Name() string {
	return "notion"
}

// Sync creates the candidate's page, or updates it when the product already
// has one.
func (c *Client) Sync(ctx context.Context, candidate *models.Candidate) error {
	props := Properties(candidate)

	pageID, err := c.findPage(ctx, candidate.ProductID)
	if err != nil {
		return err
	}

	if pageID == "" {
		body := map[string]any{
			"parent":     map[string]string{"database_id": c.cfg.DatabaseID},
			"properties": props,
		}
		var created page
		if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &created); err != nil {
			return fmt.Errorf("failed to create notion page: %w", err)
		}
		c.logger.Debug("notion page created", "product_id", candidate.ProductID, "page_id", created.ID)
		return nil
	}

	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, map[string]any{"properties": props}, nil); err != nil {
		return fmt.Errorf("failed to update notion page: %w", err)
	}
	c.logger.Debug("notion page updated", "product_id", candidate.ProductID, "page_id", pageID)
	return nil
}

type page struct {
	ID string `json:"id"`
}

type queryResponse struct {
	Results []page `json:"results"`
}

func (c *Client) findPage(ctx context.Context, productID string) (string, error) {
	body := map[string]any{
		"filter": map[string]any{
			"property":  propProductID,
			"rich_text": map[string]string{"equals": productID},
		},
		"page_size": 1,
	}

	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "/v1/databases/"+c.cfg.DatabaseID+"/query", body, &resp); err != nil {
		return "", fmt.Errorf("failed to query notion database: %w", err)
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].ID, nil
}

// APIError is a non-2xx answer from Notion.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("notion api %d %s: %s", e.Status, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Notion-Version", APIVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Properties maps a candidate onto Notion page properties. Each profile gets
// a number property named after it; a null score is written as an empty
// number.
func Properties(c *models.Candidate) map[string]any {
	title := c.Title
	if title == "" {
		title = c.ProductID
	}

	props := map[string]any{
		propName:      map[string]any{"title": []any{textBlock(title)}},
		propProductID: map[string]any{"rich_text": []any{textBlock(c.ProductID)}},
		propRunID:     map[string]any{"rich_text": []any{textBlock(c.RunID)}},
		propRegion:    map[string]any{"select": map[string]string{"name": c.Region}},
	}
	if c.Region == "" {
		props[propRegion] = map[string]any{"select": nil}
	}

	for name, score := range c.Scores {
		props[name] = map[string]any{"number": score}
	}

	if _, best, ok := c.BestScore(); ok {
		props[propBestScore] = map[string]any{"number": best}
	} else {
		props[propBestScore] = map[string]any{"number": nil}
	}

	names := make([]string, 0, len(c.Tags))
	seen := make(map[string]bool, len(c.Tags))
	for _, tag := range c.Tags {
		if seen[tag.Name] {
			continue
		}
		seen[tag.Name] = true
		names = append(names, tag.Name)
	}
	sort.Strings(names)

	options := make([]map[string]string, 0, len(names))
	for _, n := range names {
		options = append(options, map[string]string{"name": n})
	}
	props[propTags] = map[string]any{"multi_select": options}

	return props
}

func textBlock(s string) map[string]any {
	return map[string]any{"text": map[string]string{"content": s}}
}
