package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	// ErrBlocked means the site answered with a captcha or access-denied page.
	ErrBlocked = errors.New("blocked by anti-bot protection")
	// ErrLoginRequired means the page is behind the site's login wall.
	ErrLoginRequired = errors.New("login required")
)

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	// Cookies are added to the context before the first page opens, e.g. a
	// session cookie for the analytics site.
	Cookies []playwright.OptionalCookie
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		TimezoneID:     "America/New_York",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	context, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	if len(opts.Cookies) > 0 {
		if err := context.AddCookies(opts.Cookies); err != nil {
			context.Close()
			browser.Close()
			pw.Stop()
			return nil, fmt.Errorf("failed to add cookies: %w", err)
		}
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: context,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Fetch opens url in a fresh page, waits for waitSelector when given,
// scrolls so lazily rendered rows load, and returns the page HTML.
func (b *Browser) Fetch(ctx context.Context, url, waitSelector string) (string, error) {
	page, err := b.NewPage()
	if err != nil {
		return "", err
	}
	defer page.Close()

	if err := b.NavigateWithRetry(ctx, page, url, 3); err != nil {
		return "", err
	}

	if waitSelector != "" {
		_, err := page.WaitForSelector(waitSelector, playwright.PageWaitForSelectorOptions{
			Timeout: playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err != nil {
			// the page may still hold a block or login notice instead of the content
			content, _ := page.Content()
			title, _ := page.Title()
			if blockErr := DetectBlock(title, content); blockErr != nil {
				return "", blockErr
			}
			return "", fmt.Errorf("failed waiting for %s: %w", waitSelector, err)
		}
	}

	b.ScrollToBottom(page)

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return content, nil
}

func (b *Browser) NavigateWithRetry(ctx context.Context, page playwright.Page, url string, maxRetries int) error {
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * time.Second):
			}
		}

		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})

		if err == nil {
			title, _ := page.Title()
			content, err := page.Content()
			if err != nil {
				lastErr = fmt.Errorf("failed to get page content: %w", err)
				continue
			}
			if blockErr := DetectBlock(title, content); blockErr != nil {
				b.logger.Warn("page blocked", "url", url, "title", title, "error", blockErr)
				return blockErr
			}
			return nil
		}

		lastErr = err
		b.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

var blockMarkers = []string{
	"verify you are human",
	"captcha",
	"access denied",
	"cf-challenge",
	"too many requests",
}

var loginMarkers = []string{
	"log in to view",
	"please log in",
	"sign in to continue",
	"login-modal",
}

// DetectBlock inspects a rendered page for captcha, access-denied and
// login-wall markers.
func DetectBlock(title, content string) error {
	title = strings.ToLower(title)
	content = strings.ToLower(content)

	for _, m := range blockMarkers {
		if strings.Contains(title, m) || strings.Contains(content, m) {
			return ErrBlocked
		}
	}
	for _, m := range loginMarkers {
		if strings.Contains(content, m) {
			return ErrLoginRequired
		}
	}
	return nil
}

// ScrollToBottom scrolls in steps with short pauses, the way a reader
// would, so virtualized tables render every row.
func (b *Browser) ScrollToBottom(page playwright.Page) {
	for i := 0; i < 5; i++ {
		if err := page.Mouse().Move(float64(200+i*150), float64(150+i*100)); err != nil {
			b.logger.Debug("mouse move failed", "error", err)
		}
		if _, err := page.Evaluate(`window.scrollBy(0, window.innerHeight * 0.8)`); err != nil {
			b.logger.Debug("scroll failed", "error", err)
			return
		}
		time.Sleep(time.Duration(300+i*100) * time.Millisecond)
	}
}

// ParseCookie turns a "name=value" string into a cookie scoped to siteURL.
func ParseCookie(raw, siteURL string) (playwright.OptionalCookie, error) {
	name, value, ok := strings.Cut(strings.TrimSpace(raw), "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return playwright.OptionalCookie{}, fmt.Errorf("invalid cookie %q: expected name=value", raw)
	}
	return playwright.OptionalCookie{
		Name:  name,
		Value: strings.TrimSpace(value),
		URL:   playwright.String(siteURL),
	}, nil
}
