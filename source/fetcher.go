package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cicciopanzer27/mia/source/weburl"
)

const (
	DefaultTimeout        = 10 * time.Second
	DefaultMaxChars       = 2000
	DefaultMaxContentSize = 5 * 1024 * 1024
	DefaultPacing         = time.Second
	DefaultUserAgent      = "mia/1.0 (+https://github.com/cicciopanzer27/mia)"
)

// errBlocked marks requests refused by the SSRF guard.
var errBlocked = errors.New("address blocked")

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Timeout        time.Duration
	MaxChars       int
	MaxContentSize int64
	Pacing         time.Duration
	UserAgent      string
	Mode           Mode

	// AllowPrivate disables HTTPS enforcement and private address blocking.
	AllowPrivate bool
}

// Fetcher retrieves web pages as bounded plain text.
type Fetcher struct {
	cfg       FetcherConfig
	client    *http.Client
	converter *Converter
	logger    *slog.Logger
	now       func() time.Time
	wait      func(ctx context.Context, d time.Duration) error
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetchLogger sets the logger.
func WithFetchLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithWait replaces the pacing sleep.
func WithWait(wait func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) {
		f.wait = wait
	}
}

// NewFetcher creates a fetcher, filling unset config fields with defaults.
func NewFetcher(cfg FetcherConfig, opts ...FetcherOption) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.MaxContentSize <= 0 {
		cfg.MaxContentSize = DefaultMaxContentSize
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	converter, err := NewConverter(cfg.Mode)
	if err != nil {
		return nil, err
	}

	f := &Fetcher{
		cfg:       cfg,
		converter: converter,
		now:       time.Now,
		wait:      sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.client == nil {
		f.client = newHTTPClient(cfg)
	}
	return f, nil
}

func newHTTPClient(cfg FetcherConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}

	dial := dialer.DialContext
	if !cfg.AllowPrivate {
		// Resolved addresses are checked before connecting so a public name
		// cannot rebind to a private address.
		dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("invalid address: %w", err)
			}

			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("DNS lookup failed: %w", err)
			}
			for _, ipAddr := range ips {
				if weburl.IsPrivateIP(ipAddr.IP) {
					return nil, fmt.Errorf("%w: private IP %s", errBlocked, ipAddr.IP)
				}
			}

			for _, ipAddr := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ipAddr.IP.String(), port))
				if err == nil {
					return conn, nil
				}
			}
			return nil, fmt.Errorf("failed to connect to any resolved IP")
		}
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dial,
			TLSHandshakeTimeout:   cfg.Timeout,
			ResponseHeaderTimeout: cfg.Timeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
		Timeout: cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			if !cfg.AllowPrivate {
				if err := weburl.ValidateURL(req.URL.String()); err != nil {
					return fmt.Errorf("%w: redirect: %v", errBlocked, err)
				}
			}
			return nil
		},
	}
}

// Fetch retrieves one URL. It never returns an error: failures yield a
// document with Success false, a diagnostic Text and the cause in Err.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Document {
	start := f.now()

	title, text, fe := f.fetch(ctx, rawURL)
	if fe != nil {
		f.logger.Warn("Source fetch failed",
			"url", rawURL,
			"kind", fe.Kind,
			"error", fe.Error(),
			"duration", time.Since(start))
		return failedDocument(rawURL, fe, start)
	}

	f.logger.Debug("Source fetched",
		"url", rawURL,
		"chars", len([]rune(text)),
		"duration", time.Since(start))

	return Document{
		URL:       rawURL,
		Title:     title,
		Text:      text,
		Success:   true,
		FetchedAt: start,
	}
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) (string, string, *FetchError) {
	if !f.cfg.AllowPrivate {
		if err := weburl.ValidateURL(rawURL); err != nil {
			return "", "", &FetchError{URL: rawURL, Kind: KindBlocked, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", &FetchError{URL: rawURL, Kind: KindNetwork, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", &FetchError{URL: rawURL, Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", &FetchError{URL: rawURL, Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxContentSize+1))
	if err != nil {
		return "", "", &FetchError{URL: rawURL, Kind: classifyTransportError(err), Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.cfg.MaxContentSize {
		return "", "", &FetchError{URL: rawURL, Kind: KindParse, Err: fmt.Errorf("content too large (exceeds %d bytes)", f.cfg.MaxContentSize)}
	}

	var title, text string
	contentType := resp.Header.Get("Content-Type")
	switch {
	case isPDF(contentType):
		text, err = pdfText(body)
		if err != nil {
			return "", "", &FetchError{URL: rawURL, Kind: KindParse, Err: err}
		}
	case isHTML(contentType):
		title, text, err = f.converter.Convert(body)
		if err != nil {
			return "", "", &FetchError{URL: rawURL, Kind: KindParse, Err: err}
		}
	default:
		text = strings.TrimSpace(string(body))
	}

	return title, truncateRunes(text, f.cfg.MaxChars), nil
}

// FetchAll fetches urls one after another, waiting the pacing delay
// between successive requests. The result has one document per URL in
// input order.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Document {
	docs := make([]Document, 0, len(urls))
	for i, u := range urls {
		if i > 0 && f.cfg.Pacing > 0 {
			if err := f.wait(ctx, f.cfg.Pacing); err != nil {
				f.logger.Debug("Pacing interrupted", "error", err)
			}
		}
		docs = append(docs, f.Fetch(ctx, u))
	}
	return docs
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == "" || strings.Contains(ct, "html") || strings.Contains(ct, "xml")
}

func classifyTransportError(err error) ErrorKind {
	if errors.Is(err, errBlocked) {
		return KindBlocked
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
