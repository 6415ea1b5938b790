// Package press scrapes HTML press-room listings: links whose URL carries a
// publication date, optionally followed by the article bodies.
package press

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/output"
	"github.com/chinacompass/cc-fetcher/internal/sources"
)

// Name is the registry key of the generic listing plugin
const Name = "press"

const (
	// DefaultLinkSelector selects candidate article links
	DefaultLinkSelector = "a[href]"

	// DefaultMinTitleLength drops navigation links with short labels
	DefaultMinTitleLength = 10

	// DefaultLookbackDays is how many days before the run date are kept
	DefaultLookbackDays = 1

	// DefaultBodySelector is tried, in order, for the article body
	DefaultBodySelector = ".content_text, #News_Body_Txt_A, .TRS_Editor, article"

	bodyLimit       = 5000
	snippetLimit    = 500
	minBodyLength   = 100
	bodyConcurrency = 4
	urlDateLayout   = "20060102"
)

// Defaults are the per-source settings a press plugin falls back to
type Defaults struct {
	URL         string
	Name        string
	DatePattern string
	FetchBodies bool
}

// MFA are the defaults of the Ministry of Foreign Affairs press conferences
var MFA = Defaults{
	URL:         "https://www.fmprc.gov.cn/eng/xw/fyrbt/lxjzh/",
	Name:        "MFA China",
	DatePattern: `/\d{6}/t(\d{8})_`,
	FetchBodies: true,
}

// Generic are the defaults of a listing declared only in configuration
var Generic = Defaults{
	DatePattern: `(\d{8})`,
}

// Article is one listed press release
type Article struct {
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
	Source    string `json:"source"`
	Body      string `json:"body"`
	BodyText  string `json:"body_text"`
	Date      string `json:"date"`
}

// Payload is the envelope data of a press source
type Payload struct {
	Date         string    `json:"date"`
	Articles     []Article `json:"articles"`
	TotalScraped int       `json:"total_scraped"`
	TotalFetched int       `json:"total_fetched"`
	SourceURL    string    `json:"source_url"`
	Error        string    `json:"error,omitempty"`
}

// Source is a press listing plugin
type Source struct {
	client   sources.Client
	defaults Defaults
}

// New creates a press plugin with the given defaults
func New(client sources.Client, defaults Defaults) *Source {
	return &Source{client: client, defaults: defaults}
}

// Fetch scrapes the listing and keeps links dated within the lookback window.
// A listing that cannot be fetched or parsed yields a payload with Error set.
func (s *Source) Fetch(ctx context.Context, cfg config.SourceConfig, date string) (any, error) {
	listing := cfg.String("url", s.defaults.URL)
	if listing == "" {
		return nil, fmt.Errorf("no listing url configured")
	}
	pattern, err := regexp.Compile(cfg.String("date_pattern", s.defaults.DatePattern))
	if err != nil {
		return nil, fmt.Errorf("invalid date_pattern: %w", err)
	}
	if pattern.NumSubexp() != 1 {
		return nil, fmt.Errorf("date_pattern must have exactly one capture group, got %d", pattern.NumSubexp())
	}
	target, err := time.Parse(output.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}

	opts := listingOptions{
		name:      cfg.String("name", s.defaults.Name),
		selector:  cfg.String("link_selector", DefaultLinkSelector),
		minTitle:  cfg.Int("min_title_length", DefaultMinTitleLength),
		pattern:   pattern,
		cutoff:    target.AddDate(0, 0, -cfg.Int("lookback_days", DefaultLookbackDays)),
		sourceURL: listing,
	}
	if opts.name == "" {
		opts.name = cfg.Name
	}

	payload := Payload{Date: date, Articles: []Article{}, SourceURL: listing}

	body, err := s.client.Get(ctx, cfg, listing, sources.AcceptHTML)
	if err == nil {
		payload.Articles, err = extractArticles(body, opts)
	}
	if err != nil {
		if sources.IsCancelled(ctx, err) {
			return nil, err
		}
		slog.ErrorContext(ctx, "Failed to scrape listing", "url", listing, "error", err)
		payload.Error = sources.ErrorMessage(err)
		return payload, nil
	}
	payload.TotalScraped = len(payload.Articles)

	if len(payload.Articles) == 0 {
		slog.InfoContext(ctx, "No articles in lookback window", "url", listing, "cutoff", opts.cutoff.Format(output.DateLayout))
		return payload, nil
	}
	if cfg.Bool("fetch_bodies", s.defaults.FetchBodies) {
		fetched, err := s.fetchBodies(ctx, cfg, payload.Articles, cfg.String("body_selector", DefaultBodySelector))
		if err != nil {
			return nil, err
		}
		payload.TotalFetched = fetched
	}
	return payload, nil
}

type listingOptions struct {
	name      string
	selector  string
	minTitle  int
	pattern   *regexp.Regexp
	cutoff    time.Time
	sourceURL string
}

// extractArticles returns the dated links of a listing page, first occurrence
// of each title only
func extractArticles(page []byte, opts listingOptions) ([]Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing: %w", err)
	}
	base, err := url.Parse(opts.sourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing url: %w", err)
	}

	articles := []Article{}
	seen := make(map[string]struct{})
	doc.Find(opts.selector).Each(func(_ int, sel *goquery.Selection) {
		title := strings.Join(strings.Fields(sel.Text()), " ")
		href, ok := sel.Attr("href")
		if !ok || utf8.RuneCountInString(title) < opts.minTitle {
			return
		}

		published, ok := dateFromURL(href, opts.pattern)
		if !ok || published.Before(opts.cutoff) {
			return
		}
		if _, dup := seen[title]; dup {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		seen[title] = struct{}{}

		articles = append(articles, Article{
			Title:     title,
			SourceURL: base.ResolveReference(ref).String(),
			Source:    opts.name,
			Date:      published.Format(output.DateLayout),
		})
	})
	return articles, nil
}

func dateFromURL(href string, pattern *regexp.Regexp) (time.Time, bool) {
	m := pattern.FindStringSubmatch(href)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(urlDateLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// fetchBodies fills in article bodies and returns how many were found.
// A body that cannot be fetched is left empty.
func (s *Source) fetchBodies(ctx context.Context, cfg config.SourceConfig, articles []Article, selector string) (int, error) {
	found := make([]bool, len(articles))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bodyConcurrency)
	for i := range articles {
		g.Go(func() error {
			page, err := s.client.Get(gctx, cfg, articles[i].SourceURL, sources.AcceptHTML)
			if err != nil {
				if sources.IsCancelled(gctx, err) {
					return err
				}
				slog.WarnContext(gctx, "Failed to fetch article", "url", articles[i].SourceURL, "error", err)
				return nil
			}
			text := extractBody(page, selector)
			if text == "" {
				return nil
			}
			articles[i].BodyText = text
			articles[i].Body = truncate(text, snippetLimit)
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, ok := range found {
		if ok {
			n++
		}
	}
	return n, nil
}

// extractBody joins the paragraphs of the first matching container that holds
// a substantial amount of text
func extractBody(page []byte, selector string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}
	var body string
	doc.Find(selector).EachWithBreak(func(_ int, container *goquery.Selection) bool {
		var parts []string
		container.Find("p").Each(func(_ int, p *goquery.Selection) {
			if t := strings.TrimSpace(p.Text()); t != "" {
				parts = append(parts, t)
			}
		})
		text := strings.Join(parts, " ")
		if utf8.RuneCountInString(text) > minBodyLength {
			body = truncate(text, bodyLimit)
			return false
		}
		return true
	})
	return body
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
