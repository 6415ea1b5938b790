// Package news fetches RSS and Atom feeds and keeps the entries that mention
// any configured keyword, de-duplicated by title and classified by topic.
package news

import (
	"context"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/sources"
)

// Name is the registry key of the plugin
const Name = "news"

const (
	// DuplicateThreshold is the title similarity at or above which an entry
	// is dropped as a duplicate of an earlier one
	DuplicateThreshold = 0.75

	// SnippetLength is the maximum length, in characters, of a body snippet
	SnippetLength = 500

	// CategoryGeneral is assigned when no category keyword matches
	CategoryGeneral = "general"

	feedConcurrency = 4
)

// Feed is one configured feed
type Feed struct {
	URL  string
	Name string
}

var (
	// DefaultFeeds are read when no feeds are configured
	DefaultFeeds = []Feed{
		{URL: "https://www.theglobeandmail.com/arc/outboundfeeds/rss/category/world/", Name: "Globe and Mail"},
		{URL: "https://www.cbc.ca/webfeed/rss/rss-world", Name: "CBC"},
		{URL: "https://www.scmp.com/rss/4/feed", Name: "SCMP"},
	}

	// DefaultKeywords filter entries when no keywords are configured
	DefaultKeywords = []string{"China", "Beijing", "Canada-China", "PRC"}
)

type category struct {
	name     string
	keywords []string
}

// English and French keywords per category, in classification order
var categories = []category{
	{name: "diplomatic", keywords: []string{
		"ambassador", "embassy", "diplomatic", "consul", "foreign affairs",
		"ambassadeur", "ambassade", "diplomatique", "affaires etrangeres",
	}},
	{name: "trade", keywords: []string{
		"trade", "tariff", "export", "import", "canola", "commerce",
		"tarif", "exportation", "importation", "commerce bilateral",
	}},
	{name: "military", keywords: []string{
		"military", "defense", "navy", "army", "NORAD", "NATO",
		"militaire", "marine", "armee",
	}},
	{name: "technology", keywords: []string{
		"Huawei", "5G", "technology", "cyber", "AI", "semiconductor",
		"technologie", "cybersecurite", "intelligence artificielle",
	}},
	{name: "political", keywords: []string{
		"parliament", "election", "Trudeau", "Xi Jinping", "CPC", "communist",
		"parlement", "parti communiste",
	}},
	{name: "economic", keywords: []string{
		"economy", "GDP", "investment", "market", "stock", "yuan", "currency",
		"economie", "PIB", "investissement", "marche", "devise",
	}},
	{name: "social", keywords: []string{
		"Uyghur", "Hong Kong", "human rights", "detention", "Meng Wanzhou",
		"droits de la personne",
	}},
	{name: "legal", keywords: []string{
		"sanctions", "ban", "restriction", "extradition", "espionage",
		"interdiction", "espionnage",
	}},
}

var (
	stripPolicy = bluemonday.StrictPolicy()
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// Article is one kept feed entry
type Article struct {
	Title           string   `json:"title"`
	Source          string   `json:"source"`
	Date            string   `json:"date"`
	BodySnippet     string   `json:"body_snippet"`
	URL             string   `json:"url"`
	Language        string   `json:"language,omitempty"`
	MatchedKeywords []string `json:"matched_keywords"`
	Categories      []string `json:"categories"`
}

// FeedError records a feed that could not be fetched or parsed
type FeedError struct {
	Feed  string `json:"feed"`
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Payload is the envelope data of the news source
type Payload struct {
	Date          string      `json:"date"`
	Articles      []Article   `json:"articles"`
	TotalArticles int         `json:"total_articles"`
	FeedsChecked  int         `json:"feeds_checked"`
	FeedErrors    []FeedError `json:"feed_errors"`
	KeywordsUsed  []string    `json:"keywords_used"`
}

// Source is the news plugin
type Source struct {
	client sources.Client
}

// New creates the news plugin
func New(client sources.Client) *Source {
	return &Source{client: client}
}

type feedResult struct {
	items []*gofeed.Item
	err   error
}

// Fetch reads every feed, concurrently, then filters the entries in feed order.
// A feed that fails is recorded in FeedErrors; the source fails only when the
// run is cancelled.
func (s *Source) Fetch(ctx context.Context, cfg config.SourceConfig, date string) (any, error) {
	feeds := feedsFrom(cfg)
	keywords := cfg.Strings("keywords", DefaultKeywords)
	language := cfg.String("language", "")

	results := make([]feedResult, len(feeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedConcurrency)
	for i, feed := range feeds {
		g.Go(func() error {
			results[i] = s.fetchFeed(gctx, cfg, feed)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	payload := Payload{
		Date:         date,
		Articles:     []Article{},
		FeedsChecked: len(feeds),
		FeedErrors:   []FeedError{},
		KeywordsUsed: keywords,
	}
	var seen []string

	for i, feed := range feeds {
		if err := results[i].err; err != nil {
			slog.WarnContext(ctx, "Feed failed", "feed", feed.Name, "url", feed.URL, "error", err)
			payload.FeedErrors = append(payload.FeedErrors, FeedError{
				Feed:  feed.URL,
				Name:  feed.Name,
				Error: sources.ErrorMessage(err),
			})
			continue
		}

		for _, item := range results[i].items {
			article := toArticle(item, feed.Name, language)
			if article.Title == "" {
				continue
			}
			searchable := article.Title + " " + article.BodySnippet
			matched := MatchKeywords(searchable, keywords)
			if len(matched) == 0 {
				continue
			}
			title := NormalizeTitle(article.Title)
			if IsDuplicate(title, seen) {
				continue
			}
			seen = append(seen, title)

			article.MatchedKeywords = matched
			article.Categories = Classify(searchable)
			payload.Articles = append(payload.Articles, article)
		}
	}

	payload.TotalArticles = len(payload.Articles)
	slog.InfoContext(ctx, "Filtered feeds",
		"feeds", len(feeds), "failed", len(payload.FeedErrors), "articles", payload.TotalArticles)
	return payload, nil
}

func (s *Source) fetchFeed(ctx context.Context, cfg config.SourceConfig, feed Feed) feedResult {
	body, err := s.client.Get(ctx, cfg, feed.URL, sources.AcceptFeed)
	if err != nil {
		return feedResult{err: err}
	}
	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return feedResult{err: err}
	}
	return feedResult{items: parsed.Items}
}

func feedsFrom(cfg config.SourceConfig) []Feed {
	raw := cfg.Maps("feeds")
	if raw == nil {
		return DefaultFeeds
	}
	feeds := make([]Feed, 0, len(raw))
	for _, m := range raw {
		url, _ := m["url"].(string)
		if url == "" {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			name = url
		}
		feeds = append(feeds, Feed{URL: url, Name: name})
	}
	return feeds
}

func toArticle(item *gofeed.Item, source, language string) Article {
	summary := item.Description
	if summary == "" {
		summary = item.Content
	}
	published := item.Published
	if published == "" {
		published = item.Updated
	}
	return Article{
		Title:       strings.TrimSpace(item.Title),
		Source:      source,
		Date:        published,
		BodySnippet: Snippet(summary),
		URL:         item.Link,
		Language:    language,
	}
}

// Snippet strips markup from s and truncates it to SnippetLength characters
func Snippet(s string) string {
	text := strings.TrimSpace(html.UnescapeString(stripPolicy.Sanitize(s)))
	if r := []rune(text); len(r) > SnippetLength {
		return string(r[:SnippetLength])
	}
	return text
}

// MatchKeywords returns the keywords found in text, ignoring case
func MatchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// Classify returns the categories whose keywords occur in text, or general
func Classify(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				out = append(out, c.name)
				break
			}
		}
	}
	if len(out) == 0 {
		return []string{CategoryGeneral}
	}
	return out
}

// NormalizeTitle lowercases a title and drops punctuation
func NormalizeTitle(title string) string {
	return punctuation.ReplaceAllString(strings.ToLower(title), "")
}

// IsDuplicate reports whether a normalised title is at least
// DuplicateThreshold similar to any seen one
func IsDuplicate(title string, seen []string) bool {
	a := strings.Split(title, "")
	for _, other := range seen {
		m := difflib.NewMatcher(a, strings.Split(other, ""))
		if m.Ratio() >= DuplicateThreshold {
			return true
		}
	}
	return false
}
