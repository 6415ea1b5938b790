// Package parliament fetches tracked bills and Hansard keyword counts from the
// Open Parliament API.
package parliament

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/sources"
)

// Name is the registry key of the plugin
const Name = "parliament"

const (
	// DefaultBaseURL is the Open Parliament API root
	DefaultBaseURL = "https://api.openparliament.ca"

	// DefaultSession is the parliamentary session bills are looked up in first
	DefaultSession = "45-1"

	// FallbackSession is tried when a bill is not found in the configured session
	FallbackSession = "44-1"

	debateLimit     = 5
	maxSpeechPages  = 3
	speechPageSize  = 200
	billConcurrency = 4
)

var (
	// DefaultKeywords are counted in recent debates
	DefaultKeywords = []string{
		"China", "Chinese", "Beijing", "PRC", "Huawei", "canola", "Taiwan",
		"Hong Kong", "Indo-Pacific", "Uyghur", "Xinjiang", "Tibet",
		"foreign interference", "TikTok",
	}

	// DefaultTrackedBills are the bills looked up on every run
	DefaultTrackedBills = []string{"C-27", "C-34", "C-70", "C-16", "S-7"}
)

// Bill is one tracked bill
type Bill struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	TitleFR    string `json:"title_fr"`
	Status     string `json:"status"`
	Introduced string `json:"introduced"`
	Session    string `json:"session"`
	Sponsor    string `json:"sponsor"`
}

// HansardStats are keyword mention counts over recent debates
type HansardStats struct {
	ByKeyword       map[string]int `json:"by_keyword"`
	TotalMentions   int            `json:"total_mentions"`
	DebatesSearched int            `json:"debates_searched"`
}

// Payload is the envelope data of the parliament source
type Payload struct {
	Date         string       `json:"date"`
	Bills        []Bill       `json:"bills"`
	HansardStats HansardStats `json:"hansard_stats"`
	TrackedBills []string     `json:"tracked_bills"`
	Keywords     []string     `json:"keywords"`
}

type debate struct {
	Date string
	URL  string
}

// Source is the parliament plugin
type Source struct {
	client sources.Client
}

// New creates the parliament plugin
func New(client sources.Client) *Source {
	return &Source{client: client}
}

// Fetch looks up every tracked bill and counts keyword mentions in the most
// recent debates. Bills and debates that cannot be fetched are skipped.
func (s *Source) Fetch(ctx context.Context, cfg config.SourceConfig, date string) (any, error) {
	baseURL := cfg.String("base_url", DefaultBaseURL)
	session := cfg.String("session", DefaultSession)
	keywords := cfg.Strings("keywords", DefaultKeywords)
	tracked := cfg.Strings("tracked_bills", DefaultTrackedBills)

	var (
		bills   []Bill
		debates []debate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bills = s.fetchBills(gctx, cfg, baseURL, session, tracked)
		return gctx.Err()
	})
	g.Go(func() error {
		debates = s.fetchRecentDebates(gctx, cfg, baseURL)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totals := make(map[string]int, len(keywords))
	for _, kw := range keywords {
		totals[kw] = 0
	}
	for _, d := range debates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for kw, n := range s.searchDebate(ctx, cfg, baseURL, d.URL, keywords) {
			totals[kw] += n
		}
	}

	total := 0
	for _, n := range totals {
		total += n
	}

	return Payload{
		Date:  date,
		Bills: bills,
		HansardStats: HansardStats{
			ByKeyword:       totals,
			TotalMentions:   total,
			DebatesSearched: len(debates),
		},
		TrackedBills: tracked,
		Keywords:     keywords,
	}, nil
}

// fetchBills returns the tracked bills that could be found, in tracked order
func (s *Source) fetchBills(ctx context.Context, cfg config.SourceConfig, baseURL, session string, ids []string) []Bill {
	found := make([]*Bill, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(billConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			found[i] = s.fetchBill(gctx, cfg, baseURL, session, id)
			return nil
		})
	}
	_ = g.Wait()

	bills := make([]Bill, 0, len(ids))
	for _, b := range found {
		if b != nil {
			bills = append(bills, *b)
		}
	}
	return bills
}

func (s *Source) fetchBill(ctx context.Context, cfg config.SourceConfig, baseURL, session, id string) *Bill {
	sessions := []string{session}
	if session != FallbackSession {
		sessions = append(sessions, FallbackSession)
	}

	for _, sess := range sessions {
		url := sources.JoinURL(baseURL, fmt.Sprintf("/bills/%s/%s/?format=json", sess, id))
		body, err := s.client.Get(ctx, cfg, url, sources.AcceptJSON)
		if err != nil {
			if sources.IsNotFound(err) {
				continue
			}
			slog.WarnContext(ctx, "Failed to fetch bill", "bill", id, "session", sess, "error", err)
			return nil
		}

		doc := gjson.ParseBytes(body)
		bill := &Bill{
			ID:         id,
			Status:     doc.Get("status_code").String(),
			Introduced: doc.Get("introduced").String(),
			Session:    sess,
			Sponsor:    doc.Get("sponsor_politician_url").String(),
		}
		if name := doc.Get("name"); name.IsObject() {
			bill.Title = name.Get("en").String()
			bill.TitleFR = name.Get("fr").String()
		} else {
			bill.Title = name.String()
		}
		return bill
	}

	slog.InfoContext(ctx, "Bill not found in any session", "bill", id, "sessions", sessions)
	return nil
}

func (s *Source) fetchRecentDebates(ctx context.Context, cfg config.SourceConfig, baseURL string) []debate {
	body, err := s.client.Get(ctx, cfg, sources.JoinURL(baseURL, "/debates/?format=json"), sources.AcceptJSON)
	if err != nil {
		slog.WarnContext(ctx, "Failed to fetch debate list", "error", err)
		return nil
	}

	var debates []debate
	for _, obj := range gjson.GetBytes(body, "objects").Array() {
		if len(debates) == debateLimit {
			break
		}
		debates = append(debates, debate{Date: obj.Get("date").String(), URL: obj.Get("url").String()})
	}
	return debates
}

// searchDebate counts keyword occurrences, case-insensitively, in the speeches
// of one debate. Failures yield zero counts.
func (s *Source) searchDebate(
	ctx context.Context,
	cfg config.SourceConfig,
	baseURL, debateURL string,
	keywords []string,
) map[string]int {
	counts := make(map[string]int, len(keywords))

	body, err := s.client.Get(ctx, cfg, sources.JoinURL(baseURL, debateURL)+"?format=json", sources.AcceptJSON)
	if err != nil {
		slog.WarnContext(ctx, "Failed to fetch debate", "debate", debateURL, "error", err)
		return counts
	}
	speechesURL := gjson.GetBytes(body, "related.speeches_url").String()
	if speechesURL == "" {
		slog.WarnContext(ctx, "Debate has no speeches", "debate", debateURL)
		return counts
	}

	sep := "?"
	if strings.Contains(speechesURL, "?") {
		sep = "&"
	}
	next := fmt.Sprintf("%s%sformat=json&limit=%d", sources.JoinURL(baseURL, speechesURL), sep, speechPageSize)

	var (
		text     strings.Builder
		segments int
	)
	for page := 0; next != "" && page < maxSpeechPages; page++ {
		data, err := s.client.Get(ctx, cfg, next, sources.AcceptJSON)
		if err != nil {
			slog.WarnContext(ctx, "Failed to fetch speeches page", "debate", debateURL, "error", err)
			break
		}
		doc := gjson.ParseBytes(data)
		for _, speech := range doc.Get("objects").Array() {
			content := speech.Get("content")
			if content.IsObject() {
				text.WriteString(content.Get("en").String())
				text.WriteByte(' ')
				text.WriteString(content.Get("fr").String())
			} else {
				text.WriteString(content.String())
			}
			text.WriteByte(' ')
			segments++
		}

		next = ""
		if nextPage := doc.Get("pagination.next_url").String(); nextPage != "" {
			next = sources.JoinURL(baseURL, nextPage)
		}
	}

	combined := strings.ToLower(text.String())
	matches := 0
	for _, kw := range keywords {
		counts[kw] = strings.Count(combined, strings.ToLower(kw))
		matches += counts[kw]
	}
	slog.DebugContext(ctx, "Searched debate", "debate", debateURL, "speeches", segments, "matches", matches)
	return counts
}
