// Package markets fetches Chinese market index closes with a short sparkline.
package markets

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/output"
)

// Name is the registry key of the plugin
const Name = "markets"

const (
	// SparklineDays is the number of closes in each sparkline
	SparklineDays = 5

	// holidayBuffer widens the history window over market holidays
	holidayBuffer = 5

	quoteWorkers = 2
)

// Index is a configured ticker
type Index struct {
	Ticker string
	Name   string
}

// DefaultIndices are quoted when none are configured
var DefaultIndices = []Index{
	{Ticker: "000001.SS", Name: "Shanghai Composite"},
	{Ticker: "399001.SZ", Name: "Shenzhen Component"},
	{Ticker: "^HSI", Name: "Hang Seng"},
	{Ticker: "000300.SS", Name: "CSI 300"},
}

// Quote is the result for one index. Value is nil when no close is available.
type Quote struct {
	Ticker        string    `json:"ticker"`
	Name          string    `json:"name"`
	Value         *float64  `json:"value"`
	ChangePct     *float64  `json:"change_pct"`
	PrevClose     *float64  `json:"prev_close,omitempty"`
	Sparkline     []float64 `json:"sparkline"`
	LatestDate    string    `json:"latest_date,omitempty"`
	MarketHoliday bool      `json:"market_holiday"`
	Error         string    `json:"error,omitempty"`
}

// Summary counts the indices that could be quoted
type Summary struct {
	IndicesFetched   int  `json:"indices_fetched"`
	IndicesFailed    int  `json:"indices_failed"`
	AllMarketsClosed bool `json:"all_markets_closed"`
}

// Payload is the envelope data of the markets source
type Payload struct {
	Date    string  `json:"date"`
	Indices []Quote `json:"indices"`
	Summary Summary `json:"summary"`
}

// Source is the markets plugin
type Source struct {
	quotes QuoteClient
}

// New creates the markets plugin
func New(quotes QuoteClient) *Source {
	return &Source{quotes: quotes}
}

// Fetch quotes every configured index on a small worker pool. A failing index
// carries its error; the source fails only on an invalid date or cancellation.
func (s *Source) Fetch(ctx context.Context, cfg config.SourceConfig, date string) (any, error) {
	target, err := time.Parse(output.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	end := target.AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -(SparklineDays + holidayBuffer))

	indices := indicesFrom(cfg)
	quotes := make([]Quote, len(indices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quoteWorkers)
	for i, idx := range indices {
		g.Go(func() error {
			quotes[i] = s.quote(gctx, cfg, idx, date, start, end)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return Payload{Date: date, Indices: quotes, Summary: summarize(quotes)}, nil
}

func (s *Source) quote(ctx context.Context, cfg config.SourceConfig, idx Index, date string, start, end time.Time) Quote {
	q := Quote{Ticker: idx.Ticker, Name: idx.Name, Sparkline: []float64{}}

	bars, err := s.quotes.History(ctx, cfg, idx.Ticker, start, end)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to fetch index", "index", idx.Name, "ticker", idx.Ticker, "error", err)
		q.Error = err.Error()
		return q
	}
	if len(bars) == 0 {
		slog.WarnContext(ctx, "No data for index", "index", idx.Name, "ticker", idx.Ticker, "date", date)
		q.MarketHoliday = true
		return q
	}

	if len(bars) > SparklineDays+1 {
		bars = bars[len(bars)-SparklineDays-1:]
	}
	for _, b := range tail(bars, SparklineDays) {
		q.Sparkline = append(q.Sparkline, round2(b.Close))
	}

	current := bars[len(bars)-1]
	prev := current.Close
	if len(bars) >= 2 {
		prev = bars[len(bars)-2].Close
	}
	change := 0.0
	if prev != 0 {
		change = round2((current.Close - prev) / prev * 100)
	}

	q.Value = ptr(round2(current.Close))
	q.ChangePct = &change
	q.PrevClose = ptr(round2(prev))
	q.LatestDate = current.Date
	q.MarketHoliday = current.Date != date
	return q
}

func summarize(quotes []Quote) Summary {
	var s Summary
	allClosed := true
	for _, q := range quotes {
		if q.Value == nil {
			continue
		}
		s.IndicesFetched++
		allClosed = allClosed && q.MarketHoliday
	}
	s.IndicesFailed = len(quotes) - s.IndicesFetched
	s.AllMarketsClosed = allClosed
	return s
}

func indicesFrom(cfg config.SourceConfig) []Index {
	raw := cfg.Maps("indices")
	if raw == nil {
		return DefaultIndices
	}
	out := make([]Index, 0, len(raw))
	for _, m := range raw {
		ticker, _ := m["ticker"].(string)
		if ticker == "" {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			name = ticker
		}
		out = append(out, Index{Ticker: ticker, Name: name})
	}
	return out
}

func tail(bars []Bar, n int) []Bar {
	if len(bars) > n {
		return bars[len(bars)-n:]
	}
	return bars
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr(v float64) *float64 {
	return &v
}
