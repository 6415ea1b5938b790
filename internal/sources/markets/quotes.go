package markets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/output"
	"github.com/chinacompass/cc-fetcher/internal/sources"
)

// DefaultChartURL is the Yahoo Finance chart endpoint
const DefaultChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// Bar is the daily close of one trading session
type Bar struct {
	Date  string
	Close float64
}

// QuoteClient returns the daily closes of a ticker between two dates, oldest first
type QuoteClient interface {
	History(ctx context.Context, cfg config.SourceConfig, ticker string, start, end time.Time) ([]Bar, error)
}

// chartClient reads the Yahoo chart endpoint
type chartClient struct {
	client sources.Client
}

// NewChartClient creates a QuoteClient over the Yahoo chart endpoint. The
// endpoint root comes from the "chart_url" setting.
func NewChartClient(client sources.Client) QuoteClient {
	return &chartClient{client: client}
}

func (c *chartClient) History(
	ctx context.Context,
	cfg config.SourceConfig,
	ticker string,
	start, end time.Time,
) ([]Bar, error) {
	q := url.Values{}
	q.Set("period1", fmt.Sprint(start.Unix()))
	q.Set("period2", fmt.Sprint(end.Unix()))
	q.Set("interval", "1d")
	endpoint := sources.JoinURL(cfg.String("chart_url", DefaultChartURL), url.PathEscape(ticker)) + "?" + q.Encode()

	body, err := c.client.Get(ctx, cfg, endpoint, sources.AcceptJSON)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("chart response is not valid JSON")
	}

	doc := gjson.ParseBytes(body)
	if e := doc.Get("chart.error"); e.IsObject() {
		return nil, fmt.Errorf("chart error: %s", e.Get("description").String())
	}
	result := doc.Get("chart.result.0")
	if !result.Exists() {
		return nil, nil
	}

	offset := time.Duration(result.Get("meta.gmtoffset").Int()) * time.Second
	stamps := result.Get("timestamp").Array()
	closes := result.Get("indicators.quote.0.close").Array()

	bars := make([]Bar, 0, len(stamps))
	for i, ts := range stamps {
		if i >= len(closes) || closes[i].Type != gjson.Number {
			// sessions without a close are holidays or halts
			continue
		}
		local := time.Unix(ts.Int(), 0).UTC().Add(offset)
		bars = append(bars, Bar{Date: local.Format(output.DateLayout), Close: closes[i].Float()})
	}
	return bars, nil
}
