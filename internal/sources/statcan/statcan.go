// Package statcan fetches Canada-China merchandise trade figures from the
// Statistics Canada Web Data Service.
package statcan

import (
	"context"
	"log/slog"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/chinacompass/cc-fetcher/internal/config"
	"github.com/chinacompass/cc-fetcher/internal/sources"
)

// Name is the registry key of the plugin
const Name = "statcan"

const (
	// DefaultBaseURL is the WDS REST root
	DefaultBaseURL = "https://www150.statcan.gc.ca/t1/wds/rest"

	// TradeTable is the aggregate trade table 12-10-0011-01
	TradeTable = 12100011

	// CommodityTable is the HS section breakdown table 12-10-0121-01
	CommodityTable = 12100121

	// DefaultPeriods is the number of most recent periods requested
	DefaultPeriods = 3

	endpoint = "getDataFromCubePidCoordAndLatestNPeriods"

	statusSuccess = "SUCCESS"

	importsLabel = "Imports from China"
	exportsLabel = "Exports to China"

	// trendThreshold is the relative change above which a trend is up or down
	trendThreshold = 0.01
)

// Trend labels
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

var scalarLabels = map[int64]string{0: "", 3: "thousands", 6: "millions", 9: "billions"}

type coordinate struct {
	label string
	coord string
}

// Canada, Customs basis, unadjusted, partner China
var tradeCoords = []coordinate{
	{label: importsLabel, coord: "1.1.1.1.11.0.0.0.0.0"},
	{label: exportsLabel, coord: "1.2.1.1.11.0.0.0.0.0"},
}

type commodity struct {
	label   string
	labelZH string
	imports string
	exports string
}

// Geography.Trade.Partner.Section; failing coordinates are skipped
var commodityCoords = []commodity{
	{label: "Energy Products", labelZH: "能源产品", imports: "1.1.6.5", exports: "1.2.6.5"},
	{label: "Canola & Oilseeds", labelZH: "菜籽油和油籽", imports: "1.1.6.2", exports: "1.2.6.2"},
	{label: "Forest Products", labelZH: "林产品", imports: "1.1.6.9", exports: "1.2.6.9"},
	{label: "Machinery & Equipment", labelZH: "机械设备", imports: "1.1.6.16", exports: "1.2.6.16"},
	{label: "Electronics", labelZH: "电子产品", imports: "1.1.6.18", exports: "1.2.6.18"},
	{label: "Metals & Minerals", labelZH: "金属和矿产", imports: "1.1.6.15", exports: "1.2.6.15"},
}

// Point is one period of a series
type Point struct {
	Period string   `json:"period"`
	Value  *float64 `json:"value"`
	Scalar string   `json:"scalar"`
}

// Commodity is the latest trade of one commodity group
type Commodity struct {
	Name    string   `json:"name"`
	NameZH  string   `json:"name_zh"`
	Exports *float64 `json:"export_cad_millions"`
	Imports *float64 `json:"import_cad_millions"`
	Balance *float64 `json:"balance_cad_millions"`
	Trend   string   `json:"trend"`
}

// Totals are the latest aggregate figures
type Totals struct {
	Exports *float64 `json:"total_exports_cad"`
	Imports *float64 `json:"total_imports_cad"`
	Balance *float64 `json:"trade_balance_cad"`
}

// Payload is the envelope data of the statcan source
type Payload struct {
	Date            string             `json:"date"`
	Country         string             `json:"country"`
	TableID         string             `json:"table_id"`
	ReferencePeriod string             `json:"reference_period"`
	ScalarFactor    string             `json:"scalar_factor"`
	Imports         *float64           `json:"imports_cad_millions"`
	Exports         *float64           `json:"exports_cad_millions"`
	Balance         *float64           `json:"balance_cad_millions"`
	Series          map[string][]Point `json:"series"`
	Commodities     []Commodity        `json:"commodities"`
	Totals          Totals             `json:"totals"`
}

// ErrorPayload is returned instead of Payload when the aggregate query fails
type ErrorPayload struct {
	Date        string      `json:"date"`
	Error       string      `json:"error"`
	Commodities []Commodity `json:"commodities"`
	Totals      struct{}    `json:"totals"`
}

type query struct {
	ProductID  int    `json:"productId"`
	Coordinate string `json:"coordinate"`
	LatestN    int    `json:"latestN"`
}

// Source is the statcan plugin
type Source struct {
	client sources.Client
}

// New creates the statcan plugin
func New(client sources.Client) *Source {
	return &Source{client: client}
}

// Fetch queries the aggregate and commodity tables. A failed aggregate query
// yields an ErrorPayload rather than an error; failed commodities are dropped.
func (s *Source) Fetch(ctx context.Context, cfg config.SourceConfig, date string) (any, error) {
	url := sources.JoinURL(cfg.String("base_url", DefaultBaseURL), endpoint)
	periods := cfg.Int("periods", DefaultPeriods)

	var (
		aggregate   []gjson.Result
		aggErr      error
		commodities []Commodity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		aggregate, aggErr = s.query(gctx, cfg, url, tradeQueries(periods))
		return nil
	})
	g.Go(func() error {
		commodities = s.fetchCommodities(gctx, cfg, url, periods)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if aggErr != nil {
		slog.ErrorContext(ctx, "StatCan WDS request failed", "error", aggErr)
		return ErrorPayload{Date: date, Error: sources.ErrorMessage(aggErr), Commodities: []Commodity{}}, nil
	}
	if commodities == nil {
		commodities = []Commodity{}
	}

	series := make(map[string][]Point, len(tradeCoords))
	for i, c := range tradeCoords {
		series[c.label] = parseSeries(ctx, c.label, item(aggregate, i))
	}

	imports, exports := series[importsLabel], series[exportsLabel]
	var latestImports, latestExports *float64
	period := ""
	if n := len(exports); n > 0 {
		latestExports = exports[n-1].Value
		period = exports[n-1].Period
	}
	if n := len(imports); n > 0 {
		latestImports = imports[n-1].Value
		period = imports[n-1].Period
	}
	balance := difference(latestExports, latestImports)

	return Payload{
		Date:            date,
		Country:         "China",
		TableID:         strconv.Itoa(TradeTable),
		ReferencePeriod: period,
		ScalarFactor:    "millions of Canadian dollars",
		Imports:         latestImports,
		Exports:         latestExports,
		Balance:         balance,
		Series:          series,
		Commodities:     commodities,
		Totals: Totals{
			Exports: latestExports,
			Imports: latestImports,
			Balance: balance,
		},
	}, nil
}

func (s *Source) query(ctx context.Context, cfg config.SourceConfig, url string, queries []query) ([]gjson.Result, error) {
	body, err := s.client.PostJSON(ctx, cfg, url, queries)
	if err != nil {
		return nil, err
	}
	return gjson.ParseBytes(body).Array(), nil
}

func (s *Source) fetchCommodities(ctx context.Context, cfg config.SourceConfig, url string, periods int) []Commodity {
	queries := make([]query, 0, 2*len(commodityCoords))
	for _, c := range commodityCoords {
		queries = append(queries,
			query{ProductID: CommodityTable, Coordinate: c.imports, LatestN: periods},
			query{ProductID: CommodityTable, Coordinate: c.exports, LatestN: periods},
		)
	}

	results, err := s.query(ctx, cfg, url, queries)
	if err != nil {
		slog.WarnContext(ctx, "StatCan commodity query failed, returning no commodities", "error", err)
		return nil
	}

	commodities := make([]Commodity, 0, len(commodityCoords))
	for i, c := range commodityCoords {
		impLatest, impPrev := latestTwo(ctx, c.label, c.imports, item(results, 2*i))
		expLatest, expPrev := latestTwo(ctx, c.label, c.exports, item(results, 2*i+1))
		if impLatest == nil && expLatest == nil {
			continue
		}
		commodities = append(commodities, Commodity{
			Name:    c.label,
			NameZH:  c.labelZH,
			Exports: expLatest,
			Imports: impLatest,
			Balance: difference(expLatest, impLatest),
			Trend:   Trend(sum(expLatest, impLatest), sum(expPrev, impPrev)),
		})
	}
	return commodities
}

// Trend compares two totals: up or down when they differ by more than 1%
func Trend(latest, previous float64) string {
	if previous == 0 {
		return TrendStable
	}
	change := (latest - previous) / math.Abs(previous)
	switch {
	case change > trendThreshold:
		return TrendUp
	case change < -trendThreshold:
		return TrendDown
	default:
		return TrendStable
	}
}

func tradeQueries(periods int) []query {
	queries := make([]query, 0, len(tradeCoords))
	for _, c := range tradeCoords {
		queries = append(queries, query{ProductID: TradeTable, Coordinate: c.coord, LatestN: periods})
	}
	return queries
}

func item(results []gjson.Result, i int) gjson.Result {
	if i < len(results) {
		return results[i]
	}
	return gjson.Result{}
}

func parseSeries(ctx context.Context, label string, res gjson.Result) []Point {
	if status := res.Get("status").String(); status != statusSuccess {
		slog.WarnContext(ctx, "StatCan series query failed", "series", label, "status", status)
		return []Point{}
	}

	points := res.Get("object.vectorDataPoint").Array()
	scalar := int64(6)
	if len(points) > 0 {
		if code := points[0].Get("scalarFactorCode"); code.Exists() {
			scalar = code.Int()
		}
	}

	out := make([]Point, 0, len(points))
	for _, p := range points {
		out = append(out, Point{
			Period: p.Get("refPer").String(),
			Value:  number(p.Get("value")),
			Scalar: scalarLabels[scalar],
		})
	}
	return out
}

// latestTwo returns the last two values of a chronological series
func latestTwo(ctx context.Context, label, coord string, res gjson.Result) (latest, previous *float64) {
	if status := res.Get("status").String(); status != statusSuccess {
		if status == "" {
			status = "MISSING"
		}
		slog.WarnContext(ctx, "StatCan commodity query failed", "commodity", label, "coordinate", coord, "status", status)
		return nil, nil
	}
	points := res.Get("object.vectorDataPoint").Array()
	if n := len(points); n > 0 {
		latest = number(points[n-1].Get("value"))
		if n > 1 {
			previous = number(points[n-2].Get("value"))
		}
	}
	return latest, previous
}

func number(r gjson.Result) *float64 {
	if r.Type != gjson.Number {
		return nil
	}
	v := r.Float()
	return &v
}

func difference(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	v := math.Round((*a-*b)*10) / 10
	return &v
}

func sum(a, b *float64) float64 {
	var total float64
	if a != nil {
		total += *a
	}
	if b != nil {
		total += *b
	}
	return total
}
