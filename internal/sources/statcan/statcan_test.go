package statcan

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinacompass/cc-fetcher/internal/sources/sourcestest"
)

const tradeResponse = `[
	{"status":"SUCCESS","object":{"vectorDataPoint":[
		{"refPer":"2023-10-01","value":7000.5,"scalarFactorCode":6},
		{"refPer":"2023-11-01","value":7420.1,"scalarFactorCode":6}]}},
	{"status":"SUCCESS","object":{"vectorDataPoint":[
		{"refPer":"2023-10-01","value":2100.0,"scalarFactorCode":6},
		{"refPer":"2023-11-01","value":2250.3,"scalarFactorCode":6}]}}
]`

// energy succeeds both ways, canola only on exports, forest fails, the rest are missing
const commodityResponse = `[
	{"status":"SUCCESS","object":{"vectorDataPoint":[{"value":100},{"value":100}]}},
	{"status":"SUCCESS","object":{"vectorDataPoint":[{"value":300},{"value":330}]}},
	{"status":"FAILED"},
	{"status":"SUCCESS","object":{"vectorDataPoint":[{"value":500},{"value":480}]}},
	{"status":"FAILED"},
	{"status":"FAILED"}
]`

func wdsHandler(t *testing.T, commodityStatus int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/getDataFromCubePidCoordAndLatestNPeriods", r.URL.Path)

		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var queries []query
		require.NoError(t, json.Unmarshal(data, &queries))
		require.NotEmpty(t, queries)
		assert.Equal(t, 3, queries[0].LatestN)

		switch queries[0].ProductID {
		case TradeTable:
			require.Len(t, queries, 2)
			sourcestest.JSON(w, tradeResponse)
		case CommodityTable:
			require.Len(t, queries, 2*len(commodityCoords))
			if commodityStatus != http.StatusOK {
				w.WriteHeader(commodityStatus)
				return
			}
			sourcestest.JSON(w, commodityResponse)
		}
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	srv := sourcestest.Server(t, wdsHandler(t, http.StatusOK))
	cfg := sourcestest.Config(Name, map[string]any{"base_url": srv.URL + "/rest"})

	got, err := New(sourcestest.Transport()).Fetch(context.Background(), cfg, "2024-01-15")
	require.NoError(t, err)
	payload := got.(Payload)

	assert.Equal(t, "12100011", payload.TableID)
	assert.Equal(t, "2023-11-01", payload.ReferencePeriod)
	require.NotNil(t, payload.Imports)
	assert.InDelta(t, 7420.1, *payload.Imports, 1e-9)
	require.NotNil(t, payload.Balance)
	assert.InDelta(t, -5169.8, *payload.Balance, 1e-9)
	assert.Equal(t, payload.Balance, payload.Totals.Balance)

	require.Len(t, payload.Series[importsLabel], 2)
	assert.Equal(t, "millions", payload.Series[importsLabel][0].Scalar)

	require.Len(t, payload.Commodities, 2)
	energy := payload.Commodities[0]
	assert.Equal(t, "Energy Products", energy.Name)
	assert.Equal(t, "能源产品", energy.NameZH)
	assert.InDelta(t, 230.0, *energy.Balance, 1e-9)
	assert.Equal(t, TrendUp, energy.Trend, "400 to 430 is above 1%")

	canola := payload.Commodities[1]
	assert.Nil(t, canola.Imports)
	assert.Nil(t, canola.Balance)
	assert.Equal(t, TrendDown, canola.Trend)
}

func TestFetchToleratesCommodityFailure(t *testing.T) {
	t.Parallel()

	srv := sourcestest.Server(t, wdsHandler(t, http.StatusBadRequest))
	cfg := sourcestest.Config(Name, map[string]any{"base_url": srv.URL + "/rest"})

	got, err := New(sourcestest.Transport()).Fetch(context.Background(), cfg, "2024-01-15")
	require.NoError(t, err)
	payload := got.(Payload)
	assert.NotNil(t, payload.Exports)
	assert.Empty(t, payload.Commodities)
	assert.NotNil(t, payload.Commodities, "encodes as an empty list")
}

func TestFetchAggregateFailureIsAnErrorPayload(t *testing.T) {
	t.Parallel()

	srv := sourcestest.Server(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	cfg := sourcestest.Config(Name, map[string]any{"base_url": srv.URL})

	got, err := New(sourcestest.Transport()).Fetch(context.Background(), cfg, "2024-01-15")
	require.NoError(t, err)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-01-15","error":"HTTP 503","commodities":[],"totals":{}}`, string(data))
}

func TestTrend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		latest, previous float64
		want             string
	}{
		{latest: 102, previous: 100, want: TrendUp},
		{latest: 98, previous: 100, want: TrendDown},
		{latest: 100.5, previous: 100, want: TrendStable},
		{latest: 101, previous: 100, want: TrendStable},
		{latest: 5, previous: 0, want: TrendStable},
		{latest: -90, previous: -100, want: TrendUp},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Trend(tt.latest, tt.previous), "%v vs %v", tt.latest, tt.previous)
	}
}
