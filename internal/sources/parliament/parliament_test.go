package parliament

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chinacompass/cc-fetcher/internal/sources/sourcestest"
)

func newParliamentServer(t *testing.T, billHits *atomic.Int32) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/bills/45-1/C-27/", func(w http.ResponseWriter, _ *http.Request) {
		billHits.Add(1)
		sourcestest.JSON(w, `{"name":{"en":"Digital Charter","fr":"Charte du numérique"},
			"status_code":"RoyalAssent","introduced":"2022-06-16","sponsor_politician_url":"/politicians/x/"}`)
	})
	mux.HandleFunc("/bills/45-1/C-70/", func(w http.ResponseWriter, _ *http.Request) {
		billHits.Add(1)
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/bills/44-1/C-70/", func(w http.ResponseWriter, _ *http.Request) {
		billHits.Add(1)
		sourcestest.JSON(w, `{"name":"Foreign Influence Act","status_code":"Passed"}`)
	})
	mux.HandleFunc("/bills/45-1/S-7/", func(w http.ResponseWriter, _ *http.Request) {
		billHits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/debates/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/debates/":
			sourcestest.JSON(w, `{"objects":[{"date":"2024-01-15","url":"/debates/2024/1/15/"},
				{"date":"2024-01-12","url":"/debates/2024/1/12/"}]}`)
		case "/debates/2024/1/15/":
			sourcestest.JSON(w, `{"related":{"speeches_url":"/speeches/?document=1"}}`)
		default:
			sourcestest.JSON(w, `{"related":{}}`)
		}
	})
	mux.HandleFunc("/speeches/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		if r.URL.Query().Get("page") == "2" {
			sourcestest.JSON(w, `{"objects":[{"content":"<p>Huawei and Beijing</p>"}],"pagination":{"next_url":null}}`)
			return
		}
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		sourcestest.JSON(w, `{"objects":[{"content":{"en":"<p>China and canola. CHINA again.</p>","fr":"<p>La Chine</p>"}}],
			"pagination":{"next_url":"/speeches/?document=1&format=json&page=2"}}`)
	})
	return sourcestest.Server(t, mux).URL
}

func TestFetch(t *testing.T) {
	t.Parallel()

	var billHits atomic.Int32
	base := newParliamentServer(t, &billHits)
	cfg := sourcestest.Config(Name, map[string]any{
		"base_url":      base,
		"tracked_bills": []any{"C-27", "C-70", "S-7", "C-99"},
		"keywords":      []any{"China", "Beijing", "Huawei", "Taiwan"},
	})

	got, err := New(sourcestest.Transport()).Fetch(context.Background(), cfg, "2024-01-15")
	require.NoError(t, err)
	payload := got.(Payload)

	assert.Equal(t, "2024-01-15", payload.Date)
	require.Len(t, payload.Bills, 2, "S-7 fails and C-99 is absent from both sessions")
	assert.Equal(t, Bill{
		ID:         "C-27",
		Title:      "Digital Charter",
		TitleFR:    "Charte du numérique",
		Status:     "RoyalAssent",
		Introduced: "2022-06-16",
		Session:    "45-1",
		Sponsor:    "/politicians/x/",
	}, payload.Bills[0])
	assert.Equal(t, "C-70", payload.Bills[1].ID)
	assert.Equal(t, "44-1", payload.Bills[1].Session)
	assert.Equal(t, "Foreign Influence Act", payload.Bills[1].Title)
	assert.Equal(t, int32(4), billHits.Load(), "a 403 is not retried and a 404 moves to the next session")

	assert.Equal(t, 2, payload.HansardStats.DebatesSearched)
	assert.Equal(t, map[string]int{"China": 2, "Beijing": 1, "Huawei": 1, "Taiwan": 0}, payload.HansardStats.ByKeyword)
	assert.Equal(t, 4, payload.HansardStats.TotalMentions)
	assert.Equal(t, []string{"C-27", "C-70", "S-7", "C-99"}, payload.TrackedBills)
	assert.Equal(t, []string{"China", "Beijing", "Huawei", "Taiwan"}, payload.Keywords)
}

func TestFetchToleratesDebateListFailure(t *testing.T) {
	t.Parallel()

	srv := sourcestest.Server(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	cfg := sourcestest.Config(Name, map[string]any{"base_url": srv.URL})

	got, err := New(sourcestest.Transport()).Fetch(context.Background(), cfg, "2024-01-15")
	require.NoError(t, err)
	payload := got.(Payload)

	assert.Empty(t, payload.Bills)
	assert.Zero(t, payload.HansardStats.DebatesSearched)
	assert.Len(t, payload.HansardStats.ByKeyword, len(DefaultKeywords))
	assert.Equal(t, DefaultTrackedBills, payload.TrackedBills)
}

func TestFetchCancelled(t *testing.T) {
	t.Parallel()

	srv := sourcestest.Server(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		sourcestest.JSON(w, `{}`)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(sourcestest.Transport()).Fetch(ctx, sourcestest.Config(Name, map[string]any{"base_url": srv.URL}), "2024-01-15")
	require.ErrorIs(t, err, context.Canceled)
}
