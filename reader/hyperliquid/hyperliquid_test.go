package hyperliquid

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fundingsim/models"
)

const payload = `[
  {"universe":[
    {"name":"BTC","szDecimals":5,"maxLeverage":40},
    {"name":"ETH","szDecimals":4,"maxLeverage":25},
    {"name":"OLD","szDecimals":0,"maxLeverage":3,"isDelisted":true},
    {"name":"SOL","szDecimals":2,"maxLeverage":20}
  ]},
  [
    {"funding":"0.0000125","markPx":"65000.5","openInterest":"100"},
    {"funding":"0.00003","markPx":"3200.1","openInterest":"200"},
    {"funding":"0.01","markPx":"1.0","openInterest":"0"},
    {"funding":"-0.00001","markPx":"150.25","openInterest":"300"}
  ]
]`

var fixed = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(b), `"metaAndAssetCtxs"`) {
			t.Errorf("unexpected request body %s", b)
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	srv := newServer(t, http.StatusOK, payload)
	r := New(srv.URL, srv.Client()).WithClock(func() time.Time { return fixed })

	s, err := r.Fetch(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if s.Symbol != "ETH" || s.MarkPrice.String() != "3200.1" || s.FundingRate.String() != "0.00003" {
		t.Fatalf("unexpected sample %+v", s)
	}
	if s.FundingIntervalHours != 1 || s.MaxLeverage != 25 || !s.ObservedAt.Equal(fixed) {
		t.Fatalf("unexpected sample metadata %+v", s)
	}
	if s.Venue != "hyperliquid" {
		t.Fatalf("venue = %q", s.Venue)
	}
}

func TestFetchUnknownSymbol(t *testing.T) {
	srv := newServer(t, http.StatusOK, payload)
	_, err := New(srv.URL, srv.Client()).Fetch(context.Background(), "DOGE")
	if !errors.Is(err, models.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestFetchFailures(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
	}{
		"server error":   {http.StatusInternalServerError, `{"error":"boom"}`},
		"not json":       {http.StatusOK, `<html>`},
		"wrong shape":    {http.StatusOK, `[{"universe":[]}]`},
		"length skew":    {http.StatusOK, `[{"universe":[{"name":"BTC"}]},[]]`},
		"empty mark":     {http.StatusOK, `[{"universe":[{"name":"BTC"}]},[{"funding":"0.0001","markPx":""}]]`},
		"bad funding":    {http.StatusOK, `[{"universe":[{"name":"BTC"}]},[{"funding":"x","markPx":"1"}]]`},
		"missing fields": {http.StatusOK, `[{"universe":[{"name":"BTC"}]},[{}]]`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := newServer(t, tc.status, tc.body)
			_, err := New(srv.URL, srv.Client()).Fetch(context.Background(), "BTC")
			if !errors.Is(err, models.ErrDataUnavailable) {
				t.Fatalf("expected ErrDataUnavailable, got %v", err)
			}
		})
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, nil).Fetch(context.Background(), "BTC")
	if !errors.Is(err, models.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestTop(t *testing.T) {
	srv := newServer(t, http.StatusOK, payload)
	r := New(srv.URL, srv.Client()).WithClock(func() time.Time { return fixed })

	top, err := r.Top(context.Background(), 2)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(top))
	}
	if top[0].Symbol != "ETH" || top[1].Symbol != "BTC" {
		t.Fatalf("unexpected order %s, %s", top[0].Symbol, top[1].Symbol)
	}

	all, err := r.Top(context.Background(), 0)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("delisted asset should be skipped, got %d samples", len(all))
	}
	if all[2].Symbol != "SOL" {
		t.Fatalf("negative funding should sort last, got %s", all[2].Symbol)
	}
}

func TestFetchSkipsDelistedDuplicate(t *testing.T) {
	body := `[{"universe":[{"name":"PURR","maxLeverage":3,"isDelisted":true},{"name":"PURR","maxLeverage":5}]},
[{"funding":"0.01","markPx":"0.5"},{"funding":"0.0001","markPx":"0.2"}]]`
	srv := newServer(t, http.StatusOK, body)

	s, err := New(srv.URL, srv.Client()).Fetch(context.Background(), "PURR")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if s.MarkPrice.String() != "0.2" || s.MaxLeverage != 5 {
		t.Fatalf("delisted entry was sampled: %+v", s)
	}

	srv = newServer(t, http.StatusOK, `[{"universe":[{"name":"OLD","isDelisted":true}]},[{"funding":"0","markPx":"1"}]]`)
	if _, err := New(srv.URL, srv.Client()).Fetch(context.Background(), "OLD"); !errors.Is(err, models.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable for delisted asset, got %v", err)
	}
}
