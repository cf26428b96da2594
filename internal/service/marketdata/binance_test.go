package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/pkg/adapter"
	pkghttp "hfttools/pkg/http"
)

func noWait(context.Context, time.Duration) error { return nil }

func testBinance(url string, pageLimit int) *BinanceSource {
	return NewBinanceSource(pkghttp.NewClient(pkghttp.WithTimeout(5*time.Second)), url,
		pkghttp.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, MaxRetries: 3, Sleep: noWait},
		WithBinancePageLimit(pageLimit))
}

func queryInt(r *http.Request, key string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v
}

func TestBinanceKlinesPaginates(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path != "/api/v3/klines" || r.URL.Query().Get("symbol") != "BTCUSDT" || r.URL.Query().Get("interval") != "1m" {
			http.Error(w, `{"code":-1,"msg":"bad query"}`, http.StatusBadRequest)
			return
		}
		start, end, limit := queryInt(r, "startTime"), queryInt(r, "endTime"), queryInt(r, "limit")
		var rows []string
		for ts := start; ts <= end && int64(len(rows)) < limit; ts += 60_000 {
			rows = append(rows, fmt.Sprintf(`[%d,"100.0","101.0","99.0","100.5","3.5",%d,"0",1,"0","0","0"]`, ts, ts+59_999))
		}
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	}))
	defer srv.Close()

	req := models.FetchRequest{Instrument: "btc-usdt", DataType: models.DataBars, Start: day, End: day.Add(5 * time.Minute), Interval: time.Minute}
	got, err := testBinance(srv.URL, 2).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 bars, got %d", len(got))
	}
	if calls != 3 {
		t.Fatalf("expected 3 pages, got %d", calls)
	}
	if !got[4].Timestamp.Equal(day.Add(4*time.Minute)) || got[0].Close != 100.5 || got[0].Instrument != "btc-usdt" {
		t.Fatalf("unexpected bars: first %+v last %+v", got[0], got[4])
	}
}

func TestBinanceRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `[[%d,"1","1","1","1","1"]]`, day.UnixMilli())
	}))
	defer srv.Close()

	req := models.FetchRequest{Instrument: "ETHUSDT", DataType: models.DataBars, Start: day, End: day.Add(time.Hour), Interval: time.Hour}
	got, err := testBinance(srv.URL, 1000).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 || calls != 2 {
		t.Fatalf("expected one bar after one retry, got %d bars in %d calls", len(got), calls)
	}
}

func TestBinanceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   adapter.Kind
	}{
		{"bad symbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, adapter.KindValidationFailed},
		{"outage", http.StatusServiceUnavailable, `down`, adapter.KindEngineUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			req := models.FetchRequest{Instrument: "NOPE", DataType: models.DataBars, Start: day, End: day.Add(time.Hour)}
			_, err := testBinance(srv.URL, 1000).Fetch(context.Background(), req)
			if !adapter.IsKind(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
			if tt.kind == adapter.KindValidationFailed && !strings.Contains(err.Error(), "Invalid symbol.") {
				t.Fatalf("expected binance message in %q", err)
			}
		})
	}
}

func TestBinanceRejectsUnsupported(t *testing.T) {
	src := testBinance("http://127.0.0.1:1", 1000)
	if src.Supports(models.DataOrderbook) || !src.Supports(models.DataTrades) {
		t.Fatalf("unexpected support matrix")
	}
	req := models.FetchRequest{Instrument: "BTCUSDT", DataType: models.DataBars, Start: day, End: day.Add(time.Hour), Interval: 7 * time.Minute}
	if _, err := src.Fetch(context.Background(), req); !adapter.IsKind(err, adapter.KindValidationFailed) {
		t.Fatalf("expected unsupported interval to fail validation, got %v", err)
	}
}

func TestBinanceAggTradesFollowIDs(t *testing.T) {
	type trade struct {
		id int64
		ts int64
	}
	var trades []trade
	for i := int64(1); i <= 5; i++ {
		trades = append(trades, trade{id: i, ts: day.Add(time.Duration(i) * time.Second).UnixMilli()})
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := queryInt(r, "limit")
		var out []string
		for _, tr := range trades {
			if int64(len(out)) >= limit {
				break
			}
			if q.Has("fromId") {
				if tr.id < queryInt(r, "fromId") {
					continue
				}
			} else if tr.ts < queryInt(r, "startTime") || tr.ts > queryInt(r, "endTime") {
				continue
			}
			out = append(out, fmt.Sprintf(`{"a":%d,"p":"10.5","q":"0.25","f":0,"l":0,"T":%d,"m":%t}`, tr.id, tr.ts, tr.id%2 == 0))
		}
		fmt.Fprintf(w, "[%s]", strings.Join(out, ","))
	}))
	defer srv.Close()

	req := models.FetchRequest{Instrument: "BTCUSDT", DataType: models.DataTrades, Start: day, End: day.Add(time.Hour)}
	got, err := testBinance(srv.URL, 2).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 trades, got %d", len(got))
	}
	if got[1].Side != "sell" || got[0].Side != "buy" || got[4].Seq != 5 || got[0].Price != 10.5 {
		t.Fatalf("unexpected trades: %+v", got)
	}
}
