package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hfttools/internal/domain/models"
	"hfttools/internal/service/ratelimit"
	"hfttools/pkg/adapter"
	pkghttp "hfttools/pkg/http"
	applogger "hfttools/pkg/logger"
)

const (
	binanceRateKey = "binance"
	// Token bucket for the shared request weight budget.
	binanceBurst    = 10
	binanceRefill   = 10
	binanceMaxLimit = 1000
	aggTradesWindow = time.Hour
)

var binanceIntervals = map[time.Duration]string{
	time.Second:        "1s",
	time.Minute:        "1m",
	3 * time.Minute:    "3m",
	5 * time.Minute:    "5m",
	15 * time.Minute:   "15m",
	30 * time.Minute:   "30m",
	time.Hour:          "1h",
	2 * time.Hour:      "2h",
	4 * time.Hour:      "4h",
	6 * time.Hour:      "6h",
	8 * time.Hour:      "8h",
	12 * time.Hour:     "12h",
	24 * time.Hour:     "1d",
	3 * 24 * time.Hour: "3d",
	7 * 24 * time.Hour: "1w",
}

// BinanceSource pulls klines and aggregate trades from the Binance spot REST
// API with pagination, rate limiting and retries.
type BinanceSource struct {
	client    *pkghttp.Client
	baseURL   string
	backoff   pkghttp.Backoff
	limiter   *ratelimit.Limiter
	pageLimit int
	l         *applogger.Logger
}

// BinanceOption configures BinanceSource.
type BinanceOption func(*BinanceSource)

// WithBinanceLogger sets the retry logger.
func WithBinanceLogger(l *applogger.Logger) BinanceOption {
	return func(s *BinanceSource) {
		s.l = l
	}
}

// WithBinanceLimiter shares a rate limiter between sources.
func WithBinanceLimiter(l *ratelimit.Limiter) BinanceOption {
	return func(s *BinanceSource) {
		s.limiter = l
	}
}

// WithBinancePageLimit sets rows per request (max 1000).
func WithBinancePageLimit(n int) BinanceOption {
	return func(s *BinanceSource) {
		if n > 0 && n <= binanceMaxLimit {
			s.pageLimit = n
		}
	}
}

// NewBinanceSource creates a source for baseURL (e.g. https://api.binance.com).
func NewBinanceSource(client *pkghttp.Client, baseURL string, backoff pkghttp.Backoff, opts ...BinanceOption) *BinanceSource {
	s := &BinanceSource{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		backoff:   backoff,
		limiter:   ratelimit.New(),
		pageLimit: binanceMaxLimit,
		l:         applogger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *BinanceSource) Name() string { return SourceBinance }

func (s *BinanceSource) Supports(t models.DataType) bool {
	return t == models.DataBars || t == models.DataTrades
}

func (s *BinanceSource) Fetch(ctx context.Context, req models.FetchRequest) ([]models.Record, error) {
	symbol := binanceSymbol(req.Instrument)
	switch req.DataType {
	case models.DataBars:
		return s.klines(ctx, symbol, req)
	case models.DataTrades:
		return s.aggTrades(ctx, symbol, req)
	default:
		return nil, adapter.ValidationFailedf("source binance does not provide %s data", req.DataType).WithField("dataType")
	}
}

// binanceSymbol maps BTC-USDT, btc/usdt or BTCUSDT to BTCUSDT.
func binanceSymbol(instrument string) string {
	r := strings.NewReplacer("-", "", "/", "", "_", "", " ", "")
	return strings.ToUpper(r.Replace(instrument))
}

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *BinanceSource) klines(ctx context.Context, symbol string, req models.FetchRequest) ([]models.Record, error) {
	iv := req.Interval
	if iv <= 0 {
		iv = time.Minute
	}
	name, ok := binanceIntervals[iv]
	if !ok {
		return nil, adapter.ValidationFailedf("binance has no %s kline interval", iv).WithField("interval")
	}

	var out []models.Record
	cursor := req.Start
	for cursor.Before(req.End) {
		var rows [][]interface{}
		err := s.get(ctx, "/api/v3/klines", map[string][]string{
			"symbol":    {symbol},
			"interval":  {name},
			"startTime": {ms(cursor)},
			"endTime":   {ms(req.End.Add(-time.Millisecond))},
			"limit":     {strconv.Itoa(s.pageLimit)},
		}, &rows)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		var last time.Time
		for _, row := range rows {
			rec, err := parseKline(row)
			if err != nil {
				return nil, adapter.Unavailable(err, "binance kline")
			}
			last = rec.Timestamp
			if rec.Timestamp.Before(req.Start) || !rec.Timestamp.Before(req.End) {
				continue
			}
			rec.Instrument = req.Instrument
			out = append(out, rec)
		}
		next := last.Add(iv)
		if len(rows) < s.pageLimit || !next.After(cursor) {
			break
		}
		cursor = next
	}
	return out, nil
}

// parseKline reads [openTime, open, high, low, close, volume, ...].
func parseKline(row []interface{}) (models.Record, error) {
	if len(row) < 6 {
		return models.Record{}, fmt.Errorf("kline has %d fields", len(row))
	}
	openMs, err := jsonInt(row[0])
	if err != nil {
		return models.Record{}, fmt.Errorf("open time: %w", err)
	}
	var v [5]float64
	for i := range v {
		if v[i], err = jsonFloat(row[i+1]); err != nil {
			return models.Record{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	return models.Record{
		Timestamp: time.UnixMilli(openMs).UTC(),
		Open:      v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4],
	}, nil
}

type aggTrade struct {
	ID           int64  `json:"a"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	Time         int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

// aggTrades walks the range hour by hour until it finds the first trade, then
// follows trade ids, which never skips trades sharing a millisecond.
func (s *BinanceSource) aggTrades(ctx context.Context, symbol string, req models.FetchRequest) ([]models.Record, error) {
	var out []models.Record
	cursor := req.Start
	fromID := int64(-1)
	for {
		q := map[string][]string{
			"symbol": {symbol},
			"limit":  {strconv.Itoa(s.pageLimit)},
		}
		if fromID >= 0 {
			q["fromId"] = []string{strconv.FormatInt(fromID, 10)}
		} else {
			if !cursor.Before(req.End) {
				return out, nil
			}
			end := cursor.Add(aggTradesWindow)
			if end.After(req.End) {
				end = req.End
			}
			q["startTime"] = []string{ms(cursor)}
			q["endTime"] = []string{ms(end.Add(-time.Millisecond))}
			cursor = end
		}

		var batch []aggTrade
		if err := s.get(ctx, "/api/v3/aggTrades", q, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			if fromID >= 0 {
				return out, nil
			}
			continue
		}
		for _, a := range batch {
			ts := time.UnixMilli(a.Time).UTC()
			if !ts.Before(req.End) {
				return out, nil
			}
			price, err := strconv.ParseFloat(a.Price, 64)
			if err != nil {
				return nil, adapter.Unavailable(err, "binance trade price")
			}
			qty, err := strconv.ParseFloat(a.Qty, 64)
			if err != nil {
				return nil, adapter.Unavailable(err, "binance trade quantity")
			}
			side := "buy"
			if a.BuyerIsMaker {
				side = "sell"
			}
			if ts.Before(req.Start) {
				continue
			}
			out = append(out, models.Record{
				Timestamp: ts, Seq: a.ID, Instrument: req.Instrument,
				Price: price, Size: qty, Side: side,
			})
		}
		if fromID >= 0 && len(batch) < s.pageLimit {
			return out, nil
		}
		fromID = batch[len(batch)-1].ID + 1
	}
}

// get performs one rate-limited GET with retries. Client errors become
// ValidationFailed; anything left after retries is EngineUnavailable.
func (s *BinanceSource) get(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	err := s.backoff.Do(ctx, func(ctx context.Context) error {
		if err := s.limiter.Wait(ctx, binanceRateKey, binanceBurst, binanceRefill); err != nil {
			return err
		}
		return s.client.SendAndParse(ctx, &pkghttp.RequestOptions{
			Method:      pkghttp.MethodGet,
			URL:         s.baseURL + path,
			QueryParams: query,
		}, dest)
	}, func(attempt int, wait time.Duration, err error) {
		s.l.Warn("binance request retry",
			applogger.String("path", path),
			applogger.Int("attempt", attempt),
			applogger.Duration("wait_ms", wait),
			applogger.Error(err),
		)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return adapter.Wrap(adapter.KindCancelled, err, "binance request cancelled")
	}
	var se *pkghttp.StatusError
	if errors.As(err, &se) && !se.Temporary() && se.StatusCode >= 400 && se.StatusCode < 500 {
		return adapter.ValidationFailedf("binance rejected request: %s", binanceMessage(se.Body))
	}
	return adapter.Unavailable(err, "binance %s", path)
}

// binanceMessage extracts msg from {"code":-1121,"msg":"Invalid symbol."}.
func binanceMessage(body string) string {
	var e struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal([]byte(body), &e) == nil && e.Msg != "" {
		return e.Msg
	}
	return body
}

func jsonInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Int64()
	case float64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

func jsonFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
