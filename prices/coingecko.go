package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/etnz/folio"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultTimeout      = 6 * time.Second
)

// CoinGecko is a Source backed by the CoinGecko simple price API.
//
// Any failure to get an answer (network, status, decoding) is logged and
// reported as all prices missing.
type CoinGecko struct {
	baseURL string
	ids     map[string]string // symbol -> coin id
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewCoinGecko returns a CoinGecko source. Empty arguments select the defaults.
func NewCoinGecko(baseURL string, ids map[string]string, timeout time.Duration, logger *zap.Logger) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if ids == nil {
		ids = DefaultCoinIDs
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	norm := make(map[string]string, len(ids))
	for sym, id := range ids {
		norm[folio.NormalizeSymbol(sym)] = id
	}
	return &CoinGecko{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		ids:     norm,
		client:  new(http.Client),
		timeout: timeout,
		logger:  logger.Named("coingecko"),
	}
}

// CoinID returns the CoinGecko id of a symbol.
func (c *CoinGecko) CoinID(symbol string) (string, bool) {
	id, ok := c.ids[folio.NormalizeSymbol(symbol)]
	return id, ok
}

func (c *CoinGecko) Quotes(ctx context.Context, symbols []string, cur folio.Currency) (folio.Quotes, error) {
	symbols = Symbols(symbols)
	q := unavailable(symbols)

	var ids []string
	for _, sym := range symbols {
		if id, ok := c.CoinID(sym); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return q, nil
	}

	vs := strings.ToLower(cur.String())
	jobj, err := c.get(ctx, ids, vs)
	if err != nil {
		c.logger.Warn("price lookup failed", zap.Strings("ids", ids), zap.String("currency", vs), zap.Error(err))
		return q, nil
	}

	for _, sym := range symbols {
		id, ok := c.CoinID(sym)
		if !ok {
			continue
		}
		path := fmt.Sprintf("$[%q][%q]", id, vs)
		jval, err := jsonpath.Get(path, jobj)
		if err != nil {
			continue // not quoted
		}
		price, err := toDecimal(jval)
		if err != nil {
			c.logger.Debug("ignoring price", zap.String("symbol", sym), zap.Any("value", jval), zap.Error(err))
			continue
		}
		q[sym] = folio.Some(folio.M(price, cur.String()))
	}
	return q, nil
}

// get calls /simple/price and returns the decoded JSON document.
func (c *CoinGecko) get(ctx context.Context, ids []string, vs string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", vs)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cannot http GET %v%v: %v", req.URL.Host, req.URL.Path, resp.Status)
	}

	var jobj any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&jobj); err != nil {
		return nil, fmt.Errorf("cannot decode response: %w", err)
	}
	return jobj, nil
}

func toDecimal(jval any) (decimal.Decimal, error) {
	// jsonpath may return a list of one answer.
	if jlist, ok := jval.([]any); ok && len(jlist) > 0 {
		jval = jlist[0]
	}
	switch v := jval.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("not a number: %v", jval)
	}
}
