package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/hodbot/internal/broker"
	"github.com/betbot/hodbot/internal/domain"
	"github.com/betbot/hodbot/pkg/cache"
	"github.com/betbot/hodbot/pkg/config"
	"github.com/betbot/hodbot/pkg/ratelimit"
	sdkhttp "github.com/betbot/hodbot/pkg/sdk/http"
)

var log = logrus.WithField("component", "alpaca")

const (
	equityCacheKey = "equity"
	equityCacheTTL = 2 * time.Second

	endpointData = "data"
)

// Client Alpaca REST 客户端（交易 API + 行情 API）
type Client struct {
	trading *sdkhttp.Client
	data    *sdkhttp.Client
	feed    string

	limiter *ratelimit.Manager
	equity  *cache.InMemoryCache[string, float64]
	now     func() time.Time
}

var (
	_ broker.OrderBroker = (*Client)(nil)
	_ broker.BarSource   = (*Client)(nil)
	_ broker.OrderLookup = (*Client)(nil)
)

// NewClient 创建客户端。交易 API 不在 HTTP 层重试，重试策略由下单方决定。
func NewClient(cfg config.AlpacaConfig) *Client {
	headers := map[string]string{
		"APCA-API-KEY-ID":     cfg.APIKey,
		"APCA-API-SECRET-KEY": cfg.SecretKey,
	}
	// 交易和行情两个 API 各自 200 次/分钟
	limiter := ratelimit.NewManager(ratelimit.NewSlidingWindow(200, time.Minute))
	limiter.Register(endpointData, ratelimit.NewSlidingWindow(200, time.Minute))

	return &Client{
		trading: sdkhttp.NewClient(cfg.BaseURL, sdkhttp.Options{Timeout: 15 * time.Second, Headers: headers, UserAgent: "hodbot"}),
		data:    sdkhttp.NewClient(cfg.DataURL, sdkhttp.Options{Timeout: 30 * time.Second, RetryCount: 2, Headers: headers, UserAgent: "hodbot"}),
		feed:    cfg.Feed,
		limiter: limiter,
		equity:  cache.NewInMemoryCache[string, float64](equityCacheTTL),
		now:     time.Now,
	}
}

type takeProfitReq struct {
	LimitPrice string `json:"limit_price"`
}

type stopLossReq struct {
	StopPrice string `json:"stop_price"`
}

type orderReq struct {
	Symbol        string        `json:"symbol"`
	Qty           string        `json:"qty"`
	Side          string        `json:"side"`
	Type          string        `json:"type"`
	TimeInForce   string        `json:"time_in_force"`
	OrderClass    string        `json:"order_class"`
	TakeProfit    takeProfitReq `json:"take_profit"`
	StopLoss      stopLossReq   `json:"stop_loss"`
	ClientOrderID string        `json:"client_order_id,omitempty"`
}

type orderResp struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	Status        string      `json:"status"`
	Legs          []orderResp `json:"legs"`
}

// SubmitOrder 提交括号市价买单
func (c *Client) SubmitOrder(ctx context.Context, order domain.BracketBuyOrder) (domain.OrderAck, error) {
	const op = "submit_order"
	if err := c.limiter.Wait(ctx, "orders:post"); err != nil {
		return domain.OrderAck{}, err
	}

	req := orderReq{
		Symbol:        order.Symbol,
		Qty:           strconv.FormatInt(order.Qty, 10),
		Side:          "buy",
		Type:          "market",
		TimeInForce:   string(order.TimeInForce),
		OrderClass:    "bracket",
		TakeProfit:    takeProfitReq{LimitPrice: order.TakeProfitPrice.StringFixed(2)},
		StopLoss:      stopLossReq{StopPrice: order.StopLossPrice.StringFixed(2)},
		ClientOrderID: order.ClientOrderID,
	}
	var out orderResp
	resp, err := c.trading.DoRequest(ctx, http.MethodPost, "/v2/orders", &sdkhttp.RequestOptions{Data: req}, &out)
	if err := classify(op, statusOf(resp), sdkhttp.ParseHTTPError(resp, err)); err != nil {
		return domain.OrderAck{}, err
	}
	if out.ID == "" {
		return domain.OrderAck{}, broker.NewStatusError(op, resp.StatusCode(), fmt.Errorf("响应缺少订单 id"))
	}
	return domain.OrderAck{OrderID: out.ID, ClientOrderID: out.ClientOrderID, Status: out.Status}, nil
}

// OrderByClientID 按 client_order_id 查询订单；404 返回 broker.ErrOrderNotFound
func (c *Client) OrderByClientID(ctx context.Context, clientOrderID string) (domain.OrderAck, error) {
	const op = "order_by_client_id"
	if err := c.limiter.Wait(ctx, "orders:get"); err != nil {
		return domain.OrderAck{}, err
	}

	var out orderResp
	params := map[string]string{"client_order_id": clientOrderID}
	resp, err := c.trading.DoRequest(ctx, http.MethodGet, "/v2/orders:by_client_order_id", &sdkhttp.RequestOptions{Params: params}, &out)
	if err := classify(op, statusOf(resp), sdkhttp.ParseHTTPError(resp, err)); err != nil {
		var be *broker.Error
		if errors.As(err, &be) && be.StatusCode == http.StatusNotFound {
			return domain.OrderAck{}, errors.Wrapf(broker.ErrOrderNotFound, "client_order_id=%s", clientOrderID)
		}
		return domain.OrderAck{}, err
	}
	if out.ID == "" {
		return domain.OrderAck{}, errors.Wrapf(broker.ErrOrderNotFound, "client_order_id=%s", clientOrderID)
	}
	return domain.OrderAck{OrderID: out.ID, ClientOrderID: out.ClientOrderID, Status: out.Status}, nil
}

// OpenOrderIDs 未完成订单 ID（包含括号单的子单）
func (c *Client) OpenOrderIDs(ctx context.Context) (map[string]struct{}, error) {
	const op = "open_orders"
	if err := c.limiter.Wait(ctx, "orders:get"); err != nil {
		return nil, err
	}

	var out []orderResp
	params := map[string]string{"status": "open", "limit": "500", "nested": "true"}
	resp, err := c.trading.DoRequest(ctx, http.MethodGet, "/v2/orders", &sdkhttp.RequestOptions{Params: params}, &out)
	if err := classify(op, statusOf(resp), sdkhttp.ParseHTTPError(resp, err)); err != nil {
		return nil, err
	}

	ids := make(map[string]struct{}, len(out))
	for _, o := range out {
		ids[o.ID] = struct{}{}
		for _, leg := range o.Legs {
			ids[leg.ID] = struct{}{}
		}
	}
	return ids, nil
}

// AccountEquity 账户权益（短时间缓存，避免每个信号都打一次接口）
func (c *Client) AccountEquity(ctx context.Context) (float64, error) {
	const op = "account"
	if v, ok := c.equity.Get(equityCacheKey); ok {
		return v, nil
	}
	if err := c.limiter.Wait(ctx, "account:get"); err != nil {
		return 0, err
	}

	var out struct {
		Equity string `json:"equity"`
	}
	resp, err := c.trading.DoRequest(ctx, http.MethodGet, "/v2/account", nil, &out)
	if err := classify(op, statusOf(resp), sdkhttp.ParseHTTPError(resp, err)); err != nil {
		return 0, err
	}
	equity, err := strconv.ParseFloat(out.Equity, 64)
	if err != nil {
		return 0, &broker.Error{Op: op, StatusCode: resp.StatusCode(), Err: errors.Wrapf(err, "解析权益 %q", out.Equity)}
	}
	c.equity.Set(equityCacheKey, equity, 0)
	return equity, nil
}

type barResp struct {
	T time.Time `json:"t"`
	O float64   `json:"o"`
	H float64   `json:"h"`
	L float64   `json:"l"`
	C float64   `json:"c"`
	V float64   `json:"v"`
}

// DailyBars 最近 limit 根日线（按时间升序）
func (c *Client) DailyBars(ctx context.Context, symbol string, limit int) ([]broker.Bar, error) {
	const op = "daily_bars"
	if err := c.limiter.Wait(ctx, endpointData); err != nil {
		return nil, err
	}

	// 按自然日回溯，覆盖周末和节假日
	start := c.now().AddDate(0, 0, -limit*2).UTC().Format("2006-01-02")
	params := map[string]string{
		"timeframe":  "1Day",
		"start":      start,
		"limit":      strconv.Itoa(limit * 2),
		"adjustment": "raw",
	}
	if c.feed != "" {
		params["feed"] = c.feed
	}

	var out struct {
		Bars []barResp `json:"bars"`
	}
	path := "/v2/stocks/" + url.PathEscape(strings.ToUpper(symbol)) + "/bars"
	resp, err := c.data.DoRequest(ctx, http.MethodGet, path, &sdkhttp.RequestOptions{Params: params}, &out)
	if err := classify(op, statusOf(resp), sdkhttp.ParseHTTPError(resp, err)); err != nil {
		return nil, err
	}

	bars := out.Bars
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	res := make([]broker.Bar, 0, len(bars))
	for _, b := range bars {
		res = append(res, broker.Bar{Time: b.T, Open: b.O, High: b.H, Low: b.L, Close: b.C, Volume: b.V})
	}
	return res, nil
}

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}

// classify 把 HTTP 层错误映射为 broker.Error
func classify(op string, status int, err error) error {
	if err == nil {
		return nil
	}
	var se *sdkhttp.StatusError
	if errors.As(err, &se) {
		log.Debugf("%s 失败: status=%d body=%s", op, se.StatusCode, se.Body)
		return broker.NewStatusError(op, se.StatusCode, err)
	}
	if status > 0 {
		return broker.NewStatusError(op, status, err)
	}
	return broker.NewNetworkError(op, err)
}
