package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Options 客户端选项
type Options struct {
	Timeout    time.Duration
	RetryCount int // resty 层面的重试次数（仅 429 / 5xx / 网络错误）
	Headers    map[string]string
	UserAgent  string
}

type Client struct {
	client *resty.Client
}

// NewClient 创建 REST 客户端
// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
func NewClient(host string, opt Options) *Client {
	host = strings.TrimSuffix(host, "/")
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(host).
		SetTimeout(opt.Timeout).
		SetRetryCount(opt.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if s := resp.Header().Get("Retry-After"); s != "" {
					if sec, err := strconv.Atoi(s); err == nil {
						return time.Duration(sec) * time.Second, nil
					}
				}
			}
			return 0, nil
		})

	for k, v := range opt.Headers {
		client.SetHeader(k, v)
	}
	if opt.UserAgent != "" {
		client.SetHeader("User-Agent", opt.UserAgent)
	}
	return &Client{client: client}
}

type RequestOptions struct {
	Params map[string]string
	Data   any
}

func (c *Client) DoRequest(ctx context.Context, method, endpoint string, opt *RequestOptions, out any) (*resty.Response, error) {
	rc := c.client.R().SetContext(ctx)
	rc.SetHeader("Accept", "application/json")
	if opt != nil {
		if opt.Params != nil {
			rc.SetQueryParams(opt.Params)
		}
		if opt.Data != nil {
			rc.SetHeader("Content-Type", "application/json")
			rc.SetBody(opt.Data)
		}
	}
	if out != nil {
		rc.SetResult(out)
	}

	switch strings.ToUpper(method) {
	case http.MethodGet:
		return rc.Get(endpoint)
	case http.MethodPost:
		return rc.Post(endpoint)
	case http.MethodDelete:
		return rc.Delete(endpoint)
	default:
		return nil, fmt.Errorf("unsupported method: %s", method)
	}
}

// StatusError 非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// ParseHTTPError 把传输错误和非 2xx 响应统一成 error。
// 传输错误用 errors.Wrap 包装；非 2xx 返回 *StatusError（可用 errors.As 取出状态码）。
func ParseHTTPError(resp *resty.Response, err error) error {
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	if resp.IsSuccess() {
		return nil
	}
	body := strings.TrimSpace(string(resp.Body()))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(resp.Body(), &payload) == nil && payload.Message != "" {
		body = payload.Message
	}
	return errors.WithStack(&StatusError{StatusCode: resp.StatusCode(), Body: body})
}
