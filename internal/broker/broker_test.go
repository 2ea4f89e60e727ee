package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", NewStatusError("submit_order", 429, errors.New("rate limited")), true},
		{"503", NewStatusError("submit_order", 503, errors.New("unavailable")), true},
		{"422", NewStatusError("submit_order", 422, errors.New("invalid qty")), false},
		{"403", NewStatusError("submit_order", 403, errors.New("buying power")), false},
		{"network", NewNetworkError("submit_order", errors.New("connection reset")), true},
		{"wrapped", fmt.Errorf("提交失败: %w", NewStatusError("submit_order", 400, errors.New("bad"))), false},
		{"unknown", errors.New("boom"), true},
		{"canceled", fmt.Errorf("wait: %w", context.Canceled), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, IsRetryable(c.err))
		})
	}
}

func TestError_Message(t *testing.T) {
	err := NewStatusError("open_orders", 500, errors.New("oops"))
	assert.Equal(t, "broker open_orders: status 500: oops", err.Error())
	assert.Equal(t, "broker account: eof", NewNetworkError("account", errors.New("eof")).Error())
}
