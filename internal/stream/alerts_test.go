package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-pair-monitor/internal/model"
)

func TestParseAlertRequestValid(t *testing.T) {
	req, err := ParseAlertRequest("zscore", "BTCUSDT-ETHUSDT", ">", "2.0")
	require.NoError(t, err)
	assert.Equal(t, AlertRequest{Metric: "zscore", Pair: "BTCUSDT-ETHUSDT", Operator: ">", Threshold: 2.0}, req)

	req, err = ParseAlertRequest("price", "BTCUSDT", "<=", "65000")
	require.NoError(t, err)
	assert.Equal(t, 65000.0, req.Threshold)
}

func TestParseAlertRequestViolations(t *testing.T) {
	cases := []struct {
		name      string
		metric    string
		pair      string
		operator  string
		threshold string
		wantErr   string
	}{
		{"pair metric without separator", "zscore", "BTCUSDT", ">", "2", "requires a pair identifier"},
		{"spread without separator", "spread", "BTCUSDT", ">", "2", "requires a pair identifier"},
		{"correlation malformed pair", "correlation", "-ETHUSDT", ">", "0.5", "requires a pair identifier"},
		{"price with pair", "price", "BTCUSDT-ETHUSDT", ">", "100", "single symbol"},
		{"price without symbol", "price", "", ">", "100", "requires a symbol"},
		{"unknown metric", "volume", "BTCUSDT", ">", "100", "unsupported alert metric"},
		{"bad operator", "zscore", "BTCUSDT-ETHUSDT", "~", "2", "unsupported alert operator"},
		{"non-numeric threshold", "zscore", "BTCUSDT-ETHUSDT", ">", "abc", "finite number"},
		{"nan threshold", "zscore", "BTCUSDT-ETHUSDT", ">", "NaN", "finite number"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAlertRequest(tc.metric, tc.pair, tc.operator, tc.threshold)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNotifierPassThrough(t *testing.T) {
	n := NewNotifier(2)

	assert.True(t, n.Dispatch(model.AlertEvent{Message: "one"}))
	assert.True(t, n.Dispatch(model.AlertEvent{Message: "two"}))
	// 缓冲满后非阻塞丢弃，绝不阻塞摄取循环
	assert.False(t, n.Dispatch(model.AlertEvent{Message: "three"}))

	ev := <-n.Events()
	assert.Equal(t, "one", ev.Message)
	ev = <-n.Events()
	assert.Equal(t, "two", ev.Message)
}
