package stream

import (
	"fmt"
	"math"
	"strings"

	"crypto-pair-monitor/internal/model"
	"crypto-pair-monitor/internal/service"
)

// 阈值判定在外部完成；本侧只在提交注册请求之前做前置校验，
// 并把已判定的告警事件原样转发给消费方。

// AlertRequest 校验通过的告警注册请求
type AlertRequest struct {
	Metric    string  `json:"metric"`
	Pair      string  `json:"pair"`
	Operator  string  `json:"operator"`
	Threshold float64 `json:"threshold"`
}

// pairMetrics 需要双交易对标识 (含分隔符) 的指标
var pairMetrics = map[string]bool{
	"zscore":      true,
	"spread":      true,
	"correlation": true,
}

var validOperators = map[string]bool{
	">": true, "<": true, ">=": true, "<=": true,
}

// ParseAlertRequest 逐项校验注册参数，每个违规给出具体原因
//   - zscore/spread/correlation 要求形如 "SYM1-SYM2" 的配对标识
//   - price 要求单一交易对 (不含分隔符)
//   - threshold 必须是合法的有限数字
func ParseAlertRequest(metric, pair, operator, threshold string) (AlertRequest, error) {
	hasSep := strings.Contains(pair, "-")

	switch {
	case pairMetrics[metric]:
		if !hasSep || strings.HasPrefix(pair, "-") || strings.HasSuffix(pair, "-") {
			return AlertRequest{}, fmt.Errorf("metric %q requires a pair identifier like SYMBOL1-SYMBOL2, got %q", metric, pair)
		}
	case metric == "price":
		if pair == "" {
			return AlertRequest{}, fmt.Errorf("metric \"price\" requires a symbol")
		}
		if hasSep {
			return AlertRequest{}, fmt.Errorf("metric \"price\" requires a single symbol, got pair %q", pair)
		}
	default:
		return AlertRequest{}, fmt.Errorf("unsupported alert metric %q", metric)
	}

	if !validOperators[operator] {
		return AlertRequest{}, fmt.Errorf("unsupported alert operator %q", operator)
	}

	value, err := service.StringToFloat(threshold)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return AlertRequest{}, fmt.Errorf("alert threshold must be a finite number, got %q", threshold)
	}

	return AlertRequest{
		Metric:    metric,
		Pair:      pair,
		Operator:  operator,
		Threshold: value,
	}, nil
}

// Notifier 告警透传：接收传输层推来的已判定事件，原样转发给消费方
type Notifier struct {
	events chan model.AlertEvent
}

func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 64
	}
	return &Notifier{events: make(chan model.AlertEvent, buffer)}
}

// Dispatch 非阻塞转发；消费方跟不上时丢弃，不能阻塞摄取循环
func (n *Notifier) Dispatch(ev model.AlertEvent) bool {
	select {
	case n.events <- ev:
		return true
	default:
		return false
	}
}

// Events 供消费方读取的事件通道
func (n *Notifier) Events() <-chan model.AlertEvent {
	return n.events
}
