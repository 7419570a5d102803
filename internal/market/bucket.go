package market

import (
	"strconv"
	"time"
)

// DefaultTimeframe 无法识别的周期字符串统一回退为 1 分钟 (兜底行为，不报错)
const DefaultTimeframe = time.Minute

// TimeframeDuration 将周期字符串解析为 time.Duration
// 语法：整数 + 单位 {s, m, h, d}；特殊值 "live" 等价于 1 秒
func TimeframeDuration(tf string) time.Duration {
	if tf == "live" {
		return time.Second
	}
	if len(tf) < 2 {
		return DefaultTimeframe
	}

	value, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || value <= 0 {
		return DefaultTimeframe
	}

	switch tf[len(tf)-1] {
	case 's':
		return time.Duration(value) * time.Second
	case 'm':
		return time.Duration(value) * time.Minute
	case 'h':
		return time.Duration(value) * time.Hour
	case 'd':
		return time.Duration(value) * 24 * time.Hour
	default:
		return DefaultTimeframe
	}
}

// BucketStart 将时刻向下取整到所属桶的起始时间 (UTC 对齐)
func BucketStart(t time.Time, tf string) time.Time {
	return t.UTC().Truncate(TimeframeDuration(tf))
}
