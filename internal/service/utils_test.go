package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringConverters(t *testing.T) {
	v, err := StringToFloat("68250.12")
	require.NoError(t, err)
	assert.Equal(t, 68250.12, v)

	_, err = StringToFloat("not-a-number")
	assert.Error(t, err)

	n, err := StringToInt64("1717243200000")
	require.NoError(t, err)
	assert.Equal(t, int64(1717243200000), n)

	_, err = StringToInt64("12.5")
	assert.Error(t, err)
}

func TestFormatInterval(t *testing.T) {
	cases := map[time.Duration]string{
		30 * time.Second:   "30s",
		time.Minute:        "1m",
		5 * time.Minute:    "5m",
		time.Hour:          "1h",
		4 * time.Hour:      "4h",
		24 * time.Hour:     "1d",
		3 * 24 * time.Hour: "3d",
	}
	for d, want := range cases {
		assert.Equal(t, want, FormatInterval(d))
	}

	// 无法整除的周期退回 Duration 原始格式
	assert.Equal(t, "1m30s", FormatInterval(90*time.Second))
}
