package analytics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"crypto-pair-monitor/internal/model"
)

// exportHeader 与 exportRow 的字段一一对应
var exportHeader = []string{"timestamp", "spread", "zscore", "correlation"}

type exportRow struct {
	Timestamp   int64
	Spread      float64
	ZScore      float64
	Correlation float64
}

func (r exportRow) record() []string {
	return []string{
		strconv.FormatInt(r.Timestamp, 10),
		strconv.FormatFloat(r.Spread, 'f', -1, 64),
		strconv.FormatFloat(r.ZScore, 'f', -1, 64),
		strconv.FormatFloat(r.Correlation, 'f', -1, 64),
	}
}

// ExportCSV 将快照中按下标对齐的序列扁平化为逐行 CSV
// 每行对应一个下标：{timestamp, spread, zscore, correlation}
func ExportCSV(w io.Writer, snap *model.AnalyticsSnapshot) error {
	if snap == nil {
		return fmt.Errorf("no analytics snapshot to export")
	}
	n := len(snap.Spread)
	if len(snap.ZScore) != n || len(snap.RollingCorr) != n {
		return fmt.Errorf("misaligned series: spread=%d zscore=%d corr=%d", n, len(snap.ZScore), len(snap.RollingCorr))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		row := exportRow{
			Timestamp:   snap.Spread[i].Ts,
			Spread:      snap.Spread[i].Value,
			ZScore:      snap.ZScore[i].Value,
			Correlation: snap.RollingCorr[i].Value,
		}
		if err := cw.Write(row.record()); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
