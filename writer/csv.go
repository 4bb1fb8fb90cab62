package writer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"ofiflow/models"
)

// csvHeader names the rolling columns after their window, so a 5/20 run
// has ofi_sum_5 and ofi_sum_20. Equal windows get a _long suffix on the
// second column to keep names unique.
func csvHeader(windowShort, windowLong int) []string {
	short := fmt.Sprintf("ofi_sum_%d", windowShort)
	long := fmt.Sprintf("ofi_sum_%d", windowLong)
	if windowShort == windowLong {
		long += "_long"
	}
	return []string{
		"timestamp", "bid_price", "ask_price", "bid_size", "ask_size", "mid_price",
		"buy_volume", "sell_volume", "ofi", short, long, "total_volume", "ofi_norm",
		"mid_price_future", "ret_future", "direction",
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func optionalFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

// EncodeCSV renders rows as comma separated text with a header line. Absent
// labels are empty cells.
func EncodeCSV(rows []models.LabeledRow, windowShort, windowLong int) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader(windowShort, windowLong)); err != nil {
		return nil, err
	}

	record := make([]string, 16)
	for _, r := range rows {
		direction := ""
		if r.Direction != nil {
			direction = strconv.Itoa(int(*r.Direction))
		}
		record = append(record[:0],
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			formatFloat(r.BidPrice),
			formatFloat(r.AskPrice),
			strconv.FormatInt(r.BidSize, 10),
			strconv.FormatInt(r.AskSize, 10),
			formatFloat(r.MidPrice),
			strconv.FormatInt(r.BuyVolume, 10),
			strconv.FormatInt(r.SellVolume, 10),
			strconv.FormatInt(r.OFI, 10),
			strconv.FormatInt(r.OFISumShort, 10),
			strconv.FormatInt(r.OFISumLong, 10),
			strconv.FormatInt(r.TotalVolume, 10),
			formatFloat(r.OFINorm),
			optionalFloat(r.MidPriceFuture),
			optionalFloat(r.RetFuture),
			direction,
		)
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
