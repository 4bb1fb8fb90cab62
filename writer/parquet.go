package writer

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"ofiflow/models"
)

// LabeledRecord is the parquet layout of a labeled row. Label columns are
// optional and null on rows the horizon runs past.
type LabeledRecord struct {
	Timestamp      int64    `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	BidPrice       float64  `parquet:"name=bid_price, type=DOUBLE"`
	AskPrice       float64  `parquet:"name=ask_price, type=DOUBLE"`
	BidSize        int64    `parquet:"name=bid_size, type=INT64"`
	AskSize        int64    `parquet:"name=ask_size, type=INT64"`
	MidPrice       float64  `parquet:"name=mid_price, type=DOUBLE"`
	BuyVolume      int64    `parquet:"name=buy_volume, type=INT64"`
	SellVolume     int64    `parquet:"name=sell_volume, type=INT64"`
	OFI            int64    `parquet:"name=ofi, type=INT64"`
	OFISumShort    int64    `parquet:"name=ofi_sum_short, type=INT64"`
	OFISumLong     int64    `parquet:"name=ofi_sum_long, type=INT64"`
	TotalVolume    int64    `parquet:"name=total_volume, type=INT64"`
	OFINorm        float64  `parquet:"name=ofi_norm, type=DOUBLE"`
	MidPriceFuture *float64 `parquet:"name=mid_price_future, type=DOUBLE, repetitiontype=OPTIONAL"`
	RetFuture      *float64 `parquet:"name=ret_future, type=DOUBLE, repetitiontype=OPTIONAL"`
	Direction      *int32   `parquet:"name=direction, type=INT32, repetitiontype=OPTIONAL"`
	Complete       bool     `parquet:"name=complete, type=BOOLEAN"`
}

func newLabeledRecord(r models.LabeledRow) LabeledRecord {
	rec := LabeledRecord{
		Timestamp:      r.Timestamp.UnixMicro(),
		BidPrice:       r.BidPrice,
		AskPrice:       r.AskPrice,
		BidSize:        r.BidSize,
		AskSize:        r.AskSize,
		MidPrice:       r.MidPrice,
		BuyVolume:      r.BuyVolume,
		SellVolume:     r.SellVolume,
		OFI:            r.OFI,
		OFISumShort:    r.OFISumShort,
		OFISumLong:     r.OFISumLong,
		TotalVolume:    r.TotalVolume,
		OFINorm:        r.OFINorm,
		MidPriceFuture: r.MidPriceFuture,
		RetFuture:      r.RetFuture,
		Complete:       r.Complete(),
	}
	if r.Direction != nil {
		d := int32(*r.Direction)
		rec.Direction = &d
	}
	return rec
}

// memoryFile is a write-only parquet file backed by a buffer.
type memoryFile struct {
	buf *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buf: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }

// Seek only reports the current size; the parquet writer never rewinds.
func (m *memoryFile) Seek(int64, int) (int64, error) { return int64(m.buf.Len()), nil }

func (m *memoryFile) Read(b []byte) (int, error)  { return m.buf.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buf.Write(b) }
func (m *memoryFile) Close() error                { return nil }

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch name {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("%w: unsupported parquet compression %q", models.ErrInvalidConfiguration, name)
	}
}

// writeParquet encodes rows into pf and closes the writer. A single marshal
// goroutine keeps the output identical for identical input.
func writeParquet(pf source.ParquetFile, rows []models.LabeledRow, compression string) error {
	codec, err := compressionCodec(compression)
	if err != nil {
		return err
	}

	pw, err := writer.NewParquetWriter(pf, new(LabeledRecord), 1)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = codec

	for i, r := range rows {
		if r.Timestamp.Nanosecond()%int(time.Microsecond) != 0 {
			pw.WriteStop()
			return fmt.Errorf("%w: row %d timestamp %s is finer than a microsecond", models.ErrInvalidConfiguration, i, r.Timestamp.Format(time.RFC3339Nano))
		}
		if err := pw.Write(newLabeledRecord(r)); err != nil {
			pw.WriteStop()
			return fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return nil
}

// EncodeParquet returns rows as an in-memory parquet file.
func EncodeParquet(rows []models.LabeledRow, compression string) ([]byte, error) {
	mf := newMemoryFile()
	if err := writeParquet(mf, rows, compression); err != nil {
		return nil, err
	}
	return mf.buf.Bytes(), nil
}

// WriteParquetFile writes rows to a parquet file at path.
func WriteParquetFile(path string, rows []models.LabeledRow, compression string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := writeParquet(fw, rows, compression); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}
