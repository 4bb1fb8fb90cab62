package writer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	appconfig "ofiflow/config"
	"ofiflow/internal/metadata"
	"ofiflow/logger"
	"ofiflow/models"
)

// testRows returns four rows straddling 10:00 UTC; the first two are labeled.
func testRows() []models.LabeledRow {
	start := time.Date(2025, 1, 1, 9, 59, 58, 0, time.UTC)
	rows := make([]models.LabeledRow, 4)
	for i := range rows {
		mid := 100 + float64(i)/10
		rows[i] = models.LabeledRow{FeatureRow: models.FeatureRow{
			Bar: models.Bar{
				Timestamp:  start.Add(time.Duration(i) * time.Second),
				BidPrice:   mid - 0.01,
				AskPrice:   mid + 0.01,
				BidSize:    10,
				AskSize:    12,
				BuyVolume:  int64(i),
				SellVolume: 1,
				MidPrice:   mid,
			},
			OFI:         int64(i) - 1,
			OFISumShort: int64(i),
			OFISumLong:  int64(2 * i),
			TotalVolume: int64(i) + 1,
			OFINorm:     float64(i-1) / float64(i+1),
		}}
	}
	for i := 0; i < 2; i++ {
		future := rows[i+2].MidPrice
		ret := (future - rows[i].MidPrice) / rows[i].MidPrice
		dir := models.Up
		rows[i].MidPriceFuture = &future
		rows[i].RetFuture = &ret
		rows[i].Direction = &dir
	}
	return rows
}

func TestEncodeParquet(t *testing.T) {
	rows := testRows()
	for _, compression := range []string{"snappy", "gzip", "uncompressed"} {
		data, err := EncodeParquet(rows, compression)
		if err != nil {
			t.Fatalf("%s: encode: %v", compression, err)
		}
		if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
			t.Fatalf("%s: output is not a parquet file", compression)
		}
		again, err := EncodeParquet(rows, compression)
		if err != nil {
			t.Fatalf("%s: encode: %v", compression, err)
		}
		if !bytes.Equal(data, again) {
			t.Fatalf("%s: identical rows encoded differently", compression)
		}
	}

	if _, err := EncodeParquet(rows, "lzo"); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration for lzo, got %v", err)
	}
}

func TestEncodeParquetRejectsSubMicrosecondTimestamps(t *testing.T) {
	rows := testRows()
	rows[1].Timestamp = rows[1].Timestamp.Add(500 * time.Nanosecond)
	if _, err := EncodeParquet(rows, "snappy"); !errors.Is(err, models.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	if _, err := EncodeCSV(rows, 5, 20); err != nil {
		t.Fatalf("csv keeps nanoseconds: %v", err)
	}
}

func TestWriteParquetFileReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.parquet")
	if err := WriteParquetFile(path, testRows(), "snappy"); err != nil {
		t.Fatalf("write: %v", err)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(LabeledRecord), 1)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer pr.ReadStop()

	if n := pr.GetNumRows(); n != 4 {
		t.Fatalf("expected 4 rows, got %d", n)
	}
	got := make([]LabeledRecord, 4)
	if err := pr.Read(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !got[0].Complete || got[0].Direction == nil || *got[0].Direction != 1 {
		t.Fatalf("row 0 lost its label: %+v", got[0])
	}
	if got[3].Complete || got[3].MidPriceFuture != nil || got[3].RetFuture != nil || got[3].Direction != nil {
		t.Fatalf("row 3 should have null labels: %+v", got[3])
	}
	if got[2].Timestamp != testRows()[2].Timestamp.UnixMicro() {
		t.Fatalf("unexpected timestamp %d", got[2].Timestamp)
	}
}

func TestEncodeCSV(t *testing.T) {
	data, err := EncodeCSV(testRows(), 5, 20)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header and 4 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[0], ",ofi_sum_5,ofi_sum_20,") {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2025-01-01T09:59:58Z,") || !strings.Contains(lines[1], ",10,12,100,0,1,") {
		t.Fatalf("unexpected first row %q", lines[1])
	}
	if !strings.HasSuffix(lines[1], ",1") {
		t.Fatalf("expected direction 1 on first row, got %q", lines[1])
	}
	if !strings.HasSuffix(lines[4], ",,,") {
		t.Fatalf("expected empty label cells on last row, got %q", lines[4])
	}
}

func TestCSVHeaderEqualWindows(t *testing.T) {
	h := csvHeader(10, 10)
	if h[9] != "ofi_sum_10" || h[10] != "ofi_sum_10_long" {
		t.Fatalf("unexpected rolling columns %q, %q", h[9], h[10])
	}
}

func TestPartition(t *testing.T) {
	rows := testRows()
	parts := Partition(rows, "{year}/{month}/{day}/{hour}")
	if len(parts) != 2 {
		t.Fatalf("expected 2 partitions, got %d", len(parts))
	}
	if parts[0].Path != "2025/01/01/09" || parts[1].Path != "2025/01/01/10" {
		t.Fatalf("unexpected paths %q, %q", parts[0].Path, parts[1].Path)
	}
	if len(parts[0].Rows) != 2 || len(parts[1].Rows) != 2 {
		t.Fatalf("unexpected sizes %d/%d", len(parts[0].Rows), len(parts[1].Rows))
	}
	if !parts[1].Start.Equal(rows[2].Timestamp) {
		t.Fatalf("unexpected partition start %s", parts[1].Start)
	}

	if got := Partition(rows, "{year}"); len(got) != 1 || len(got[0].Rows) != 4 {
		t.Fatalf("expected a single yearly partition")
	}
	if got := Partition(nil, "{year}"); len(got) != 0 {
		t.Fatalf("expected no partitions for no rows")
	}
}

func TestObjectPath(t *testing.T) {
	part := TimePartition{Path: "2025/01/01/09", Start: time.Date(2025, 1, 1, 9, 59, 58, 0, time.UTC)}
	got := objectPath([]string{"symbol", "run_id"}, "SYNTH", "0123456789abcdef", part, "parquet")
	want := "symbol=SYNTH/run_id=0123456789abcdef/2025/01/01/09/SYNTH_ofi_20250101095958_01234567.parquet"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

type fakePutter struct {
	mu   sync.Mutex
	puts map[string][]byte
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func testExporter(t *testing.T, putter objectPutter) (*Exporter, *appconfig.Config) {
	t.Helper()
	cfg := appconfig.Default()
	cfg.Writer.OutputDir = t.TempDir()
	cfg.Writer.Formats.CSV.Enabled = true
	e := &Exporter{config: &cfg, log: logger.GetLogger()}
	if putter != nil {
		e.uploader = newS3Uploader(putter, appconfig.S3Config{
			Bucket:            "ofiflow-test",
			Prefix:            "features",
			RequestsPerSecond: 1000,
			Burst:             10,
		}, "test")
	}
	return e, &cfg
}

func TestExportLocal(t *testing.T) {
	e, cfg := testExporter(t, nil)
	files, err := e.Export(context.Background(), "run-1", testRows())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("expected 4 files (2 partitions x 2 formats), got %d", len(files))
	}
	for _, f := range files {
		if !strings.HasPrefix(f.LocalPath, cfg.Writer.OutputDir) {
			t.Errorf("file %s outside output dir", f.LocalPath)
		}
		info, err := os.Stat(f.LocalPath)
		if err != nil {
			t.Fatalf("stat %s: %v", f.LocalPath, err)
		}
		if int(info.Size()) != f.Bytes || f.Bytes == 0 {
			t.Errorf("%s: size %d, reported %d", f.Path, info.Size(), f.Bytes)
		}
		if f.S3Key != "" {
			t.Errorf("unexpected s3 key %q", f.S3Key)
		}
	}
	if !strings.HasPrefix(files[0].Path, "symbol=SYNTH/2025/01/01/09/") {
		t.Fatalf("unexpected path %q", files[0].Path)
	}

	m, err := metadata.NewGenerator(cfg.Writer.OutputDir).Latest()
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.RunID != "run-1" || m.Rows != 4 || m.CompleteRows != 2 || len(m.Files) != 4 {
		t.Fatalf("unexpected manifest %+v", m)
	}
	if m.Files[0].Partition["symbol"] != "SYNTH" || m.Files[0].Partition["time"] != "2025/01/01/09" {
		t.Fatalf("unexpected partition %v", m.Files[0].Partition)
	}
	if m.Pipeline.WindowShort != 5 || m.Pipeline.WindowLong != 20 {
		t.Fatalf("manifest lost the window sizes: %+v", m.Pipeline)
	}
}

func TestExportUploads(t *testing.T) {
	putter := &fakePutter{}
	e, _ := testExporter(t, putter)
	files, err := e.Export(context.Background(), "run-2", testRows())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(putter.puts) != len(files)+1 {
		t.Fatalf("expected %d uploads, got %d", len(files)+1, len(putter.puts))
	}
	if _, ok := putter.puts["features/metadata/run-run-2.json"]; !ok {
		t.Fatalf("run manifest was not uploaded")
	}
	for _, f := range files {
		if !strings.HasPrefix(f.S3Key, "features/") {
			t.Errorf("key %q missing prefix", f.S3Key)
		}
		onDisk, err := os.ReadFile(f.LocalPath)
		if err != nil {
			t.Fatalf("read %s: %v", f.LocalPath, err)
		}
		if !bytes.Equal(onDisk, putter.puts[f.S3Key]) {
			t.Errorf("%s: uploaded bytes differ from local file", f.S3Key)
		}
	}
}

func TestExportUploadError(t *testing.T) {
	e, _ := testExporter(t, &fakePutter{err: errors.New("access denied")})
	files, err := e.Export(context.Background(), "run-3", testRows())
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("expected upload error, got %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no completed files, got %d", len(files))
	}
}

func TestExportCanceled(t *testing.T) {
	e, _ := testExporter(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Export(ctx, "run-4", testRows()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
