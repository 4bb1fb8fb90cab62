package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	appconfig "ofiflow/config"
	"ofiflow/internal/metadata"
	"ofiflow/internal/metrics"
	"ofiflow/logger"
	"ofiflow/models"
)

// ExportedFile describes one file produced by an export.
type ExportedFile struct {
	Format    string
	Path      string // relative, slash separated
	TimePath  string
	LocalPath string // empty when output_dir is unset
	S3Key     string // empty when S3 is disabled
	Rows      int
	Bytes     int
}

// Exporter writes labeled rows in the configured formats, one file per
// time partition, to output_dir and optionally to S3.
type Exporter struct {
	config   *appconfig.Config
	uploader *S3Uploader
	log      *logger.Log
}

// NewExporter creates an Exporter. The S3 client is only built when S3 is
// enabled.
func NewExporter(ctx context.Context, cfg *appconfig.Config) (*Exporter, error) {
	e := &Exporter{config: cfg, log: logger.GetLogger()}
	if cfg.Storage.S3.Enabled {
		u, err := NewS3Uploader(ctx, cfg.Storage.S3, cfg.Ofiflow.Version)
		if err != nil {
			return nil, err
		}
		e.uploader = u
	}
	return e, nil
}

type encoder struct {
	format string
	ext    string
	encode func([]models.LabeledRow) ([]byte, error)
	// writeFile, when set, writes straight to disk without buffering
	writeFile func(string, []models.LabeledRow) error
}

func (e *Exporter) encoders() []encoder {
	var out []encoder
	f := e.config.Writer.Formats
	if f.Parquet.Enabled {
		compression := f.Parquet.Compression
		out = append(out, encoder{
			format: "parquet",
			ext:    "parquet",
			encode: func(rows []models.LabeledRow) ([]byte, error) {
				return EncodeParquet(rows, compression)
			},
			writeFile: func(path string, rows []models.LabeledRow) error {
				return WriteParquetFile(path, rows, compression)
			},
		})
	}
	if f.CSV.Enabled {
		short, long := e.config.Pipeline.WindowShort, e.config.Pipeline.WindowLong
		out = append(out, encoder{
			format: "csv",
			ext:    "csv",
			encode: func(rows []models.LabeledRow) ([]byte, error) {
				return EncodeCSV(rows, short, long)
			},
		})
	}
	return out
}

// Export writes rows for runID. Files already written stay in place when a
// later partition fails.
func (e *Exporter) Export(ctx context.Context, runID string, rows []models.LabeledRow) ([]ExportedFile, error) {
	wcfg := e.config.Writer
	symbol := e.config.Source.Synthetic.Symbol
	log := e.log.WithComponent("exporter").WithFields(logger.Fields{
		"run_id": runID,
		"rows":   len(rows),
	})

	encoders := e.encoders()
	if len(encoders) == 0 {
		log.Warn("no export format enabled, nothing to write")
		return nil, nil
	}

	start := time.Now()
	parts := Partition(rows, wcfg.Partitioning.TimeFormat)
	var files []ExportedFile
	for _, part := range parts {
		for _, enc := range encoders {
			if err := ctx.Err(); err != nil {
				return files, err
			}

			rel := objectPath(wcfg.Partitioning.AdditionalKeys, symbol, runID, part, enc.ext)
			file, err := e.exportPartition(ctx, enc, rel, part.Rows)
			file.TimePath = part.Path
			if err != nil {
				log.WithError(err).WithFields(logger.Fields{"path": rel, "format": enc.format}).Error("failed to export partition")
				return files, err
			}

			metrics.AddExportBytes(enc.format, file.Bytes)
			log.WithFields(logger.Fields{
				"format":     enc.format,
				"path":       rel,
				"file_rows":  file.Rows,
				"file_size":  file.Bytes,
				"local_path": file.LocalPath,
				"s3_key":     file.S3Key,
			}).Info("partition exported")
			files = append(files, file)
		}
	}

	manifest, err := e.writeManifest(ctx, runID, rows, files)
	if err != nil {
		log.WithError(err).Error("failed to write run manifest")
		return files, err
	}
	log.WithFields(logger.Fields{"manifest": manifest}).Info("run manifest written")

	logger.LogPerformanceEntry(log, "exporter", "export", time.Since(start), logger.Fields{
		"partitions": len(parts),
		"files":      len(files),
	})
	logger.LogDataFlowEntry(log, "labeled_rows", "files", len(rows), "export")
	return files, nil
}

func (e *Exporter) exportPartition(ctx context.Context, enc encoder, rel string, rows []models.LabeledRow) (ExportedFile, error) {
	file := ExportedFile{Format: enc.format, Path: rel, Rows: len(rows)}
	outputDir := e.config.Writer.OutputDir
	if outputDir != "" {
		file.LocalPath = filepath.Join(outputDir, filepath.FromSlash(rel))
	}

	if e.uploader == nil && file.LocalPath != "" && enc.writeFile != nil {
		if err := os.MkdirAll(filepath.Dir(file.LocalPath), 0o755); err != nil {
			return file, fmt.Errorf("failed to create directory for %s: %w", file.LocalPath, err)
		}
		if err := enc.writeFile(file.LocalPath, rows); err != nil {
			return file, err
		}
		info, err := os.Stat(file.LocalPath)
		if err != nil {
			return file, err
		}
		file.Bytes = int(info.Size())
		return file, nil
	}

	data, err := enc.encode(rows)
	if err != nil {
		return file, fmt.Errorf("encode %s: %w", rel, err)
	}
	file.Bytes = len(data)
	if file.LocalPath != "" {
		if err := writeLocal(file.LocalPath, data); err != nil {
			return file, err
		}
	}
	if e.uploader != nil {
		file.S3Key = e.uploader.Key(rel)
		if err := e.uploader.Upload(ctx, file.S3Key, enc.format, data); err != nil {
			return file, err
		}
	}
	return file, nil
}

// writeManifest records the run's files and pipeline settings next to the
// data, and in the bucket when S3 is enabled.
func (e *Exporter) writeManifest(ctx context.Context, runID string, rows []models.LabeledRow, files []ExportedFile) (string, error) {
	p := e.config.Pipeline
	m := metadata.RunManifest{
		RunID:     runID,
		Symbol:    e.config.Source.Synthetic.Symbol,
		CreatedAt: time.Now().UTC(),
		Pipeline: metadata.PipelineParams{
			Interval:      p.Interval.String(),
			WindowShort:   p.WindowShort,
			WindowLong:    p.WindowLong,
			Horizon:       p.Horizon,
			Threshold:     p.Threshold,
			ZeroMidPolicy: p.ZeroMidPolicy,
		},
		Rows:         len(rows),
		CompleteRows: len(models.CompleteRows(rows)),
	}
	keys := keyValues(e.config.Writer.Partitioning.AdditionalKeys, m.Symbol, runID)
	for _, f := range files {
		partition := map[string]string{"time": f.TimePath}
		for k, v := range keys {
			partition[k] = v
		}
		m.Files = append(m.Files, metadata.DataFile{
			Path:        f.Path,
			Format:      f.Format,
			FileSize:    int64(f.Bytes),
			RecordCount: int64(f.Rows),
			Partition:   partition,
		})
	}

	location := ""
	if dir := e.config.Writer.OutputDir; dir != "" {
		path, err := metadata.NewGenerator(dir).Write(m)
		if err != nil {
			return "", err
		}
		location = path
	}
	if e.uploader != nil {
		data, err := metadata.Encode(m)
		if err != nil {
			return "", err
		}
		key := e.uploader.Key("metadata/" + metadata.ManifestName(runID))
		if err := e.uploader.Upload(ctx, key, "json", data); err != nil {
			return "", err
		}
		if location == "" {
			location = key
		}
	}
	return location, nil
}

func writeLocal(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
