package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DataFile describes a single file written by an export.
type DataFile struct {
	Path        string            `json:"path"`
	Format      string            `json:"format"`
	FileSize    int64             `json:"file_size_in_bytes"`
	RecordCount int64             `json:"record_count"`
	Partition   map[string]string `json:"partition"`
}

// PipelineParams are the settings a run was produced with. The parquet
// rolling columns are named short/long, so readers need the windows from here.
type PipelineParams struct {
	Interval      string  `json:"interval"`
	WindowShort   int     `json:"window_short"`
	WindowLong    int     `json:"window_long"`
	Horizon       int     `json:"horizon"`
	Threshold     float64 `json:"threshold"`
	ZeroMidPolicy string  `json:"zero_mid_policy"`
}

// RunManifest lists everything one run exported.
type RunManifest struct {
	FormatVersion int            `json:"format-version"`
	RunID         string         `json:"run-id"`
	Symbol        string         `json:"symbol"`
	CreatedAt     time.Time      `json:"created-at"`
	Pipeline      PipelineParams `json:"pipeline"`
	Rows          int            `json:"rows"`
	CompleteRows  int            `json:"complete-rows"`
	Files         []DataFile     `json:"files"`
}

// ManifestName is the file name of a run's manifest under metadata/.
func ManifestName(runID string) string {
	return fmt.Sprintf("run-%s.json", runID)
}

// Encode returns the manifest as indented JSON.
func Encode(m RunManifest) ([]byte, error) {
	if m.FormatVersion == 0 {
		m.FormatVersion = 1
	}
	return json.MarshalIndent(m, "", "  ")
}

// Generator writes run manifests under basePath/metadata.
type Generator struct {
	basePath string
}

// NewGenerator returns a metadata generator rooted at basePath.
func NewGenerator(basePath string) *Generator {
	return &Generator{basePath: basePath}
}

// Write stores the manifest and points latest.json at it. It returns the
// manifest path.
func (g *Generator) Write(m RunManifest) (string, error) {
	b, err := Encode(m)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(g.basePath, "metadata")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	manifestPath := filepath.Join(dir, ManifestName(m.RunID))
	if err := os.WriteFile(manifestPath, b, 0o644); err != nil {
		return "", err
	}

	latest := map[string]string{
		"run_id":            m.RunID,
		"manifest_location": manifestPath,
	}
	lb, err := json.MarshalIndent(latest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "latest.json"), lb, 0o644); err != nil {
		return "", err
	}
	return manifestPath, nil
}

// Latest reads the manifest latest.json points at.
func (g *Generator) Latest() (*RunManifest, error) {
	b, err := os.ReadFile(filepath.Join(g.basePath, "metadata", "latest.json"))
	if err != nil {
		return nil, err
	}
	var latest map[string]string
	if err := json.Unmarshal(b, &latest); err != nil {
		return nil, err
	}
	mb, err := os.ReadFile(latest["manifest_location"])
	if err != nil {
		return nil, err
	}
	var m RunManifest
	if err := json.Unmarshal(mb, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
