// Package store writes recorded runs in exchange formats.
package store

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/slservo/internal/storage"
)

type ExportData struct {
	ID           string             `json:"id"`
	Preset       string             `json:"preset,omitempty"`
	Robot        string             `json:"robot"`
	Rate         float64            `json:"rate"`
	Duration     float64            `json:"duration"`
	Integrator   string             `json:"integrator"`
	NIntegration int                `json:"n_integration"`
	Ticks        map[string]int64   `json:"ticks"`
	Errors       map[string]int64   `json:"errors"`
	Steps        int                `json:"steps"`
	Columns      []string           `json:"columns"`
	Times        []float64          `json:"times"`
	States       [][]float64        `json:"states"`
	Metrics      map[string]float64 `json:"metrics"`
}

func NewExportData(meta *storage.RunMetadata, rec *storage.Recording) ExportData {
	data := ExportData{
		ID:           meta.ID,
		Preset:       meta.Preset,
		Robot:        meta.Robot,
		Rate:         meta.Rate,
		Duration:     meta.Duration,
		Integrator:   meta.Integrator,
		NIntegration: meta.NIntegration,
		Ticks:        meta.Ticks,
		Errors:       meta.Errors,
		Metrics:      meta.Metrics,
	}
	if rec != nil {
		data.Steps = len(rec.Times)
		data.Columns = rec.Columns
		data.Times = rec.Times
		data.States = rec.Rows
	}
	return data
}

func ExportJSON(path string, meta *storage.RunMetadata, rec *storage.Recording) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return WriteJSON(file, meta, rec)
}

func WriteJSON(w io.Writer, meta *storage.RunMetadata, rec *storage.Recording) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(NewExportData(meta, rec))
}
