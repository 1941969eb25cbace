// Package storage keeps recorded runs on disk: one directory per run with
// a metadata.json and a states.csv.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID           string             `json:"id"`
	Preset       string             `json:"preset,omitempty"`
	Robot        string             `json:"robot"`
	Timestamp    time.Time          `json:"timestamp"`
	Rate         float64            `json:"rate"`
	Duration     float64            `json:"duration"`
	Integrator   string             `json:"integrator"`
	NIntegration int                `json:"n_integration"`
	Ticks        map[string]int64   `json:"ticks"`
	Errors       map[string]int64   `json:"errors"`
	Metrics      map[string]float64 `json:"metrics"`
}

// Recording is a sampled time series with named columns.
type Recording struct {
	Columns []string
	Times   []float64
	Rows    [][]float64
}

// Column returns the series of the named column.
func (r *Recording) Column(name string) ([]float64, error) {
	for i, c := range r.Columns {
		if c != name {
			continue
		}
		out := make([]float64, len(r.Rows))
		for k, row := range r.Rows {
			if i < len(row) {
				out[k] = row[i]
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("storage: no column %q", name)
}

// Save writes meta and rec under a new run id and returns the id.
func (s *Store) Save(meta RunMetadata, rec *Recording) (string, error) {
	meta.ID = uuid.NewString()
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	runDir := filepath.Join(s.baseDir, meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	metaPath := filepath.Join(runDir, "metadata.json")
	metaFile, err := os.Create(metaPath)
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvPath := filepath.Join(runDir, "states.csv")
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	defer w.Flush()

	if rec == nil || len(rec.Columns) == 0 {
		return meta.ID, nil
	}

	header := append([]string{"time"}, rec.Columns...)
	if err := w.Write(header); err != nil {
		return "", err
	}

	for i := range rec.Rows {
		row := []string{strconv.FormatFloat(rec.Times[i], 'f', 6, 64)}
		for _, val := range rec.Rows[i] {
			row = append(row, strconv.FormatFloat(val, 'f', 6, 64))
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}

	return meta.ID, nil
}

// List returns all stored runs, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })

	return runs, nil
}

// Resolve expands a unique id prefix to the full run id.
func (s *Store) Resolve(prefix string) (string, error) {
	runs, err := s.List()
	if err != nil {
		return "", err
	}
	var match string
	for _, r := range runs {
		if len(r.ID) >= len(prefix) && r.ID[:len(prefix)] == prefix {
			if match != "" {
				return "", fmt.Errorf("storage: run id %q is ambiguous", prefix)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("storage: no run %q", prefix)
	}
	return match, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	metaPath := filepath.Join(s.baseDir, runID, "metadata.json")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

func (s *Store) LoadRecording(runID string) (*Recording, error) {
	csvPath := filepath.Join(s.baseDir, runID, "states.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	rec := &Recording{}
	if len(records) == 0 {
		return rec, nil
	}
	rec.Columns = append(rec.Columns, records[0][1:]...)

	for i := 1; i < len(records); i++ {
		record := records[i]
		if len(record) == 0 {
			continue
		}

		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			continue
		}

		row := make([]float64, 0, len(record)-1)
		for j := 1; j < len(record); j++ {
			val, err := strconv.ParseFloat(record[j], 64)
			if err != nil {
				val = 0
			}
			row = append(row, val)
		}
		rec.Times = append(rec.Times, t)
		rec.Rows = append(rec.Rows, row)
	}

	return rec, nil
}
