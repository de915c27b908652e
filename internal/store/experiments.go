package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/chartflow/chartflow/pkg/models"
)

// Experiments persists experiment runs, one directory per experiment with
// metadata.json, status.json, and results.json. Status and results are
// written read-modify-write under the cache lock; there is no multi-file
// transaction, so a reader may see a processed count one ahead of the
// appended results.
type Experiments struct {
	dir string

	mu    sync.Mutex
	index []string // nil until loaded
}

func (e *Experiments) expDir(name string) string {
	return filepath.Join(e.dir, name)
}

// List returns experiment names, rebuilt from disk after invalidation.
func (e *Experiments) List() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == nil {
		names, err := listNames(e.dir, false)
		if err != nil {
			return nil, err
		}
		if names == nil {
			// nil marks "not loaded"; an empty directory must still
			// count as loaded.
			names = []string{}
		}
		e.index = names
	}
	out := make([]string, len(e.index))
	copy(out, e.index)
	return out, nil
}

// Exists reports whether an experiment with the name is on disk.
func (e *Experiments) Exists(name string) bool {
	names, err := e.List()
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// Invalidate drops the experiment index; the next List rebuilds it.
func (e *Experiments) Invalidate() {
	e.mu.Lock()
	e.index = nil
	e.mu.Unlock()
}

// Create writes the initial metadata, status, and empty results files.
func (e *Experiments) Create(exp *models.Experiment, status *models.ExperimentStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	dir := e.expDir(exp.Name)
	if err := writeJSON(filepath.Join(dir, "metadata.json"), exp); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "status.json"), status); err != nil {
		return err
	}
	empty := models.ExperimentResults{
		OutputDefinitions: []models.OutputDefinition{},
		OutputValues:      []models.OutputValue{},
	}
	if err := writeJSON(filepath.Join(dir, "results.json"), empty); err != nil {
		return err
	}
	e.index = nil
	return nil
}

// Metadata loads an experiment's metadata record.
func (e *Experiments) Metadata(name string) (*models.Experiment, error) {
	var exp models.Experiment
	if err := readJSON(filepath.Join(e.expDir(name), "metadata.json"), &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

// SaveMetadata replaces an experiment's metadata record.
func (e *Experiments) SaveMetadata(exp *models.Experiment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return writeJSON(filepath.Join(e.expDir(exp.Name), "metadata.json"), exp)
}

// Status loads an experiment's live status.
func (e *Experiments) Status(name string) (*models.ExperimentStatus, error) {
	var st models.ExperimentStatus
	if err := readJSON(filepath.Join(e.expDir(name), "status.json"), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveStatus replaces an experiment's status.
func (e *Experiments) SaveStatus(name string, st *models.ExperimentStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return writeJSON(filepath.Join(e.expDir(name), "status.json"), st)
}

// UpdateStatus applies dotted-path updates (e.g. "progress.processed_count")
// to status.json in one read-modify-write.
func (e *Experiments) UpdateStatus(name string, updates map[string]any) (*models.ExperimentStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := filepath.Join(e.expDir(name), "status.json")
	raw := map[string]any{}
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	for key, value := range updates {
		setDottedPath(raw, key, value)
	}
	if err := writeJSON(path, raw); err != nil {
		return nil, err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var st models.ExperimentStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("store: status for %q no longer parses: %w", name, err)
	}
	return &st, nil
}

// Results loads an experiment's accumulated results.
func (e *Experiments) Results(name string) (*models.ExperimentResults, error) {
	var res models.ExperimentResults
	if err := readJSON(filepath.Join(e.expDir(name), "results.json"), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AppendResults merges one patient's output into results.json. Definitions
// are deduplicated by id; values append in arrival order.
func (e *Experiments) AppendResults(name string, defs []models.OutputDefinition, values []models.OutputValue) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := filepath.Join(e.expDir(name), "results.json")
	var res models.ExperimentResults
	if err := readJSON(path, &res); err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, d := range res.OutputDefinitions {
		seen[d.ID] = true
	}
	for _, d := range defs {
		if !seen[d.ID] {
			res.OutputDefinitions = append(res.OutputDefinitions, d)
			seen[d.ID] = true
		}
	}
	res.OutputValues = append(res.OutputValues, values...)

	return writeJSON(path, &res)
}
