package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/chartflow/chartflow/internal/record"
	"github.com/chartflow/chartflow/pkg/models"
)

// Datasets serves patient cohorts from datasets/<name>/. Metadata loads on
// first listing; the full patient payload of a dataset loads on first
// demand and is cached until invalidated. Implements record.Store.
type Datasets struct {
	dir string

	mu       sync.RWMutex
	meta     []models.DatasetMeta
	patients map[string]map[string]*models.Patient // dataset -> mrn -> patient
	order    map[string][]string                   // dataset -> mrn order
}

var _ record.Store = (*Datasets)(nil)

// Datasets implements record.Store.
func (d *Datasets) Datasets(ctx context.Context) ([]models.DatasetMeta, error) {
	d.mu.RLock()
	if d.meta != nil {
		out := make([]models.DatasetMeta, len(d.meta))
		copy(out, d.meta)
		d.mu.RUnlock()
		return out, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.meta == nil {
		names, err := listNames(d.dir, false)
		if err != nil {
			return nil, err
		}
		meta := make([]models.DatasetMeta, 0, len(names))
		for _, name := range names {
			var m models.DatasetMeta
			if err := readJSON(filepath.Join(d.dir, name, "metadata.json"), &m); err != nil {
				return nil, fmt.Errorf("dataset %q: %w", name, err)
			}
			meta = append(meta, m)
		}
		d.meta = meta
	}
	out := make([]models.DatasetMeta, len(d.meta))
	copy(out, d.meta)
	return out, nil
}

// load brings one dataset's patients into the cache, double-checking under
// the write lock.
func (d *Datasets) load(dataset string) (map[string]*models.Patient, []string, error) {
	d.mu.RLock()
	if byMRN, ok := d.patients[dataset]; ok {
		order := d.order[dataset]
		d.mu.RUnlock()
		return byMRN, order, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if byMRN, ok := d.patients[dataset]; ok {
		return byMRN, d.order[dataset], nil
	}

	var list []models.Patient
	if err := readJSON(filepath.Join(d.dir, dataset, "patients.json"), &list); err != nil {
		return nil, nil, fmt.Errorf("dataset %q: %w", dataset, err)
	}
	byMRN := make(map[string]*models.Patient, len(list))
	order := make([]string, 0, len(list))
	for i := range list {
		p := &list[i]
		byMRN[p.MRN] = p
		order = append(order, p.MRN)
	}
	if d.patients == nil {
		d.patients = map[string]map[string]*models.Patient{}
		d.order = map[string][]string{}
	}
	d.patients[dataset] = byMRN
	d.order[dataset] = order
	return byMRN, order, nil
}

// Patients implements record.Store.
func (d *Datasets) Patients(ctx context.Context, dataset string) ([]models.PatientSummary, error) {
	byMRN, order, err := d.load(dataset)
	if err != nil {
		return nil, err
	}
	out := make([]models.PatientSummary, 0, len(order))
	for _, mrn := range order {
		out = append(out, byMRN[mrn].Summary())
	}
	return out, nil
}

// Patient implements record.Store.
func (d *Datasets) Patient(ctx context.Context, dataset, mrn string) (*models.Patient, error) {
	byMRN, _, err := d.load(dataset)
	if err != nil {
		return nil, err
	}
	p, ok := byMRN[mrn]
	if !ok {
		return nil, fmt.Errorf("patient %q: %w", mrn, ErrNotFound)
	}
	return p, nil
}

// Encounter implements record.Store.
func (d *Datasets) Encounter(ctx context.Context, dataset, mrn, csn string) (*models.Encounter, error) {
	p, err := d.Patient(ctx, dataset, mrn)
	if err != nil {
		return nil, err
	}
	enc := p.Encounter(csn)
	if enc == nil {
		return nil, fmt.Errorf("encounter %q: %w", csn, ErrNotFound)
	}
	return enc, nil
}

// Invalidate drops the named dataset from the cache, or everything when
// dataset is empty.
func (d *Datasets) Invalidate(dataset string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dataset == "" {
		d.meta = nil
		d.patients = nil
		d.order = nil
		return
	}
	delete(d.patients, dataset)
	delete(d.order, dataset)
	d.meta = nil
}

// WriteDataset persists a cohort, used by ingestion tooling and tests.
func (d *Datasets) WriteDataset(meta models.DatasetMeta, patients []models.Patient) error {
	dir := filepath.Join(d.dir, meta.Name)
	meta.PatientCount = len(patients)
	if err := writeJSON(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "patients.json"), patients); err != nil {
		return err
	}
	d.Invalidate(meta.Name)
	return nil
}
