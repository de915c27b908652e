// Package record defines the read-only patient record interface the
// engine consumes and an in-memory implementation for tests. The
// file-backed implementation over dataset directories lives in
// internal/store.
package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/chartflow/chartflow/pkg/models"
)

// ErrNotFound is returned when a dataset, patient, or encounter does not
// exist.
var ErrNotFound = errors.New("record: not found")

// Store is the typed accessor surface over patient records. Implementations
// must be safe for concurrent use.
type Store interface {
	// Datasets lists available cohorts.
	Datasets(ctx context.Context) ([]models.DatasetMeta, error)

	// Patients lists summary rows for a cohort.
	Patients(ctx context.Context, dataset string) ([]models.PatientSummary, error)

	// Patient returns the full record for one patient.
	Patient(ctx context.Context, dataset, mrn string) (*models.Patient, error)

	// Encounter returns one encounter of one patient.
	Encounter(ctx context.Context, dataset, mrn, csn string) (*models.Encounter, error)
}

// Memory is an in-memory Store used by tests and fixtures.
type Memory struct {
	Meta     []models.DatasetMeta
	ByMRN    map[string]map[string]*models.Patient // dataset -> mrn -> patient
	Ordering map[string][]string                   // dataset -> mrn order
}

// NewMemory builds a Memory store from a dataset name and its patients.
func NewMemory(dataset string, patients ...*models.Patient) *Memory {
	m := &Memory{
		Meta:     []models.DatasetMeta{{Name: dataset, PatientCount: len(patients)}},
		ByMRN:    map[string]map[string]*models.Patient{dataset: {}},
		Ordering: map[string][]string{},
	}
	for _, p := range patients {
		m.ByMRN[dataset][p.MRN] = p
		m.Ordering[dataset] = append(m.Ordering[dataset], p.MRN)
	}
	return m
}

// Datasets implements Store.
func (m *Memory) Datasets(ctx context.Context) ([]models.DatasetMeta, error) {
	return m.Meta, nil
}

// Patients implements Store.
func (m *Memory) Patients(ctx context.Context, dataset string) ([]models.PatientSummary, error) {
	patients, ok := m.ByMRN[dataset]
	if !ok {
		return nil, fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}
	out := make([]models.PatientSummary, 0, len(patients))
	for _, mrn := range m.Ordering[dataset] {
		out = append(out, patients[mrn].Summary())
	}
	return out, nil
}

// Patient implements Store.
func (m *Memory) Patient(ctx context.Context, dataset, mrn string) (*models.Patient, error) {
	patients, ok := m.ByMRN[dataset]
	if !ok {
		return nil, fmt.Errorf("dataset %q: %w", dataset, ErrNotFound)
	}
	p, ok := patients[mrn]
	if !ok {
		return nil, fmt.Errorf("patient %q: %w", mrn, ErrNotFound)
	}
	return p, nil
}

// Encounter implements Store.
func (m *Memory) Encounter(ctx context.Context, dataset, mrn, csn string) (*models.Encounter, error) {
	p, err := m.Patient(ctx, dataset, mrn)
	if err != nil {
		return nil, err
	}
	enc := p.Encounter(csn)
	if enc == nil {
		return nil, fmt.Errorf("encounter %q: %w", csn, ErrNotFound)
	}
	return enc, nil
}
