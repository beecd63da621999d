// Package directory is the read-only patient directory consulted before
// dispensing.
//
// The directory itself is a collaborator: the facility keeps a local copy of
// the patients it has seen (their home municipality and the last time their
// record was reconciled with the central system). The core never writes to it.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrPatientNotFound = errors.New("patient not found")

// Patient is the directory's view of a person eligible for dispensing.
// A nil LastSyncDate means the record was never synchronized centrally.
type Patient struct {
	ID           string     `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Municipality string     `json:"municipality" yaml:"municipality"`
	LastSyncDate *time.Time `json:"last_sync_date,omitempty" yaml:"last_sync_date,omitempty"`
}

// Directory looks patients up by id.
type Directory interface {
	Get(ctx context.Context, id string) (Patient, error)
	List(ctx context.Context) ([]Patient, error)
}

// =============================================================================
// MEMORY DIRECTORY
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	patients map[string]Patient
}

func NewMemory(patients ...Patient) *Memory {
	m := &Memory{patients: make(map[string]Patient, len(patients))}
	for _, p := range patients {
		m.patients[p.ID] = p
	}
	return m
}

func (m *Memory) Get(_ context.Context, id string) (Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.patients[id]
	if !ok {
		return Patient{}, fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	return p, nil
}

// List returns all patients ordered by id.
func (m *Memory) List(_ context.Context) ([]Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Patient, 0, len(m.patients))
	for _, p := range m.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put provisions or replaces a patient record.
func (m *Memory) Put(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

// =============================================================================
// SEED FILE
// =============================================================================

type seedFile struct {
	Patients []Patient `yaml:"patients"`
}

// LoadSeed reads a YAML seed file of the form:
//
//	patients:
//	  - id: P1
//	    name: Patient A
//	    municipality: Tabuk
//	    last_sync_date: 2023-10-25T12:00:00Z
func LoadSeed(path string) ([]Patient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patient seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes seed data and rejects records without an id or
// municipality, or with a duplicated id.
func ParseSeed(data []byte) ([]Patient, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse patient seed: %w", err)
	}

	seen := make(map[string]bool, len(f.Patients))
	for i, p := range f.Patients {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("patient seed entry %d: missing id", i)
		}
		if strings.TrimSpace(p.Municipality) == "" {
			return nil, fmt.Errorf("patient seed entry %s: missing municipality", p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("patient seed entry %s: duplicate id", p.ID)
		}
		seen[p.ID] = true
		if p.LastSyncDate != nil {
			utc := p.LastSyncDate.UTC()
			f.Patients[i].LastSyncDate = &utc
		}
	}
	return f.Patients, nil
}
