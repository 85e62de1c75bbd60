// Package fixtures loads YAML seed documents of live records into a store.
package fixtures

import (
	"context"
	"errors"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/maap/internal/adapters/repository"
	"github.com/okian/maap/internal/domain/model"
)

// ErrLoadFixtures wraps every failure to read or decode a fixture document.
var ErrLoadFixtures = errors.New("load fixtures failed")

// Document lists records to seed. Records with a zero id get one assigned.
type Document struct {
	Employees         []model.Employee         `json:"employees"`
	EmploymentTenures []model.EmploymentTenure `json:"employment_tenures"`
	Assignments       []model.Assignment       `json:"assignments"`
	AssignmentTenures []model.AssignmentTenure `json:"assignment_tenures"`
	Abilities         []model.Ability          `json:"abilities"`
	CheckIns          []model.CheckIn          `json:"check_ins"`
	Milestones        []model.Milestone        `json:"milestones"`
}

// Load reads a YAML fixture file.
func Load(path string) (Document, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Document{}, fmt.Errorf("%w: %s: %w", ErrLoadFixtures, path, err)
	}
	return decode(k)
}

// Parse decodes a YAML fixture document held in memory.
func Parse(b []byte) (Document, error) {
	k := koanf.New(".")
	if err := k.Load(rawBytes(b), yaml.Parser()); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrLoadFixtures, err)
	}
	return decode(k)
}

func decode(k *koanf.Koanf) (Document, error) {
	var doc Document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return Document{}, fmt.Errorf("%w: decode: %w", ErrLoadFixtures, err)
	}
	return doc, nil
}

// Apply writes every record of doc through tx, parents before children.
func (d *Document) Apply(ctx context.Context, tx repository.Tx) error {
	for i := range d.Employees {
		if err := tx.PutEmployee(ctx, &d.Employees[i]); err != nil {
			return fmt.Errorf("employee %d: %w", i, err)
		}
	}
	for i := range d.EmploymentTenures {
		if err := tx.PutEmploymentTenure(ctx, &d.EmploymentTenures[i]); err != nil {
			return fmt.Errorf("employment tenure %d: %w", i, err)
		}
	}
	for i := range d.Assignments {
		if err := tx.PutAssignment(ctx, &d.Assignments[i]); err != nil {
			return fmt.Errorf("assignment %d: %w", i, err)
		}
	}
	for i := range d.AssignmentTenures {
		if err := tx.PutAssignmentTenure(ctx, &d.AssignmentTenures[i]); err != nil {
			return fmt.Errorf("assignment tenure %d: %w", i, err)
		}
	}
	for i := range d.Abilities {
		if err := tx.PutAbility(ctx, &d.Abilities[i]); err != nil {
			return fmt.Errorf("ability %d: %w", i, err)
		}
	}
	for i := range d.CheckIns {
		if err := tx.SaveCheckIn(ctx, &d.CheckIns[i]); err != nil {
			return fmt.Errorf("check-in %d: %w", i, err)
		}
	}
	for i := range d.Milestones {
		if err := tx.CreateMilestone(ctx, &d.Milestones[i]); err != nil {
			return fmt.Errorf("milestone %d: %w", i, err)
		}
	}
	return nil
}

// Seed applies doc to store in a single transaction.
func Seed(ctx context.Context, store repository.Store, doc *Document) error {
	return store.RunInTransaction(ctx, func(tx repository.Tx) error {
		return doc.Apply(ctx, tx)
	})
}

// rawBytes is a koanf.Provider over an in-memory document.
type rawBytes []byte

func (r rawBytes) ReadBytes() ([]byte, error) { return r, nil }

func (r rawBytes) Read() (map[string]any, error) {
	return nil, errors.New("fixtures: raw bytes provider requires a parser")
}
