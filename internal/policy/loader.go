package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Bundle is the on-disk seed format
//
//	policies:
//	  - number: 10
//	    name: Leave approvals
//	    activate: true
//	    rules:
//	      - {effect: allow, resource: leave_request, action: read}
//	    bindings:
//	      - {subject_type: role, subject: Manager}
//	    editors: [1]
type Bundle struct {
	Policies []PolicySpec `yaml:"policies"`
}

// PolicySpec describes one seeded policy
type PolicySpec struct {
	Number      int           `yaml:"number"`
	Name        string        `yaml:"name"`
	Description *string       `yaml:"description,omitempty"`
	Activate    bool          `yaml:"activate"`
	Rules       []RuleInput   `yaml:"rules"`
	Bindings    []BindingSpec `yaml:"bindings"`
	Editors     []int         `yaml:"editors"`
}

// BindingSpec names a subject by role name or username
type BindingSpec struct {
	SubjectType string `yaml:"subject_type"`
	Subject     string `yaml:"subject"`
}

// Loader reads seed bundles from disk
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a bundle loader
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger}
}

func isBundleFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}

// LoadFromDirectory loads every bundle in dir in file name order. Files that
// fail to parse are logged and skipped. When two files declare the same
// policy number, the first one wins.
func (l *Loader) LoadFromDirectory(dir string) ([]PolicySpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && isBundleFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[int]string)
	var specs []PolicySpec
	for _, name := range names {
		path := filepath.Join(dir, name)
		bundle, err := l.LoadFromFile(path)
		if err != nil {
			l.logger.Warn("Failed to load seed bundle", zap.String("file", path), zap.Error(err))
			continue
		}

		for _, spec := range bundle.Policies {
			if first, dup := seen[spec.Number]; dup {
				l.logger.Warn("Duplicate policy number in seed bundles",
					zap.Int("number", spec.Number),
					zap.String("file", path),
					zap.String("kept", first),
				)
				continue
			}
			seen[spec.Number] = path
			specs = append(specs, spec)
		}
	}

	return specs, nil
}

// LoadFromFile parses and checks a single bundle. Unknown keys are rejected.
func (l *Loader) LoadFromFile(path string) (*Bundle, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var bundle Bundle
	if err := dec.Decode(&bundle); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML bundle: %w", err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	return &bundle, nil
}

// Validate checks the structure of a bundle. Field-level rules (effects,
// name lengths, conditions) are enforced by the Service on apply.
func (b *Bundle) Validate() error {
	numbers := make(map[int]bool, len(b.Policies))
	for i, p := range b.Policies {
		if p.Number <= 0 {
			return fmt.Errorf("policy %d: number must be positive", i)
		}
		if numbers[p.Number] {
			return fmt.Errorf("policy %d: duplicate number %d", i, p.Number)
		}
		numbers[p.Number] = true
		if p.Name == "" {
			return fmt.Errorf("policy #%d: name is required", p.Number)
		}
		for j, bnd := range p.Bindings {
			if bnd.Subject == "" {
				return fmt.Errorf("policy #%d binding %d: subject is required", p.Number, j)
			}
		}
	}
	return nil
}
