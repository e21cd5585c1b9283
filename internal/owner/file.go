package owner

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keymint/keymint/internal/model"
)

// directoryFile is the on-disk layout of an owners file:
//
//	owners:
//	  - id: "42"
//	    name: Ada Lovelace
//	    email: ada@example.com
type directoryFile struct {
	Owners []model.Owner `yaml:"owners"`
}

// FileResolver serves owners loaded once from a YAML file.
type FileResolver struct {
	owners map[string]model.Owner
}

// LoadFile reads the owners file at path.
func LoadFile(path string) (*FileResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read owners file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses owners file contents. Owner ids must be non-empty and
// unique.
func ParseFile(data []byte) (*FileResolver, error) {
	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse owners file: %w", err)
	}

	owners := make(map[string]model.Owner, len(f.Owners))
	for i, o := range f.Owners {
		if o.ID == "" {
			return nil, fmt.Errorf("owners[%d]: id is required", i)
		}
		if _, dup := owners[o.ID]; dup {
			return nil, fmt.Errorf("owners[%d]: duplicate id %q", i, o.ID)
		}
		owners[o.ID] = o
	}
	return &FileResolver{owners: owners}, nil
}

func (r *FileResolver) ResolveOwner(_ context.Context, id string) (*model.Owner, bool, error) {
	o, ok := r.owners[id]
	if !ok {
		return nil, false, nil
	}
	return &o, true, nil
}

// Len returns the number of owners loaded.
func (r *FileResolver) Len() int { return len(r.owners) }
