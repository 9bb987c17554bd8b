// Package schema parses structural-schema files (*.schema.yml) and discovers
// them across vaults.
package schema

import (
	"fmt"
	"path/filepath"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/stave/internal/models"
)

// FileSuffix is the extension every schema file carries.
const FileSuffix = ".schema.yml"

// rootParent marks the schema a module hangs off the hierarchy root.
const rootParent = "root"

// File is one schema file read from a vault.
type File struct {
	Path string
	Data []byte
}

type document struct {
	Version int              `yaml:"version"`
	Imports []string         `yaml:"imports"`
	Schemas []*models.Schema `yaml:"schemas"`
}

func (d document) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Version, validation.In(0, 1).Error("must be 0 or 1")),
		validation.Field(&d.Schemas, validation.Required),
	)
}

// ParseFile decodes and validates one schema file. The module root is the
// schema whose parent is "root", else the schema named like the file, else
// the first schema listed.
func ParseFile(filePath string, data []byte, v models.Vault) (*models.SchemaModule, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: %s: %w", filePath, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("schema: %s: %w", filePath, err)
	}

	stem := strings.TrimSuffix(filepath.Base(filePath), FileSuffix)
	mod := &models.SchemaModule{
		Version: doc.Version,
		Imports: doc.Imports,
		Schemas: make(map[string]*models.Schema, len(doc.Schemas)),
		Fname:   stem,
		Vault:   v,
	}

	for i, s := range doc.Schemas {
		if s == nil {
			return nil, fmt.Errorf("schema: %s: schemas[%d] is empty", filePath, i)
		}
		if err := validation.Validate(s.ID, validation.Required); err != nil {
			return nil, fmt.Errorf("schema: %s: schemas[%d].id: %w", filePath, i, err)
		}
		if _, dup := mod.Schemas[s.ID]; dup {
			return nil, fmt.Errorf("schema: %s: duplicate schema id %q", filePath, s.ID)
		}
		mod.Schemas[s.ID] = s
	}

	for _, s := range doc.Schemas {
		for _, child := range s.Children {
			if err := checkChild(mod, child); err != nil {
				return nil, fmt.Errorf("schema: %s: %s: %w", filePath, s.ID, err)
			}
		}
	}

	mod.Root = pickRoot(doc.Schemas, stem)
	return mod, nil
}

// checkChild accepts a local schema id or an "import.id" reference to one of
// the module's imports.
func checkChild(mod *models.SchemaModule, child string) error {
	if _, ok := mod.Schemas[child]; ok {
		return nil
	}
	if module, _, found := strings.Cut(child, "."); found {
		for _, imp := range mod.Imports {
			if imp == module {
				return nil
			}
		}
	}
	return fmt.Errorf("unknown child %q", child)
}

func pickRoot(schemas []*models.Schema, stem string) *models.Schema {
	for _, s := range schemas {
		if s.Parent == rootParent {
			return s
		}
	}
	for _, s := range schemas {
		if s.ID == stem {
			return s
		}
	}
	return schemas[0]
}

// ParseFiles parses every file and returns the modules that parsed together
// with one error per file that did not, both in input order.
func ParseFiles(files []File, v models.Vault) ([]*models.SchemaModule, []error) {
	var (
		mods []*models.SchemaModule
		errs []error
	)
	for _, f := range files {
		mod, err := ParseFile(f.Path, f.Data, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		mods = append(mods, mod)
	}
	return mods, errs
}
