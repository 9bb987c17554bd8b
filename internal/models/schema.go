package models

// SchemaModule is one parsed *.schema.yml file.
type SchemaModule struct {
	Version int                `json:"version"`
	Imports []string           `json:"imports,omitempty"`
	Root    *Schema            `json:"root"`
	Schemas map[string]*Schema `json:"schemas"`
	Fname   string             `json:"fname"`
	Vault   Vault              `json:"vault"`
}

// ID is the key a module is addressed by across the index.
func (m *SchemaModule) ID() string {
	if m == nil || m.Root == nil {
		return ""
	}
	return m.Root.ID
}

// Schema is a single node of a schema module.
type Schema struct {
	ID        string          `json:"id" yaml:"id"`
	Parent    string          `json:"parent,omitempty" yaml:"parent"`
	Title     string          `json:"title,omitempty" yaml:"title"`
	Desc      string          `json:"desc,omitempty" yaml:"desc"`
	Pattern   string          `json:"pattern,omitempty" yaml:"pattern"`
	Namespace bool            `json:"namespace,omitempty" yaml:"namespace"`
	Children  []string        `json:"children,omitempty" yaml:"children"`
	Template  *SchemaTemplate `json:"template,omitempty" yaml:"template"`
	Data      map[string]any  `json:"data,omitempty" yaml:"data"`
}

// SchemaTemplate names a note template applied to notes matching a schema.
type SchemaTemplate struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`
}
