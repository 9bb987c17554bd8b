// Package models defines the domain types shared across stave packages.
package models

import (
	"strings"
	"time"
)

// RootFname is the hierarchical name of a vault's root note.
const RootFname = "root"

// Vault is a workspace-relative content root.
type Vault struct {
	FSPath string `json:"fsPath" yaml:"fs_path" toml:"fs_path"`
	Name   string `json:"name,omitempty" yaml:"name" toml:"name"`
}

// NoteRecord is a parsed note ready to be written to the index.
type NoteRecord struct {
	ID       string         `json:"id"`
	Fname    string         `json:"fname"`
	Title    string         `json:"title"`
	Desc     string         `json:"desc,omitempty"`
	Vault    Vault          `json:"vault"`
	Created  time.Time      `json:"created"`
	Updated  time.Time      `json:"updated"`
	Body     string         `json:"body"`
	Tags     []string       `json:"tags,omitempty"`
	Links    []LinkEdge     `json:"links,omitempty"`
	Schema   *SchemaRef     `json:"schema,omitempty"`
	Custom   map[string]any `json:"custom,omitempty"`
	Stub     bool           `json:"stub,omitempty"`
	Checksum string         `json:"checksum,omitempty"`
	Path     string         `json:"path,omitempty"`
}

// SchemaRef ties a note to a schema inside a schema module.
type SchemaRef struct {
	ModuleID string `json:"moduleId" yaml:"moduleId"`
	SchemaID string `json:"schemaId" yaml:"schemaId"`
}

// HierarchyEdge is a parent/child relation between two notes of one vault.
type HierarchyEdge struct {
	ParentID string `json:"parentId"`
	ChildID  string `json:"childId"`
}

// Link types.
const (
	LinkWiki     = "wiki"
	LinkMarkdown = "md"
	LinkExternal = "external"
)

// LinkEdge is a directed reference extracted from a note body.
type LinkEdge struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	// Vault is set for cross-vault wikilinks ([[dendron://vault/target]]).
	Vault string `json:"vault,omitempty"`
	Alias string `json:"alias,omitempty"`
}

// Ancestors returns the hierarchical names above fname, nearest last:
// "a.b.c" yields ["a", "a.b"].
func Ancestors(fname string) []string {
	parts := strings.Split(fname, ".")
	if len(parts) < 2 {
		return nil
	}
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, strings.Join(parts[:i], "."))
	}
	return out
}

// ParentFname returns the direct parent name of fname, or "" for a top-level
// name.
func ParentFname(fname string) string {
	i := strings.LastIndex(fname, ".")
	if i < 0 {
		return ""
	}
	return fname[:i]
}

// LastSegment returns the final dot-delimited segment of fname.
func LastSegment(fname string) string {
	return fname[strings.LastIndex(fname, ".")+1:]
}
