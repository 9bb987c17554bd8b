// Package vault maps vault descriptors onto absolute content roots.
package vault

import (
	"fmt"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/stave/internal/models"
)

// Validate checks a vault descriptor.
func Validate(v models.Vault) error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.FSPath, validation.Required),
	)
}

// Resolve returns the cleaned absolute root of v. An absolute FSPath is used
// as is; a relative one is joined to workspaceRoot.
func Resolve(workspaceRoot string, v models.Vault) (string, error) {
	if err := Validate(v); err != nil {
		return "", fmt.Errorf("vault: %w", err)
	}
	p := v.FSPath
	if !filepath.IsAbs(p) {
		if workspaceRoot == "" {
			return "", fmt.Errorf("vault: %s is relative and no workspace root is set", p)
		}
		p = filepath.Join(workspaceRoot, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("vault: resolve %s: %w", v.FSPath, err)
	}
	return abs, nil
}

// DisplayName is the name used in logs and error payloads.
func DisplayName(v models.Vault) string {
	if v.Name != "" {
		return v.Name
	}
	return filepath.Base(filepath.Clean(v.FSPath))
}
