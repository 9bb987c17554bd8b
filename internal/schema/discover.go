package schema

import (
	"context"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/batch"
	"github.com/starford/stave/internal/models"
	"github.com/starford/stave/internal/storage"
	"github.com/starford/stave/internal/vault"
)

// Discover lists and parses the schema files of every vault concurrently and
// merges the modules into one map keyed by root id, in vault order and then
// file order, so a later module replaces an earlier one with the same id.
//
// Problems never stop other vaults. Every problem becomes one item of the
// returned composite, in vault order: a vault without schema files is a minor
// NO_SCHEMA_FOUND, an unreadable or invalid file a fatal BAD_PARSE_FOR_SCHEMA
// and a vault that cannot be listed a fatal VAULT_LIST_FAILED. The map holds
// whatever parsed and is returned even when the error is fatal.
func Discover(ctx context.Context, workspaceRoot string, vaults []models.Vault, store storage.Store, opts ...batch.Option) (map[string]*models.SchemaModule, error) {
	perVault, err := batch.CollectAll(ctx, vaults, func(ctx context.Context, v models.Vault) ([]*models.SchemaModule, error) {
		return discoverVault(ctx, workspaceRoot, v, store)
	}, opts...)

	merged := make(map[string]*models.SchemaModule)
	for _, mods := range perVault {
		for _, m := range mods {
			merged[m.ID()] = m
		}
	}
	return merged, err
}

func discoverVault(ctx context.Context, workspaceRoot string, v models.Vault, store storage.Store) ([]*models.SchemaModule, error) {
	name := vault.DisplayName(v)
	payload := map[string]string{"vault": name}

	root, err := vault.Resolve(workspaceRoot, v)
	if err != nil {
		return nil, apperr.Fatal(apperr.StatusVaultResolveFailed, "cannot resolve vault "+name, payload, err)
	}

	entries, err := store.ReadDir(ctx, root, storage.SchemaPatterns)
	if err != nil {
		return nil, apperr.Fatal(apperr.StatusVaultListFailed, "cannot list schemas in vault "+name, payload, err)
	}
	if len(entries) == 0 {
		return nil, apperr.Minor(apperr.StatusNoSchemaFound, "no schema found in vault "+name, payload)
	}

	var (
		mods  []*models.SchemaModule
		items []*apperr.Item
	)
	for _, e := range entries {
		filePayload := map[string]string{"vault": name, "file": e.RelPath}
		data, err := store.Read(ctx, e.Path)
		if err != nil {
			items = append(items, apperr.Fatal(apperr.StatusBadParseForSchema, "cannot read schema "+e.RelPath, filePayload, err))
			continue
		}
		mod, err := ParseFile(e.Path, data, v)
		if err != nil {
			items = append(items, apperr.Fatal(apperr.StatusBadParseForSchema, "bad schema "+e.RelPath, filePayload, err))
			continue
		}
		mods = append(mods, mod)
	}
	return mods, apperr.Join(items)
}
