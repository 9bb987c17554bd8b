package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/starford/stave/internal/apperr"
	"github.com/starford/stave/internal/index"
	"github.com/starford/stave/internal/mcpserver"
	"github.com/starford/stave/internal/vault"
)

// Version is reported by the MCP server.
var Version = "dev"

// ErrFatalSchemas is returned by Schemas when discovery met a fatal problem.
var ErrFatalSchemas = errors.New("schema discovery failed")

// Init creates the empty relational schema at the configured path.
func Init(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger(os.Stderr)

	db, err := app.factory(logger, nil).CreateEmpty(ctx, app.config.SQLite.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	tables, err := db.Tables(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(app.out, "created %s with %d tables\n", db.Path(), len(tables))
	return nil
}

// Index builds an initialized index from every configured vault and prints
// what it holds. An existing store at the configured path is replaced.
func Index(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger(os.Stderr)

	root, err := app.workspaceRoot()
	if err != nil {
		return err
	}
	if err := index.Remove(cfg.SQLite.Path); err != nil {
		return err
	}

	db, err := app.factory(logger, nil).CreateInitialized(ctx, root, cfg.Workspace.Vaults, cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("index %s: %w", apperr.StatusOf(err), err)
	}
	defer db.Close()

	vaults, err := db.Vaults(ctx)
	if err != nil {
		return err
	}
	counts, err := db.Counts(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(app.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VAULT\tNOTES\tROOT")
	for _, v := range vaults {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", v.Name, v.Notes, v.Root)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(app.out, "notes=%d stubs=%d links=%d hierarchy=%d schema_notes=%d\n",
		counts.Notes, counts.Stubs, counts.Links, counts.Hierarchy, counts.SchemaNotes)
	return nil
}

// Schemas discovers the structural schemas of every vault and prints the
// modules found followed by every problem met, as JSON. Only a fatal problem
// makes it fail.
func Schemas(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger(os.Stderr)

	root, err := app.workspaceRoot()
	if err != nil {
		return err
	}

	mods, discoverErr := app.factory(logger, nil).DiscoverSchemas(ctx, root, cfg.Workspace.Vaults)

	type moduleOut struct {
		ID      string   `json:"id"`
		Vault   string   `json:"vault"`
		Fname   string   `json:"fname"`
		Schemas []string `json:"schemas"`
	}
	report := struct {
		Modules []moduleOut    `json:"modules"`
		Errors  []*apperr.Item `json:"errors"`
	}{
		Modules: []moduleOut{},
		Errors:  apperr.ItemsOf(discoverErr),
	}
	if report.Errors == nil {
		report.Errors = []*apperr.Item{}
	}
	for id, m := range mods {
		ids := make([]string, 0, len(m.Schemas))
		for sid := range m.Schemas {
			ids = append(ids, sid)
		}
		sort.Strings(ids)
		report.Modules = append(report.Modules, moduleOut{ID: id, Vault: vault.DisplayName(m.Vault), Fname: m.Fname, Schemas: ids})
	}
	sort.Slice(report.Modules, func(i, j int) bool { return report.Modules[i].ID < report.Modules[j].ID })

	enc := json.NewEncoder(app.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if apperr.IsFatal(discoverErr) {
		return fmt.Errorf("%w: %w", ErrFatalSchemas, discoverErr)
	}
	return nil
}

// ServeMCP builds the index and serves it as MCP tools on stdin/stdout.
// Logs go to stderr so they never mix with the protocol stream.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger(os.Stderr)

	root, err := app.workspaceRoot()
	if err != nil {
		return err
	}

	session := app.factory(logger, nil).NewSession(root, cfg.Workspace.Vaults, cfg.SQLite.Path)
	defer session.Close()
	if err := session.Rebuild(ctx); err != nil {
		return err
	}

	if cfg.Watch.Enabled {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := session.Watch(watchCtx, cfg.Watch.Debounce); err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	return mcpserver.New(session, Version).ServeStdio()
}
