package main

import (
	"context"
	"fmt"
	"io"

	"github.com/casualjim/chatwire/provider"
	"github.com/casualjim/chatwire/transport"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// probeLimit bounds the availability checks running at once.
const probeLimit = 8

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the configured providers and whether their models can be used",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func runModels(cmd *cobra.Command, _ []string) error {
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	lister := transport.NewOllamaModels()
	resolver := provider.NewCatalogResolver(catalog, provider.WithModelLister(lister))

	rows, err := probeModels(cmd.Context(), catalog, resolver, lister)
	if err != nil {
		return err
	}
	writeModels(cmd.OutOrStdout(), rows, cfg.Defaults.Target())
	return nil
}

type modelRow struct {
	Target    provider.Target
	Dialect   string
	Available bool
	// Note explains a row without a concrete model.
	Note string
}

// probeModels checks every model the catalog names. Local providers without a
// model list report what the runtime has installed, remote providers without
// one accept any model and get a single row.
func probeModels(ctx context.Context, catalog *provider.Catalog, availability provider.Availability, lister provider.ModelLister) ([]modelRow, error) {
	var rows []modelRow
	for _, cfg := range catalog.All() {
		models := cfg.Models
		if len(models) == 0 && cfg.Dialect == provider.DialectLocal {
			installed, err := lister.ListModels(ctx, cfg.BaseURL)
			if err != nil {
				rows = append(rows, modelRow{Target: provider.Target{ProviderID: cfg.ID}, Dialect: cfg.Dialect, Note: "runtime unreachable"})
				continue
			}
			models = installed
		}
		if len(models) == 0 {
			rows = append(rows, modelRow{Target: provider.Target{ProviderID: cfg.ID}, Dialect: cfg.Dialect, Note: "any model"})
			continue
		}
		for _, m := range models {
			rows = append(rows, modelRow{Target: provider.Target{ProviderID: cfg.ID, ModelID: m}, Dialect: cfg.Dialect})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(probeLimit)
	for i := range rows {
		if rows[i].Target.ModelID == "" {
			continue
		}
		g.Go(func() error {
			rows[i].Available = availability.IsAvailable(ctx, rows[i].Target.ProviderID, rows[i].Target.ModelID)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func writeModels(w io.Writer, rows []modelRow, current provider.Target) {
	fmt.Fprintf(w, "  %-16s  %-36s  %-10s  %s\n", "PROVIDER", "MODEL", "DIALECT", "STATUS")
	for _, row := range rows {
		marker := " "
		if row.Target == current {
			marker = "*"
		}
		model := row.Target.ModelID
		status := color.RedString("unavailable")
		switch {
		case row.Note != "":
			model = "-"
			status = color.HiBlackString(row.Note)
		case row.Available:
			status = color.GreenString("available")
		}
		fmt.Fprintf(w, "%s %-16s  %-36s  %-10s  %s\n", marker, row.Target.ProviderID, model, row.Dialect, status)
	}
}
