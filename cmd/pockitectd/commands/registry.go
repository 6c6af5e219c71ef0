package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pockitect/pockitect/pkg/config"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/registry"
	"github.com/pockitect/pockitect/pkg/stores"
)

func newRegistryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the resource registry",
		Long: `Inspect the registry of resources this daemon created.

The registry is read straight from its store, so the daemon does not need to
be running.`,
	}

	cmd.AddCommand(newRegistryListCommand())

	return cmd
}

func newRegistryListCommand() *cobra.Command {
	var (
		project      string
		resourceType string
		region       string
		all          bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked resources",
		Example: `  # Active resources of one project
  pockitectd registry list --project demo

  # Every entry, deleted ones included, as JSON
  pockitectd registry list --all --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resourceType != "" {
				if _, err := engine.ParseResourceType(resourceType); err != nil {
					return err
				}
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := stores.Open(ctx, cfg.Registry.Backend, cfg.Registry.Path)
			if err != nil {
				return fmt.Errorf("failed to open registry store: %w", err)
			}
			defer store.Close()

			reg, err := registry.Open(ctx, store, registry.Options{Logger: zerolog.Nop()})
			if err != nil {
				return err
			}

			var resources []engine.TrackedResource
			if all {
				resources = reg.All()
			} else {
				resources = reg.GetActive(registry.Filter{
					Type:    engine.ResourceType(resourceType),
					Region:  region,
					Project: project,
				})
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(resources)
			}
			if len(resources) == 0 {
				fmt.Println("No tracked resources.")
				return nil
			}
			fmt.Println(renderResources(resources))
			return nil
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", "", "only resources of this project")
	cmd.Flags().StringVarP(&resourceType, "type", "t", "", "only resources of this type")
	cmd.Flags().StringVarP(&region, "region", "r", "", "only resources in this region")
	cmd.Flags().BoolVar(&all, "all", false, "include deleted entries and ignore filters")

	return cmd
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	deletedStyle = cellStyle.Foreground(lipgloss.Color("241"))
)

func renderResources(resources []engine.TrackedResource) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers("TYPE", "ID", "NAME", "REGION", "PROJECT", "STATUS", "CREATED").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if resources[row].Status == engine.TrackedDeleted {
				return deletedStyle
			}
			return cellStyle
		})

	for _, r := range resources {
		t.Row(
			string(r.Type),
			r.ID,
			r.Name,
			r.Region,
			r.Project,
			string(r.Status),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return t.String()
}
