package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kitbay/kitbay/internal/config"
	"github.com/kitbay/kitbay/internal/export"
	"github.com/kitbay/kitbay/internal/model"
	"github.com/kitbay/kitbay/internal/service"
	"github.com/kitbay/kitbay/internal/store"
)

// operator is the identity of local CLI commands that are not run on
// behalf of a specific account. It can read every component.
var operator = &service.Principal{Email: "cli", Role: model.RoleAdmin}

func newComponentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "component",
		Aliases: []string{"components", "comp"},
		Short:   "Import, list and export components",
	}

	cmd.AddCommand(newComponentImportCmd())
	cmd.AddCommand(newComponentListCmd())
	cmd.AddCommand(newComponentExportCmd())

	return cmd
}

// ---------- component import ----------

func newComponentImportCmd() *cobra.Command {
	var (
		owner   string
		publish bool
	)

	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import components from a JSON file",
		Long: `Import components from a JSON array of {component, variants, dependencies}
objects. Components with an existing id are replaced together with their
variants and dependencies; everything is imported in one transaction.`,
		Example: `  kitbay component import seed.json --owner admin@example.com --publish`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			snaps, err := parseImport(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			ctx := cmd.Context()
			return withStore(ctx, func(cfg *config.File, st *store.Store) error {
				u, err := st.GetUserByEmail(ctx, owner)
				if err != nil {
					return fmt.Errorf("owner %q: %w", owner, err)
				}
				now := time.Now().UTC()
				for i := range snaps {
					prepareImport(&snaps[i].Component, u.ID, publish, now)
				}
				if err := st.RestoreSnapshots(ctx, snaps); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d components for %s\n", len(snaps), u.Email)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Email of the account that owns the imported components (required)")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish and make public every imported component")
	cmd.MarkFlagRequired("owner")

	return cmd
}

// parseImport decodes and checks an import file.
func parseImport(data []byte) ([]store.ComponentSnapshot, error) {
	var snaps []store.ComponentSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	for i, s := range snaps {
		if strings.TrimSpace(s.Component.Name) == "" {
			return nil, fmt.Errorf("entry %d: component name is required", i)
		}
		if s.Component.Status != "" && !s.Component.Status.Valid() {
			return nil, fmt.Errorf("entry %d: unknown status %q", i, s.Component.Status)
		}
	}
	return snaps, nil
}

// prepareImport fills the fields an import file may leave out.
func prepareImport(c *model.Component, ownerID string, publish bool, now time.Time) {
	c.OwnerID = ownerID
	if c.ID == "" {
		c.ID = store.NewID()
	}
	if c.Slug == "" {
		c.Slug = export.Slug(*c)
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if publish {
		c.Status = model.StatusPublished
		c.IsPublic = true
	}
	if c.Props == nil {
		c.Props = map[string]interface{}{}
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

// ---------- component list ----------

func newComponentListCmd() *cobra.Command {
	var (
		owner      string
		category   string
		status     string
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List components",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, func(cfg *config.File, st *store.Store) error {
				f := model.ComponentFilter{
					Category:   category,
					Status:     model.ComponentStatus(status),
					IncludeAll: true,
					Order:      "newest",
					Limit:      limit,
				}
				if owner != "" {
					u, err := st.GetUserByEmail(ctx, owner)
					if err != nil {
						return fmt.Errorf("owner %q: %w", owner, err)
					}
					f.OwnerID = u.ID
				}
				components, err := st.ListComponents(ctx, f)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if wantJSON(out, jsonOutput) {
					return printJSON(out, components)
				}
				if len(components) == 0 {
					fmt.Fprintln(out, "No components. Use 'kitbay component import' to add some.")
					return nil
				}
				rows := make([][]string, len(components))
				for i, c := range components {
					visibility := "private"
					if c.IsPublic {
						visibility = "public"
					}
					rows[i] = []string{c.ID, c.Name, c.Category, c.Framework, string(c.Status), visibility, strconv.FormatInt(c.UsageCount, 10)}
				}
				return printTable(out, []string{"ID", "NAME", "CATEGORY", "FRAMEWORK", "STATUS", "VISIBILITY", "USES"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only list this account's components")
	cmd.Flags().StringVar(&category, "category", "", "Only list this category")
	cmd.Flags().StringVar(&status, "status", "", "Only list this status (draft, published, archived)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of components")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- component export ----------

func newComponentExportCmd() *cobra.Command {
	var (
		format string
		output string
		opts   export.Options
		meta   export.Metadata
	)

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a component to a file",
		Example: `  kitbay component export 0190f... --format react --typescript
  kitbay component export 0190f... --format css --minify -o button.css`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return fmt.Errorf("%w (available: %s)", err, strings.Join(export.FormatNames(), ", "))
			}
			if cmd.Flags().Changed("no-comments") {
				off := false
				opts.AddComments = &off
			}

			ctx := cmd.Context()
			return withStore(ctx, func(cfg *config.File, st *store.Store) error {
				exports := service.NewExportService(st, export.NewDispatcher(), nil, nil)
				art, err := exports.Export(ctx, operator, args[0], export.Request{Format: f, Options: opts, Metadata: meta})
				if err != nil {
					return err
				}

				path := output
				if path == "" {
					path = art.Filename
				}
				if path == "-" {
					_, err := cmd.OutOrStdout().Write(art.Content)
					return err
				}
				if err := os.WriteFile(path, art.Content, 0644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, %d bytes)\n", path, art.ContentType, art.Size)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format ("+strings.Join(export.FormatNames(), ", ")+")")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, or - for stdout (default: the artifact's file name)")
	cmd.Flags().BoolVar(&opts.IncludeVariants, "variants", false, "Include variants")
	cmd.Flags().BoolVar(&opts.IncludeDependencies, "dependencies", false, "Include dependencies")
	cmd.Flags().BoolVar(&opts.Minify, "minify", false, "Minify the output")
	cmd.Flags().BoolVar(&opts.TypeScript, "typescript", false, "Emit TypeScript for framework formats")
	cmd.Flags().BoolVar(&opts.Responsive, "responsive", false, "Add responsive classes")
	cmd.Flags().BoolVar(&opts.DarkMode, "dark-mode", false, "Add dark mode classes")
	cmd.Flags().Bool("no-comments", false, "Omit the generated comment header")
	cmd.Flags().StringVar(&meta.Version, "meta-version", "", "Version stamped onto the artifact")
	cmd.Flags().StringVar(&meta.Author, "meta-author", "", "Author stamped onto the artifact")
	cmd.Flags().StringVar(&meta.License, "meta-license", "", "License stamped onto the artifact")

	return cmd
}
