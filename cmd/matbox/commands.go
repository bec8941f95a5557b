package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tendant/matbox/pkg/matbox"
	"github.com/tendant/matbox/pkg/matbox/config"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.WithEnv(envPrefix))
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := cfg.PingDatabase(cmd.Context()); err != nil {
				return err
			}
			if check {
				if err := cfg.CheckMigrations(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema of %s database is up to date\n", cfg.DatabaseType)
				return nil
			}
			if err := cfg.Migrate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema of %s database is up to date\n", cfg.DatabaseType)
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only report whether the sqlite schema is current")
	return cmd
}

func newPutCommand(opts *globalOptions) *cobra.Command {
	var (
		name     string
		category string
	)

	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a file as a new material or as a new version",
		Long: `Upload a file. With --category a new material is created;
without it the file becomes the next version of an existing material.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read file: %w", err)
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			return withService(cmd, opts, func(ctx context.Context, svc matbox.Service) error {
				if category != "" {
					id, err := svc.AddNewMaterial(ctx, matbox.AddMaterialRequest{
						OwnerID: opts.owner, Name: name, Category: category, Content: content,
					})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s) version 1\n", name, id)
					return nil
				}

				v, err := svc.AddNewVersionOfMaterial(ctx, matbox.AddVersionRequest{
					OwnerID: opts.owner, Name: name, Content: content,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s version %d\n", name, v.VersionNumber)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "material name (default: base name of the file)")
	cmd.Flags().StringVarP(&category, "category", "c", "", "category of a new material (Presentation, Application, Other)")
	return cmd
}

func newGetCommand(opts *globalOptions) *cobra.Command {
	var (
		versionNumber int
		outputPath    string
	)

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Download the actual or a specific version of a material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc matbox.Service) error {
				var (
					d   *matbox.Download
					err error
				)
				if cmd.Flags().Changed("version-number") {
					d, err = svc.GetSpecificMaterial(ctx, opts.owner, args[0], versionNumber)
				} else {
					d, err = svc.GetActualMaterial(ctx, opts.owner, args[0])
				}
				if err != nil {
					return err
				}

				var w io.Writer = cmd.OutOrStdout()
				if outputPath != "" {
					f, err := os.Create(outputPath)
					if err != nil {
						d.Body.Close()
						return fmt.Errorf("failed to create output file: %w", err)
					}
					defer f.Close()
					w = f
				}
				return copyDownload(w, d)
			})
		},
	}

	cmd.Flags().IntVar(&versionNumber, "version-number", 0, "version number (default: actual version)")
	cmd.Flags().StringVarP(&outputPath, "output", "O", "", "write content to file instead of stdout")
	return cmd
}

func newListCommand(opts *globalOptions) *cobra.Command {
	var useJSON bool

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List all materials of the owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc matbox.Service) error {
				materials, err := svc.GetAllMaterials(ctx, opts.owner)
				if err != nil {
					return err
				}
				if useJSON {
					return writeJSON(cmd.OutOrStdout(), materials)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tCATEGORY\tVERSIONS\tSIZE\tUPDATED")
				for _, m := range materials {
					var size int64
					if latest := m.Latest(); latest != nil {
						size = latest.SizeBytes
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
						m.Name, m.Category, m.VersionCount(), size, m.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&useJSON, "json", false, "output as JSON")
	return cmd
}

func newInfoCommand(opts *globalOptions) *cobra.Command {
	var useJSON bool

	cmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show the versions of a material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc matbox.Service) error {
				versions, err := svc.GetInfoAboutMaterial(ctx, opts.owner, args[0])
				if err != nil {
					return err
				}
				if useJSON {
					return writeJSON(cmd.OutOrStdout(), versions)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSIZE\tHASH\tCREATED")
				for _, v := range versions {
					fmt.Fprintf(w, "%d\t%d\t%s\t%s\n",
						v.VersionNumber, v.SizeBytes, v.ContentHash, v.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&useJSON, "json", false, "output as JSON")
	return cmd
}

func newFindCommand(opts *globalOptions) *cobra.Command {
	var useJSON bool

	cmd := &cobra.Command{
		Use:   "find <category> <min-size> <max-size>",
		Short: "Find versions of one category within a size range (inclusive)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			minSize, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid min-size %q: %w", args[1], err)
			}
			maxSize, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid max-size %q: %w", args[2], err)
			}

			return withService(cmd, opts, func(ctx context.Context, svc matbox.Service) error {
				infos, err := svc.GetInfoWithFilters(ctx, matbox.FilterRequest{
					OwnerID: opts.owner, Category: args[0], MinSize: minSize, MaxSize: maxSize,
				})
				if err != nil {
					return err
				}
				if useJSON {
					return writeJSON(cmd.OutOrStdout(), infos)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tVERSION\tSIZE\tHASH")
				for _, info := range infos {
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", info.Name, info.VersionNumber, info.SizeBytes, info.ContentHash)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&useJSON, "json", false, "output as JSON")
	return cmd
}

func newCategoryCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recategorize <name> <category>",
		Short: "Change the category of a material",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc matbox.Service) error {
				id, err := svc.ChangeCategory(ctx, matbox.ChangeCategoryRequest{
					OwnerID: opts.owner, Name: args[0], Category: args[1],
				})
				if err != nil {
					return err
				}
				category, _ := matbox.ParseCategory(args[1])
				fmt.Fprintf(cmd.OutOrStdout(), "Material %s (%s) is now %s\n", args[0], id, category)
				return nil
			})
		},
	}
}

func newVerifyCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <name>",
		Short: "Check that the content of every version is present",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc matbox.Service) error {
				missing, err := svc.VerifyMaterial(ctx, opts.owner, args[0])
				if err != nil {
					return err
				}
				if len(missing) > 0 {
					return fmt.Errorf("material %s is missing content for versions %v", args[0], missing)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "All versions of %s are intact\n", args[0])
				return nil
			})
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
