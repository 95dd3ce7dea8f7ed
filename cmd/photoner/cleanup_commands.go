package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photoner/internal/config"
	"photoner/internal/manifest"
	"photoner/internal/records"
)

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Manifests of relocated originals that are safe to delete",
		Long: "Manifests of relocated originals that are safe to delete.\n\n" +
			"photoner never deletes originals. Generate a manifest, delete the listed files,\n" +
			"then run `photoner cleanup record` to log what was freed.",
	}
	cmd.AddCommand(newCleanupManifestCommand(ctx))
	cmd.AddCommand(newCleanupRecordCommand(ctx))
	cmd.AddCommand(newCleanupHistoryCommand(ctx))
	return cmd
}

func newCleanupManifestCommand(ctx *commandContext) *cobra.Command {
	var (
		population string
		days       int
	)
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Write a cleanup manifest per population",
		RunE: func(cmd *cobra.Command, args []string) error {
			pop, err := parsePopulation(population)
			if err != nil {
				return err
			}
			targets := records.Populations
			if pop != "" {
				targets = []records.Population{pop}
			}
			return ctx.withStore(func(cfg *config.Config, store *records.Store) error {
				out := cmd.OutOrStdout()
				now := time.Now()
				for _, target := range targets {
					age := days
					if age <= 0 {
						settings, _ := cfg.Population(string(target))
						age = settings.CleanupAgeDays
					}
					m, err := manifest.Build(cmd.Context(), store, target, age, now)
					if err != nil {
						return err
					}
					if len(m.Entries) == 0 {
						fmt.Fprintf(out, "%s: nothing older than %d days\n", target, m.AgeDays)
						continue
					}
					path, err := manifest.Write(cfg.ReportsDir(), m)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s: %d files (%s) -> %s\n", target, len(m.Entries),
						humanize.IBytes(uint64(m.TotalBytes)), path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&population, "population", "p", "", "Only this population (default: both)")
	cmd.Flags().IntVar(&days, "days", 0, "Override populations.<name>.cleanup_age_days")
	return cmd
}

func newCleanupRecordCommand(ctx *commandContext) *cobra.Command {
	var (
		population string
		note       string
	)
	cmd := &cobra.Command{
		Use:   "record <manifest>",
		Short: "Record a cleanup performed from a manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			if population == "" {
				population = populationFromManifestName(path)
			}
			pop, err := parsePopulation(population)
			if err != nil {
				return err
			}
			if pop == "" {
				return errors.New("cannot infer population from manifest name; pass --population")
			}
			rec, err := manifest.Reconcile(path)
			if err != nil {
				return err
			}
			return ctx.withStore(func(_ *config.Config, store *records.Store) error {
				id, err := store.RecordCleanup(cmd.Context(), records.CleanupRecord{
					Population:   pop,
					ManifestPath: path,
					FilesDeleted: rec.Deleted,
					BytesFreed:   rec.BytesFreed,
					Note:         strings.TrimSpace(note),
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Recorded cleanup #%d: %d files deleted, %s freed\n", id, rec.Deleted, humanize.IBytes(uint64(rec.BytesFreed)))
				if n := len(rec.Remaining); n > 0 {
					fmt.Fprintf(out, "%d listed files still exist\n", n)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&population, "population", "p", "", "Population the manifest belongs to (default: from file name)")
	cmd.Flags().StringVar(&note, "note", "", "Free-form note stored with the cleanup")
	return cmd
}

func populationFromManifestName(path string) string {
	name := strings.TrimPrefix(filepath.Base(path), "cleanup_manifest_")
	for _, pop := range records.Populations {
		if strings.HasPrefix(name, string(pop)+"_") {
			return string(pop)
		}
	}
	return ""
}

func newCleanupHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List recorded cleanups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, store *records.Store) error {
				cleanups, err := store.ListCleanups(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(cleanups) == 0 {
					fmt.Fprintln(out, "No cleanups recorded")
					return nil
				}
				rows := make([][]string, 0, len(cleanups))
				for _, c := range cleanups {
					rows = append(rows, []string{
						strconv.FormatInt(c.ID, 10),
						c.RecordedAt.Local().Format("2006-01-02 15:04"),
						string(c.Population),
						strconv.Itoa(c.FilesDeleted),
						humanize.IBytes(uint64(c.BytesFreed)),
						c.Note,
					})
				}
				fmt.Fprintln(out, renderTable([]string{"#", "Recorded", "Population", "Files", "Freed", "Note"}, rows, 0, 3, 4))
				return nil
			})
		},
	}
}
