package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"photoner/internal/config"
	"photoner/internal/schedule"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set populations.incoming.root and populations.archive.root before the first tick.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the resulting calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sched, err := schedule.FromConfig(cfg)
			if err != nil {
				return fmt.Errorf("schedule: %w", err)
			}
			out := cmd.OutOrStdout()
			if ctx.configExists {
				fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			} else {
				fmt.Fprintf(out, "Config path: %s (not found, defaults in effect)\n", ctx.configPath)
			}
			fmt.Fprintf(out, "Timezone: %s\n", sched.Location)
			fmt.Fprintf(out, "Sync windows: %d\n", len(sched.SyncWindows))

			rows := make([][]string, 0, 3)
			for _, cal := range []schedule.Calendar{sched.Archive, sched.Catchup, sched.Periodic} {
				rows = append(rows, calendarRow(cal))
			}
			fmt.Fprint(out, renderTable([]string{"Phase", "Population", "Windows", "Batch", "Threads", "Runtime"}, rows, 3, 4))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func calendarRow(cal schedule.Calendar) []string {
	p := cal.Profile
	windows := "disabled"
	if cal.Enabled {
		parts := make([]string, 0, len(cal.Windows))
		for _, w := range cal.Windows {
			parts = append(parts, w.String())
		}
		windows = strings.Join(parts, ", ")
	}
	runtime := "-"
	if p.MaxRuntime > 0 {
		runtime = p.MaxRuntime.String()
	}
	return []string{
		p.Phase.Title(),
		string(p.Population),
		windows,
		strconv.Itoa(p.BatchSize),
		strconv.Itoa(p.Threads),
		runtime,
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after defaults and environment overrides",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# effective configuration (%s)\n", ctx.configPath)
			_, err = out.Write(data)
			return err
		},
	}
}
