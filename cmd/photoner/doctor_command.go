package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"photoner/internal/config"
	"photoner/internal/notifications"
	"photoner/internal/preflight"
	"photoner/internal/records"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check paths, free space, tools and the record database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Preflight", colorize))
			results := preflight.RunAll(cmd.Context(), cfg, preflight.StatfsChecker{})
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				} else if strings.HasSuffix(r.Detail, "(optional)") {
					kind = statusWarn
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			failed := len(preflight.Failed(results))

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderSectionHeader("Database", colorize))
			dbErr := ctx.withStore(func(_ *config.Config, store *records.Store) error {
				health, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderStatusLine("Path", statusInfo, health.DBPath, colorize))
				fmt.Fprintln(out, renderStatusLine("Schema version", statusInfo, fmt.Sprint(health.SchemaVersion), colorize))
				if len(health.MissingTables) > 0 {
					fmt.Fprintln(out, renderStatusLine("Tables", statusError, "missing "+strings.Join(health.MissingTables, ", "), colorize))
					failed++
				} else {
					fmt.Fprintln(out, renderStatusLine("Tables", statusOK, "present", colorize))
				}
				if health.IntegrityCheck {
					fmt.Fprintln(out, renderStatusLine("Integrity", statusOK, "ok", colorize))
				} else {
					fmt.Fprintln(out, renderStatusLine("Integrity", statusError, health.Error, colorize))
					failed++
				}
				fmt.Fprintln(out, renderStatusLine("Records", statusInfo, fmt.Sprint(health.TotalRecords), colorize))
				return nil
			})
			if dbErr != nil {
				fmt.Fprintln(out, renderStatusLine("Database", statusError, dbErr.Error(), colorize))
				failed++
			}

			if failed > 0 {
				return fmt.Errorf("doctor found %d problem(s)", failed)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through every configured transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if cfg.Notifications.NtfyTopic == "" && cfg.Notifications.NATSURL == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "No notification transport configured (set notifications.ntfy_topic or notifications.nats_url)")
				return nil
			}
			svc := notifications.NewService(cfg, logger)
			defer svc.Close()
			if err := svc.TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}
