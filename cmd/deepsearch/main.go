package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/patient-deep-search/internal/adapters/terminal"
	"github.com/kirillkom/patient-deep-search/internal/bootstrap"
	"github.com/kirillkom/patient-deep-search/internal/config"
	"github.com/kirillkom/patient-deep-search/internal/core/domain"
	"github.com/kirillkom/patient-deep-search/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/patient-deep-search/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "deepsearch",
		Short:         "Patient Deep Search for clinicians",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newChatCmd(),
		newLoginCmd(),
		newPatientsCmd(),
		newAnalyticsCmd(),
		newDepartmentCmd(),
		newInitDataCmd(),
		newClearDataCmd(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newApp wires the records client and audit sink. Logs go to stderr so the
// dialogue owns stdout.
func newApp(ctx context.Context, hostSpeech bool) (*bootstrap.App, error) {
	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, "deepsearch-cli", cfg.LogLevel)
	return bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger, HostSpeech: hostSpeech})
}

func newChatCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive Deep Search conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer app.Close()

			conv := app.NewConversation(domain.Session{
				ID:   "cli-" + strings.ReplaceAll(username, " ", "_"),
				User: domain.User{Username: username},
			})
			repl := terminal.New(conv, cmd.InOrStdin(), cmd.OutOrStdout(), terminal.Options{
				Loader:        app.Loader,
				Export:        xlsx.Save,
				EvidenceLimit: app.Config.EvidenceDisplayLimit,
			})
			return repl.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&username, "user", os.Getenv("USER"), "operator name recorded in the audit trail")
	return cmd
}

func newLoginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check credentials against the records backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return errors.New("--username and --password are required")
			}
			app, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			user, err := app.Records.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", user.Name, user.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "backend username")
	cmd.Flags().StringVar(&password, "password", os.Getenv("RECORDS_PASSWORD"), "backend password")
	return cmd
}

func newPatientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "patients",
		Short: "List patients known to the records backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			patients, err := app.Records.ListPatients(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range patients {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", p.PatientID, p.Name)
			}
			return nil
		},
	}
}

func newAnalyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics [patient-id]",
		Short: "Show visit and treatment analytics for a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			analytics, err := app.Records.PatientAnalytics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), analytics)
		},
	}
}

func newDepartmentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "department [name]",
		Short: "List the records of one department (mri, xray, ecg, blood, ct, treatment)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			records, err := app.Records.DepartmentRecords(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), records)
		},
	}
}

func newInitDataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-data",
		Short: "Ask the records backend to load its sample data",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			message, err := app.Records.InitData(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), message)
			return nil
		},
	}
}

func newClearDataCmd() *cobra.Command {
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "clear-data",
		Short: "Delete every patient and record on the records backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("clear-data deletes all backend records; pass --yes to proceed")
			}
			app, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer app.Close()

			message, err := app.Records.ClearData(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), message)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm deleting all backend data")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
