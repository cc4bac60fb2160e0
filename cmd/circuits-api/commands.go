package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/circuits/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/blueprint"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/config"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/curve"
	"github.com/MarcoPoloResearchLab/circuits/backend/internal/endusers"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// openOfflineStack opens the services for admin commands, which do not need session settings.
func openOfflineStack() (*stack, error) {
	return openStack(
		viper.GetString("database.path"),
		viper.GetString("log.level"),
		viper.GetString("log.format"),
		stackOptions{
			LockActiveCircuits:      viper.GetBool("circuits.lock_active_circuits"),
			EnforceUniqueEventNames: viper.GetBool("circuits.enforce_unique_event_names"),
		},
	)
}

func newCurveCommand() *cobra.Command {
	params := curve.DefaultParams()
	var shape, format string
	cmd := &cobra.Command{
		Use:   "curve",
		Short: "Preview the thresholds of a progression curve",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Curve = curve.Shape(shape)
			rendered, err := renderCurve(params, format)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}
	cmd.Flags().IntVar(&params.NumberOfSteps, "steps", params.NumberOfSteps, "Number of steps")
	cmd.Flags().StringVar(&shape, "shape", string(params.Curve), "Curve shape (linear, power, logarithmic)")
	cmd.Flags().IntVar(&params.StartValue, "start", params.StartValue, "Threshold of the first step")
	cmd.Flags().IntVar(&params.MaxValue, "max", params.MaxValue, "Target threshold of the last step")
	cmd.Flags().Float64Var(&params.Exponent, "exponent", params.Exponent, "Exponent of the power shape")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table, csv, markdown, html)")
	return cmd
}

func renderCurve(params curve.Params, format string) (string, error) {
	thresholds, err := curve.Generate(params)
	if err != nil {
		return "", err
	}
	writer := table.NewWriter()
	writer.AppendHeader(table.Row{"Step", "Threshold", "Increment"})
	previous := 0
	for index, threshold := range thresholds {
		writer.AppendRow(table.Row{index + 1, threshold, threshold - previous})
		previous = threshold
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "table":
		writer.SetStyle(table.StyleLight)
		return writer.Render(), nil
	case "csv":
		return writer.RenderCSV(), nil
	case "markdown", "md":
		return writer.RenderMarkdown(), nil
	case "html":
		return writer.RenderHTML(), nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

func newImportCommand() *cobra.Command {
	var projectID, ownerID string
	cmd := &cobra.Command{
		Use:   "import <blueprint.yaml>",
		Short: "Create a circuit and its rewards from a YAML blueprint",
		Long:  "Create a circuit and its rewards from a YAML blueprint.\n\nExample blueprint:\n\n" + blueprint.Example,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			document, err := blueprint.FromFile(args[0])
			if err != nil {
				return err
			}
			services, err := openOfflineStack()
			if err != nil {
				return err
			}
			defer services.Close()

			ctx := cmd.Context()
			if _, err := services.lookupProject(ctx, ownerID, projectID); err != nil {
				return err
			}
			result, err := blueprint.Import(ctx, services.circuits, projectID, *document)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported circuit %s (%s) with %d steps and %d rewards\n",
				result.Circuit.ID, result.Circuit.Name, len(result.Circuit.Steps), len(result.Rewards))
			return err
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Target project id")
	cmd.Flags().StringVar(&ownerID, "owner", "", "Operator id owning the project; skips the ownership check when empty")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newExportUsersCommand() *cobra.Command {
	var projectID, ownerID, format, output string
	var filter endusers.Filter
	var status string
	cmd := &cobra.Command{
		Use:   "export-users",
		Short: "Export the end users of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedFormat, ok := endusers.ParseFormat(format)
			if !ok {
				return fmt.Errorf("unsupported format %q", format)
			}
			parsedStatus, ok := endusers.ParseProgressStatus(status)
			if !ok {
				return fmt.Errorf("unsupported status %q", status)
			}
			services, err := openOfflineStack()
			if err != nil {
				return err
			}
			defer services.Close()

			ctx := cmd.Context()
			if _, err := services.lookupProject(ctx, ownerID, projectID); err != nil {
				return err
			}
			filter.ProjectID = projectID
			filter.Status = parsedStatus
			rendered, err := services.endUsers.Export(ctx, filter, parsedFormat)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
				return err
			}
			return os.WriteFile(output, []byte(rendered), 0o644)
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Project id")
	cmd.Flags().StringVar(&ownerID, "owner", "", "Operator id owning the project; skips the ownership check when empty")
	cmd.Flags().StringVar(&format, "format", "csv", "Output format (csv, markdown, html)")
	cmd.Flags().StringVar(&output, "output", "", "Write to this file instead of stdout")
	cmd.Flags().StringVar(&filter.Search, "search", "", "Match name, email or external id")
	cmd.Flags().StringVar(&filter.CircuitID, "circuit", "", "Restrict to progress in this circuit")
	cmd.Flags().StringVar(&status, "status", "", "Progress status in --circuit (not_started, in_progress, completed)")
	cmd.Flags().IntVar(&filter.MinStreak, "min-streak", 0, "Minimum current streak")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func newMintSessionCommand() *cobra.Command {
	var identity auth.OperatorIdentity
	cmd := &cobra.Command{
		Use:   "mint-session",
		Short: "Issue an operator session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			token, expiresAt, err := mintSession(cmd.Context(), appConfig, identity)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", token, expiresAt.UTC().Format("2006-01-02T15:04:05Z"))
			return err
		},
	}
	cmd.Flags().StringVar(&identity.UserID, "user-id", "", "Operator user id, optionally provider-prefixed (google:123)")
	cmd.Flags().StringVar(&identity.Email, "email", "", "Operator email")
	cmd.Flags().StringVar(&identity.DisplayName, "name", "", "Operator display name")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func mintSession(ctx context.Context, appConfig config.AppConfig, identity auth.OperatorIdentity) (string, time.Time, error) {
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SessionSigningSecret),
		Issuer:        appConfig.SessionIssuer,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return issuer.IssueSessionToken(ctx, identity)
}
