package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/lotuswatch/internal/presenter"
	"github.com/bl4ck0w1/lotuswatch/pkg/models"
)

func NewScriptsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scripts",
		Short: "List scan scripts known to the job service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromViper()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			scripts, err := client.ListScripts(ctx)
			if err != nil {
				return describeRequestError(err)
			}
			presenter.RenderScripts(cmd.OutOrStdout(), scripts)
			return nil
		},
	}
}

func NewToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List external tools the job service can drive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromViper()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			tools, err := client.ListTools(ctx)
			if err != nil {
				return describeRequestError(err)
			}
			presenter.RenderTools(cmd.OutOrStdout(), tools)
			return nil
		},
	}
}

func NewSecretsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "secrets",
		Short: "List API key slots and whether they are configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromViper()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			list, err := client.ListSecrets(ctx)
			if err != nil {
				return describeRequestError(err)
			}
			presenter.RenderSecrets(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

// NewHealthCommand reports the job service version and a short inventory.
func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the job service and show its statistics",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	}
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg, nil)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var (
		health  models.Health
		compat  error
		scripts []models.Script
		tools   []models.Tool
		page    models.ResultPage
	)
	g.Go(func() error {
		var err error
		health, err = client.CheckCompatibility(ctx, cfg.API.MinVersion)
		if err != nil && health.Version != "" {
			compat = err
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		scripts, err = client.ListScripts(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		tools, err = client.ListTools(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		page, err = client.ListResults(ctx, 1, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return describeRequestError(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Job Service:")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintf(out, "URL:      %s\n", client.BaseURL())
	fmt.Fprintf(out, "Name:     %s\n", emptyIf(health.Name, "-"))
	fmt.Fprintf(out, "Version:  %s\n", emptyIf(health.Version, "-"))
	fmt.Fprintf(out, "Status:   %s\n", emptyIf(health.Status, "-"))
	fmt.Fprintf(out, "Scripts:  %d\n", len(scripts))
	fmt.Fprintf(out, "Tools:    %d\n", len(tools))
	fmt.Fprintf(out, "Results:  %d\n", page.Total)
	if compat != nil {
		fmt.Fprintf(out, "Warning:  %v\n", compat)
	}
	return nil
}
