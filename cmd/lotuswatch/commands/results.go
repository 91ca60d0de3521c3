package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/lotuswatch/internal/jobclient"
	"github.com/bl4ck0w1/lotuswatch/internal/presenter"
)

func NewResultsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List stored scan results",
		Args:  cobra.NoArgs,
		RunE:  runResults,
	}
	cmd.Flags().Int("limit", 50, "Maximum number of results")
	cmd.Flags().Int("offset", 0, "Number of results to skip")
	return cmd
}

func NewResultCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "result <scan-id>",
		Short: "Show one stored result with its findings",
		Args:  cobra.ExactArgs(1),
		RunE:  runResult,
	}
}

func runResults(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	if limit < 0 || offset < 0 {
		return fmt.Errorf("--limit and --offset must not be negative")
	}

	client, err := clientFromViper()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	page, err := client.ListResults(ctx, limit, offset)
	if err != nil {
		return describeRequestError(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Results %d-%d of %d\n", minInt(page.Offset+1, page.Total), page.Offset+len(page.Results), page.Total)
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")
	presenter.RenderResults(out, page.Results)
	return nil
}

func runResult(cmd *cobra.Command, args []string) error {
	client, err := clientFromViper()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	res, err := client.GetResult(ctx, args[0])
	if errors.Is(err, jobclient.ErrNotFound) {
		return fmt.Errorf("result %s not found", args[0])
	}
	if err != nil {
		return describeRequestError(err)
	}
	presenter.RenderResult(cmd.OutOrStdout(), res)
	return nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
