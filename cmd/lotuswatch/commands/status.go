package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bl4ck0w1/lotuswatch/internal/jobclient"
	"github.com/bl4ck0w1/lotuswatch/internal/presenter"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <scan-id>",
		Short: "Show the current status of a scan",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
}

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <scan-id>",
		Short: "Ask the job service to stop a scan",
		Long: `Ask the job service to stop a running scan. The request is best effort:
the scan reports "stopped" once the job service has acted on it.`,
		Args: cobra.ExactArgs(1),
		RunE: runStop,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := clientFromViper()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	id := args[0]
	st, err := client.Query(ctx, id)
	if errors.Is(err, jobclient.ErrNotFound) {
		return fmt.Errorf("scan %s not found", id)
	}
	if err != nil {
		return describeRequestError(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scan:     %s\n", id)
	fmt.Fprintf(out, "Status:   %s\n", st.State)
	fmt.Fprintf(out, "Progress: %s\n", presenter.RenderBar(presenter.DefaultBarWidth, st.Progress, st.State.String(), ""))
	if st.Message != "" {
		fmt.Fprintf(out, "Message:  %s\n", st.Message)
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	client, err := clientFromViper()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	if err := client.Stop(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to stop scan: %w", describeRequestError(err))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stop requested for scan %s\n", args[0])
	return nil
}
