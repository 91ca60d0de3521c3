package commands

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bl4ck0w1/lotuswatch/internal/presenter"
	"github.com/bl4ck0w1/lotuswatch/pkg/models"
)

const dashboardRecent = 5

func NewDashboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Summarize configured keys, scans and findings",
		Args:  cobra.NoArgs,
		RunE:  runDashboard,
	}
}

func runDashboard(cmd *cobra.Command, args []string) error {
	client, err := clientFromViper()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var (
		secrets models.SecretList
		page    models.ResultPage
	)
	g.Go(func() error {
		var err error
		secrets, err = client.ListSecrets(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		page, err = client.ListResults(ctx, 0, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return describeRequestError(err)
	}

	presenter.RenderDashboard(cmd.OutOrStdout(), secrets, page, dashboardRecent)
	return nil
}
