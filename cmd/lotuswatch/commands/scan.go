package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/lotuswatch/internal/jobclient"
	"github.com/bl4ck0w1/lotuswatch/internal/notify"
	"github.com/bl4ck0w1/lotuswatch/internal/presenter"
	"github.com/bl4ck0w1/lotuswatch/internal/tracker"
	"github.com/bl4ck0w1/lotuswatch/pkg/models"
	"github.com/bl4ck0w1/lotuswatch/pkg/utils"
)

func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <target>",
		Short: "Start a scan and follow it to completion",
		Long: `Start a scan on the job service and follow its progress until it completes,
fails or is stopped. The target may be a domain, an IP address or an http(s) URL.

With --detach the scan is only created and its id printed.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}

	cmd.Flags().StringP("type", "t", "", "Scan type (osint, subdomain, vuln, full); defaults to tracker.default_scan_type")
	cmd.Flags().StringP("script", "s", "", "Script path on the job service (defaults to the scan type's script)")
	cmd.Flags().BoolP("detach", "d", false, "Create the scan and exit without following it")
	cmd.Flags().Bool("stop-on-interrupt", false, "Ask the job service to stop the scan on Ctrl-C")
	cmd.Flags().Duration("timeout", 0, "Stop following after this long (0 waits until the scan ends)")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	target, err := utils.NormalizeTarget(args[0])
	if err != nil {
		return err
	}

	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	scanType, _ := cmd.Flags().GetString("type")
	if scanType == "" {
		scanType = cfg.Tracker.DefaultScanType
	}
	if !isKnownScanType(scanType) {
		logrus.Warnf("Unknown scan type %q, passing it to the job service as is", scanType)
	}
	script, _ := cmd.Flags().GetString("script")
	detach, _ := cmd.Flags().GetBool("detach")
	stopOnInterrupt, _ := cmd.Flags().GetBool("stop-on-interrupt")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	metrics := startMetrics(ctx, cfg)
	client, err := newClient(cfg, metrics)
	if err != nil {
		return err
	}
	checkBackend(ctx, client, cfg.API.MinVersion)

	opts := tracker.Options{ScanType: models.ScanType(scanType), ScriptPath: script}
	if detach {
		return createDetached(ctx, cmd, client, target, opts)
	}

	sink := notify.NewSink(notify.Config{
		Duration: cfg.Notifications.Duration,
		Logger:   logrus.StandardLogger(),
		Metrics:  metrics,
	})
	defer sink.Close()

	tr := tracker.New(client, sink, tracker.Config{
		PollInterval: cfg.Tracker.PollInterval,
		RefreshDelay: cfg.Tracker.RefreshDelay,
		Logger:       logrus.StandardLogger(),
		Metrics:      metrics,
	})
	defer tr.Close()

	p := presenter.New(client, presenter.Config{
		Out:    cmd.OutOrStdout(),
		Quiet:  viper.GetBool("quiet"),
		Logger: logrus.StandardLogger(),
	})
	p.Attach(ctx, tr, sink)
	defer p.Detach()

	handle, err := tr.Start(ctx, target, opts)
	if err != nil {
		return describeRequestError(err)
	}

	select {
	case <-p.Done():
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout())
		if stopOnInterrupt {
			stopCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			return tr.StopCurrent(stopCtx)
		}
		logrus.Infof("No longer following scan %s; it keeps running on the job service", handle.ID)
		return nil
	}

	if term, ok := p.Terminal(); ok && term.State == tracker.StateFailed {
		return fmt.Errorf("scan %s failed: %s", handle.ID, emptyIf(term.Status.Message, "no details"))
	}
	return nil
}

func createDetached(ctx context.Context, cmd *cobra.Command, client *jobclient.Client, target string, opts tracker.Options) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	h, err := client.Create(ctx, jobclient.CreateRequest{Target: target, ScanType: opts.ScanType, ScriptPath: opts.ScriptPath})
	if err != nil {
		return describeRequestError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Scan started: %s\n", h.ID)
	fmt.Fprintf(cmd.OutOrStdout(), "Follow it with: lotuswatch status %s\n", h.ID)
	return nil
}

func isKnownScanType(s string) bool {
	for _, t := range models.KnownScanTypes() {
		if t.String() == s {
			return true
		}
	}
	return false
}
