package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/lotuswatch/pkg/models"
	"github.com/bl4ck0w1/lotuswatch/pkg/utils"
)

func NewConfigureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Manage lotuswatch configuration",
		Long: `Initialize, inspect and validate the YAML configuration file.
Values are resolved in this order: flags, LOTUSWATCH_* environment variables,
the config file, built-in defaults.`,
	}

	cmd.AddCommand(newConfigureInitCommand())
	cmd.AddCommand(newConfigureShowCommand())
	cmd.AddCommand(newConfigureValidateCommand())
	return cmd
}

func newConfigureInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigureInit,
	}
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing file without asking")
	return cmd
}

func newConfigureShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigureShow,
	}
	cmd.Flags().Bool("yaml", false, "Print as YAML instead of a table")
	return cmd
}

func newConfigureValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigureValidate,
	}
}

// DefaultConfigPath is $HOME/.lotuswatch/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".lotuswatch", "config.yaml"), nil
}

func configPathArg(args []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if p := viper.GetString("config"); p != "" {
		return p, nil
	}
	return DefaultConfigPath()
}

func runConfigureInit(cmd *cobra.Command, args []string) error {
	path, err := configPathArg(args)
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")

	if utils.FileExists(path) && !force {
		logrus.Warnf("Configuration file already exists: %s", path)
		ok, err := confirmOverwrite(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if !ok {
			logrus.Info("Configuration initialization cancelled")
			return nil
		}
	}

	if err := models.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration initialized: %s\n", path)
	return nil
}

func runConfigureShow(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "Config file: (none, using defaults)")
	}
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════════════")

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB SERVICE:\t")
	fmt.Fprintf(w, "  Base URL:\t%s\n", cfg.API.BaseURL)
	fmt.Fprintf(w, "  Timeout:\t%s\n", cfg.API.Timeout)
	fmt.Fprintf(w, "  Rate Limit:\t%g req/s (burst %d)\n", cfg.API.RateLimit, cfg.API.Burst)
	fmt.Fprintf(w, "  Min Version:\t%s\n", emptyIf(cfg.API.MinVersion, "-"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "TRACKER:\t")
	fmt.Fprintf(w, "  Poll Interval:\t%s\n", cfg.Tracker.PollInterval)
	fmt.Fprintf(w, "  Refresh Delay:\t%s\n", cfg.Tracker.RefreshDelay)
	fmt.Fprintf(w, "  Default Scan Type:\t%s\n", cfg.Tracker.DefaultScanType)
	fmt.Fprintf(w, "  Notification Duration:\t%s\n", cfg.Notifications.Duration)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "LOGGING:\t")
	fmt.Fprintf(w, "  Level:\t%s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  Format:\t%s\n", cfg.Logging.Format)
	fmt.Fprintf(w, "  File:\t%s\n", emptyIf(cfg.Logging.File, "-"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "METRICS:\t")
	fmt.Fprintf(w, "  Enabled:\t%t\n", cfg.Metrics.Enabled)
	fmt.Fprintf(w, "  Address:\t%s\n", cfg.Metrics.Addr)

	return w.Flush()
}

func runConfigureValidate(cmd *cobra.Command, args []string) error {
	path, err := configPathArg(args)
	if err != nil {
		return err
	}
	cfg := models.DefaultConfig()
	if err := cfg.Load(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
	return nil
}

func confirmOverwrite(in io.Reader, out io.Writer) (bool, error) {
	fmt.Fprint(out, "Configuration file already exists. Overwrite? (y/N): ")
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	resp = strings.TrimSpace(resp)
	return resp == "y" || resp == "Y", nil
}
