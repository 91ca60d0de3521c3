package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/lotuswatch/cmd/lotuswatch/commands"
	"github.com/bl4ck0w1/lotuswatch/pkg/utils"
)

var (
	version   = "0.1.0"
	commit    = "unknown"
	buildDate = "unknown"
)

var appLogger *utils.Logger

var rootCmd = &cobra.Command{
	Use:           "lotuswatch",
	Short:         "lotuswatch - operator console for the Lotus OSINT job service",
	Long:          "lotuswatch starts reconnaissance scans on a Lotus job service, follows their progress and browses results, scripts, tools and configured API keys.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cmd.Flags().Changed("metrics-addr") {
			viper.Set("metrics.enabled", true)
		}

		if err := initLogging(); err != nil {
			return err
		}

		if !viper.GetBool("quiet") && cmd.Name() == "scan" {
			printBanner()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.lotuswatch/config.yaml)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet mode (no banner, no progress bar)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "log file path (rotated)")
	rootCmd.PersistentFlags().String("api-url", "", "job service base URL (default http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address while a scan is followed")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("api.base_url", rootCmd.PersistentFlags().Lookup("api-url"))
	_ = viper.BindPFlag("metrics.addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))

	rootCmd.AddCommand(commands.NewScanCommand())
	rootCmd.AddCommand(commands.NewStatusCommand())
	rootCmd.AddCommand(commands.NewStopCommand())
	rootCmd.AddCommand(commands.NewResultsCommand())
	rootCmd.AddCommand(commands.NewResultCommand())
	rootCmd.AddCommand(commands.NewDashboardCommand())
	rootCmd.AddCommand(commands.NewScriptsCommand())
	rootCmd.AddCommand(commands.NewToolsCommand())
	rootCmd.AddCommand(commands.NewSecretsCommand())
	rootCmd.AddCommand(commands.NewHealthCommand())
	rootCmd.AddCommand(commands.NewConfigureCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(version, commit, buildDate))
	rootCmd.AddCommand(commands.NewCompletionCommand())

	rootCmd.SetVersionTemplate(fmt.Sprintf("lotuswatch %s (commit %s, built %s)\n", version, commit, buildDate))
	commands.Version = version
}

func initConfig() error {
	commands.SetDefaults()
	viper.SetEnvPrefix("LOTUSWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home dir: %w", err)
		}
		viper.AddConfigPath(filepath.Join(home, ".lotuswatch"))
		viper.AddConfigPath("/etc/lotuswatch/")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.Warnf("Failed reading config file: %v", err)
		}
	} else {
		logrus.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}

	return nil
}

func initLogging() error {
	logConfig := utils.LogConfig{
		Level:         viper.GetString("logging.level"),
		Format:        viper.GetString("logging.format"),
		FileLocation:  viper.GetString("logging.file"),
		MaxSize:       viper.GetInt("logging.max_size"),
		MaxBackups:    viper.GetInt("logging.max_backups"),
		MaxAge:        viper.GetInt("logging.max_age"),
		Compress:      viper.GetBool("logging.compress"),
		EnableConsole: true,
	}

	logger, err := utils.NewLogger(logConfig, "lotuswatch", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize structured logger, falling back: %v\n", err)
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
		return nil
	}
	appLogger = logger

	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.Level)
	logrus.SetFormatter(logger.Formatter)

	for _, hooks := range logger.Hooks {
		for _, h := range hooks {
			logrus.AddHook(h)
		}
	}
	return nil
}

func printBanner() {
	const banner = `
  _       _              __        __    _       _
 | | ___ | |_ _   _ ___  \ \      / /_ _| |_ ___| |__
 | |/ _ \| __| | | / __|  \ \ /\ / / _' | __/ __| '_ \
 | | (_) | |_| |_| \__ \   \ V  V / (_| | || (__| | | |
 |_|\___/ \__|\__,_|___/    \_/\_/ \__,_|\__\___|_| |_|

            Lotus OSINT job service console %s
 ______________________________________________________________
`
	fmt.Fprintf(os.Stderr, banner, version)
	fmt.Fprintf(os.Stderr, "Build: %s (%s) | %s/%s\n\n", commit, buildDate, runtime.GOOS, runtime.GOARCH)
}

func main() {
	startTime := time.Now()
	Execute()
	if appLogger != nil {
		appLogger.WithComponent("cli").Debugf("Execution completed in %s", utils.HumanizeDuration(time.Since(startTime)))
	}
}
