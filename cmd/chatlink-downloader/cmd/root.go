package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-chatlink-download/internal/config"
	"go-chatlink-download/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// globalConfig holds the loaded configuration, with flag and environment
// overrides already applied. Populated before any command's Run executes.
var globalConfig models.Config

var rootCmd = &cobra.Command{
	Use:   "chatlink-downloader",
	Short: "Watches a chat export for share links and downloads the files behind them",
	Long: `Chatlink Downloader follows a message export file, picks up Google Drive
and WeTransfer share links as they appear, fetches the files behind them
through a real browser session and records every download in a local
catalog so nothing is fetched twice.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadGlobalConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")

	rootCmd.PersistentFlags().String("messages", "", "Path of the message export to watch (overrides config)")
	rootCmd.PersistentFlags().String("catalog", "", "Path of the download catalog (overrides config)")
	rootCmd.PersistentFlags().String("download-dir", "", "Directory the browser downloads into (overrides config)")
	rootCmd.PersistentFlags().String("database", "", "Path of the attempt journal database (overrides config)")
	rootCmd.PersistentFlags().String("index", "", "Path of the search index (overrides config)")

	viper.BindPFlag("messages", rootCmd.PersistentFlags().Lookup("messages"))
	viper.BindPFlag("catalog", rootCmd.PersistentFlags().Lookup("catalog"))
	viper.BindPFlag("download-dir", rootCmd.PersistentFlags().Lookup("download-dir"))
	viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("database"))
	viper.BindPFlag("index", rootCmd.PersistentFlags().Lookup("index"))

	// CHATLINK_* environment variables stand in for flags in deployments
	// where editing the unit file is easier than editing the config.
	viper.SetEnvPrefix("CHATLINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadGlobalConfig loads the configuration file, layers flag and environment
// overrides on top and validates the result. Commands refuse to run on a
// broken config rather than guessing at paths.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", cfgFile, err)
	}
	applyConfigOverrides()
	if err := config.ValidateConfig(&globalConfig); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyConfigOverrides copies every flag or CHATLINK_* environment value the
// user actually set into the loaded config. viper resolves flag-vs-env
// precedence, so the order ends up flag > environment > file > default.
func applyConfigOverrides() {
	overrideString(&globalConfig.MessagesPath, "messages")
	overrideString(&globalConfig.CatalogPath, "catalog")
	overrideString(&globalConfig.DownloadDir, "download-dir")
	if viper.IsSet("database") {
		derived := globalConfig.DatabasePath + ".bleve"
		globalConfig.DatabasePath = viper.GetString("database")
		// Keep the index next to the journal unless its path was pinned
		// explicitly in the file.
		if globalConfig.BleveIndexPath == derived {
			globalConfig.BleveIndexPath = globalConfig.DatabasePath + ".bleve"
		}
	}
	overrideString(&globalConfig.BleveIndexPath, "index")
	overrideString(&globalConfig.WatchMode, "watch-mode")
	overrideInt(&globalConfig.PollIntervalSec, "poll-interval")
	overrideInt(&globalConfig.DebounceSec, "debounce")
	overrideInt(&globalConfig.SettleSec, "settle")
	overrideInt(&globalConfig.DriveWaitSec, "drive-wait")
	overrideInt(&globalConfig.WeTransferWaitSec, "wetransfer-wait")
	overrideInt(&globalConfig.PageSettleSec, "page-settle")
	overrideInt(&globalConfig.InterLinkDelaySec, "link-delay")
	overrideBool(&globalConfig.RetryTimedOut, "retry-timed-out")
	overrideBool(&globalConfig.Headless, "headless")
	overrideString(&globalConfig.UserAgent, "user-agent")
	overrideBool(&globalConfig.SkipInitialScan, "skip-initial-scan")
}

func overrideString(dst *string, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetString(key)
	}
}

func overrideInt(dst *int, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetInt(key)
	}
}

func overrideBool(dst *bool, key string) {
	if viper.IsSet(key) {
		*dst = viper.GetBool(key)
	}
}
