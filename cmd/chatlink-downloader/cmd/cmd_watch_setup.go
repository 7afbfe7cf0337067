package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Persistent flag variables for logging
var logLevel string
var logFormat string

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(runCmd)

	// Persistent flags for logging configuration
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")

	// Hook to configure logging before any command runs
	cobra.OnInitialize(initLogging)

	// Watch and download behaviour knobs. Persistent so that watch and run
	// share a single definition; values flow into the config through viper.
	rootCmd.PersistentFlags().String("watch-mode", "", "How to detect export changes: events, poll or both (overrides config)")
	rootCmd.PersistentFlags().Int("poll-interval", 0, "Safety-net poll interval in seconds (overrides config)")
	rootCmd.PersistentFlags().Int("debounce", 0, "Cooldown between triggers in seconds (overrides config)")
	rootCmd.PersistentFlags().Int("settle", 0, "Delay before reading a changed export in seconds (overrides config)")
	rootCmd.PersistentFlags().Int("drive-wait", 0, "Download completion wait for Drive links in seconds (overrides config)")
	rootCmd.PersistentFlags().Int("wetransfer-wait", 0, "Download completion wait for WeTransfer links in seconds (overrides config)")
	rootCmd.PersistentFlags().Int("page-settle", 0, "Seconds to let provider pages settle after navigation (overrides config)")
	rootCmd.PersistentFlags().Int("link-delay", 0, "Pause between links in seconds (overrides config)")
	rootCmd.PersistentFlags().Bool("retry-timed-out", false, "Keep timed-out links eligible for retry within the session (overrides config)")
	rootCmd.PersistentFlags().Bool("headless", true, "Run the browser headless (overrides config)")
	rootCmd.PersistentFlags().String("user-agent", "", "User agent for the browser session (overrides config)")

	watchCmd.Flags().Bool("skip-initial-scan", false, "Do not process links already in the export, only react to new changes")

	viper.BindPFlag("watch-mode", rootCmd.PersistentFlags().Lookup("watch-mode"))
	viper.BindPFlag("poll-interval", rootCmd.PersistentFlags().Lookup("poll-interval"))
	viper.BindPFlag("debounce", rootCmd.PersistentFlags().Lookup("debounce"))
	viper.BindPFlag("settle", rootCmd.PersistentFlags().Lookup("settle"))
	viper.BindPFlag("drive-wait", rootCmd.PersistentFlags().Lookup("drive-wait"))
	viper.BindPFlag("wetransfer-wait", rootCmd.PersistentFlags().Lookup("wetransfer-wait"))
	viper.BindPFlag("page-settle", rootCmd.PersistentFlags().Lookup("page-settle"))
	viper.BindPFlag("link-delay", rootCmd.PersistentFlags().Lookup("link-delay"))
	viper.BindPFlag("retry-timed-out", rootCmd.PersistentFlags().Lookup("retry-timed-out"))
	viper.BindPFlag("headless", rootCmd.PersistentFlags().Lookup("headless"))
	viper.BindPFlag("user-agent", rootCmd.PersistentFlags().Lookup("user-agent"))
	viper.BindPFlag("skip-initial-scan", watchCmd.Flags().Lookup("skip-initial-scan"))
}

// initLogging configures the logrus logger based on the persistent flags
func initLogging() {
	// Set log level
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	// Set log format
	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	log.Debugf("Logging configured: Level=%s, Format=%s", log.GetLevel(), logFormat)
}
