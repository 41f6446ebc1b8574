package main

import (
	"fmt"
	"os"

	"navvoice/internal/config"
	"navvoice/internal/logging"
	"navvoice/internal/settings"
	"navvoice/internal/voice"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose    bool
	configPath string
	voiceRoot  string
	packFlag   string
	modeFlag   string

	cfg *config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "navvoice",
	Short: "navvoice - rule-driven voice prompts for turn-by-turn navigation",
	Long: `navvoice loads voice packs whose phrase rules are written in Google Mangle,
certifies them against the supported rule base versions and turns navigation
commands such as turn(/left) distance(200) into ordered audio sample ids.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(loaded)
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg = loaded

		if verbose {
			cfg.Logging.DebugMode = true
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func applyFlags(c *config.Config) {
	if voiceRoot != "" {
		c.Voice.Root = voiceRoot
	}
	if packFlag != "" {
		c.Voice.Pack = packFlag
	}
	if modeFlag != "" {
		c.Settings.Mode = modeFlag
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "navvoice.yaml", "Config file")
	rootCmd.PersistentFlags().StringVar(&voiceRoot, "root", "", "Voice pack root directory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&packFlag, "pack", "p", "", "Voice pack id (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&modeFlag, "mode", "m", "", "Application mode (overrides config)")

	rootCmd.AddCommand(packsCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(replCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newSettings seeds a settings store from the config.
func newSettings(c *config.Config) *settings.Store {
	metric, ok := settings.ParseMetricSystem(c.Settings.MetricSystem)
	if !ok && c.Settings.MetricSystem != "" {
		logging.For(logger, c.Logging, logging.CategoryCLI).Warn("unknown metric system, using km-m",
			zap.String("metric_system", c.Settings.MetricSystem))
	}
	store := settings.NewStore(settings.NewMode(c.Settings.Mode), metric)
	for mode, stream := range c.Settings.AudioStreams {
		store.SetAudioStream(settings.NewMode(mode), settings.AudioStream(stream))
	}
	return store
}

// engineOptions builds the engine options shared by every command.
func engineOptions(c *config.Config, store *settings.Store) voice.Options {
	return voice.Options{
		Locator:      voice.DirLocator{Root: c.Voice.Root},
		Settings:     store,
		Supported:    voice.NewSupportedVersions(c.Voice.SupportedVersions...),
		QueryTimeout: c.GetQueryTimeout(),
		FactLimit:    c.Voice.FactLimit,
		Logger:       logging.For(logger, c.Logging, logging.CategoryVoice),
	}
}
