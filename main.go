// Package main provides the entry point for the panelvoice CLI.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/okabe15/panelvoice/internal/audio"
	"github.com/okabe15/panelvoice/speech"
	"github.com/okabe15/panelvoice/speech/engines"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	backendURL string
	voiceType  string
	rate       string
	pitch      string
	useSSML    bool
	noCache    bool
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "panelvoice [TEXT|FILE|-]",
		Short: "Speak comic panel text through the platform TTS backend",
		Long: "\nPanelvoice normalizes panel dialogue and narration, synthesizes it " +
			"through the e-learning backend, and plays the result. Pass literal " +
			"text, a file path, or - to read from stdin.",
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ArbitraryArgs,
		RunE:             execute,
	}

	voicesCmd = &cobra.Command{
		Use:   "voices",
		Short: "List the available voice types",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			types := make([]string, 0, len(engines.Voices))
			for t := range engines.Voices {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Printf("%-10s %-22s %s\n", t, engines.Voices[t], engines.VoiceDescriptions[t])
			}
			return nil
		},
	}
)

// loadSpeechConfig builds the coordinator configuration: defaults, then
// config file values via Viper, then environment variables, then flags.
func loadSpeechConfig(cmd *cobra.Command) (speech.Config, error) {
	cfg := speech.DefaultConfig()

	if viper.IsSet("backend_url") {
		cfg.BackendURL = viper.GetString("backend_url")
	}
	if viper.IsSet("voice_type") {
		cfg.VoiceType = viper.GetString("voice_type")
	}
	if viper.IsSet("rate") {
		cfg.Rate = viper.GetString("rate")
	}
	if viper.IsSet("pitch") {
		cfg.Pitch = viper.GetString("pitch")
	}
	if viper.IsSet("use_ssml") {
		cfg.UseSSML = viper.GetBool("use_ssml")
	}
	if viper.IsSet("cache_enabled") {
		cfg.CacheEnabled = viper.GetBool("cache_enabled")
	}
	if viper.IsSet("max_cache_size") {
		cfg.MaxCacheSize = viper.GetInt("max_cache_size")
	}
	if viper.IsSet("synthesis_timeout") {
		cfg.SynthesisTimeout = viper.GetDuration("synthesis_timeout")
	}
	if viper.IsSet("error_recovery_delay") {
		cfg.ErrorRecoveryDelay = viper.GetDuration("error_recovery_delay")
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}

	// CLI flags take precedence over config file and environment.
	if cmd.Flags().Changed("backend") {
		cfg.BackendURL = backendURL
	}
	if cmd.Flags().Changed("voice") {
		cfg.VoiceType = voiceType
	}
	if cmd.Flags().Changed("rate") {
		cfg.Rate = rate
	}
	if cmd.Flags().Changed("pitch") {
		cfg.Pitch = pitch
	}
	if cmd.Flags().Changed("ssml") {
		cfg.UseSSML = useSSML
	}
	if noCache {
		cfg.CacheEnabled = false
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to stat stdin: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// textFromArgs resolves the input text: piped stdin, an explicit -, a
// readable file path, or the arguments joined as literal text.
func textFromArgs(args []string) (string, error) {
	if yes, err := stdinIsPipe(); err != nil {
		return "", err
	} else if yes {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read stdin: %w", err)
		}
		return string(b), nil
	}

	if len(args) == 0 {
		return "", errors.New("nothing to speak: pass text, a file, or -")
	}

	if len(args) == 1 {
		if args[0] == "-" {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return "", fmt.Errorf("unable to read stdin: %w", err)
			}
			return string(b), nil
		}
		if st, err := os.Stat(args[0]); err == nil && !st.IsDir() {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return "", fmt.Errorf("unable to read file: %w", err)
			}
			return string(b), nil
		}
	}

	return strings.Join(args, " "), nil
}

func execute(cmd *cobra.Command, args []string) error {
	if debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := loadSpeechConfig(cmd)
	if err != nil {
		return err
	}

	text, err := textFromArgs(args)
	if err != nil {
		return err
	}
	if spoken := speech.Normalize(text); spoken == "" || strings.EqualFold(spoken, "none") {
		log.Info("nothing speakable in input")
		return nil
	}

	synth := engines.NewEdge(engines.EdgeConfig{
		BaseURL: cfg.BackendURL,
	})
	player := audio.NewOtoPlayer()

	coordinator, err := speech.New(cfg, synth, player)
	if err != nil {
		return err
	}
	defer coordinator.Close() //nolint:errcheck

	done := make(chan error, 1)
	coordinator.OnStateChange(func(slotID string, state speech.SlotState) {
		log.Debug("slot state", "slot", slotID, "state", state)
		if state == speech.StateReady {
			done <- nil
		}
	})
	coordinator.OnError(func(slotID string, err error) {
		done <- err
	})

	if err := coordinator.Play("cli", text, cfg.VoiceType); err != nil {
		return err
	}
	return <-done
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&backendURL, "backend", "b", "", "backend base URL")
	rootCmd.Flags().StringVarP(&voiceType, "voice", "v", "", "voice type (classic/modern/narrator/male/female)")
	rootCmd.Flags().StringVarP(&rate, "rate", "r", "", "speech rate (slow/medium/fast)")
	rootCmd.Flags().StringVarP(&pitch, "pitch", "p", "", "voice pitch (low/medium/high)")
	rootCmd.Flags().BoolVar(&useSSML, "ssml", false, "request SSML prosody formatting")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the audio fingerprint cache")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	_ = viper.BindPFlag("backend_url", rootCmd.Flags().Lookup("backend"))
	_ = viper.BindPFlag("voice_type", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("rate", rootCmd.Flags().Lookup("rate"))
	_ = viper.BindPFlag("pitch", rootCmd.Flags().Lookup("pitch"))
	_ = viper.BindPFlag("use_ssml", rootCmd.Flags().Lookup("ssml"))

	rootCmd.AddCommand(configCmd, voicesCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "panelvoice")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "panelvoice")}, dirs...)
	}

	if c := os.Getenv("PANELVOICE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("panelvoice")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("panelvoice")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "panelvoice.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
