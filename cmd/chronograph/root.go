package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/logger"
	"github.com/soundprediction/chronograph/pkg/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile string
	envFile string

	rootCmd = &cobra.Command{
		Use:   "chronograph",
		Short: "Temporal knowledge graph engine",
		Long: `chronograph turns episodes of text into a knowledge graph whose facts carry
validity windows, and answers hybrid searches over it as of any instant.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(envFile); err != nil {
				return err
			}
			return initConfig()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./chronograph.yaml or $HOME/.chronograph.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db-driver", "", "graph backend (memory, badger, sqlite, neo4j, falkordb)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
}

// loadEnv reads a dotenv file if it exists. Variables already set in the
// environment win.
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// initConfig points viper at the config file. A missing default file is
// fine; a missing explicit one is not.
func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("chronograph")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}
	viper.SetEnvPrefix("CHRONOGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

// runtime bundles what every command needs.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	client *chronograph.Client
	close  func()
}

// setup loads configuration and builds the logger, tracing and the engine.
func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, closeLog, err := logger.NewLogger(os.Stderr, cfg.Log, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("using config file", "path", used)
	}

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Telemetry)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	client, err := chronograph.New(ctx, cfg, log)
	if err != nil {
		_ = shutdownTracing(context.Background())
		_ = closeLog()
		return nil, err
	}

	return &runtime{
		cfg:    cfg,
		logger: log,
		client: client,
		close: func() {
			if err := client.Close(); err != nil {
				log.Warn("failed to close client", "error", err)
			}
			if err := shutdownTracing(context.Background()); err != nil {
				log.Warn("failed to flush traces", "error", err)
			}
			_ = closeLog()
		},
	}, nil
}

// render writes v as indented JSON or as YAML with the JSON field names.
func render(w io.Writer, format string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	switch strings.ToLower(format) {
	case "", "json":
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml", "yml":
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown output format %q (json, yaml)", format)
	}
}
