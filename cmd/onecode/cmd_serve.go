package main

import (
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pangenome/onecode/pkg/catalog"
	"github.com/pangenome/onecode/pkg/service"
)

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory of ONE files over HTTP",
	Args:  cobra.NoArgs,
	Run:   runServe,
}

var flagServe struct {
	Config  string
	Addr    string
	DataDir string
}

// serveConfig is the YAML configuration of the serve command. Flags
// override file values.
type serveConfig struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`
}

func init() {
	cmdMain.AddCommand(cmdServe)

	cmdServe.Flags().StringVarP(&flagServe.Config, "config", "c", "", "YAML configuration file")
	cmdServe.Flags().StringVar(&flagServe.Addr, "addr", "", "Listen address (overrides config)")
	cmdServe.Flags().StringVar(&flagServe.DataDir, "data-dir", "", "Directory of ONE files (overrides config)")
}

func loadServeConfig() serveConfig {
	cfg := serveConfig{Addr: ":8080", DataDir: "."}
	if flagServe.Config != "" {
		data, err := os.ReadFile(flagServe.Config)
		checkf(err, "read config %s", flagServe.Config)
		checkf(yaml.Unmarshal(data, &cfg), "parse config %s", flagServe.Config)
	}
	if flagServe.Addr != "" {
		cfg.Addr = flagServe.Addr
	}
	if flagServe.DataDir != "" {
		cfg.DataDir = flagServe.DataDir
	}
	return cfg
}

func runServe(*cobra.Command, []string) {
	cfg := loadServeConfig()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cat, err := catalog.New(cfg.DataDir)
	checkf(err, "open catalog in %s", cfg.DataDir)

	skipped, err := cat.Refresh()
	checkf(err, "scan %s", cfg.DataDir)
	for name, serr := range skipped {
		log.Warn().Str("file", name).Err(serr).Msg("skipping unreadable file")
	}
	log.Info().Str("addr", cfg.Addr).Str("data_dir", cfg.DataDir).
		Int("files", len(cat.List())).Msg("listening")

	srv := service.New(cat, log)
	check(http.ListenAndServe(cfg.Addr, srv.Router()))
}
