package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/familyportal/devicelink/internal/pairclient"
)

const legacyPath = "/.netlify/functions/device-code"

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "pairctl",
	Short: "Create, poll and link device pairing codes",
	Long: `pairctl talks to a devicelink server.

Run "pairctl wait" on the device that needs a credential, then
"pairctl link CODE --token ..." from the signed-in companion.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./pairctl.yaml if present)")
	flags.String("server", "http://localhost:8080", "devicelink server base URL")
	flags.Duration("timeout", 15*time.Second, "per-request timeout")
	flags.Bool("legacy-path", false, "use the "+legacyPath+" mount")
	flags.BoolP("verbose", "v", false, "debug logging")

	_ = v.BindPFlag("server", flags.Lookup("server"))
	_ = v.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = v.BindPFlag("legacy_path", flags.Lookup("legacy-path"))
	_ = v.BindPFlag("verbose", flags.Lookup("verbose"))

	rootCmd.AddCommand(createCmd, statusCmd, linkCmd, waitCmd)
}

func initConfig() error {
	v.SetEnvPrefix("PAIRCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pairctl")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return fmt.Errorf("read config: %w", err)
		}
	}

	level := zerolog.InfoLevel
	if v.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
	return nil
}

func newClient() *pairclient.Client {
	opts := []pairclient.Option{}
	if v.GetBool("legacy_path") {
		opts = append(opts, pairclient.WithPath(legacyPath))
	}
	c := pairclient.New(v.GetString("server"), opts...)
	log.Debug().Str("server", v.GetString("server")).Msg("using server")
	return c
}

func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
