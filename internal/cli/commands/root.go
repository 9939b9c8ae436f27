package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/config"
)

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "subtransd <command>",
	Short: "subtransd keeps a media library's foreign-language subtitles translated",
	Long: `subtransd watches a media library, detects movies and episodes missing a
subtitle in a configured target language, and translates them through a
configurable LLM backend.

Example:
  subtransd run`,
}

// settings is loaded once at init time so subcommand flags can default to
// whatever is already on disk, the same early-load ordering the original
// media pipeline's root command used.
var settings config.Settings

func init() {
	if err := config.InitConfig(""); err != nil {
		fmt.Printf("Warning: could not initialize config: %v\n", err)
	}

	var err error
	settings, err = config.LoadSettings()
	if err != nil {
		fmt.Printf("Warning: could not load settings: %v\n", err)
	}

	RootCmd.PersistentFlags().String("config", "", "path to config.yaml (defaults to the XDG config location)")
	RootCmd.PersistentFlags().String("data-dir", settings.DataDir, "override the directory holding the sqlite database")

	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(testTranslateCmd)
	RootCmd.AddCommand(migrateCmd)
	RootCmd.AddCommand(versionCmd)

	cobra.OnInitialize(initConfig)
}

// initConfig binds environment-variable overrides for the settings most
// likely to be injected by a container runtime rather than written to
// config.yaml directly.
func initConfig() {
	if path, _ := RootCmd.PersistentFlags().GetString("config"); path != "" {
		if err := config.InitConfig(path); err != nil {
			fmt.Printf("Warning: could not initialize config %s: %v\n", path, err)
		}
	}
	if err := viper.BindPFlag("data_dir", RootCmd.PersistentFlags().Lookup("data-dir")); err != nil {
		fmt.Printf("Warning: failed to bind flag --data-dir: %v\n", err)
	}

	viper.SetEnvPrefix("SUBTRANS")
	viper.AutomaticEnv()

	envBindings := map[string]string{
		"SUBTRANS_API_KEY":  "api_key",
		"SUBTRANS_ENDPOINT": "endpoint",
		"SUBTRANS_DATA_DIR": "data_dir",
		"SUBTRANS_MODEL":    "model",
	}
	for env, conf := range envBindings {
		if err := viper.BindEnv(conf, env); err != nil {
			fmt.Printf("Warning: failed to bind environment variable %s: %v\n", env, err)
		}
	}
}

// exitOnError prints an ordinary error in place and exits loudly on
// anything that looks like an operator-facing bug rather than an expected
// runtime condition (file missing, network down, bad input).
func exitOnError(err error) {
	if err == nil {
		return
	}
	if isOrdinaryError(err) {
		color.Yellowf("Error: %v\n", err)
		os.Exit(1)
	}
	color.Redf("Fatal: %v\n", err)
	os.Exit(1)
}

// isOrdinaryError reports whether err is a common, non-surprising failure
// (missing file, permission, network) that doesn't warrant shouting.
func isOrdinaryError(err error) bool {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
		return true
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, os.ErrPermission) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || strings.Contains(err.Error(), "no such host") ||
			strings.Contains(err.Error(), "connection refused") ||
			strings.Contains(err.Error(), "network is unreachable")
	}

	if strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		return true
	}

	if errors.Is(err, io.EOF) {
		return true
	}

	return false
}

// https://github.com/spf13/cobra/issues/648#issuecomment-393154805
func argFuncs(funcs ...cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		for _, f := range funcs {
			if err := f(cmd, args); err != nil {
				return err
			}
		}
		return nil
	}
}
