package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fly-io/layerstack/internal/config"
	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/encryption"
	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/filesystem"
	"github.com/fly-io/layerstack/pkg/lvm"
)

var (
	cfg      *config.Config
	logLevel = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "layerstack",
	Short: "Inspect and resize stacks of block device layers",
	Long: `Opens, inspects and resizes stacked block devices such as an LVM volume
holding a LUKS container holding an ext4 filesystem.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command. level is adjusted to the configured log level.
func Execute(level *slog.LevelVar) {
	if level != nil {
		logLevel = level
	}
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	encryption.Register(blockdevice.Default)
	filesystem.Register(blockdevice.Default)
	lvm.Register(blockdevice.Default)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("key-file", "", "Key file for encrypted layers")
	rootCmd.PersistentFlags().Bool("interactive", true, "Let tools print progress and ask for confirmation")
	rootCmd.PersistentFlags().Int64("max-overhead", blockdevice.DefaultMaxOverhead, "Max bytes an outer layer may add to its inner layer")

	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("key-file", rootCmd.PersistentFlags().Lookup("key-file"))
	viper.BindPFlag("interactive", rootCmd.PersistentFlags().Lookup("interactive"))
	viper.BindPFlag("max-overhead", rootCmd.PersistentFlags().Lookup("max-overhead"))
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	level, _ := c.Level()
	logLevel.Set(level)
	cfg = c
	return nil
}
