package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/encryption"
	"github.com/fly-io/layerstack/pkg/errors"
)

var luksCmd = &cobra.Command{
	Use:   "luks",
	Short: "Manage LUKS encrypted devices",
}

var luksFormatCmd = &cobra.Command{
	Use:   "format <device>",
	Short: "Write a new LUKS header, destroying the device content",
	Args:  cobra.ExactArgs(1),
	RunE:  runLuksFormat,
}

var luksOpenCmd = &cobra.Command{
	Use:   "open <device>",
	Short: "Open the decrypted mapping of a LUKS device",
	Args:  cobra.ExactArgs(1),
	RunE:  runLuksOpen,
}

var luksCloseCmd = &cobra.Command{
	Use:   "close <name>",
	Short: "Close the decrypted mapping /dev/mapper/<name>",
	Args:  cobra.ExactArgs(1),
	RunE:  runLuksClose,
}

func init() {
	luksOpenCmd.Flags().String("name", "", "Mapping name (defaults to the device base name)")

	luksCmd.AddCommand(luksFormatCmd)
	luksCmd.AddCommand(luksOpenCmd)
	luksCmd.AddCommand(luksCloseCmd)
	rootCmd.AddCommand(luksCmd)
}

func runLuksFormat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := newEnv()

	if err := preflight(ctx, env); err != nil {
		return err
	}
	return encryption.Format(ctx, env.Shell, args[0], cfg.KeyFile, cfg.Interactive)
}

func runLuksOpen(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := newEnv()

	if err := preflight(ctx, env); err != nil {
		return err
	}

	dev, err := blockdevice.NewDevice(env, args[0])
	if err != nil {
		return errors.Wrap(err, "device lookup failed")
	}
	data, err := dev.Data(ctx)
	if err != nil {
		return errors.Wrap(err, "content detection failed")
	}
	enc, ok := data.(*encryption.Encrypted)
	if !ok {
		return errors.New(errors.KindInvalidArgument, "luks_open", args[0], "not a LUKS device")
	}

	params := openParams()
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		params[encryption.ParamName] = name
	}

	path, err := enc.Inner().Open(ctx, params)
	if err != nil {
		return errors.Wrap(err, "open failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runLuksClose(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := newEnv()

	if err := preflight(ctx, env); err != nil {
		return err
	}
	return encryption.CloseMapping(ctx, env.Shell, args[0])
}
