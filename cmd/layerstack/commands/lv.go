package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/lvm"
)

var lvCmd = &cobra.Command{
	Use:   "lv",
	Short: "Manage LVM logical volumes",
}

var lvCreateCmd = &cobra.Command{
	Use:   "create <vg> <name> <size>",
	Short: "Create a logical volume",
	Args:  cobra.ExactArgs(3),
	RunE:  runLVCreate,
}

var lvRemoveCmd = &cobra.Command{
	Use:   "remove <vg> <name>",
	Short: "Remove a logical volume",
	Args:  cobra.ExactArgs(2),
	RunE:  runLVRemove,
}

var lvRenameCmd = &cobra.Command{
	Use:   "rename <vg> <old> <new>",
	Short: "Rename a logical volume",
	Args:  cobra.ExactArgs(3),
	RunE:  runLVRename,
}

func init() {
	lvRemoveCmd.Flags().Bool("force", false, "Remove without confirmation")

	lvCmd.AddCommand(lvCreateCmd)
	lvCmd.AddCommand(lvRemoveCmd)
	lvCmd.AddCommand(lvRenameCmd)
	rootCmd.AddCommand(lvCmd)
}

func runLVCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := newEnv()

	size, err := parseSize(args[2], false)
	if err != nil {
		return err
	}
	if err := preflight(ctx, env); err != nil {
		return err
	}

	vg, err := lvm.LookupVG(ctx, env, args[0])
	if err != nil {
		return errors.Wrap(err, "volume group lookup failed")
	}
	lv, err := vg.CreateLV(ctx, args[1], size)
	if err != nil {
		return err
	}

	path, err := lv.Path()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runLVRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := newEnv()

	if err := preflight(ctx, env); err != nil {
		return err
	}

	vg, err := lvm.LookupVG(ctx, env, args[0])
	if err != nil {
		return errors.Wrap(err, "volume group lookup failed")
	}
	lv, err := vg.LV(ctx, args[1])
	if err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	return lv.Remove(ctx, force || !cfg.Interactive)
}

func runLVRename(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := newEnv()

	if err := preflight(ctx, env); err != nil {
		return err
	}

	vg, err := lvm.LookupVG(ctx, env, args[0])
	if err != nil {
		return errors.Wrap(err, "volume group lookup failed")
	}
	lv, err := vg.LV(ctx, args[1])
	if err != nil {
		return err
	}
	return lv.Rename(ctx, args[2])
}
