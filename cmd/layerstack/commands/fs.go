package commands

import (
	"github.com/spf13/cobra"

	"github.com/fly-io/layerstack/pkg/filesystem"
)

var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Manage filesystems",
}

var fsFormatCmd = &cobra.Command{
	Use:   "format <kind> <device>",
	Short: "Create an ext2, ext3 or ext4 filesystem",
	Args:  cobra.ExactArgs(2),
	RunE:  runFSFormat,
}

func init() {
	fsFormatCmd.Flags().Bool("force", false, "Format even if the device appears to be in use")

	fsCmd.AddCommand(fsFormatCmd)
	rootCmd.AddCommand(fsCmd)
}

func runFSFormat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := newEnv()

	if err := preflight(ctx, env); err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	return filesystem.Format(ctx, env.Shell, args[0], args[1], force)
}
