package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fly-io/layerstack/pkg/devicemapper"
	"github.com/fly-io/layerstack/pkg/errors"
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the block device topology",
	Args:  cobra.NoArgs,
	RunE:  runTree,
}

var dminfoCmd = &cobra.Command{
	Use:   "dminfo <path>",
	Short: "Print the device-mapper attributes of a mapping",
	Args:  cobra.ExactArgs(1),
	RunE:  runDMInfo,
}

func init() {
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(dminfoCmd)
}

func runTree(cmd *cobra.Command, args []string) error {
	env := newEnv()

	root, err := devicemapper.Lsblk(cmd.Context(), env.Shell)
	if err != nil {
		return errors.Wrap(err, "topology failed")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-32s %-8s %-10s %-6s %s\n", "NAME", "TYPE", "SIZE", "RO", "MOUNTPOINT")
	root.Walk(func(n *devicemapper.Node) bool {
		if n.IsRoot() {
			return true
		}
		name := strings.Repeat("  ", n.Depth) + n.Name
		fmt.Fprintf(out, "%-32s %-8s %-10s %-6t %s\n", name, n.Type, n.Size, n.ReadOnly, n.Mountpoint)
		return true
	})
	return nil
}

func runDMInfo(cmd *cobra.Command, args []string) error {
	env := newEnv()

	info, err := devicemapper.DMInfo(cmd.Context(), env.Shell, args[0])
	if err != nil {
		return errors.Wrap(err, "dminfo failed")
	}

	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := cmd.OutOrStdout()
	for _, k := range keys {
		fmt.Fprintf(out, "%-20s %s\n", k+":", info.Get(k))
	}
	return nil
}
