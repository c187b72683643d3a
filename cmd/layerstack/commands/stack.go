package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fly-io/layerstack/pkg/blockdevice"
	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/lvm"
)

var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "Inspect and resize a block device stack",
}

var stackShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Open the stack on a device and print its layers",
	Args:  cobra.ExactArgs(1),
	RunE:  runStackShow,
}

var stackResizeCmd = &cobra.Command{
	Use:   "resize <path> <size>",
	Short: "Resize every layer of the stack on a device",
	Long: `Resizes the outermost device, every layer and the innermost content.
Sizes accept units (10GiB). With --relative the size is a delta (+1GiB, -512MiB).`,
	Args: cobra.ExactArgs(2),
	RunE: runStackResize,
}

func init() {
	stackResizeCmd.Flags().Bool("relative", false, "Size is relative to the current size")
	stackResizeCmd.Flags().Bool("exact", false, "Fail instead of rounding to the stack granularity")
	stackResizeCmd.Flags().Bool("round-down", false, "Round down instead of up")

	stackCmd.AddCommand(stackShowCmd)
	stackCmd.AddCommand(stackResizeCmd)
	rootCmd.AddCommand(stackCmd)
}

// openStack roots a stack at path. Logical volumes are resolved so the
// outermost device can be resized.
func openStack(ctx context.Context, env *blockdevice.Env, path string) (*blockdevice.Stack, error) {
	lv, ok, err := lvm.LVFromPath(ctx, env, path)
	if err != nil {
		return nil, err
	}
	if ok {
		return blockdevice.NewStack(lv), nil
	}

	dev, err := blockdevice.NewDevice(env, path)
	if err != nil {
		return nil, err
	}
	return blockdevice.NewStack(dev), nil
}

func runStackShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := newEnv()

	stack, err := openStack(ctx, env, args[0])
	if err != nil {
		return errors.Wrap(err, "device lookup failed")
	}

	return stack.WithOpen(ctx, openParams(), func(s *blockdevice.Stack) error {
		layers, err := s.Layers()
		if err != nil {
			return err
		}
		sizes, err := s.LayerAndDataSizes(ctx)
		if err != nil {
			return errors.Wrap(err, "size query failed")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-32s %-12s %-10s %-12s %-12s\n", "LAYER", "SIZE", "CONTENT", "DATA SIZE", "OVERHEAD")
		for i, layer := range layers {
			path, err := layer.Path()
			if err != nil {
				return err
			}
			data, err := layer.Data(ctx)
			if err != nil {
				return err
			}

			kind, overhead := "-", "-"
			if data != nil {
				kind = data.Kind()
				if outer, ok := data.(blockdevice.OuterLayer); ok {
					n, err := blockdevice.Overhead(ctx, outer)
					if err != nil {
						return err
					}
					overhead = formatSize(n)
				}
			}
			fmt.Fprintf(out, "%-32s %-12s %-10s %-12s %-12s\n",
				path, formatSize(sizes[i].Layer), kind, formatSize(sizes[i].Data), overhead)
		}

		granularity := "-"
		g, err := s.Granularity(ctx)
		switch {
		case errors.Is(err, errors.ErrUnsupported):
		case err != nil:
			return err
		default:
			granularity = formatSize(g)
		}
		total, err := s.TotalOverhead(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "granularity %s, total overhead %s\n", granularity, formatSize(total))
		return nil
	})
}

func runStackResize(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env := newEnv()

	relative, _ := cmd.Flags().GetBool("relative")
	exact, _ := cmd.Flags().GetBool("exact")
	roundDown, _ := cmd.Flags().GetBool("round-down")

	size, err := parseSize(args[1], relative)
	if err != nil {
		return err
	}

	req := blockdevice.To(size)
	if relative {
		req = blockdevice.By(size)
	}
	if exact {
		req = req.Exact()
	}
	if roundDown {
		req = req.RoundDown()
	}
	if !cfg.Interactive {
		req = req.NonInteractive()
	}

	if err := preflight(ctx, env); err != nil {
		return err
	}

	stack, err := openStack(ctx, env, args[0])
	if err != nil {
		return errors.Wrap(err, "device lookup failed")
	}

	return stack.WithOpen(ctx, openParams(), func(s *blockdevice.Stack) error {
		if err := s.Resize(ctx, req); err != nil {
			return errors.Wrap(err, "resize failed")
		}
		size, err := s.Size(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s resized to %s\n", args[0], formatSize(size))
		return nil
	})
}
