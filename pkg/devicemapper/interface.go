package devicemapper

import "context"

// Topology answers questions about the live kernel device tree.
type Topology interface {
	// Child returns the path of the single device layered on top of path, or
	// "" when nothing is. More than one child is an invariant violation.
	Child(ctx context.Context, path string) (string, error)
}
