package devicemapper

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	"github.com/fly-io/layerstack/pkg/errors"
	"github.com/fly-io/layerstack/pkg/shell"
)

// DeviceType is the lsblk TYPE column.
type DeviceType string

const (
	TypeDisk  DeviceType = "disk"
	TypePart  DeviceType = "part"
	TypeLVM   DeviceType = "lvm"
	TypeCrypt DeviceType = "crypt"
	TypeLoop  DeviceType = "loop"
	TypeROM   DeviceType = "rom"
	TypeDM    DeviceType = "dm"
	TypeMpath DeviceType = "mpath"
)

// Valid reports whether t is a type the parser understands. RAID levels are
// reported as raid0, raid1, raid10 and so on.
func (t DeviceType) Valid() bool {
	switch t {
	case TypeDisk, TypePart, TypeLVM, TypeCrypt, TypeLoop, TypeROM, TypeDM, TypeMpath:
		return true
	}
	return strings.HasPrefix(string(t), "raid")
}

// Mapped reports whether devices of this type live under DMDir.
func (t DeviceType) Mapped() bool {
	switch t {
	case TypeLVM, TypeCrypt, TypeDM, TypeMpath:
		return true
	}
	return strings.HasPrefix(string(t), "raid")
}

// Node is one device in the lsblk tree.
type Node struct {
	Name       string
	Major      int
	Minor      int
	Removable  bool
	Size       string // as printed, e.g. 43G
	ReadOnly   bool
	Type       DeviceType
	Mountpoint string // empty when not mounted
	Depth      int

	Parent   *Node
	Children []*Node
}

func newRoot() *Node {
	return &Node{Name: RootName, Major: -1, Minor: -1, ReadOnly: true, Depth: -1}
}

// IsRoot reports whether n is the sentinel root.
func (n *Node) IsRoot() bool {
	return n.Parent == nil && n.Name == RootName
}

func (n *Node) addChild(c *Node) {
	c.Parent = n
	n.Children = append(n.Children, c)
}

// Walk visits n and its descendants depth first. Returning false stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Nodes returns every node of the tree rooted at n in depth-first order.
func (n *Node) Nodes() []*Node {
	var nodes []*Node
	n.Walk(func(c *Node) bool {
		nodes = append(nodes, c)
		return true
	})
	return nodes
}

// Find returns the only node named name.
func (n *Node) Find(name string) (*Node, error) {
	var found []*Node
	n.Walk(func(c *Node) bool {
		if c.Name == name {
			found = append(found, c)
		}
		return true
	})

	if len(found) != 1 {
		return nil, errors.New(errors.KindInvalidArgument, "find_node", name, "expected exactly one match, found %d", len(found))
	}
	return found[0], nil
}

// Path returns the device node for n.
func (n *Node) Path() string {
	if n.Type.Mapped() {
		return DMDir + n.Name
	}
	return DevDir + n.Name
}

// SizeBytes converts the binary-unit size lsblk prints into bytes.
func (n *Node) SizeBytes() (uint64, error) {
	s := strings.TrimSpace(n.Size)
	if s == "" {
		return 0, errors.New(errors.KindNotReady, "size", n.Name, "no size reported")
	}

	last := rune(s[len(s)-1])
	if unicode.IsLetter(last) && last != 'B' {
		s += "iB"
	}

	b, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.E(errors.KindInvariant, "size", n.Name, err)
	}
	return b, nil
}

func (n *Node) String() string {
	return fmt.Sprintf("%s<%s, %s>", n.Name, n.Type, n.Size)
}

// ParseLsblk builds the device tree from lsblk output. The header must list
// exactly the columns in lsblkColumns.
func ParseLsblk(output string) (*Node, error) {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) == 0 || !slices.Equal(strings.Fields(lines[0]), lsblkColumns) {
		return nil, errors.New(errors.KindInvariant, "parse_lsblk", "", "unexpected header %q", lines[0])
	}

	root := newRoot()
	// most recent node seen at each depth
	last := map[int]*Node{-1: root}

	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}

		node, err := parseLsblkLine(line)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("line %d", i+2))
		}

		parent, ok := last[node.Depth-1]
		if !ok {
			return nil, errors.New(errors.KindInvariant, "parse_lsblk", node.Name, "no parent at depth %d", node.Depth-1)
		}
		parent.addChild(node)
		last[node.Depth] = node
		// deeper entries belong to an earlier sibling and must not be reused
		for d := range last {
			if d > node.Depth {
				delete(last, d)
			}
		}
	}

	return root, nil
}

func indentDepth(line string) (int, error) {
	i := slices.Index([]rune(line), treeGlyph)
	if i < 0 {
		return 0, nil
	}
	// every level is two characters wide plus the connector itself
	if i%2 != 1 {
		return 0, errors.New(errors.KindInvariant, "parse_lsblk", line, "unexpected indentation at column %d", i)
	}
	return (i + 1) / 2, nil
}

func parseLsblkLine(line string) (*Node, error) {
	depth, err := indentDepth(line)
	if err != nil {
		return nil, err
	}

	text := line
	if _, after, ok := strings.Cut(line, string(treeGlyph)); ok {
		text = after
	}

	fields := strings.Fields(text)
	if len(fields) == len(lsblkColumns)-1 {
		fields = append(fields, "")
	}
	if len(fields) != len(lsblkColumns) {
		return nil, errors.New(errors.KindInvariant, "parse_lsblk", line, "expected %d fields, got %d", len(lsblkColumns), len(fields))
	}

	major, minor, ok := strings.Cut(fields[1], ":")
	if !ok {
		return nil, errors.New(errors.KindInvariant, "parse_lsblk", line, "malformed MAJ:MIN %q", fields[1])
	}

	node := &Node{
		Name:       fields[0],
		Size:       fields[3],
		Type:       DeviceType(fields[5]),
		Mountpoint: fields[6],
		Depth:      depth,
	}

	if node.Major, err = strconv.Atoi(major); err != nil {
		return nil, errors.E(errors.KindInvariant, "parse_lsblk", line, err)
	}
	if node.Minor, err = strconv.Atoi(minor); err != nil {
		return nil, errors.E(errors.KindInvariant, "parse_lsblk", line, err)
	}
	if node.Removable, err = parseFlag(fields[2]); err != nil {
		return nil, errors.E(errors.KindInvariant, "parse_lsblk", line, err)
	}
	if node.ReadOnly, err = parseFlag(fields[4]); err != nil {
		return nil, errors.E(errors.KindInvariant, "parse_lsblk", line, err)
	}
	if !node.Type.Valid() {
		return nil, errors.New(errors.KindInvariant, "parse_lsblk", line, "unknown device type %q", node.Type)
	}

	return node, nil
}

func parseFlag(s string) (bool, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Lsblk runs lsblk and parses its output.
func Lsblk(ctx context.Context, sh shell.Shell) (*Node, error) {
	out, err := sh.CheckOutput(ctx, "lsblk", "-o", strings.Join(lsblkColumns, ","))
	if err != nil {
		slog.Error("lsblk_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list block devices")
	}

	root, err := ParseLsblk(out)
	if err != nil {
		slog.Error("lsblk_parse_failed", "error", err)
		return nil, err
	}
	return root, nil
}
