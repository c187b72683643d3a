package devicemapper

// Kernel and tool constants shared by the topology parsers.
const (
	// DMDir is where device-mapper exposes its mappings
	DMDir = "/dev/mapper/"
	// DevDir holds the non-mapped block device nodes
	DevDir = "/dev/"
	// SectorSize is the sector size in bytes (512 bytes)
	SectorSize = 512
	// RootName names the sentinel root of a parsed device tree
	RootName = "lsblk_root"
	// treeGlyph is the connector lsblk draws before every indented name
	treeGlyph = '─'
)

// lsblkColumns is the exact column set requested from lsblk and expected in its header.
var lsblkColumns = []string{"NAME", "MAJ:MIN", "RM", "SIZE", "RO", "TYPE", "MOUNTPOINT"}

// infoKeys must all be present in a dmsetup info block.
var infoKeys = []string{"Major, minor", "Name", "UUID", "State", "Open count"}
