package topology

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsReader reads per-node size and free bytes from
// /sys/devices/system/node/nodeN/meminfo, the same source the original
// free_space_node helper parses via numa_node_size64.
type SysfsReader struct {
	base string
}

// NewSysfsReader creates a reader rooted at the given sysfs node directory,
// normally "/sys/devices/system/node".
func NewSysfsReader(base string) *SysfsReader {
	if base == "" {
		base = "/sys/devices/system/node"
	}
	return &SysfsReader{base: base}
}

func (r *SysfsReader) meminfoPath(node NodeId) string {
	return filepath.Join(r.base, fmt.Sprintf("node%d", node), "meminfo")
}

// TotalBytes parses the "MemTotal" line of a node's meminfo file.
func (r *SysfsReader) TotalBytes(node NodeId) (uint64, error) {
	return r.readField(node, "MemTotal")
}

// FreeBytes parses the "MemFree" line of a node's meminfo file.
func (r *SysfsReader) FreeBytes(node NodeId) (uint64, error) {
	return r.readField(node, "MemFree")
}

func (r *SysfsReader) readField(node NodeId, field string) (uint64, error) {
	f, err := os.Open(r.meminfoPath(node))
	if err != nil {
		return 0, fmt.Errorf("open meminfo for node %d: %w", node, err)
	}
	defer f.Close()

	needle := "Node " + strconv.Itoa(int(node)) + " " + field + ":"
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, needle) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, needle))
		if len(fields) == 0 {
			return 0, fmt.Errorf("malformed meminfo line %q for node %d", line, node)
		}
		kb, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s for node %d: %w", field, node, err)
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s not found for node %d", field, node)
}
