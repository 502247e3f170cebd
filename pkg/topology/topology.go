// Package topology knows which NUMA node IDs belong to the DRAM and NVRAM
// tiers and reports per-node size and free space on demand.
package topology

import (
	"fmt"
)

// NodeId names a NUMA node.
type NodeId int

// Tier is one of the two static, disjoint, non-empty tiers.
type Tier int

const (
	DRAM Tier = iota
	NVRAM
)

func (t Tier) String() string {
	switch t {
	case DRAM:
		return "dram"
	case NVRAM:
		return "nvram"
	default:
		return "unknown"
	}
}

// NodeReader queries live per-node size and free bytes. Production code
// backs this with a sysfs reader; tests supply a fake.
type NodeReader interface {
	// TotalBytes returns a node's total capacity.
	TotalBytes(node NodeId) (uint64, error)
	// FreeBytes returns a node's current free capacity.
	FreeBytes(node NodeId) (uint64, error)
}

// Topology knows tier membership and exposes per-node and per-tier
// occupancy queries. Values are always sampled on demand; nothing is
// cached.
type Topology struct {
	nodes    map[Tier][]NodeId
	reader   NodeReader
	pageSize uint64
}

// New validates tier membership (non-empty, disjoint, every node readable)
// and returns a Topology. Failing this check is a StartupFatal per spec
// section 7: the original validates node lists the same way before the
// placement loop ever runs.
func New(dram, nvram []NodeId, reader NodeReader, pageSize uint64) (*Topology, error) {
	if len(dram) == 0 {
		return nil, fmt.Errorf("dram tier must be non-empty")
	}
	if len(nvram) == 0 {
		return nil, fmt.Errorf("nvram tier must be non-empty")
	}

	seen := make(map[NodeId]Tier, len(dram)+len(nvram))
	for _, n := range dram {
		seen[n] = DRAM
	}
	for _, n := range nvram {
		if _, ok := seen[n]; ok {
			return nil, fmt.Errorf("node %d appears in both tiers", n)
		}
		seen[n] = NVRAM
	}

	for n := range seen {
		if _, err := reader.TotalBytes(n); err != nil {
			return nil, fmt.Errorf("node %d unreadable: %w", n, err)
		}
	}

	if pageSize == 0 {
		pageSize = 4096
	}

	return &Topology{
		nodes:    map[Tier][]NodeId{DRAM: dram, NVRAM: nvram},
		reader:   reader,
		pageSize: pageSize,
	}, nil
}

// PageSize is the process-wide page size, read once at startup.
func (t *Topology) PageSize() uint64 {
	return t.pageSize
}

// Nodes returns the NodeIds belonging to a tier, left-to-right in
// configuration order (the order the Migration Engine walks for
// destination assignment).
func (t *Topology) Nodes(tier Tier) []NodeId {
	out := make([]NodeId, len(t.nodes[tier]))
	copy(out, t.nodes[tier])
	return out
}

// FreeBytes returns a single node's current free bytes.
func (t *Topology) FreeBytes(node NodeId) (uint64, error) {
	return t.reader.FreeBytes(node)
}

// FreePages returns a single node's current free space in pages, the unit
// the Migration Engine's destination assignment walks in.
func (t *Topology) FreePages(node NodeId) (uint64, error) {
	free, err := t.reader.FreeBytes(node)
	if err != nil {
		return 0, err
	}
	return free / t.pageSize, nil
}

// TierFreeBytes returns the aggregate free and total bytes across every
// node in a tier.
func (t *Topology) TierFreeBytes(tier Tier) (free, total uint64, err error) {
	for _, n := range t.nodes[tier] {
		f, ferr := t.reader.FreeBytes(n)
		if ferr != nil {
			return 0, 0, ferr
		}
		tot, terr := t.reader.TotalBytes(n)
		if terr != nil {
			return 0, 0, terr
		}
		free += f
		total += tot
	}
	return free, total, nil
}

// TierFreeRatio returns the tier's free fraction in [0,1].
func (t *Topology) TierFreeRatio(tier Tier) (float64, error) {
	free, total, err := t.TierFreeBytes(tier)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, fmt.Errorf("tier %s has zero total bytes", tier)
	}
	return float64(free) / float64(total), nil
}

// TierUsage returns 1 - TierFreeRatio(tier), the occupancy figure the
// placement loop's switch and threshold components read each tick.
func (t *Topology) TierUsage(tier Tier) (float64, error) {
	ratio, err := t.TierFreeRatio(tier)
	if err != nil {
		return 0, err
	}
	return 1 - ratio, nil
}

// TierFreePages returns the aggregate free pages across a tier.
func (t *Topology) TierFreePages(tier Tier) (uint64, error) {
	free, _, err := t.TierFreeBytes(tier)
	if err != nil {
		return 0, err
	}
	return free / t.pageSize, nil
}
