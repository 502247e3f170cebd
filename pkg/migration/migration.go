// Package migration groups discovered candidates by owning process, assigns
// destination NUMA nodes subject to available tier space, and fans the
// resulting jobs out across a worker pool.
package migration

import (
	"fmt"
	"sync/atomic"

	"github.com/jihwankim/tiermemctl/pkg/candidate"
	"github.com/jihwankim/tiermemctl/pkg/logging"
	"github.com/jihwankim/tiermemctl/pkg/topology"
	"github.com/jihwankim/tiermemctl/pkg/workerpool"
)

// PageMover invokes the move_pages(2)-style primitive for one PID's batch
// of addresses, writing a per-address status into statuses.
type PageMover interface {
	MovePages(pid int32, addrs []uint64, destNode topology.NodeId, statuses []int32) error
}

// Engine is the Migration Engine: destination assignment, PID-run
// grouping, worker fan-out, and move_pages invocation.
type Engine struct {
	topo   *topology.Topology
	pool   *workerpool.Pool
	mover  PageMover
	logger *logging.Logger

	workersMax int
	failures   int32
}

// New creates a Migration Engine backed by a shared worker pool and page
// mover.
func New(topo *topology.Topology, pool *workerpool.Pool, mover PageMover, workersMax int, logger *logging.Logger) *Engine {
	if workersMax < 1 {
		workersMax = 1
	}
	return &Engine{topo: topo, pool: pool, mover: mover, workersMax: workersMax, logger: logger}
}

// Failures returns the running count of per-PID move_pages syscalls that
// have failed since the engine was created.
func (e *Engine) Failures() int {
	return int(atomic.LoadInt32(&e.failures))
}

// activeWorkers returns how many worker-pool jobs a PID run may be split
// across: 1 when the destination is NVRAM (NVRAM writes serialize
// better single-threaded), workers_max when the destination is DRAM.
func (e *Engine) activeWorkers(dest topology.Tier) int {
	if dest == topology.NVRAM {
		return 1
	}
	return e.workersMax
}

// assignment is one destination node's share of a section, in left-to-right
// candidate order.
type assignment struct {
	node       topology.NodeId
	candidates []candidate.Candidate
}

// assign walks candidates left-to-right, handing each destination node in
// the tier up to its current free-page count, and drops whatever remains
// once every node is full.
func (e *Engine) assign(candidates []candidate.Candidate, dest topology.Tier) ([]assignment, int, error) {
	var out []assignment
	dropped := 0
	idx := 0

	for _, node := range e.topo.Nodes(dest) {
		if idx >= len(candidates) {
			break
		}
		free, err := e.topo.FreePages(node)
		if err != nil {
			return nil, 0, fmt.Errorf("migration: free pages for node %d: %w", node, err)
		}

		end := idx
		for end < len(candidates) && uint64(end-idx) < free {
			end++
		}
		if end > idx {
			out = append(out, assignment{node: node, candidates: candidates[idx:end]})
			idx = end
		}
	}

	if idx < len(candidates) {
		dropped = len(candidates) - idx
	}

	return out, dropped, nil
}

// runsByPID groups a contiguous candidate slice into runs of consecutive
// candidates sharing the same PID, since one move_pages call only ever
// covers a single PID.
func runsByPID(candidates []candidate.Candidate) [][]candidate.Candidate {
	var runs [][]candidate.Candidate
	start := 0
	for i := 1; i <= len(candidates); i++ {
		if i == len(candidates) || candidates[i].Pid != candidates[start].Pid {
			runs = append(runs, candidates[start:i])
			start = i
		}
	}
	return runs
}

// Migrate performs one single-direction migration for a batch section:
// assign destinations, group into PID runs, fan each run out across
// active_workers worker-pool jobs, submit, and drain. It returns the total
// number of pages successfully submitted for migration.
func (e *Engine) Migrate(candidates []candidate.Candidate, dest topology.Tier) (int, error) {
	assignments, dropped, err := e.assign(candidates, dest)
	if err != nil {
		return 0, err
	}
	if dropped > 0 && e.logger != nil {
		e.logger.Warn("dropped candidates past tier capacity", "count", dropped, "tier", dest.String())
	}

	return e.migrateAssignments(assignments, dest), nil
}

// migrateAssignments groups each assignment's candidates into PID runs, fans
// each run out across active_workers worker-pool jobs, submits, and drains.
// It returns the total number of pages submitted.
func (e *Engine) migrateAssignments(assignments []assignment, dest topology.Tier) int {
	workers := e.activeWorkers(dest)
	submitted := 0

	for _, a := range assignments {
		for _, run := range runsByPID(a.candidates) {
			n := len(run)
			if n == 0 {
				continue
			}
			chunk := n / workers
			if chunk == 0 {
				chunk = n
			}

			pid := run[0].Pid
			node := a.node

			start := 0
			for start < n {
				end := start + chunk
				if end > n || n-end < chunk {
					end = n
				}
				slice := run[start:end]
				e.submitJob(pid, slice, node)
				submitted += len(slice)
				start = end
			}
		}
	}

	e.pool.Wait()
	return submitted
}

func (e *Engine) submitJob(pid int32, run []candidate.Candidate, node topology.NodeId) {
	addrs := make([]uint64, len(run))
	for i, c := range run {
		addrs[i] = c.Addr
	}
	statuses := make([]int32, len(run))

	e.pool.Submit(func() {
		if err := e.mover.MovePages(pid, addrs, node, statuses); err != nil {
			atomic.AddInt32(&e.failures, 1)
			if e.logger != nil {
				e.logger.Error("move_pages failed", "pid", pid, "dest_node", int(node), "error", err.Error())
			}
		}
	})
}
