package migration

import (
	"fmt"
	"unsafe"

	"github.com/jihwankim/tiermemctl/pkg/topology"
	"golang.org/x/sys/unix"
)

// mpolMFMove is MPOL_MF_MOVE: only move pages exclusive to this process.
const mpolMFMove = 1 << 1

// SyscallPageMover invokes the real move_pages(2) syscall.
type SyscallPageMover struct{}

// MovePages moves every address in addrs to destNode for the given pid.
func (SyscallPageMover) MovePages(pid int32, addrs []uint64, destNode topology.NodeId, statuses []int32) error {
	count := len(addrs)
	if count == 0 {
		return nil
	}
	if len(statuses) != count {
		return fmt.Errorf("migration: statuses length %d does not match addrs length %d", len(statuses), count)
	}

	nodes := make([]int32, count)
	for i := range nodes {
		nodes[i] = int32(destNode)
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_MOVE_PAGES,
		uintptr(pid),
		uintptr(count),
		uintptr(unsafe.Pointer(&addrs[0])),
		uintptr(unsafe.Pointer(&nodes[0])),
		uintptr(unsafe.Pointer(&statuses[0])),
		uintptr(mpolMFMove),
	)
	if errno != 0 {
		return fmt.Errorf("migration: move_pages: %w", errno)
	}
	return nil
}
