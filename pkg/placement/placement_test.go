package placement_test

import (
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jihwankim/tiermemctl/pkg/kernelchan"
	"github.com/jihwankim/tiermemctl/pkg/logging"
	"github.com/jihwankim/tiermemctl/pkg/migration"
	"github.com/jihwankim/tiermemctl/pkg/placement"
	"github.com/jihwankim/tiermemctl/pkg/telemetry"
	"github.com/jihwankim/tiermemctl/pkg/topology"
	"github.com/jihwankim/tiermemctl/pkg/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueTransport struct {
	mu        sync.Mutex
	responses [][]byte
	sent      int
}

func (q *queueTransport) Send(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent++
	return nil
}

func (q *queueTransport) Recv() (uint32, uint32, []byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.responses) == 0 {
		return 0, 0, nil, io.EOF
	}
	payload := q.responses[0]
	q.responses = q.responses[1:]
	return 1, 0, payload, nil
}

func (q *queueTransport) Close() error { return nil }

func record(addr uint64, pidRetval int32) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], addr)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(pidRetval))
	return buf
}

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

type fakeReader struct {
	free, total map[topology.NodeId]uint64
}

func (f *fakeReader) TotalBytes(n topology.NodeId) (uint64, error) { return f.total[n], nil }
func (f *fakeReader) FreeBytes(n topology.NodeId) (uint64, error)  { return f.free[n], nil }

type noopMover struct{}

func (noopMover) MovePages(pid int32, addrs []uint64, destNode topology.NodeId, statuses []int32) error {
	return nil
}

func newLoop(t *testing.T, ft *queueTransport, thresholds placement.Thresholds) (*placement.Loop, *sync.Mutex) {
	t.Helper()
	return newLoopWithTuning(t, ft, thresholds, "/nonexistent/memdata", placement.Tuning{
		MaxNFind:         2048,
		MaxNSwitch:       1024,
		MemcheckInterval: time.Millisecond,
		ClearInterval:    time.Millisecond,
	})
}

func newLoopWithTuning(t *testing.T, ft *queueTransport, thresholds placement.Thresholds, memdataPath string, tuning placement.Tuning) (*placement.Loop, *sync.Mutex) {
	t.Helper()
	reader := &fakeReader{
		free:  map[topology.NodeId]uint64{0: 100000, 1: 100000},
		total: map[topology.NodeId]uint64{0: 1000000, 1: 1000000},
	}
	topo, err := topology.New([]topology.NodeId{0}, []topology.NodeId{1}, reader, 4096)
	require.NoError(t, err)

	channel := kernelchan.New(ft, kernelchan.Config{MaxPackets: 8})
	pool := workerpool.New(2)
	t.Cleanup(pool.Shutdown)
	engine := migration.New(topo, pool, noopMover{}, 2, nil)

	logger := logging.NewLogger(logging.LoggerConfig{Format: logging.LogFormatJSON, Output: io.Discard})
	telemReader := telemetry.NewReader(memdataPath, telemetry.Bounds{DRAMBWMax: 40000, NVRAMBWMax: 10000})

	var mu sync.Mutex
	loop := placement.New(topo, telemReader, channel, engine, logger, thresholds, tuning, &mu)
	return loop, &mu
}

// writeMemdata writes one fixed-layout telemetry record to path, matching
// the six little-endian float32 fields pkg/telemetry expects.
func writeMemdata(t *testing.T, path string, dramReads, dramWrites, pmmReads, pmmWrites, pmmAppBW, pmmMemBW float32) {
	t.Helper()
	buf := make([]byte, 24)
	vals := []float32{dramReads, dramWrites, pmmReads, pmmWrites, pmmAppBW, pmmMemBW}
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func TestThresholdPullDownIssuesDRAMPull(t *testing.T) {
	ft := &queueTransport{
		responses: [][]byte{
			concat(record(0x1000, 10), record(0x2000, 10), record(0, 0)),
		},
	}

	loop, _ := newLoop(t, ft, placement.Thresholds{
		DRAMTarget:  0.90,
		DRAMLimit:   0.10, // force dram_usage > limit
		NVRAMTarget: 0.99,
		NVRAMLimit:  0.99,
	})

	loop.Tick()

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.GreaterOrEqual(t, ft.sent, 1)
}

func TestStickyNvramPullDisableSetAndHeld(t *testing.T) {
	ft := &queueTransport{
		responses: [][]byte{
			record(0, -2), // NVRAM_PULL returns exhausted
		},
	}

	loop, _ := newLoop(t, ft, placement.Thresholds{
		DRAMTarget:  0.99,
		DRAMLimit:   0.99,
		NVRAMTarget: 0.10,
		NVRAMLimit:  0.05, // force nvram_usage > limit
	})
	switchOff := false
	loop.SetEnabled(&switchOff, nil) // NVRAM_PULL only fires when switch is not active

	loop.Tick()
	assert.True(t, loop.NvramPullDisabled())

	// A subsequent tick must not issue another NVRAM_PULL while disabled.
	before := ft.sent
	loop.Tick()
	ft.mu.Lock()
	after := ft.sent
	ft.mu.Unlock()
	assert.Equal(t, before, after)
}

func TestNvramWriteCheckIssuesClearThenWriteFind(t *testing.T) {
	memdataPath := filepath.Join(t.TempDir(), "memdata")
	writeMemdata(t, memdataPath, 100, 100, 100, 9000, 0, 0) // PMMWrites over threshold

	ft := &queueTransport{
		responses: [][]byte{
			record(0, 0),                             // NVRAM_CLEAR response
			concat(record(0x1000, 10), record(0, 0)), // NVRAM_WRITE response
		},
	}

	loop, _ := newLoopWithTuning(t, ft,
		placement.Thresholds{
			DRAMTarget: 0.99, DRAMLimit: 0.99,
			NVRAMTarget: 0.99, NVRAMLimit: 0.99,
			NVRAMBWThresh: 1000,
		},
		memdataPath,
		placement.Tuning{
			MaxNFind:               2048,
			MaxNSwitch:             1024,
			MemcheckInterval:       time.Millisecond,
			ClearInterval:          time.Millisecond,
			NvramWriteCheckEnabled: true,
		},
	)
	switchOff, thresholdOff := false, false
	loop.SetEnabled(&switchOff, &thresholdOff) // isolate the write-check component

	loop.Tick()

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, 2, ft.sent)
}

func TestNvramWriteCheckDisabledByDefault(t *testing.T) {
	memdataPath := filepath.Join(t.TempDir(), "memdata")
	writeMemdata(t, memdataPath, 100, 100, 100, 9000, 0, 0)

	ft := &queueTransport{}
	loop, _ := newLoopWithTuning(t, ft,
		placement.Thresholds{
			DRAMTarget: 0.99, DRAMLimit: 0.99,
			NVRAMTarget: 0.99, NVRAMLimit: 0.99,
			NVRAMBWThresh: 1000,
		},
		memdataPath,
		placement.Tuning{
			MaxNFind:         2048,
			MaxNSwitch:       1024,
			MemcheckInterval: time.Millisecond,
			ClearInterval:    time.Millisecond,
		},
	)
	switchOff := false
	loop.SetEnabled(&switchOff, nil) // the switch component would otherwise act on the same sample

	loop.Tick()

	ft.mu.Lock()
	defer ft.mu.Unlock()
	assert.Equal(t, 0, ft.sent)
}
