package admin_test

import (
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jihwankim/tiermemctl/pkg/admin"
	"github.com/jihwankim/tiermemctl/pkg/kernelchan"
	"github.com/jihwankim/tiermemctl/pkg/logging"
	"github.com/jihwankim/tiermemctl/pkg/migration"
	"github.com/jihwankim/tiermemctl/pkg/placement"
	"github.com/jihwankim/tiermemctl/pkg/shutdown"
	"github.com/jihwankim/tiermemctl/pkg/topology"
	"github.com/jihwankim/tiermemctl/pkg/workerpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queueTransport struct {
	mu        sync.Mutex
	responses [][]byte
}

func (q *queueTransport) Send([]byte) error { return nil }

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

type fakeReader struct{}

func (fakeReader) TotalBytes(topology.NodeId) (uint64, error) { return 1000000, nil }
func (fakeReader) FreeBytes(topology.NodeId) (uint64, error)  { return 100000, nil }

type noopMover struct{}

func (noopMover) MovePages(int32, []uint64, topology.NodeId, []int32) error { return nil }

func newExecutor(t *testing.T, ft *queueTransport) *admin.Executor {
	t.Helper()
	topo, err := topology.New([]topology.NodeId{0}, []topology.NodeId{1}, fakeReader{}, 4096)
	require.NoError(t, err)

	channel := kernelchan.New(ft, kernelchan.Config{MaxPackets: 8})
	pool := workerpool.New(2)
	t.Cleanup(pool.Shutdown)
	engine := migration.New(topo, pool, noopMover{}, 2, nil)
	logger := logging.NewLogger(logging.LoggerConfig{Format: logging.LogFormatJSON, Output: io.Discard})

	var mu sync.Mutex
	loop := placement.New(topo, nil, channel, engine, logger, placement.Thresholds{}, placement.Tuning{
		MemcheckInterval: time.Millisecond,
		ClearInterval:    time.Millisecond,
	}, &mu)

	shutdownCtl := shutdown.New(shutdown.Config{EnableSignalHandlers: false})

	return admin.New(channel, engine, loop, shutdownCtl, &mu, logger, 2048, 1024)
}

func TestExecutorBindSuccess(t *testing.T) {
	ft := &queueTransport{responses: [][]byte{record(0, 0)}}
	e := newExecutor(t, ft)

	result := e.Run(admin.Command{Kind: admin.KindBind, Pid: 123})
	assert.False(t, result.IsError)
	assert.Contains(t, result.Message, "success")
}

func TestExecutorBindFailure(t *testing.T) {
	ft := &queueTransport{responses: [][]byte{record(0, 1)}}
	e := newExecutor(t, ft)

	result := e.Run(admin.Command{Kind: admin.KindBind, Pid: 123})
	assert.True(t, result.IsError)
}

func TestExecutorSendMigratesCandidates(t *testing.T) {
	ft := &queueTransport{responses: [][]byte{
		concat(record(0x1000, 10), record(0x2000, 10), record(0, 0)),
	}}
	e := newExecutor(t, ft)

	result := e.Run(admin.Command{Kind: admin.KindSend, N: 4, Dest: admin.SendDRAM})
	assert.False(t, result.IsError)
	assert.Contains(t, result.Message, "migrated 2")
}

func TestExecutorSwitchMigratesBothSections(t *testing.T) {
	ft := &queueTransport{responses: [][]byte{
		concat(record(0x1000, 10), record(0, 0), record(0x2000, 20), record(0, 0)),
	}}
	e := newExecutor(t, ft)

	result := e.Run(admin.Command{Kind: admin.KindSwitch, N: 1})
	assert.False(t, result.IsError)
	assert.Contains(t, result.Message, "switched 2")
}

func TestExecutorToggleAll(t *testing.T) {
	e := newExecutor(t, &queueTransport{})
	result := e.Run(admin.Command{Kind: admin.KindToggle, Toggle: admin.ToggleAll})
	assert.Contains(t, result.Message, "OFF")
}

func TestExecutorExitTriggersShutdown(t *testing.T) {
	e := newExecutor(t, &queueTransport{})
	result := e.Run(admin.Command{Kind: admin.KindExit})
	assert.False(t, result.IsError)
}
