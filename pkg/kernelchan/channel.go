// Package kernelchan is the request/response transport to the in-kernel
// page-walk collaborator: a single in-flight request at a time, framed by
// a fixed 32-byte request header and multi-packet response reassembly.
package kernelchan

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jihwankim/tiermemctl/pkg/candidate"
)

// Transport sends one request payload and receives response packets. The
// real implementation is a raw AF_NETLINK socket; tests supply a fake.
type Transport interface {
	Send(payload []byte) error
	Recv() (packetType uint32, flags uint32, payload []byte, err error)
	Close() error
}

// Channel serializes every request/response round-trip through its
// mutex, so the controller never interleaves two requests on the wire.
type Channel struct {
	mutex      sync.Mutex
	transport  Transport
	maxPackets int
	seq        uint32
}

// Config carries the channel's framing limits.
type Config struct {
	MaxPackets int
	MaxPayload int
}

// New creates a Channel over an already-connected Transport.
func New(transport Transport, cfg Config) *Channel {
	if cfg.MaxPackets <= 0 {
		cfg.MaxPackets = 64
	}
	return &Channel{transport: transport, maxPackets: cfg.MaxPackets}
}

func (c *Channel) nextSeq() uint32 {
	return atomic.AddUint32(&c.seq, 1)
}

// sendRequest performs one full request/response round-trip while holding
// channel_mutex, reassembling up to maxPackets response packets into a raw
// candidate slice. An ERROR-typed packet aborts the call immediately.
func (c *Channel) sendRequest(op OpCode, pidOrN int32, mode Mode) ([]rawRecord, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	req := Request{
		Len:    requestHeaderSize,
		Type:   uint32(op),
		Seq:    c.nextSeq(),
		OpCode: op,
		PidOrN: pidOrN,
		Mode:   mode,
	}

	if err := c.transport.Send(req.Marshal()); err != nil {
		return nil, fmt.Errorf("kernelchan: send failed: %w", err)
	}

	var records []rawRecord
	for i := 0; i < c.maxPackets; i++ {
		typ, _, payload, err := c.transport.Recv()
		if err != nil {
			return nil, fmt.Errorf("kernelchan: recv failed: %w", err)
		}

		switch packetType(typ) {
		case packetError:
			return nil, fmt.Errorf("kernelchan: collaborator returned an error packet")
		case packetData, packetDone:
			recs, err := unmarshalRecords(payload)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
			if packetType(typ) == packetDone {
				return records, nil
			}
		default:
			return nil, fmt.Errorf("kernelchan: unknown packet type %d", typ)
		}
	}

	return nil, fmt.Errorf("kernelchan: response exceeded %d packets without DONE", c.maxPackets)
}

// Find issues a FIND(n, mode) request and parses the reassembled response
// into a candidate.Batch. expectSections is 2 for ModeSwitch and 1 for
// every other mode; maxRecords bounds each section (MAX_N_FIND or
// MAX_N_SWITCH, depending on caller).
func (c *Channel) Find(n int, mode Mode, maxRecords int) (candidate.Batch, error) {
	expectSections := 1
	if mode == ModeSwitch {
		expectSections = 2
	}

	raw, err := c.sendRequest(OpFind, int32(n), mode)
	if err != nil {
		return candidate.Batch{}, err
	}

	candidates := make([]candidate.Candidate, len(raw))
	for i, r := range raw {
		candidates[i] = candidate.Candidate{Addr: r.Addr, Pid: r.PidRetval}
	}

	return candidate.Parse(candidates, expectSections, maxRecords)
}

// Bind asks the collaborator to start tracking pid. Success is reported
// as a pid_retval of exactly 0.
func (c *Channel) Bind(pid int32) (bool, error) {
	return c.bindUnbind(OpBind, pid)
}

// Unbind asks the collaborator to stop tracking pid.
func (c *Channel) Unbind(pid int32) (bool, error) {
	return c.bindUnbind(OpUnbind, pid)
}

func (c *Channel) bindUnbind(op OpCode, pid int32) (bool, error) {
	raw, err := c.sendRequest(op, pid, 0)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, fmt.Errorf("kernelchan: empty response to %v", op)
	}
	return raw[0].PidRetval == 0, nil
}

// Close releases the underlying transport.
func (c *Channel) Close() error {
	return c.transport.Close()
}
