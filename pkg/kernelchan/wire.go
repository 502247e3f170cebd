package kernelchan

import (
	"encoding/binary"
	"fmt"
)

// NetlinkFamily is the custom protocol family the kernel page-walk
// collaborator is bound to.
const NetlinkFamily = 31

// OpCode identifies a request kind.
type OpCode int32

const (
	OpFind   OpCode = 0
	OpBind   OpCode = 1
	OpUnbind OpCode = 2
)

// Mode selects the discovery mode a FIND request runs under.
type Mode int32

const (
	ModeDRAMPull       Mode = 0
	ModeNVRAMPull      Mode = 1
	ModeSwitch         Mode = 2
	ModeNVRAMIntensive Mode = 3
	ModeNVRAMWrite     Mode = 4
	ModeNVRAMClear     Mode = 5
)

// packetType tags a response packet.
type packetType uint32

const (
	packetData  packetType = 0
	packetDone  packetType = 1
	packetError packetType = 2
)

// flagMulti marks an intermediate packet of a multi-packet response, in
// the spirit of netlink's NLM_F_MULTI.
const flagMulti uint32 = 1 << 0

const requestHeaderSize = 32
const responseHeaderSize = 16
const candidateRecordSize = 16

// Request is the 32-byte fixed header carried in every outbound payload:
// a netlink-shaped envelope (Len/Type/Flags/Seq/Pid) wrapping the
// operation code, the pid-or-count argument, and the placement mode.
type Request struct {
	Len   uint32
	Type  uint32
	Flags uint32
	Seq   uint32
	Pid   uint32

	OpCode OpCode
	PidOrN int32
	Mode   Mode
}

// Marshal encodes a Request into its 32-byte wire form, little-endian.
func (r Request) Marshal() []byte {
	buf := make([]byte, requestHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.Len)
	binary.LittleEndian.PutUint32(buf[4:8], r.Type)
	binary.LittleEndian.PutUint32(buf[8:12], r.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], r.Seq)
	binary.LittleEndian.PutUint32(buf[16:20], r.Pid)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(r.OpCode))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(r.PidOrN))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(r.Mode))
	return buf
}

// responseHeader is the 16-byte header prefixing every response packet.
type responseHeader struct {
	Len   uint32
	Type  packetType
	Flags uint32
	Seq   uint32
}

func unmarshalResponseHeader(buf []byte) (responseHeader, error) {
	if len(buf) < responseHeaderSize {
		return responseHeader{}, fmt.Errorf("kernelchan: short response header (%d bytes)", len(buf))
	}
	return responseHeader{
		Len:   binary.LittleEndian.Uint32(buf[0:4]),
		Type:  packetType(binary.LittleEndian.Uint32(buf[4:8])),
		Flags: binary.LittleEndian.Uint32(buf[8:12]),
		Seq:   binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// rawRecord is one (addr, pid_retval) record as it appears on the wire.
type rawRecord struct {
	Addr      uint64
	PidRetval int32
}

func unmarshalRecords(buf []byte) ([]rawRecord, error) {
	if len(buf)%candidateRecordSize != 0 {
		return nil, fmt.Errorf("kernelchan: payload not a multiple of record size (%d bytes)", len(buf))
	}
	n := len(buf) / candidateRecordSize
	records := make([]rawRecord, n)
	for i := 0; i < n; i++ {
		off := i * candidateRecordSize
		records[i] = rawRecord{
			Addr:      binary.LittleEndian.Uint64(buf[off : off+8]),
			PidRetval: int32(binary.LittleEndian.Uint32(buf[off+8 : off+12])),
		}
	}
	return records, nil
}
