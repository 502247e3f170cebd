package admin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jihwankim/tiermemctl/pkg/kernelchan"
	"github.com/jihwankim/tiermemctl/pkg/logging"
)

const socketRecordSize = 12 // op_code, pid, mode: three little-endian int32s

// SocketServer accepts Unix-domain connections and reads fixed-size
// {op_code, pid, mode} records off each one, executing BIND/UNBIND
// requests only. It polls its accept deadline so Close unblocks it
// promptly instead of leaving Accept parked forever.
type SocketServer struct {
	executor *Executor
	logger   *logging.Logger
	path     string
	listener *net.UnixListener
}

// NewSocketServer creates (but does not yet bind) a socket server at path.
func NewSocketServer(executor *Executor, logger *logging.Logger, path string) *SocketServer {
	return &SocketServer{executor: executor, logger: logger, path: path}
}

// Listen unlinks any stale socket file and binds a fresh one.
func (s *SocketServer) Listen() error {
	_ = os.Remove(s.path)

	addr, err := net.ResolveUnixAddr("unix", s.path)
	if err != nil {
		return fmt.Errorf("admin: resolve socket path: %w", err)
	}
	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("admin: bind socket: %w", err)
	}
	s.listener = listener
	return nil
}

// Run accepts connections until Close is called. acceptTimeout bounds how
// long each Accept call blocks, so the loop notices closure without
// needing a second cancellation mechanism.
func (s *SocketServer) Run(acceptTimeout time.Duration) {
	for {
		if err := s.listener.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
			return
		}
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if s.logger != nil {
				s.logger.Warn("admin socket accept failed", "error", err.Error())
			}
			continue
		}
		s.handleConn(conn)
	}
}

// Close unbinds the listening socket and removes its file.
func (s *SocketServer) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *SocketServer) handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, socketRecordSize)
	for {
		if _, err := readFull(conn, buf); err != nil {
			return
		}

		opCode := kernelchan.OpCode(int32(binary.LittleEndian.Uint32(buf[0:4])))
		pid := int32(binary.LittleEndian.Uint32(buf[4:8]))

		var cmd Command
		switch opCode {
		case kernelchan.OpBind:
			cmd = Command{Kind: KindBind, Pid: pid}
		case kernelchan.OpUnbind:
			cmd = Command{Kind: KindUnbind, Pid: pid}
		default:
			if s.logger != nil {
				s.logger.Warn("admin socket: unexpected opcode from connection", "op_code", int32(opCode))
			}
			continue
		}

		result := s.executor.Run(cmd)
		if s.logger != nil {
			if result.IsError {
				s.logger.Warn("admin socket command failed", "message", result.Message)
			} else {
				s.logger.Info("admin socket command", "message", result.Message)
			}
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
