package admin

import (
	"bufio"
	"fmt"
	"io"
)

// StdinServer reads one command per line from in and writes results to
// out, until in is closed, a "exit" command is read, or a read error
// occurs.
type StdinServer struct {
	executor *Executor
	in       io.Reader
	out      io.Writer
}

// NewStdinServer creates a stdin command server.
func NewStdinServer(executor *Executor, in io.Reader, out io.Writer) *StdinServer {
	return &StdinServer{executor: executor, in: in, out: out}
}

// Run blocks, processing commands until EOF, a read error, or an "exit"
// command is executed.
func (s *StdinServer) Run() {
	fmt.Fprint(s.out, Usage)
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "exit" {
			s.executor.Run(Command{Kind: KindExit})
			return
		}

		cmd, err := ParseLine(line)
		if err != nil {
			fmt.Fprintln(s.out, err.Error())
			fmt.Fprint(s.out, Usage)
			continue
		}

		result := s.executor.Run(cmd)
		fmt.Fprintln(s.out, result.Message)
		if cmd.Kind == KindExit {
			return
		}
	}
}
