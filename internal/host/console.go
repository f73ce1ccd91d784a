// Package host holds trap handlers: a console bound to real input and
// output, and a recorder used by tests.
package host

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/Joe-Degs/svcrt/internal/trap"
)

// Console prints to an io.Writer and reads lines from an io.Reader.
type Console struct {
	out    io.Writer
	in     *bufio.Reader
	fd     int
	noEcho bool
	log    zerolog.Logger

	isTerminal   func(fd int) bool
	readPassword func(fd int) ([]byte, error)
}

type ConsoleOption func(*Console)

// WithNoEcho reads lines without echoing them when the input is a terminal.
func WithNoEcho() ConsoleOption {
	return func(c *Console) { c.noEcho = true }
}

func WithLogger(l zerolog.Logger) ConsoleOption {
	return func(c *Console) { c.log = l }
}

func NewConsole(out io.Writer, in io.Reader, opts ...ConsoleOption) *Console {
	c := &Console{
		out: out,
		in:  bufio.NewReader(in),
		fd:  -1,
		log: zerolog.Nop(),

		isTerminal:   term.IsTerminal,
		readPassword: term.ReadPassword,
	}
	if f, ok := in.(*os.File); ok {
		c.fd = int(f.Fd())
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) HandleTrap(call *trap.Call) error {
	switch call.ID() {
	case trap.TRAP_EXIT:
		c.log.Debug().Int("status", call.Status()).Msg("exit")
		return trap.Done{Status: call.Status()}
	case trap.TRAP_PUTS:
		s, err := call.Text()
		if err != nil {
			return err
		}
		_, err = c.out.Write(s)
		return err
	case trap.TRAP_GETS:
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if uint32(len(line)) >= call.Bound() {
			c.log.Warn().Int("len", len(line)).Uint32("bound", call.Bound()).Msg("input line truncated")
		}
		return call.FillLine(line)
	case trap.TRAP_PUTINT:
		_, err := io.WriteString(c.out, strconv.FormatInt(int64(call.Int()), 10))
		return err
	}
	return errors.Wrapf(trap.ErrUnknownTrap, "%d", uint8(call.ID()))
}

func (c *Console) readLine() ([]byte, error) {
	if c.noEcho && c.fd >= 0 && c.isTerminal(c.fd) {
		line, err := c.readPassword(c.fd)
		if err != nil {
			return nil, errors.Wrap(err, "reading line")
		}
		if _, err := io.WriteString(c.out, "\n"); err != nil {
			return nil, err
		}
		return line, nil
	}
	s, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return nil, errors.Wrap(err, "reading line")
	}
	return []byte(strings.TrimRight(s, "\r\n")), nil
}
