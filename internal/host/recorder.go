package host

import (
	"bytes"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/Joe-Degs/svcrt/internal/trap"
)

// Record is one trap seen by a Recorder.
type Record struct {
	ID  trap.ID
	Arg uint32
	// Text holds the bytes read for puts, terminator included, and the
	// line bytes stored for gets after clipping to the buffer, without the
	// terminator.
	Text []byte
}

// Recorder is a host that remembers every trap and replays scripted input.
// It is meant for tests.
type Recorder struct {
	Calls  []Record
	Output bytes.Buffer
	Exited bool
	Status int

	input [][]byte
}

func NewRecorder(lines ...string) *Recorder {
	r := &Recorder{}
	for _, l := range lines {
		r.input = append(r.input, []byte(l))
	}
	return r
}

func (r *Recorder) HandleTrap(c *trap.Call) error {
	rec := Record{ID: c.ID(), Arg: c.Arg()}
	defer func() { r.Calls = append(r.Calls, rec) }()

	switch c.ID() {
	case trap.TRAP_EXIT:
		r.Exited = true
		r.Status = c.Status()
		return trap.Done{Status: c.Status()}
	case trap.TRAP_PUTS:
		s, err := c.Text()
		if err != nil {
			return err
		}
		rec.Text = append(append([]byte{}, s...), 0)
		r.Output.Write(s)
	case trap.TRAP_GETS:
		if len(r.input) == 0 {
			return errors.Wrap(io.EOF, "recorder: no scripted input left")
		}
		line := r.input[0]
		r.input = r.input[1:]
		if err := c.FillLine(line); err != nil {
			return err
		}
		if n := c.Bound() - 1; uint32(len(line)) > n {
			line = line[:n]
		}
		rec.Text = line
	case trap.TRAP_PUTINT:
		r.Output.WriteString(strconv.FormatInt(int64(c.Int()), 10))
	default:
		return errors.Wrapf(trap.ErrUnknownTrap, "%d", uint8(c.ID()))
	}
	return nil
}

// IDs lists the trap ids in the order they were raised.
func (r *Recorder) IDs() []trap.ID {
	ids := make([]trap.ID, len(r.Calls))
	for i, c := range r.Calls {
		ids[i] = c.ID
	}
	return ids
}
