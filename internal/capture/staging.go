package capture

import (
	"errors"
	"fmt"
)

// ErrBufferLimit is returned when the staging buffer cannot grow further.
var ErrBufferLimit = errors.New("capture: staging buffer limit reached")

// staging accumulates a video session. It grows in fixed steps and never
// beyond max bytes.
type staging struct {
	buf  []byte
	step int
	max  int
}

func newStaging(step, max int) *staging {
	if step <= 0 {
		step = 64 * 1024
	}
	if max < step {
		max = step
	}
	return &staging{buf: make([]byte, 0, step), step: step, max: max}
}

// reserve makes room for n more bytes.
func (s *staging) reserve(n int) error {
	need := len(s.buf) + n
	if need <= cap(s.buf) {
		return nil
	}
	newCap := cap(s.buf)
	for newCap < need {
		newCap += s.step
	}
	if newCap > s.max {
		return fmt.Errorf("need %d bytes, limit %d: %w", need, s.max, ErrBufferLimit)
	}
	grown := make([]byte, len(s.buf), newCap)
	copy(grown, s.buf)
	s.buf = grown
	return nil
}

func (s *staging) Len() int      { return len(s.buf) }
func (s *staging) Bytes() []byte { return s.buf }
