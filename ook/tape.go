package ook

import (
	"fmt"
)

// Tape is the machine memory. It grows one cell at a time to the right and is
// not bounded on the left; touching a cell left of 0 fails.
type Tape struct {
	cells    []int64
	position int
}

func NewTape() *Tape {
	return &Tape{
		cells:    []int64{0},
		position: 0,
	}
}

func (t *Tape) Len() int {
	return len(t.cells)
}

func (t *Tape) Position() int {
	return t.position
}

// At returns cell i, or 0 if the tape has not grown that far.
func (t *Tape) At(i int) int64 {
	if i < 0 || i >= len(t.cells) {
		return 0
	}
	return t.cells[i]
}

func (t *Tape) current() (*int64, error) {
	if t.position < 0 {
		return nil, fmt.Errorf("position %d: %w", t.position, ErrTapeUnderflow)
	}
	return &t.cells[t.position], nil
}

func (t *Tape) Get() (int64, error) {
	cell, err := t.current()
	if err != nil {
		return 0, err
	}
	return *cell, nil
}

func (t *Tape) Set(v int64) error {
	cell, err := t.current()
	if err != nil {
		return err
	}
	*cell = v
	return nil
}

// Inc and Dec wrap around on overflow.
func (t *Tape) Inc() error {
	cell, err := t.current()
	if err != nil {
		return err
	}
	*cell++
	return nil
}

func (t *Tape) Dec() error {
	cell, err := t.current()
	if err != nil {
		return err
	}
	*cell--
	return nil
}

func (t *Tape) Right() {
	t.position++
	if t.position >= len(t.cells) {
		t.cells = append(t.cells, 0)
	}
}

func (t *Tape) Left() {
	t.position--
}
