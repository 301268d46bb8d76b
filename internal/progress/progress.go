// Package progress renders a job's phase snapshots as a multi-line text
// progress bar. The sink is append-only: characters already written are
// never rewritten, so the renderer works against any io.Writer, including
// a terminal, a log stream, and the dashboard's websocket broadcast.
package progress

import (
	"fmt"
	"io"
)

// DefaultWidth is the marker width of one phase line.
const DefaultWidth = 50

// Marker is the character emitted for completed progress.
const Marker = "#"

// Renderer tracks which phases were already rendered and how many markers
// the open phase has. Emitted counts are monotonically non-decreasing and
// never exceed the width.
type Renderer struct {
	w     io.Writer
	width int

	closed    map[string]struct{}
	current   string
	emitted   int
	errAtOpen int
}

// NewRenderer creates a renderer writing to w with the given marker width.
// width <= 0 selects DefaultWidth.
func NewRenderer(w io.Writer, width int) *Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Renderer{
		w:      w,
		width:  width,
		closed: map[string]struct{}{},
	}
}

// Observe consumes one snapshot: the phase list in server order, the
// percent-complete of the most recent phase, and the accumulated error
// count. Phases that appeared and were superseded within one snapshot are
// closed at full width immediately.
func (r *Renderer) Observe(phases []string, percent float64, errCount int) error {
	for i, phase := range phases {
		if _, done := r.closed[phase]; done {
			continue
		}

		if phase != r.current {
			if r.current != "" {
				if err := r.closeCurrent(errCount); err != nil {
					return err
				}
			}
			if err := r.open(phase, errCount); err != nil {
				return err
			}
		}

		last := i == len(phases)-1
		if !last {
			// Superseded before we ever saw it in progress: complete it.
			if err := r.closeCurrent(errCount); err != nil {
				return err
			}
			continue
		}
		if err := r.advance(percent); err != nil {
			return err
		}
	}
	return nil
}

// Finish closes the open phase line, if any, padding it to full width.
// Called once the job reaches a terminal state.
func (r *Renderer) Finish(errCount int) error {
	if r.current == "" {
		return nil
	}
	return r.closeCurrent(errCount)
}

func (r *Renderer) open(phase string, errCount int) error {
	r.current = phase
	r.emitted = 0
	r.errAtOpen = errCount
	_, err := fmt.Fprintf(r.w, "%-10s ", phase)
	return err
}

// advance appends markers for the open phase. The delta is clamped so the
// line can only grow, and never past the width.
func (r *Renderer) advance(percent float64) error {
	delta := clamp(int(float64(r.width)*percent/100)-r.emitted, 0, r.width-r.emitted)
	if delta == 0 {
		return nil
	}
	if err := r.writeMarkers(delta); err != nil {
		return err
	}
	r.emitted += delta
	return nil
}

func (r *Renderer) closeCurrent(errCount int) error {
	if pad := r.width - r.emitted; pad > 0 {
		if err := r.writeMarkers(pad); err != nil {
			return err
		}
		r.emitted = r.width
	}
	if n := errCount - r.errAtOpen; n > 0 {
		if _, err := fmt.Fprintf(r.w, " (%d errors)", n); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(r.w, "\n"); err != nil {
		return err
	}
	r.closed[r.current] = struct{}{}
	r.current = ""
	r.emitted = 0
	return nil
}

func (r *Renderer) writeMarkers(n int) error {
	for i := 0; i < n; i++ {
		if _, err := io.WriteString(r.w, Marker); err != nil {
			return err
		}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
