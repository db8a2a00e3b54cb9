// Package timeline draws converted trace events as a Gantt chart PNG.
package timeline

import (
	"errors"
	"image"
	"image/color"
	"io"
	"sort"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"rt-trace-monitor/internal/chrometrace"
)

// ErrEmpty is returned when there is nothing to draw.
var ErrEmpty = errors.New("timeline: no complete job segments")

// Options control the output image size.
type Options struct {
	Width     int
	RowHeight int
	// Supersample draws at this multiple of the output size and scales down.
	Supersample int
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1200
	}
	if o.RowHeight <= 0 {
		o.RowHeight = 24
	}
	if o.Supersample <= 0 {
		o.Supersample = 4
	}
	return o
}

var palette = []color.NRGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff},
	{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	{R: 0x94, G: 0x67, B: 0xbd, A: 0xff},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 0xff},
}

// Segment is one contiguous run of a task.
type Segment struct {
	Task     uint32
	From, To int64
}

// Segments pairs each begin event with the next end event of the same task.
func Segments(events []chrometrace.Event) []Segment {
	open := map[uint32]int64{}
	var out []Segment
	for _, e := range events {
		switch e.Ph {
		case chrometrace.PhaseBegin:
			open[e.PID] = e.TS
		case chrometrace.PhaseEnd:
			if from, ok := open[e.PID]; ok {
				out = append(out, Segment{Task: e.PID, From: from, To: e.TS})
				delete(open, e.PID)
			}
		}
	}
	return out
}

// Render draws one row per task, ordered by task id, with time running left
// to right across the full span of the events.
func Render(events []chrometrace.Event, opts Options) (image.Image, error) {
	opts = opts.withDefaults()
	segs := Segments(events)
	if len(segs) == 0 {
		return nil, ErrEmpty
	}

	rows := map[uint32]int{}
	var tasks []uint32
	minTS, maxTS := segs[0].From, segs[0].To
	for _, s := range segs {
		if _, ok := rows[s.Task]; !ok {
			rows[s.Task] = 0
			tasks = append(tasks, s.Task)
		}
		minTS = min(minTS, s.From)
		maxTS = max(maxTS, s.To)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i] < tasks[j] })
	for i, t := range tasks {
		rows[t] = i
	}
	span := maxTS - minTS
	if span <= 0 {
		span = 1
	}

	k := opts.Supersample
	w, rowH := opts.Width*k, opts.RowHeight*k
	canvas := image.NewNRGBA(image.Rect(0, 0, w, rowH*len(tasks)))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)

	pad := rowH / 6
	for _, s := range segs {
		row := rows[s.Task]
		x0 := int((s.From - minTS) * int64(w) / span)
		x1 := int((s.To - minTS) * int64(w) / span)
		if x1 <= x0 {
			x1 = x0 + 1
		}
		r := image.Rect(x0, row*rowH+pad, x1, (row+1)*rowH-pad)
		c := palette[row%len(palette)]
		xdraw.Draw(canvas, r, image.NewUniform(c), image.Point{}, xdraw.Src)
	}

	return imaging.Resize(canvas, opts.Width, opts.RowHeight*len(tasks), imaging.Box), nil
}

// Encode writes img as PNG.
func Encode(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}
