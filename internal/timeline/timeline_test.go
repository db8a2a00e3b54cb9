package timeline

import (
	"bytes"
	"errors"
	"image/png"
	"testing"

	"rt-trace-monitor/internal/chrometrace"
	"rt-trace-monitor/internal/models"
)

func TestSegmentsPairBeginAndEnd(t *testing.T) {
	events, err := chrometrace.Convert([]models.EventRecord{
		{TaskID: 1, Phase: models.JobStart, Timestamp: 0},
		{TaskID: 2, Phase: models.JobStart, Timestamp: 5},
		{TaskID: 2, Phase: models.JobCompletion, Timestamp: 8},
		{TaskID: 1, Phase: models.JobCompletion, Timestamp: 12},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	segs := Segments(events)
	want := []Segment{{1, 0, 5000}, {2, 5000, 8000}, {1, 8000, 12000}}
	if len(segs) != len(want) {
		t.Fatalf("expected %d segments got %+v", len(want), segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Fatalf("segment %d = %+v want %+v", i, segs[i], want[i])
		}
	}
}

func TestRenderProducesOneRowPerTask(t *testing.T) {
	events, _ := chrometrace.Convert([]models.EventRecord{
		{TaskID: 3, Phase: models.JobStart, Timestamp: 0},
		{TaskID: 3, Phase: models.JobCompletion, Timestamp: 30},
		{TaskID: 1, Phase: models.JobStart, Timestamp: 50},
		{TaskID: 1, Phase: models.JobCompletion, Timestamp: 60},
	})
	img, err := Render(events, Options{Width: 200, RowHeight: 10, Supersample: 2})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 20 {
		t.Fatalf("unexpected bounds %v", b)
	}
	// Task 3 runs over the first half of the span on the second row.
	r, g, bl, _ := img.At(20, 15).RGBA()
	if r == g && g == bl {
		t.Fatalf("expected a coloured bar at (20,15)")
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := png.Decode(&buf); err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
}

func TestRenderEmpty(t *testing.T) {
	if _, err := Render(nil, Options{}); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty got %v", err)
	}
}
