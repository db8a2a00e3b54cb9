package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"rt-trace-monitor/internal/models"
)

func newTestPublisher(t *testing.T, maxDumps int) (*RedisPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisPublisherWithClient(client, maxDumps, time.Hour), mr
}

func TestArchivePublishesLinesAndIndex(t *testing.T) {
	ctx := context.Background()
	p, mr := newTestPublisher(t, 10)

	dump := models.Dump{
		ID:         "d1",
		Trigger:    models.TriggerWatermark,
		StartedMS:  100,
		FinishedMS: 102,
		Records: []models.EventRecord{
			{TaskID: 1, Phase: models.JobStart, Timestamp: 90},
			{TaskID: 1, Phase: models.JobCompletion, Timestamp: 95},
		},
	}
	if err := p.Archive(ctx, dump); err != nil {
		t.Fatalf("archive: %v", err)
	}

	lines, err := p.Lines(ctx, "d1")
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if len(lines) != 2 || lines[0] != "1,1,90" || lines[1] != "1,0,95" {
		t.Fatalf("unexpected lines %v", lines)
	}

	sums, err := p.RecentDumps(ctx, 5)
	if err != nil {
		t.Fatalf("recent dumps: %v", err)
	}
	if len(sums) != 1 || sums[0].Records != 2 || sums[0].Trigger != models.TriggerWatermark || sums[0].StartedMS != 100 {
		t.Fatalf("unexpected summaries %+v", sums)
	}

	recs, err := p.DumpRecords(ctx, "d1")
	if err != nil {
		t.Fatalf("dump records: %v", err)
	}
	if len(recs) != 2 || recs[0] != dump.Records[0] || recs[1] != dump.Records[1] {
		t.Fatalf("unexpected records %+v", recs)
	}

	mr.FastForward(2 * time.Hour)
	if mr.Exists("trace:dump:d1") {
		t.Fatalf("dump metadata should expire")
	}
	if _, err := p.DumpRecords(ctx, "d1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry got %v", err)
	}
}

func TestArchiveTrimsIndex(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPublisher(t, 3)
	for i := 0; i < 5; i++ {
		if err := p.Archive(ctx, models.Dump{ID: fmt.Sprintf("d%d", i), Trigger: models.TriggerPeriod}); err != nil {
			t.Fatalf("archive %d: %v", i, err)
		}
	}
	ids, err := p.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(ids) != 3 || ids[0] != "d4" || ids[2] != "d2" {
		t.Fatalf("expected newest three ids, got %v", ids)
	}
}

func TestPublishStatsRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPublisher(t, 0)
	best, worst := int64(10), int64(35)
	in := []models.TaskStats{
		{TaskID: 1, Met: 4, Missed: 1, BestMS: &best, WorstMS: &worst},
		{TaskID: 2},
	}
	if err := p.PublishStats(ctx, in); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, err := p.LoadStats(ctx)
	if err != nil {
		t.Fatalf("load stats: %v", err)
	}
	if len(got) != 2 || got[0].TaskID != 1 || got[1].TaskID != 2 {
		t.Fatalf("expected tasks 1 and 2 in order, got %+v", got)
	}
	if got[0].Met != 4 || got[0].Missed != 1 || got[0].BestMS == nil || *got[0].WorstMS != 35 {
		t.Fatalf("unexpected stats %+v", got[0])
	}
	if got[1].BestMS != nil || got[1].WorstMS != nil {
		t.Fatalf("unset extrema should stay nil, got %+v", got[1])
	}
}
