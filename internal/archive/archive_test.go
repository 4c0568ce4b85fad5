package archive_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"

	"pmsim/internal/archive"
	"pmsim/internal/domain"
)

func TestWriteReadBundle(t *testing.T) {
	in := archive.Bundle{
		Header: archive.Header{ExportedAt: "2026-01-01T00:00:00Z", Catalog: "abc"},
		Game:   domain.Game{ID: "g1", PlayerID: "p1", Quarter: 2, Sprint: 3, QuarterlyScores: []int{71}},
		Sprints: []domain.Sprint{
			{GameID: "g1", Quarter: 1, Number: 1, EffectiveCapacity: 21},
			{GameID: "g1", Quarter: 1, Number: 2, EffectiveCapacity: 22},
		},
		Reviews: []archive.Review{{Kind: "quarterly", Quarter: 1, Score: 71, Rating: "solid", Payload: []byte(`{"quarter":1}`)}},
		Events:  []domain.Event{{ID: 1, Type: "game.created", GameID: "g1"}},
	}
	var buf bytes.Buffer
	if err := archive.Write(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := archive.Read(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header.Format != archive.Format || out.Header.Version != archive.Version || out.Header.Catalog != "abc" {
		t.Fatalf("bad header: %+v", out.Header)
	}
	if out.Game.ID != "g1" || out.Game.QuarterlyScores[0] != 71 {
		t.Fatalf("bad game: %+v", out.Game)
	}
	if len(out.Sprints) != 2 || out.Sprints[1].EffectiveCapacity != 22 {
		t.Fatalf("bad sprints: %+v", out.Sprints)
	}
	if len(out.Reviews) != 1 || string(out.Reviews[0].Payload) != `{"quarter":1}` {
		t.Fatalf("bad reviews: %+v", out.Reviews)
	}
	if len(out.Events) != 1 || out.Events[0].Type != "game.created" {
		t.Fatalf("bad events: %+v", out.Events)
	}
}

func TestReadRejectsForeignStream(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	enc.Write([]byte(`{"kind":"header","header":{"format":"other","version":1}}` + "\n"))
	enc.Close()
	if _, err := archive.Read(&buf); !errors.Is(err, archive.ErrFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
}
