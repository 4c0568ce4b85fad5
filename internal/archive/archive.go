// Package archive reads and writes game exports as zstd-compressed JSONL.
// The first line is a header; every following line is one Record.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"pmsim/internal/domain"
)

const (
	Format  = "pmsim.game"
	Version = 1

	// Ext is the conventional file extension for exports.
	Ext = ".jsonl.zst"
)

// Record kinds.
const (
	KindGame    = "game"
	KindSprint  = "sprint"
	KindReview  = "review"
	KindEvent   = "event"
	kindHeader  = "header"
	maxLineSize = 8 * 1024 * 1024
)

type Header struct {
	Format     string `json:"format"`
	Version    int    `json:"version"`
	ExportedAt string `json:"exported_at"`
	Catalog    string `json:"catalog_digest,omitempty"`
}

// Review is the archived form of a stored review.
type Review struct {
	Kind      string          `json:"kind"`
	Quarter   int             `json:"quarter"`
	Score     int             `json:"score"`
	Rating    string          `json:"rating"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

type Record struct {
	Kind   string         `json:"kind"`
	Header *Header        `json:"header,omitempty"`
	Game   *domain.Game   `json:"game,omitempty"`
	Sprint *domain.Sprint `json:"sprint,omitempty"`
	Review *Review        `json:"review,omitempty"`
	Event  *domain.Event  `json:"event,omitempty"`
}

// Bundle is everything exported for one game.
type Bundle struct {
	Header  Header
	Game    domain.Game
	Sprints []domain.Sprint
	Reviews []Review
	Events  []domain.Event
}

var ErrFormat = errors.New("not a pmsim game archive")

// Write encodes b to w. w is not closed.
func Write(w io.Writer, b Bundle) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 128*1024)
	line := func(r Record) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
		return bw.WriteByte('\n')
	}

	h := b.Header
	h.Format, h.Version = Format, Version
	records := []Record{{Kind: kindHeader, Header: &h}, {Kind: KindGame, Game: &b.Game}}
	for i := range b.Sprints {
		records = append(records, Record{Kind: KindSprint, Sprint: &b.Sprints[i]})
	}
	for i := range b.Reviews {
		records = append(records, Record{Kind: KindReview, Review: &b.Reviews[i]})
	}
	for i := range b.Events {
		records = append(records, Record{Kind: KindEvent, Event: &b.Events[i]})
	}
	for _, r := range records {
		if err := line(r); err != nil {
			_ = enc.Close()
			return fmt.Errorf("write %s record: %w", r.Kind, err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Read decodes an archive written by Write.
func Read(r io.Reader) (Bundle, error) {
	var b Bundle
	dec, err := zstd.NewReader(r)
	if err != nil {
		return b, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	n := 0
	sawGame := false
	for sc.Scan() {
		n++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return b, fmt.Errorf("line %d: %w", n, err)
		}
		if n == 1 {
			if rec.Kind != kindHeader || rec.Header == nil || rec.Header.Format != Format {
				return b, ErrFormat
			}
			if rec.Header.Version > Version {
				return b, fmt.Errorf("archive version %d is newer than supported %d", rec.Header.Version, Version)
			}
			b.Header = *rec.Header
			continue
		}
		switch {
		case rec.Kind == KindGame && rec.Game != nil:
			b.Game = *rec.Game
			sawGame = true
		case rec.Kind == KindSprint && rec.Sprint != nil:
			b.Sprints = append(b.Sprints, *rec.Sprint)
		case rec.Kind == KindReview && rec.Review != nil:
			b.Reviews = append(b.Reviews, *rec.Review)
		case rec.Kind == KindEvent && rec.Event != nil:
			b.Events = append(b.Events, *rec.Event)
		default:
			return b, fmt.Errorf("line %d: unexpected record %q", n, rec.Kind)
		}
	}
	if err := sc.Err(); err != nil {
		return b, err
	}
	if n == 0 {
		return b, ErrFormat
	}
	if !sawGame {
		return b, fmt.Errorf("archive has no game record")
	}
	return b, nil
}
