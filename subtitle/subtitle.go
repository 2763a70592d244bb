// Package subtitle wraps go-astisub for parsing and writing the .srt files
// this system reads from the catalog and writes after translation (§4.2,
// §4.3). It reduces astisub's richer subtitle model down to the flat
// {id, start, end, text} segment shape spec §3 defines.
package subtitle

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/asticode/go-astisub"
)

// Segment is one timed subtitle entry.
type Segment struct {
	ID    int
	Start time.Duration
	End   time.Duration
	Text  string
}

// Parse reads an .srt file, tolerating the minor off-spec input spec §4.3
// calls out (missing blank lines, CRLF/LF mixing, BOM) — all handled by
// astisub's own SRT reader.
func Parse(r io.Reader) ([]Segment, error) {
	subs, err := astisub.ReadFromSRT(r)
	if err != nil {
		return nil, fmt.Errorf("parsing subtitle: %w", err)
	}
	return fromAstisub(subs), nil
}

// ParseFile is a convenience wrapper around Parse for local paths.
func ParseFile(path string) ([]Segment, error) {
	subs, err := astisub.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening subtitle %s: %w", path, err)
	}
	return fromAstisub(subs), nil
}

func fromAstisub(subs *astisub.Subtitles) []Segment {
	segments := make([]Segment, 0, len(subs.Items))
	for i, item := range subs.Items {
		segments = append(segments, Segment{
			ID:    i,
			Start: item.StartAt,
			End:   item.EndAt,
			Text:  lineText(item),
		})
	}
	return segments
}

func lineText(item *astisub.Item) string {
	var lines []string
	for _, line := range item.Lines {
		var words []string
		for _, li := range line.Items {
			words = append(words, li.Text)
		}
		lines = append(lines, strings.Join(words, " "))
	}
	return strings.Join(lines, "\n")
}

// Write serializes segments back to SRT, always with LF line endings per
// spec §6 ("UTF-8, LF or CRLF tolerated on read, LF on write").
func Write(w io.Writer, segments []Segment) error {
	subs := toAstisub(segments)
	var buf bytes.Buffer
	if err := subs.WriteToSRT(&buf); err != nil {
		return fmt.Errorf("writing subtitle: %w", err)
	}
	normalized := strings.ReplaceAll(buf.String(), "\r\n", "\n")
	_, err := w.Write([]byte(normalized))
	return err
}

// WriteFile writes segments to path, creating/truncating it, always with
// LF line endings.
func WriteFile(path string, segments []Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating subtitle file %s: %w", path, err)
	}
	defer f.Close()

	if err := Write(f, segments); err != nil {
		return fmt.Errorf("writing subtitle file %s: %w", path, err)
	}
	return nil
}

func toAstisub(segments []Segment) *astisub.Subtitles {
	subs := astisub.NewSubtitles()
	for _, seg := range segments {
		subs.Items = append(subs.Items, &astisub.Item{
			StartAt: seg.Start,
			EndAt:   seg.End,
			Lines: []astisub.Line{
				{Items: []astisub.LineItem{{Text: seg.Text}}},
			},
		})
	}
	return subs
}
