package collector

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/battesty/battesty/internal/engine"
)

// ReplaySource reads recorded samples from a JSONL stream, one sample per
// line. Collect returns io.EOF when the stream is exhausted; malformed lines
// are skipped with a warning.
type ReplaySource struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	line    int
}

func NewReplaySource(r io.Reader, logger *slog.Logger) *ReplaySource {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ReplaySource{
		scanner: bufio.NewScanner(r),
		logger:  logger,
	}
}

func (r *ReplaySource) Collect() (*engine.Sample, error) {
	for r.scanner.Scan() {
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var s engine.Sample
		if err := json.Unmarshal(raw, &s); err != nil {
			r.logger.Warn("skipping malformed replay line", "line", r.line, "error", err)
			continue
		}
		return &s, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
