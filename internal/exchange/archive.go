package exchange

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"pairwatch/internal/logging"
)

// Archiver writes raw exchange responses to timestamped files. Archival
// is best effort: failures are logged and never surfaced to the caller,
// so a full disk cannot stall ingestion.
type Archiver struct {
	dir    string
	logger zerolog.Logger
}

// NewArchiver builds an archiver, or returns nil when no directory is
// configured.
func NewArchiver(dir string, logger zerolog.Logger) *Archiver {
	if dir == "" {
		return nil
	}
	return &Archiver{dir: dir, logger: logging.Component(logger, "archiver")}
}

// Store persists one raw payload. Safe to call on a nil receiver.
func (a *Archiver) Store(exchangeName string, payload []byte) {
	if a == nil {
		return
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		a.logger.Warn().Err(err).Str("exchange", exchangeName).Msg("archive directory unavailable")
		return
	}

	name := exchangeName + "-" + time.Now().UTC().Format("20060102T150405.000") + ".json"
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		a.logger.Warn().Err(err).Str("path", path).Msg("failed to archive raw response")
		return
	}

	a.logger.Debug().Str("path", path).Int("bytes", len(payload)).Msg("raw response archived")
}
