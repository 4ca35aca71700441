package terminal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// ansiEscape strips terminal control sequences so the transcript stays a
// readable plain-text record.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\x1b[=>]`)

const redactedMark = "********"

// Redact replaces every occurrence of secret in b. The connect command echoes
// through the process output, so the password would otherwise appear in both
// the client stream and the transcript.
func Redact(b []byte, secret string) []byte {
	if secret == "" || !bytes.Contains(b, []byte(secret)) {
		return b
	}
	return bytes.ReplaceAll(b, []byte(secret), []byte(redactedMark))
}

// TranscriptHeader describes the session for the audit record.
type TranscriptHeader struct {
	ApplicationID int64
	FormID        string
	Username      string
	DBUser        string
	StartedAt     time.Time
}

// Transcript is the append-only audit file for one session. The header is
// written before any process output and the ended marker exactly once, no
// matter how many teardown paths race.
type Transcript struct {
	mu     sync.Mutex
	file   *os.File
	name   string
	closed bool
}

// NewTranscript creates the transcript file and writes the header block.
func NewTranscript(dir string, header TranscriptHeader) (*Transcript, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	name := fmt.Sprintf("app%d_%s_%s.log",
		header.ApplicationID, header.Username, header.StartedAt.Format("20060102T150405"))
	path := filepath.Join(dir, name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}

	t := &Transcript{file: file, name: name}
	fmt.Fprintf(file, "=== terminal session started %s ===\n", header.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(file, "request: %s (#%d)\n", header.FormID, header.ApplicationID)
	fmt.Fprintf(file, "user: %s\n", header.Username)
	fmt.Fprintf(file, "db user: %s\n", header.DBUser)
	fmt.Fprintf(file, "===\n")
	return t, nil
}

// Name returns the transcript's file name for the connection-log row.
func (t *Transcript) Name() string {
	return t.name
}

// Write appends process output, stripped of terminal control sequences.
func (t *Transcript) Write(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.file.Write(ansiEscape.ReplaceAll(b, nil)) //nolint:errcheck
}

// Close writes the ended marker and closes the file. Safe to call repeatedly.
func (t *Transcript) Close(endedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	fmt.Fprintf(t.file, "\n=== session ended %s ===\n", endedAt.Format(time.RFC3339))
	t.file.Close() //nolint:errcheck
}
