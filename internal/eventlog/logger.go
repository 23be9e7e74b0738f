// Package eventlog records audio object lifecycle and archive events in a
// JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-audioplane/internal/types"
)

// EventType represents the type of event.
type EventType string

// Object event types.
const (
	StateChanged  EventType = "state_changed"
	CommandFailed EventType = "command_failed"
	Attention     EventType = "attention"
)

// Recording event types.
const (
	RecordingStarted  EventType = "recording_started"
	RecordingFinished EventType = "recording_finished"
	RecordingError    EventType = "recording_error"
	UploadQueued      EventType = "upload_queued"
	UploadCompleted   EventType = "upload_completed"
	UploadFailed      EventType = "upload_failed"
	UploadRetry       EventType = "upload_retry"
	UploadAbandoned   EventType = "upload_abandoned"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	Type      EventType       `json:"type"`
	Object    string          `json:"object,omitempty"`
	Message   string          `json:"msg,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// ObjectDetails contains object event details.
type ObjectDetails struct {
	From    types.State  `json:"from,omitempty"`
	To      types.State  `json:"to,omitempty"`
	Command string       `json:"command,omitempty"`
	Result  types.Result `json:"result,omitempty"`
}

// RecordingDetails contains recording and upload event details.
type RecordingDetails struct {
	ID          string `json:"id,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Codec       string `json:"codec,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	StorageMode string `json:"storage_mode,omitempty"`
	S3Key       string `json:"s3_key,omitempty"`
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retry,omitempty"`
}

// Logger writes events to a JSON lines file. It implements object.Observer
// so it can be attached to the audio objects directly. Safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "audioplane", "logs", strconv.Itoa(port), "events.jsonl")
	default:
		return filepath.Join("/var/log/audioplane", strconv.Itoa(port), "events.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.encoder.Encode(event)
}

func (l *Logger) logDetails(t EventType, object, msg string, details any) error {
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	return l.Log(&Event{Type: t, Object: object, Message: msg, Details: raw})
}

// StateChanged records an object state transition.
func (l *Logger) StateChanged(object string, from, to types.State) {
	_ = l.logDetails(StateChanged, object, "", &ObjectDetails{From: from, To: to})
}

// Replied records replies that did not succeed.
func (l *Logger) Replied(reply types.Reply) {
	if reply.Result == types.ResultOK {
		return
	}
	_ = l.logDetails(CommandFailed, reply.Object, "", &ObjectDetails{
		To:      reply.State,
		Command: reply.Command,
		Result:  reply.Result,
	})
}

// Attention records a fatal object condition.
func (l *Logger) Attention(object string, code types.Result, message string) {
	_ = l.logDetails(Attention, object, message, &ObjectDetails{Result: code})
}

// LogRecording logs a recording or upload event.
func (l *Logger) LogRecording(t EventType, d RecordingDetails) error {
	return l.logDetails(t, "archive", "", &d)
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterObject    TypeFilter = "object"
	FilterRecording TypeFilter = "recording"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// maxLineSize bounds one event line; longer lines end the scan with an error.
const maxLineSize = 1 << 20

// ReadLast returns up to n events, newest first, after skipping offset
// matching events. The second result reports whether older matching events
// exist. Only the newest offset+n+1 matching events are held while the file
// is scanned.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	offset = max(offset, 0)
	if n <= 0 {
		return []Event{}, false, nil
	}

	file, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return []Event{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // read-only

	window := offset + n + 1
	ring := make([]Event, 0, window)
	next := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var ev Event
		if json.Unmarshal(scanner.Bytes(), &ev) != nil || !filter.matches(ev.Type) {
			continue
		}
		if len(ring) < window {
			ring = append(ring, ev)
			continue
		}
		ring[next] = ev
		next = (next + 1) % window
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	// Walk the ring newest first; next is the oldest slot once it is full.
	events := make([]Event, 0, n)
	for i := len(ring) - 1 - offset; i >= 0 && len(events) < n; i-- {
		events = append(events, ring[(next+i)%len(ring)])
	}
	return events, len(ring) > offset+n, nil
}

func (f TypeFilter) matches(t EventType) bool {
	switch f {
	case FilterObject:
		return IsObjectEvent(t)
	case FilterRecording:
		return IsRecordingEvent(t)
	default:
		return true
	}
}

// IsObjectEvent returns true if the event type is an object event.
func IsObjectEvent(t EventType) bool {
	return t == StateChanged || t == CommandFailed || t == Attention
}

// IsRecordingEvent returns true if the event type is a recording or upload event.
func IsRecordingEvent(t EventType) bool {
	switch t {
	case RecordingStarted, RecordingFinished, RecordingError,
		UploadQueued, UploadCompleted, UploadFailed, UploadRetry, UploadAbandoned:
		return true
	}
	return false
}
