package tap

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sendinblue/tap-sftp/internal/records"
)

// MessageType distinguishes the kinds of extraction output.
type MessageType string

const (
	MessageTypeSchema MessageType = "SCHEMA"
	MessageTypeRecord MessageType = "RECORD"
	MessageTypeState  MessageType = "STATE"
)

// Message is one unit of extraction output.
type Message struct {
	Type          MessageType
	Stream        string
	Schema        *Schema
	KeyProperties []string
	Record        records.Row
	TimeExtracted time.Time
	State         []byte
}

// Sink receives extraction output in emission order. Implementations
// must be safe for concurrent use; parallel split workers share one
// sink.
type Sink interface {
	Send(msg *Message) error
}

// JSONSink writes messages as JSON lines in the shape Singer targets
// consume.
type JSONSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	logger *zap.Logger

	recordsEmitted int64
	bytesEmitted   int64
	lastEmitTime   time.Time
}

// NewJSONSink wraps w with a buffered message writer.
func NewJSONSink(w io.Writer, logger *zap.Logger) *JSONSink {
	return &JSONSink{
		w:            bufio.NewWriter(w),
		logger:       logger,
		lastEmitTime: time.Now(),
	}
}

// Send serializes one message and appends it as a JSON line.
func (s *JSONSink) Send(msg *Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(payload)
	if err == nil {
		err = s.w.WriteByte('\n')
	}
	if err != nil {
		return fmt.Errorf("failed to write %s message: %w", msg.Type, err)
	}

	if msg.Type == MessageTypeRecord {
		s.recordsEmitted++
	}
	s.bytesEmitted += int64(n) + 1
	s.lastEmitTime = time.Now()
	return nil
}

// Flush forces buffered output down to the underlying writer.
func (s *JSONSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush sink: %w", err)
	}
	s.logger.Debug("Sink flushed",
		zap.Int64("records_emitted", s.recordsEmitted),
		zap.Int64("bytes_emitted", s.bytesEmitted))
	return nil
}

// RecordsEmitted returns the number of record messages written so far.
func (s *JSONSink) RecordsEmitted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordsEmitted
}

// BytesEmitted returns the number of payload bytes written so far.
func (s *JSONSink) BytesEmitted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesEmitted
}

func encodeMessage(msg *Message) ([]byte, error) {
	out := map[string]any{"type": string(msg.Type)}

	switch msg.Type {
	case MessageTypeSchema:
		out["stream"] = msg.Stream
		out["schema"] = msg.Schema.ToMap()
		keyProperties := msg.KeyProperties
		if keyProperties == nil {
			keyProperties = []string{}
		}
		out["key_properties"] = keyProperties
	case MessageTypeRecord:
		out["stream"] = msg.Stream
		out["record"] = msg.Record
		if !msg.TimeExtracted.IsZero() {
			out["time_extracted"] = msg.TimeExtracted.UTC().Format(time.RFC3339Nano)
		}
	case MessageTypeState:
		out["value"] = string(msg.State)
	default:
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}
	return data, nil
}
