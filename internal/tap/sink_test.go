package tap

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sendinblue/tap-sftp/internal/records"
)

func TestJSONSinkWritesMessageLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf, zap.NewNop())

	schema := BuildSchemaFromHeader("orders_v1", []string{"id", "created_at"}, []string{"created_at"})
	extracted := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)

	require.NoError(t, sink.Send(&Message{
		Type:          MessageTypeSchema,
		Stream:        "orders",
		Schema:        schema,
		KeyProperties: []string{"id"},
	}))
	require.NoError(t, sink.Send(&Message{
		Type:          MessageTypeRecord,
		Stream:        "orders",
		Record:        records.Row{"id": "1", "created_at": "2024-05-01"},
		TimeExtracted: extracted,
	}))
	require.NoError(t, sink.Send(&Message{
		Type:  MessageTypeState,
		State: []byte("opaque-token"),
	}))
	require.NoError(t, sink.Flush())

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3, "each message is one line")

	var schemaMsg map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &schemaMsg))
	assert.Equal(t, "SCHEMA", schemaMsg["type"])
	assert.Equal(t, "orders", schemaMsg["stream"])
	assert.Equal(t, []any{"id"}, schemaMsg["key_properties"])
	properties := schemaMsg["schema"].(map[string]any)["properties"].(map[string]any)
	assert.Contains(t, properties, "id")
	assert.Contains(t, properties, "created_at")
	assert.Contains(t, properties, records.SDCExtraColumn)

	var recordMsg map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &recordMsg))
	assert.Equal(t, "RECORD", recordMsg["type"])
	assert.Equal(t, "orders", recordMsg["stream"])
	assert.Equal(t, map[string]any{"id": "1", "created_at": "2024-05-01"}, recordMsg["record"])
	parsedExtracted, err := time.Parse(time.RFC3339Nano, recordMsg["time_extracted"].(string))
	require.NoError(t, err)
	assert.True(t, extracted.Equal(parsedExtracted))

	var stateMsg map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &stateMsg))
	assert.Equal(t, "STATE", stateMsg["type"])
	assert.Equal(t, "opaque-token", stateMsg["value"])
}

func TestJSONSinkCountsRecordsAndBytes(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf, zap.NewNop())

	require.NoError(t, sink.Send(&Message{Type: MessageTypeRecord, Stream: "s", Record: records.Row{"a": "1"}}))
	require.NoError(t, sink.Send(&Message{Type: MessageTypeRecord, Stream: "s", Record: records.Row{"a": "2"}}))
	require.NoError(t, sink.Send(&Message{Type: MessageTypeState, State: []byte("tok")}))
	require.NoError(t, sink.Flush())

	assert.Equal(t, int64(2), sink.RecordsEmitted(), "state messages are not records")
	assert.Equal(t, int64(buf.Len()), sink.BytesEmitted(), "byte counter matches written output")
}

func TestJSONSinkOmitsZeroTimeExtracted(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf, zap.NewNop())

	require.NoError(t, sink.Send(&Message{Type: MessageTypeRecord, Stream: "s", Record: records.Row{"a": "1"}}))
	require.NoError(t, sink.Flush())

	var msg map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &msg))
	assert.NotContains(t, msg, "time_extracted")
}

func TestJSONSinkDefaultsKeyProperties(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf, zap.NewNop())

	schema := BuildSchemaFromHeader("logs_v1", []string{"line"}, nil)
	require.NoError(t, sink.Send(&Message{Type: MessageTypeSchema, Stream: "logs", Schema: schema}))
	require.NoError(t, sink.Flush())

	var msg map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &msg))
	assert.Equal(t, []any{}, msg["key_properties"], "missing key properties serialize as an empty list")
}

func TestJSONSinkRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSink(&buf, zap.NewNop())

	err := sink.Send(&Message{Type: MessageType("BOGUS")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown message type")
	assert.Zero(t, buf.Len())
}
