package tap

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookmarkRoundTrip(t *testing.T) {
	original := &Bookmark{
		Table:        "orders",
		LastModified: time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
		LastFile:     "exports/orders_2024.csv",
	}

	token, err := EncodeBookmark(original)
	require.NoError(t, err)

	parsed, err := ParseBookmark(token)
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, original.Table, parsed.Table)
	assert.True(t, original.LastModified.Equal(parsed.LastModified))
	assert.Equal(t, original.LastFile, parsed.LastFile)
}

func TestParseBookmarkEmptyToken(t *testing.T) {
	parsed, err := ParseBookmark(nil)
	require.NoError(t, err)
	assert.Nil(t, parsed, "an empty token means a full extraction")

	parsed, err = ParseBookmark([]byte{})
	require.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestParseBookmarkGarbage(t *testing.T) {
	_, err := ParseBookmark([]byte("!!not-base64!!"))
	require.Error(t, err)

	_, err = ParseBookmark([]byte(base64.URLEncoding.EncodeToString([]byte("not json"))))
	require.Error(t, err)
}

func TestParseBookmarkWrongCursorType(t *testing.T) {
	token := []byte(base64.URLEncoding.EncodeToString([]byte(`{"type":"offset","position":null}`)))

	_, err := ParseBookmark(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file_modified")
}
