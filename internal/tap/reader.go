package tap

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/sendinblue/tap-sftp/internal/compress"
	"github.com/sendinblue/tap-sftp/internal/config"
	"github.com/sendinblue/tap-sftp/internal/gpg"
	"github.com/sendinblue/tap-sftp/internal/logging"
	"github.com/sendinblue/tap-sftp/internal/records"
	"github.com/sendinblue/tap-sftp/internal/sftp"
)

// Reader streams the rows of one split's files into a sink.
type Reader struct {
	conn   Conn
	table  config.TableSpec
	logger *logging.TapLogger
}

// NewReader creates a reader bound to one connection and one table.
func NewReader(conn Conn, table config.TableSpec, logger *logging.TapLogger) *Reader {
	return &Reader{conn: conn, table: table, logger: logger}
}

// syncStats aggregates one split's results for logging and bookmarks.
type syncStats struct {
	Records      int64
	Bytes        int64
	LastModified time.Time
	LastFile     string
}

// ReadSplit streams every file in the split through the decode
// pipeline in order.
func (r *Reader) ReadSplit(ctx context.Context, split Split, sink Sink) (*syncStats, error) {
	stats := &syncStats{}
	for _, desc := range split.Files {
		if err := r.readFile(ctx, desc, sink, stats); err != nil {
			return stats, err
		}
		if desc.LastModified.After(stats.LastModified) {
			stats.LastModified = desc.LastModified
			stats.LastFile = desc.Path
		}
	}
	return stats, nil
}

func (r *Reader) readFile(ctx context.Context, desc sftp.FileDescriptor, sink Sink, stats *syncStats) error {
	r.logger.Info("Reading file",
		zap.String("table", r.table.TableName),
		zap.String("path", desc.Path),
		zap.Int64("size", desc.Size))

	if err := r.conn.EnsureConnected(ctx); err != nil {
		return err
	}

	src, entries, err := openEntries(ctx, r.conn, r.table, desc)
	if err != nil {
		return err
	}
	defer src.Close()

	for _, entry := range entries {
		if err := r.readEntry(ctx, desc, entry, sink, stats); err != nil {
			return err
		}
	}

	stats.Bytes += desc.Size
	return nil
}

func (r *Reader) readEntry(ctx context.Context, desc sftp.FileDescriptor, entry compress.Entry, sink Sink, stats *syncStats) error {
	rc, err := entry.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	reader, err := records.NewReader(rc, readerOptions(r.table, entry.Name))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", desc.Path, err)
	}

	recordCount := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", desc.Path, err)
		}

		if _, overflow := row[records.SDCExtraColumn]; overflow {
			r.logger.LogDataQualityEvent(r.table.TableName,
				fmt.Sprintf("row %d of %s has more fields than the header", recordCount+1, desc.Path),
				"warning")
		}

		if err := sink.Send(&Message{
			Type:          MessageTypeRecord,
			Stream:        r.table.TableName,
			Record:        row,
			TimeExtracted: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("failed to send record: %w", err)
		}

		recordCount++
		stats.Records++

		// Check for cancellation periodically
		if recordCount%1000 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}

	r.logger.Info("Completed streaming",
		zap.String("table", r.table.TableName),
		zap.String("entry", entry.Name),
		zap.Int("records", recordCount))
	return nil
}

// openEntries opens desc through the optional decryption stage and
// expands it into its contained streams. The returned file must be
// closed after the entries are consumed.
func openEntries(ctx context.Context, conn Conn, table config.TableSpec, desc sftp.FileDescriptor) (sftp.File, []compress.Entry, error) {
	var (
		src  sftp.File
		size int64
		name = desc.Name
	)

	if table.Decryption != nil {
		f, err := conn.OpenDecrypted(ctx, desc.Path, *table.Decryption)
		if err != nil {
			return nil, nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to stat decrypted output for %s: %w", desc.Path, err)
		}
		src, size = f, info.Size()
		name = gpg.PlaintextName(name)
	} else {
		f, err := conn.Open(ctx, desc.Path)
		if err != nil {
			return nil, nil, err
		}
		src, size = f, desc.Size
	}

	entries, err := compress.Expand(src, name, size)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return src, entries, nil
}

func readerOptions(table config.TableSpec, fileName string) records.Options {
	return records.Options{
		FileName:        fileName,
		Encoding:        table.Encoding,
		Delimiter:       table.DelimiterRune(),
		SanitizeHeaders: table.SanitizeHeaders,
		KeyProperties:   table.KeyProperties,
		DateOverrides:   table.DateOverrides,
	}
}
