package tap

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sendinblue/tap-sftp/internal/config"
	"github.com/sendinblue/tap-sftp/internal/gpg"
	"github.com/sendinblue/tap-sftp/internal/logging"
	"github.com/sendinblue/tap-sftp/internal/metrics"
	"github.com/sendinblue/tap-sftp/internal/records"
	"github.com/sendinblue/tap-sftp/internal/sftp"
)

// Conn is the connection surface the tap drives. *sftp.Client
// implements it.
type Conn interface {
	EnsureConnected(ctx context.Context) error
	Ping(ctx context.Context) error
	GetFiles(ctx context.Context, prefix, pattern string, modifiedSince *time.Time) ([]sftp.FileDescriptor, error)
	Open(ctx context.Context, path string) (sftp.File, error)
	OpenDecrypted(ctx context.Context, path string, cfg gpg.Config) (sftp.File, error)
	Close() error
}

// connFactory builds a connection from a normalized connection config.
type connFactory func(conn map[string]string, logger *zap.Logger) (Conn, error)

func defaultConnFactory(conn map[string]string, logger *zap.Logger) (Conn, error) {
	return sftp.NewClient(conn, logger)
}

// Handler implements the tap surface: connection checking, catalog
// discovery, and table sync.
type Handler struct {
	config  *config.Config
	logger  *logging.TapLogger
	metrics *metrics.TapMetrics
	planner *Planner
	newConn connFactory
}

// NewHandler creates a handler bound to the loaded configuration.
func NewHandler(cfg *config.Config, logger *logging.TapLogger) (*Handler, error) {
	return &Handler{
		config:  cfg,
		logger:  logger,
		metrics: metrics.NewTapMetrics(cfg.GetString("TAP_SFTP_HOST", "")),
		planner: NewPlanner(logger.Logger),
		newConn: defaultConnFactory,
	}, nil
}

// Close releases handler resources. Connections are scoped to single
// operations, so there is nothing persistent to tear down.
func (h *Handler) Close() error {
	return nil
}

// CheckConnection validates the connection config by establishing and
// probing a session.
func (h *Handler) CheckConnection(ctx context.Context, rawConfig map[string]string) error {
	conn, err := config.NormalizeConfig(rawConfig)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := h.newConn(conn, h.logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	timer := metrics.NewTimer()
	if err := client.EnsureConnected(ctx); err != nil {
		h.metrics.RecordConnection("failure", timer.Duration())
		return err
	}
	if err := client.Ping(ctx); err != nil {
		h.metrics.RecordConnection("failure", timer.Duration())
		return err
	}
	h.metrics.RecordConnection("success", timer.Duration())

	h.logger.Info("SFTP connection check successful")
	return nil
}

// CatalogEntry describes one discoverable stream.
type CatalogEntry struct {
	Stream        string
	Schema        *Schema
	KeyProperties []string
	Files         int
}

// Discover connects, finds each table's matching files, and derives a
// schema from the first matching file's header. Tables that fail to
// discover are logged and skipped so one bad table does not hide the
// rest of the catalog.
func (h *Handler) Discover(ctx context.Context, tables []config.TableSpec) ([]CatalogEntry, error) {
	h.logger.Info("Starting discovery", zap.Int("tables", len(tables)))

	client, err := h.newConn(h.config.GetSSHConfig(), h.logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	if err := client.EnsureConnected(ctx); err != nil {
		return nil, err
	}

	var entries []CatalogEntry
	for _, table := range tables {
		entry, err := h.discoverTable(ctx, client, table)
		if err != nil {
			h.logger.Warn("Failed to discover table",
				zap.String("table", table.TableName),
				zap.Error(err))
			continue
		}
		entries = append(entries, *entry)
	}

	h.logger.Info("Discovery completed", zap.Int("streams", len(entries)))
	return entries, nil
}

func (h *Handler) discoverTable(ctx context.Context, client Conn, table config.TableSpec) (*CatalogEntry, error) {
	files, err := client.GetFiles(ctx, table.SearchPrefix, table.SearchPattern, nil)
	if err != nil {
		return nil, err
	}

	entry := &CatalogEntry{
		Stream:        table.TableName,
		KeyProperties: table.KeyProperties,
		Files:         len(files),
	}
	if len(files) == 0 {
		entry.Schema = BuildSchemaFromHeader(schemaID(table.TableName), nil, nil)
		return entry, nil
	}

	header, err := h.sampleHeader(ctx, client, table, files[0])
	if err != nil {
		return nil, err
	}
	entry.Schema = BuildSchemaFromHeader(schemaID(table.TableName), header, table.DateOverrides)
	return entry, nil
}

// sampleHeader reads the first file's header through the full decode
// pipeline, so the derived schema reflects exactly what a sync will
// parse.
func (h *Handler) sampleHeader(ctx context.Context, client Conn, table config.TableSpec, desc sftp.FileDescriptor) ([]string, error) {
	src, entries, err := openEntries(ctx, client, table, desc)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if len(entries) == 0 {
		return nil, fmt.Errorf("file %s contains no readable entries", desc.Path)
	}

	rc, err := entries[0].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader, err := records.NewReader(rc, readerOptions(table, entries[0].Name))
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", desc.Path, err)
	}
	return reader.Header(), nil
}

func schemaID(table string) string {
	return fmt.Sprintf("%s_v1", table)
}

// Sync extracts every configured table, emitting schema, records, and
// a closing state bookmark per table.
func (h *Handler) Sync(ctx context.Context, tables []config.TableSpec, sink Sink) error {
	runID := uuid.New().String()
	logger := h.logger.WithField("run_id", runID)

	logger.Info("Starting sync", zap.Int("tables", len(tables)))

	for _, table := range tables {
		if err := h.syncTable(ctx, logger, table, sink); err != nil {
			h.metrics.RecordError("sync", table.TableName)
			return fmt.Errorf("failed to sync table '%s': %w", table.TableName, err)
		}
	}

	logger.Info("Sync completed", zap.Int("tables", len(tables)))
	return nil
}

func (h *Handler) syncTable(ctx context.Context, logger *logging.TapLogger, table config.TableSpec, sink Sink) error {
	timer := metrics.NewTimer()

	client, err := h.newConn(h.config.GetSSHConfig(), logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	if err := client.EnsureConnected(ctx); err != nil {
		return err
	}

	modifiedSince := h.modifiedSince(table)
	files, err := client.GetFiles(ctx, table.SearchPrefix, table.SearchPattern, modifiedSince)
	if err != nil {
		return err
	}
	h.metrics.RecordFilesDiscovered(table.TableName, len(files))

	if len(files) == 0 {
		logger.Warn("No files to sync", zap.String("table", table.TableName))
		return nil
	}

	// The schema is sampled from the first file and emitted before any
	// record.
	header, err := h.sampleHeader(ctx, client, table, files[0])
	if err != nil {
		return err
	}
	schema := BuildSchemaFromHeader(schemaID(table.TableName), header, table.DateOverrides)
	if err := sink.Send(&Message{
		Type:          MessageTypeSchema,
		Stream:        table.TableName,
		Schema:        schema,
		KeyProperties: table.KeyProperties,
	}); err != nil {
		return fmt.Errorf("failed to send schema: %w", err)
	}

	parallelism := h.config.GetInt("TAP_SFTP_MAX_PARALLELISM", 1)
	splits, err := h.planner.GenerateSplits(table.TableName, files, parallelism)
	if err != nil {
		return err
	}

	var stats *syncStats
	if len(splits) == 1 {
		stats, err = NewReader(client, table, logger).ReadSplit(ctx, splits[0], sink)
	} else {
		stats, err = h.syncSplits(ctx, logger, table, splits, sink)
	}
	if err != nil {
		return err
	}

	bookmark := &Bookmark{
		Table:        table.TableName,
		LastModified: stats.LastModified,
		LastFile:     stats.LastFile,
	}
	if bookmark.LastModified.IsZero() && modifiedSince != nil {
		bookmark.LastModified = *modifiedSince
	}
	token, err := EncodeBookmark(bookmark)
	if err != nil {
		return err
	}
	if err := sink.Send(&Message{Type: MessageTypeState, Stream: table.TableName, State: token}); err != nil {
		return fmt.Errorf("failed to send state: %w", err)
	}

	h.metrics.RecordExtraction(table.TableName, stats.Records, stats.Bytes, timer.Duration())
	logger.Info("Completed table sync",
		zap.String("table", table.TableName),
		zap.Int("files", len(files)),
		zap.Int64("records", stats.Records),
		zap.Duration("duration", timer.Duration()))
	return nil
}

// modifiedSince resolves the exclusive lower bound for a table's file
// discovery, preferring the per-table setting over the global start
// date.
func (h *Handler) modifiedSince(table config.TableSpec) *time.Time {
	if table.ModifiedSince != nil {
		return table.ModifiedSince
	}
	if start := h.config.GetString("TAP_SFTP_START_DATE", ""); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			return &t
		}
		h.logger.Warn("Ignoring unparseable TAP_SFTP_START_DATE", zap.String("value", start))
	}
	return nil
}

// syncSplits reads splits concurrently. Each worker owns its
// connection; only the sink is shared.
func (h *Handler) syncSplits(ctx context.Context, logger *logging.TapLogger, table config.TableSpec, splits []Split, sink Sink) (*syncStats, error) {
	g, ctx := errgroup.WithContext(ctx)

	results := make([]*syncStats, len(splits))
	for i, split := range splits {
		i, split := i, split
		g.Go(func() error {
			client, err := h.newConn(h.config.GetSSHConfig(), logger.Logger)
			if err != nil {
				return fmt.Errorf("failed to create client for %s: %w", split.ID, err)
			}
			defer client.Close()

			if err := client.EnsureConnected(ctx); err != nil {
				return err
			}

			logger.Info("Reading split",
				zap.String("table", table.TableName),
				zap.String("split_id", split.ID),
				zap.Int("files", len(split.Files)))

			stats, err := NewReader(client, table, logger).ReadSplit(ctx, split, sink)
			results[i] = stats
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := &syncStats{}
	for _, stats := range results {
		if stats == nil {
			continue
		}
		total.Records += stats.Records
		total.Bytes += stats.Bytes
		if stats.LastModified.After(total.LastModified) {
			total.LastModified = stats.LastModified
			total.LastFile = stats.LastFile
		}
	}
	return total, nil
}
