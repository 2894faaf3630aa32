package tap

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sendinblue/tap-sftp/internal/sftp"
)

// SplitStrategy defines how files are assigned to extraction splits
type SplitStrategy string

const (
	SplitStrategySingle     SplitStrategy = "single"
	SplitStrategyRoundRobin SplitStrategy = "round_robin"
)

// Default split configuration
const (
	DefaultMinSplits = 1
	DefaultMaxSplits = 32
)

// SplitToken contains the metadata needed to read a specific split
type SplitToken struct {
	Strategy   SplitStrategy `json:"strategy"`
	Table      string        `json:"table"`
	Paths      []string      `json:"paths"`
	SplitIndex int           `json:"split_index"`
	TotalCount int           `json:"total_count"`
}

// Split is one planned unit of extraction work
type Split struct {
	ID             string
	Token          []byte
	Files          []sftp.FileDescriptor
	EstimatedBytes int64
}

// Planner assigns discovered files to splits for parallel extraction
type Planner struct {
	logger *zap.Logger
}

// NewPlanner creates a new Planner instance
func NewPlanner(logger *zap.Logger) *Planner {
	return &Planner{logger: logger}
}

// GenerateSplits distributes files round-robin across at most
// desiredParallelism splits. Files inside one split keep discovery
// order; each split is read over its own connection.
func (p *Planner) GenerateSplits(table string, files []sftp.FileDescriptor, desiredParallelism int) ([]Split, error) {
	numSplits := p.calculateNumSplits(len(files), desiredParallelism)

	strategy := SplitStrategyRoundRobin
	if numSplits == 1 {
		strategy = SplitStrategySingle
	}

	p.logger.Info("Generating splits",
		zap.String("table", table),
		zap.String("strategy", string(strategy)),
		zap.Int("num_splits", numSplits),
		zap.Int("file_count", len(files)))

	buckets := make([][]sftp.FileDescriptor, numSplits)
	for i, f := range files {
		buckets[i%numSplits] = append(buckets[i%numSplits], f)
	}

	splits := make([]Split, 0, numSplits)
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}

		paths := make([]string, len(bucket))
		var estimatedBytes int64
		for j, f := range bucket {
			paths[j] = f.Path
			estimatedBytes += f.Size
		}

		token, err := json.Marshal(&SplitToken{
			Strategy:   strategy,
			Table:      table,
			Paths:      paths,
			SplitIndex: i,
			TotalCount: len(bucket),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal split token: %w", err)
		}

		splits = append(splits, Split{
			ID:             fmt.Sprintf("split-%04d", i),
			Token:          token,
			Files:          bucket,
			EstimatedBytes: estimatedBytes,
		})
	}
	return splits, nil
}

// calculateNumSplits bounds the split count by the configured limits
// and never plans more splits than there are files.
func (p *Planner) calculateNumSplits(fileCount, desiredParallelism int) int {
	numSplits := desiredParallelism
	if numSplits < DefaultMinSplits {
		numSplits = DefaultMinSplits
	}
	if numSplits > DefaultMaxSplits {
		numSplits = DefaultMaxSplits
	}
	if fileCount > 0 && numSplits > fileCount {
		numSplits = fileCount
	}
	return numSplits
}
