package sftp

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
)

// GetFiles lists every regular file beneath prefix, keeps the ones
// whose path matches pattern, and drops files at or before
// modifiedSince when a bound is given. Empty listings and empty match
// sets are reported as warnings, not errors.
func (c *Client) GetFiles(ctx context.Context, prefix, pattern string, modifiedSince *time.Time) ([]FileDescriptor, error) {
	files, err := c.GetFilesByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(files) > 0 {
		c.logger.Info("Found files", zap.Int("count", len(files)), zap.String("prefix", prefix))
	} else {
		c.logger.Warn("Found no files on remote server", zap.String("prefix", prefix))
	}

	matching, err := MatchFiles(files, pattern)
	if err != nil {
		return nil, err
	}
	if len(matching) > 0 {
		c.logger.Info("Found matching files",
			zap.Int("count", len(matching)),
			zap.String("prefix", prefix),
			zap.String("pattern", pattern))
	} else {
		c.logger.Warn("Found no matching files",
			zap.String("prefix", prefix),
			zap.String("pattern", pattern))
	}

	if modifiedSince != nil {
		var recent []FileDescriptor
		for _, f := range matching {
			if f.LastModified.After(*modifiedSince) {
				recent = append(recent, f)
			}
		}
		matching = recent
	}
	return matching, nil
}

// GetFilesByPrefix walks the remote tree rooted at prefix and returns
// every non-empty regular file. An empty prefix lists the session's
// initial working directory.
func (c *Client) GetFilesByPrefix(ctx context.Context, prefix string) ([]FileDescriptor, error) {
	if prefix == "" {
		prefix = "."
	}
	return c.walk(ctx, prefix, make(map[string]bool))
}

// walk recurses through dir collecting file descriptors. Directories
// are tracked by their resolved real path so symlink cycles terminate.
func (c *Client) walk(ctx context.Context, dir string, visited map[string]bool) ([]FileDescriptor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	key := dir
	if c.active {
		if resolved, err := c.fs.RealPath(dir); err == nil {
			key = resolved
		}
	}
	if visited[key] {
		c.logger.Warn("Skipping already visited directory", zap.String("path", dir))
		return nil, nil
	}
	visited[key] = true

	entries, err := c.ReadDir(ctx, dir)
	if err != nil {
		return nil, err
	}

	var files []FileDescriptor
	for _, entry := range entries {
		childPath := dir + "/" + entry.Name()

		if entry.IsDir() {
			children, err := c.walk(ctx, childPath, visited)
			if err != nil {
				return nil, err
			}
			files = append(files, children...)
			continue
		}

		if entry.Size() == 0 {
			continue
		}

		modified := entry.ModTime().UTC()
		if modified.IsZero() || modified.Unix() == 0 {
			c.logger.Warn("Cannot read modification time, defaulting to current time",
				zap.String("path", childPath))
			modified = time.Now().UTC()
		}

		files = append(files, FileDescriptor{
			Path:         childPath,
			Name:         entry.Name(),
			Size:         entry.Size(),
			LastModified: modified,
		})
	}
	return files, nil
}

// MatchFiles filters descriptors whose path matches pattern. The
// pattern is an unanchored regular expression, so a plain substring
// matches anywhere in the path.
func MatchFiles(files []FileDescriptor, pattern string) ([]FileDescriptor, error) {
	matcher, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid search pattern %q: %w", pattern, err)
	}

	var matching []FileDescriptor
	for _, f := range files {
		if matcher.MatchString(f.Path) {
			matching = append(matching, f)
		}
	}
	return matching, nil
}
