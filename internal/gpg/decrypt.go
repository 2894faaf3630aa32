// Package gpg shells out to the GnuPG binary to decrypt remote file
// streams into scoped temp directories.
package gpg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path"
	"strings"

	"go.uber.org/zap"
)

// Config carries the decryption parameters for one table.
type Config struct {
	Key        string `yaml:"key"`
	GnupgHome  string `yaml:"gnupghome"`
	Passphrase string `yaml:"passphrase"`
}

// DecryptError reports that the tool ran but produced no plaintext for
// the named remote file.
type DecryptError struct {
	Path string
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decryption of file failed: %s", e.Path)
}

// Decryptor invokes an external GnuPG-compatible binary. Binary is a
// command name resolved through PATH, or an absolute path.
type Decryptor struct {
	Binary string
	logger *zap.Logger
}

func NewDecryptor(logger *zap.Logger) *Decryptor {
	return &Decryptor{Binary: "gpg", logger: logger}
}

// Decrypt streams in through the decryption tool, writing plaintext
// under dir. srcPath is the remote path of the encrypted file and only
// informs naming and error messages. Returns the plaintext path; the
// caller owns dir and its cleanup.
func (d *Decryptor) Decrypt(ctx context.Context, in io.Reader, dir, srcPath string, cfg Config) (string, error) {
	outPath := path.Join(dir, PlaintextName(path.Base(srcPath)))

	args := []string{"--decrypt", "--batch", "--yes", "--output", outPath}
	if cfg.GnupgHome != "" {
		args = append(args, "--homedir", cfg.GnupgHome)
	}
	if cfg.Key != "" {
		args = append(args, "--local-user", cfg.Key)
	}
	if cfg.Passphrase != "" {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase", cfg.Passphrase)
	}

	d.logger.Debug("Running decryption tool",
		zap.String("binary", d.Binary),
		zap.String("source", srcPath))

	cmd := exec.CommandContext(ctx, d.Binary, args...)
	cmd.Stdin = in
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("failed to decrypt %s: %w: %s", srcPath, err, detail)
		}
		return "", fmt.Errorf("failed to decrypt %s: %w", srcPath, err)
	}
	return outPath, nil
}

// PlaintextName strips a trailing encryption suffix from a file name.
// Names without a known suffix pass through unchanged.
func PlaintextName(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".gpg", ".pgp"} {
		if strings.HasSuffix(lower, suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}
