package config

import (
	"fmt"
	"os"
	"regexp"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/sendinblue/tap-sftp/internal/gpg"
)

// TableSpec describes one extracted table: where its files live, which
// of them belong to the table, and how their rows are parsed.
type TableSpec struct {
	TableName       string      `yaml:"table_name"`
	SearchPrefix    string      `yaml:"search_prefix"`
	SearchPattern   string      `yaml:"search_pattern"`
	KeyProperties   []string    `yaml:"key_properties"`
	DateOverrides   []string    `yaml:"date_overrides"`
	Delimiter       string      `yaml:"delimiter"`
	Encoding        string      `yaml:"encoding"`
	SanitizeHeaders bool        `yaml:"sanitize_headers"`
	ModifiedSince   *time.Time  `yaml:"modified_since"`
	Decryption      *gpg.Config `yaml:"decryption"`
}

type tablesFile struct {
	Tables []TableSpec `yaml:"tables"`
}

// LoadTables reads the tables file and validates every table spec.
func LoadTables(path string) ([]TableSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tables file: %w", err)
	}
	return ParseTables(data)
}

// ParseTables parses YAML table specs.
func ParseTables(data []byte) ([]TableSpec, error) {
	var parsed tablesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse tables file: %w", err)
	}
	if len(parsed.Tables) == 0 {
		return nil, fmt.Errorf("tables file defines no tables")
	}
	for i := range parsed.Tables {
		if err := parsed.Tables[i].Validate(); err != nil {
			return nil, err
		}
	}
	return parsed.Tables, nil
}

// Validate checks the spec is complete enough to run a sync.
func (t *TableSpec) Validate() error {
	if t.TableName == "" {
		return fmt.Errorf("table_name is required")
	}
	if t.SearchPattern == "" {
		return fmt.Errorf("table '%s': search_pattern is required", t.TableName)
	}
	if _, err := regexp.Compile(t.SearchPattern); err != nil {
		return fmt.Errorf("table '%s': invalid search_pattern: %w", t.TableName, err)
	}
	if utf8.RuneCountInString(t.Delimiter) > 1 {
		return fmt.Errorf("table '%s': delimiter must be a single character", t.TableName)
	}
	return nil
}

// DelimiterRune returns the configured field delimiter, defaulting to
// comma.
func (t *TableSpec) DelimiterRune() rune {
	if t.Delimiter == "" {
		return ','
	}
	r, _ := utf8.DecodeRuneInString(t.Delimiter)
	return r
}
