package pattern

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/grokfilter/grokfilter-go/internal/safefile"
	"gopkg.in/yaml.v3"
)

const (
	// MaxPatternFileSize is the maximum allowed size for a pattern file (1MB).
	MaxPatternFileSize = 1 * 1024 * 1024 // 1 MB

	// MaxTemplateLength is the maximum length of a single pattern template.
	MaxTemplateLength = 16 * 1024

	// MaxPatternCount is the maximum number of definitions in a pattern file.
	MaxPatternCount = 10000

	// SupportedVersion is the currently supported YAML pattern file version.
	SupportedVersion = 1
)

// FormatForPath picks the file format from the extension: .yaml and .yml are
// YAML, everything else is the text format.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatText
	}
}

// LoadFile reads and parses the pattern file at path. The returned Source is
// named after the file's base name and has Override unset.
//
// Only regular files are accepted, and error messages never contain the path.
func LoadFile(path string) (Source, error) {
	data, err := safefile.ReadLimited(path, MaxPatternFileSize)
	if err != nil {
		return Source{}, fmt.Errorf("failed to load pattern file: %w", err)
	}
	return LoadBytes(filepath.Base(path), data, FormatForPath(path))
}

// LoadBytes parses pattern file contents in the given format.
func LoadBytes(name string, data []byte, format Format) (Source, error) {
	if len(data) == 0 {
		return Source{}, errors.New("pattern file is empty")
	}
	if len(data) > MaxPatternFileSize {
		return Source{}, fmt.Errorf("pattern file too large: %d bytes (max %d)", len(data), MaxPatternFileSize)
	}

	switch format {
	case FormatYAML:
		var pf PatternFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return Source{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if err := pf.Validate(); err != nil {
			return Source{}, err
		}
		return pf.Source(name), nil
	case FormatText:
		return ParseText(name, data)
	default:
		return Source{}, fmt.Errorf("unknown pattern file format %d", int(format))
	}
}

// ParseText parses the text format: one "NAME TEMPLATE" definition per line,
// separated by whitespace. Blank lines and lines starting with # are ignored.
func ParseText(name string, data []byte) (Source, error) {
	src := Source{Name: name}
	seen := make(map[string]int)

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), MaxTemplateLength+1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		defName, template := line, ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			defName, template = line[:i], strings.TrimSpace(line[i+1:])
		}
		if template == "" {
			return Source{}, &PatternError{
				Kind:    ErrInvalidPatternSyntax,
				Index:   len(src.Definitions),
				Name:    defName,
				Message: fmt.Sprintf("%s line %d: missing template", name, lineNo),
			}
		}
		if len(template) > MaxTemplateLength {
			return Source{}, &PatternError{
				Kind:    ErrInvalidPatternSyntax,
				Index:   len(src.Definitions),
				Name:    defName,
				Message: fmt.Sprintf("%s line %d: template too long: %d bytes (max %d)", name, lineNo, len(template), MaxTemplateLength),
			}
		}
		if prev, dup := seen[defName]; dup {
			return Source{}, &PatternError{
				Kind:    ErrDuplicatePatternName,
				Index:   len(src.Definitions),
				Name:    defName,
				Message: fmt.Sprintf("%s line %d: previously defined on line %d", name, lineNo, prev),
			}
		}
		seen[defName] = lineNo

		src.Definitions = append(src.Definitions, Definition{Name: defName, Template: template})
		if len(src.Definitions) > MaxPatternCount {
			return Source{}, &ValidationError{
				Field:   "patterns",
				Message: fmt.Sprintf("too many patterns in %s, maximum allowed is %d", name, MaxPatternCount),
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Source{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(src.Definitions) == 0 {
		return Source{}, &ValidationError{
			Field:   "patterns",
			Message: fmt.Sprintf("%s defines no patterns", name),
		}
	}
	return src, nil
}

// Validate performs schema-level validation on the pattern file.
// It checks for:
//   - Supported version number
//   - At least one pattern
//   - Required fields (name, pattern)
//   - Unique names
//   - Template length limits
//
// References between patterns are checked later, by Registry.Resolve and the
// compiler.
func (pf *PatternFile) Validate() error {
	if pf.Version != SupportedVersion {
		return &ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (only version %d is supported)", pf.Version, SupportedVersion),
		}
	}
	if len(pf.Patterns) == 0 {
		return &ValidationError{
			Field:   "patterns",
			Message: "at least one pattern is required",
		}
	}
	if len(pf.Patterns) > MaxPatternCount {
		return &ValidationError{
			Field:   "patterns",
			Message: fmt.Sprintf("too many patterns (%d), maximum allowed is %d", len(pf.Patterns), MaxPatternCount),
		}
	}

	seen := make(map[string]int, len(pf.Patterns))
	for i, p := range pf.Patterns {
		if p.Name == "" {
			return &PatternError{
				Kind:    ErrInvalidPatternSyntax,
				Index:   i,
				Message: "name is required",
			}
		}
		if p.Pattern == "" {
			return &PatternError{
				Kind:    ErrInvalidPatternSyntax,
				Index:   i,
				Name:    p.Name,
				Message: "pattern is required",
			}
		}
		if prev, dup := seen[p.Name]; dup {
			return &PatternError{
				Kind:    ErrDuplicatePatternName,
				Index:   i,
				Name:    p.Name,
				Message: fmt.Sprintf("previously defined at pattern[%d]", prev),
			}
		}
		seen[p.Name] = i
		if len(p.Pattern) > MaxTemplateLength {
			return &PatternError{
				Kind:    ErrInvalidPatternSyntax,
				Index:   i,
				Name:    p.Name,
				Message: fmt.Sprintf("pattern too long: %d bytes (max %d)", len(p.Pattern), MaxTemplateLength),
			}
		}
	}
	return nil
}

// Source converts the file into a registry source.
func (pf *PatternFile) Source(name string) Source {
	src := Source{Name: name, Definitions: make([]Definition, 0, len(pf.Patterns))}
	for _, p := range pf.Patterns {
		src.Definitions = append(src.Definitions, Definition{Name: p.Name, Template: p.Pattern})
	}
	return src
}
