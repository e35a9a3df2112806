// Package output handles formatting command results in different formats.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Writer handles output in the specified format.
type Writer struct {
	format Format
	w      io.Writer
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{format: format, w: w}
}

// Write outputs the given value in the configured format.
func (w *Writer) Write(v interface{}) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		return enc.Encode(v)
	default:
		// Text format - assume v implements fmt.Stringer or use default
		if s, ok := v.(fmt.Stringer); ok {
			_, err := fmt.Fprintln(w.w, s.String())
			return err
		}
		_, err := fmt.Fprintf(w.w, "%+v\n", v)
		return err
	}
}

// ParseFormat parses a format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}

// BundleReport is the structured form of the describe output.
type BundleReport struct {
	Path                  string `json:"path" yaml:"path"`
	Type                  int    `json:"type" yaml:"type"`
	RawUpdateInformation  string `json:"raw_update_information" yaml:"raw_update_information"`
	UpdateInformationType string `json:"update_information_type,omitempty" yaml:"update_information_type,omitempty"`
	ZsyncURL              string `json:"zsync_url,omitempty" yaml:"zsync_url,omitempty"`
}

// String renders the report for the text format.
func (r BundleReport) String() string {
	raw := r.RawUpdateInformation
	if raw == "" {
		raw = "<empty>"
	}

	s := fmt.Sprintf("Parsing file: %s\nAppImage type: %d\nRaw update information: %s",
		r.Path, r.Type, raw)
	if r.UpdateInformationType != "" {
		s += "\nUpdate information type: " + r.UpdateInformationType
	}
	if r.ZsyncURL != "" {
		s += "\nAssembled ZSync URL: " + r.ZsyncURL
	}
	return s
}
