package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func sampleReport() BundleReport {
	return BundleReport{
		Path:                  "/apps/App.AppImage",
		Type:                  2,
		RawUpdateInformation:  "zsync|https://example.com/App.AppImage.zsync",
		UpdateInformationType: "Generic ZSync URL",
		ZsyncURL:              "https://example.com/App.AppImage.zsync",
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf, FormatText).Write(sampleReport()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"Parsing file: /apps/App.AppImage",
		"AppImage type: 2",
		"Update information type: Generic ZSync URL",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteTextEmptyUpdateInformation(t *testing.T) {
	var buf bytes.Buffer
	report := BundleReport{Path: "/a", Type: 1}
	if err := NewWriter(&buf, FormatText).Write(report); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Raw update information: <empty>") {
		t.Errorf("empty update information not rendered as <empty>:\n%s", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf, FormatJSON).Write(sampleReport()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var decoded BundleReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded != sampleReport() {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := NewWriter(&buf, FormatYAML).Write(sampleReport()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var decoded BundleReport
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if decoded.Path != "/apps/App.AppImage" {
		t.Errorf("decoded path = %q", decoded.Path)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
