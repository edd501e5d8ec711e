// Package output renders accounts and server documents for the authctl
// commands.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatTable    Format = "table"
	FormatWide     Format = "wide"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatTemplate Format = "template"
)

// ParseFormat validates a user supplied output format. Empty selects the
// table format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatTable, nil
	case FormatTable, FormatWide, FormatJSON, FormatYAML, FormatTemplate:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	case FormatTable, FormatWide:
		return fmt.Errorf("%s format requires a specific formatter", format)
	case FormatTemplate:
		return fmt.Errorf("template format requires a template")
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// WriteTemplate executes a Go template with the sprig functions against
// obj. obj is passed through its JSON form so that templates address
// fields by their JSON names.
func WriteTemplate(w io.Writer, text string, obj any) error {
	if text == "" {
		return fmt.Errorf("template string is empty")
	}
	tmpl, err := template.New("output").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, generic); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
