package endpoint

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/icodeforyou/netztransparenz-go/materialize"
	"github.com/icodeforyou/netztransparenz-go/payload"
	"gopkg.in/yaml.v3"
)

type columnFile struct {
	Raw       string `yaml:"raw"`
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"`
	Droppable bool   `yaml:"droppable"`
	Optional  bool   `yaml:"optional"`
}

type descriptorFile struct {
	Name       string            `yaml:"name"`
	Path       string            `yaml:"path"`
	Template   string            `yaml:"template"`
	Mode       string            `yaml:"mode"`
	Layout     string            `yaml:"layout"`
	DateLayout string            `yaml:"date_layout"`
	Delimiter  string            `yaml:"delimiter"`
	Sentinels  []string          `yaml:"sentinels"`
	Columns    []columnFile      `yaml:"columns"`
	Extra      string            `yaml:"extra"`
	Von        *materialize.Instant `yaml:"von"`
	Bis        *materialize.Instant `yaml:"bis"`
	Transpose  bool              `yaml:"transpose"`
	MaxSpan    string            `yaml:"max_span"`
	Forecast   bool              `yaml:"forecast"`
}

type endpointsFile struct {
	Endpoints []descriptorFile `yaml:"endpoints"`
}

// LoadYAML adds or replaces endpoints from a YAML document. Nothing is registered
// when any entry is invalid.
func (r *Registry) LoadYAML(in io.Reader) (int, error) {
	var f endpointsFile
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return 0, fmt.Errorf("decoding endpoints: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(f.Endpoints))
	for i, e := range f.Endpoints {
		d, err := e.descriptor()
		if err != nil {
			return 0, fmt.Errorf("endpoint %d: %w", i, err)
		}
		if err := d.validate(); err != nil {
			return 0, err
		}
		descriptors = append(descriptors, d)
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return 0, err
		}
	}
	return len(descriptors), nil
}

func (r *Registry) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.LoadYAML(f)
}

func (e descriptorFile) descriptor() (Descriptor, error) {
	mode, err := parseMode(e.Mode)
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{
		Name:      e.Name,
		Path:      e.Path,
		Template:  e.Template,
		Mode:      mode,
		Von:       e.Von,
		Bis:       e.Bis,
		Transpose: e.Transpose,
		Forecast:  e.Forecast,
		Schema: payload.Schema{
			Policy: payload.FormatPolicy{
				Delimiter:  e.Delimiter,
				DateLayout: e.DateLayout,
				Sentinels:  e.Sentinels,
			},
		},
	}

	switch e.Layout {
	case "", "delimited":
	case "json":
		d.Schema.Layout = payload.LayoutJSON
	default:
		return Descriptor{}, fmt.Errorf("unknown layout %q", e.Layout)
	}

	if e.MaxSpan != "" {
		if d.MaxSpan, err = time.ParseDuration(e.MaxSpan); err != nil {
			return Descriptor{}, err
		}
	}

	for _, c := range e.Columns {
		kind, err := kindOf(c.Kind)
		if err != nil {
			return Descriptor{}, fmt.Errorf("column %q: %w", c.Raw, err)
		}
		d.Schema.Columns = append(d.Schema.Columns, payload.Column{
			Raw:       c.Raw,
			Name:      c.Name,
			Kind:      kind,
			Droppable: c.Droppable,
			Optional:  c.Optional,
		})
	}
	if e.Extra != "" {
		kind, err := kindOf(e.Extra)
		if err != nil {
			return Descriptor{}, fmt.Errorf("extra columns: %w", err)
		}
		d.Schema.Extra = &payload.Column{Kind: kind}
	}
	return d, nil
}

func kindOf(s string) (payload.Kind, error) {
	if s == "" {
		return payload.Text, nil
	}
	k, ok := payload.ParseKind(s)
	if !ok {
		return 0, fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}
