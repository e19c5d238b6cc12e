// Package zonefile reads and writes zone definitions as YAML.
//
//	zones:
//	  - name: Bed
//	    points:
//	      - {x: 0, y: 0}
//	      - {x: 2, y: 0}
//	      - {x: 2, y: 1.5}
package zonefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/radarzone/companion/internal/geo"
	"github.com/radarzone/companion/pkg/core"
)

// ErrNoZones is returned when a file defines no zones.
var ErrNoZones = errors.New("no zones defined")

// Definition is one zone as written by a user. ID is only set on export.
type Definition struct {
	ID     string       `yaml:"id,omitempty"`
	Name   string       `yaml:"name"`
	Points []core.Point `yaml:"points,flow"`
}

type document struct {
	Zones []Definition `yaml:"zones"`
}

// Load reads definitions from path.
func Load(path string) ([]Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses and checks definitions. Every polygon must be simple and
// names must be unique ignoring case.
func Decode(r io.Reader) ([]Definition, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoZones
		}
		return nil, fmt.Errorf("parsing zone file: %w", err)
	}
	if len(doc.Zones) == 0 {
		return nil, ErrNoZones
	}

	for i, d := range doc.Zones {
		if d.Name == "" {
			return nil, fmt.Errorf("zone %d: missing name", i+1)
		}
		if err := geo.ValidatePolygon(d.Points); err != nil {
			return nil, fmt.Errorf("zone %q: %w", d.Name, err)
		}
		for _, prev := range doc.Zones[:i] {
			if core.SameName(prev.Name, d.Name) {
				return nil, fmt.Errorf("zone %q: duplicate name", d.Name)
			}
		}
	}
	return doc.Zones, nil
}

// Encode writes zones in the same format Load reads.
func Encode(w io.Writer, zones []core.Zone) error {
	doc := document{Zones: make([]Definition, 0, len(zones))}
	for _, z := range zones {
		doc.Zones = append(doc.Zones, Definition{ID: z.ID, Name: z.Name, Points: z.Points})
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding zones: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
