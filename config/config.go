/*
Package config holds the declarative document: three top-level mappings (net,
server, import) loaded from YAML or TOML. Per-entry payloads stay opaque here;
the resolver decodes them into the registered creator's config type.
*/
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/meshproxy/meshproxy/utils"
	"gopkg.in/yaml.v3"
)

// NetSpec is one entry of the net mapping. Opt carries the type-specific
// fields, references included, still undecoded.
type NetSpec struct {
	Type string         `yaml:"type"`
	Opt  map[string]any `yaml:",inline"`
}

// ServerSpec is one entry of the server mapping. Net names the net the
// listener forwards through; it defaults to "local".
type ServerSpec struct {
	Type string         `yaml:"type"`
	Bind string         `yaml:"bind"`
	Net  string         `yaml:"net"`
	Opt  map[string]any `yaml:",inline"`
}

// ImportSpec names an external bundle merged into the document before
// resolution. Format defaults to "merge": the content is parsed as a partial
// document.
type ImportSpec struct {
	Format        string `yaml:"format,omitempty"`
	proxy.FileRef `yaml:",inline"`
}

type Document struct {
	Net    map[string]NetSpec    `yaml:"net"`
	Server map[string]ServerSpec `yaml:"server"`
	Import []ImportSpec          `yaml:"import"`
}

// Load reads and parses path, choosing the format by file extension
// (.toml for TOML, everything else parsed as YAML, which covers JSON too).
func Load(path string) (Document, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return Document{}, utils.ErrInErr{ErrDesc: "can not read config file", ErrDetail: err, Data: path}
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	return Parse(bs, format)
}

func Parse(bs []byte, format string) (Document, error) {
	var doc Document
	switch format {
	case "toml":
		var m map[string]any
		if err := toml.Unmarshal(bs, &m); err != nil {
			return doc, utils.ErrInErr{ErrDesc: "can not parse toml config", ErrDetail: err}
		}
		if err := roundTrip(m, &doc); err != nil {
			return doc, err
		}
	default:
		if err := yaml.Unmarshal(bs, &doc); err != nil {
			return doc, utils.ErrInErr{ErrDesc: "can not parse config", ErrDetail: err}
		}
	}
	if doc.Net == nil {
		doc.Net = make(map[string]NetSpec)
	}
	if doc.Server == nil {
		doc.Server = make(map[string]ServerSpec)
	}
	return doc, nil
}

// DecodeOpt decodes an opaque payload into a creator's typed config struct.
// The yaml round-trip gives every config type a single set of field tags to
// maintain, whatever format the document came from.
func DecodeOpt(opt map[string]any, out any) error {
	return roundTrip(opt, out)
}

func roundTrip(in any, out any) error {
	bs, err := yaml.Marshal(in)
	if err != nil {
		return utils.ErrInErr{ErrDesc: "config encode failed", ErrDetail: err}
	}
	if err := yaml.Unmarshal(bs, out); err != nil {
		return utils.ErrInErr{ErrDesc: "config decode failed", ErrDetail: err}
	}
	return nil
}

// Merge folds an imported partial document into doc. Entries already present
// keep their value: explicit top-level config and earlier bundles win over
// later bundles.
func (doc *Document) Merge(other Document) {
	for name, spec := range other.Net {
		if _, ok := doc.Net[name]; !ok {
			doc.Net[name] = spec
		}
	}
	for name, spec := range other.Server {
		if _, ok := doc.Server[name]; !ok {
			doc.Server[name] = spec
		}
	}
}
