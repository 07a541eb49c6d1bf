package proxy

import (
	"github.com/meshproxy/meshproxy/utils"
	"gopkg.in/yaml.v3"
)

// LocalName always resolves, even when absent from the config, to the
// built-in direct net. A config entry of the same name shadows it.
const LocalName = "local"

// NetRef points at another net by logical name. It starts unresolved (just a
// name) and the resolver fills in the live instance before the owning
// config's constructor runs. The zero value refers to "local".
type NetRef struct {
	name string
	net  Net
}

func NewNetRef(name string) NetRef {
	return NetRef{name: name}
}

// NameOrLocal returns the referenced logical name, "local" when unset.
func (r *NetRef) NameOrLocal() string {
	if r.name == "" {
		return LocalName
	}
	return r.name
}

// Net returns the resolved instance, nil while unresolved.
func (r *NetRef) Net() Net {
	return r.net
}

func (r *NetRef) Resolve(n Net) {
	r.net = n
}

func (r *NetRef) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return utils.ErrInErr{ErrDesc: "net reference must be a name", ErrDetail: err}
	}
	r.name = s
	return nil
}

func (r NetRef) MarshalYAML() (any, error) {
	return r.NameOrLocal(), nil
}

// FileRef names an external file or URL whose change should trigger a
// rebuild. Exactly one of Path or URL is set.
type FileRef struct {
	Path  string `yaml:"path,omitempty"`
	Watch bool   `yaml:"watch,omitempty"`

	URL      string         `yaml:"url,omitempty"`
	Interval utils.Duration `yaml:"interval,omitempty"`
}

func (f *FileRef) IsURL() bool {
	return f.URL != ""
}

// Key de-duplicates tracker registrations within a generation.
func (f *FileRef) Key() string {
	if f.IsURL() {
		return "url|" + f.URL
	}
	return "path|" + f.Path
}

func (f *FileRef) Empty() bool {
	return f.Path == "" && f.URL == ""
}

// Visitor walks the reference fields of a config. The resolver supplies one
// to collect dependencies, resolve NetRefs and register FileRefs without
// knowing concrete config types.
type Visitor interface {
	VisitNetRef(ref *NetRef) error
	VisitFileRef(ref *FileRef) error
}

// Visitable is implemented by config structs carrying NetRef or FileRef
// fields; Visit must enumerate each of them exactly once.
type Visitable interface {
	Visit(v Visitor) error
}

// Defaulter lets a config normalize itself after decoding, before its
// references are collected.
type Defaulter interface {
	SetDefaults()
}
