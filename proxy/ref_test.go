package proxy_test

import (
	"testing"

	"github.com/meshproxy/meshproxy/proxy"
	"gopkg.in/yaml.v3"
)

func TestNetRefYAML(t *testing.T) {
	var cfg struct {
		Net proxy.NetRef `yaml:"net"`
	}
	if err := yaml.Unmarshal([]byte("net: myproxy"), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Net.NameOrLocal() != "myproxy" {
		t.Fail()
	}
	if cfg.Net.Net() != nil {
		t.Fail()
	}

	// unset field means local
	var cfg2 struct {
		Net proxy.NetRef `yaml:"net"`
	}
	if err := yaml.Unmarshal([]byte("{}"), &cfg2); err != nil {
		t.Fatal(err)
	}
	if cfg2.Net.NameOrLocal() != proxy.LocalName {
		t.Fail()
	}

	// a mapping is not a name
	if err := yaml.Unmarshal([]byte("net: {a: b}"), &cfg); err == nil {
		t.Fail()
	}
}

func TestFileRefKey(t *testing.T) {
	p := proxy.FileRef{Path: "rules.txt"}
	u := proxy.FileRef{URL: "https://example.com/rules.txt"}
	if p.Key() == u.Key() {
		t.Fail()
	}
	if p.IsURL() || !u.IsURL() {
		t.Fail()
	}
	var empty proxy.FileRef
	if !empty.Empty() || p.Empty() || u.Empty() {
		t.Fail()
	}
}
