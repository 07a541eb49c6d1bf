package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/meshproxy/meshproxy/config"
	"github.com/meshproxy/meshproxy/proxy"
	"github.com/stretchr/testify/require"
)

const yamlDoc = `
net:
  myrule:
    type: rule
    rule:
      - type: domain
        domain: google.com
        target: jp
  jp:
    type: direct
server:
  entry:
    type: socks5
    bind: 127.0.0.1:1080
    net: myrule
import:
  - path: extra.yaml
    watch: true
  - url: https://example.com/bundle.yaml
    interval: 30m
`

const tomlDoc = `
[net.myrule]
type = "rule"
[[net.myrule.rule]]
type = "domain"
domain = "google.com"
target = "jp"

[net.jp]
type = "direct"

[server.entry]
type = "socks5"
bind = "127.0.0.1:1080"
net = "myrule"
`

func TestParseYAML(t *testing.T) {
	doc, err := config.Parse([]byte(yamlDoc), "yaml")
	require.NoError(t, err)

	require.Len(t, doc.Net, 2)
	require.Equal(t, "rule", doc.Net["myrule"].Type)
	require.Equal(t, "direct", doc.Net["jp"].Type)

	srv := doc.Server["entry"]
	require.Equal(t, "socks5", srv.Type)
	require.Equal(t, "127.0.0.1:1080", srv.Bind)
	require.Equal(t, "myrule", srv.Net)

	require.Len(t, doc.Import, 2)
	require.Equal(t, "extra.yaml", doc.Import[0].Path)
	require.True(t, doc.Import[0].Watch)
	require.True(t, doc.Import[1].IsURL())
}

// the same document in toml must decode to the same specs
func TestParseTOMLEquivalent(t *testing.T) {
	fromYAML, err := config.Parse([]byte(yamlDoc), "yaml")
	require.NoError(t, err)
	fromTOML, err := config.Parse([]byte(tomlDoc), "toml")
	require.NoError(t, err)

	require.Equal(t, fromYAML.Net["jp"], fromTOML.Net["jp"])
	require.Equal(t, fromYAML.Server["entry"], fromTOML.Server["entry"])
	require.Equal(t, fromYAML.Net["myrule"].Type, fromTOML.Net["myrule"].Type)
}

func TestParseEmpty(t *testing.T) {
	doc, err := config.Parse(nil, "yaml")
	require.NoError(t, err)
	require.NotNil(t, doc.Net)
	require.NotNil(t, doc.Server)
}

func TestParseBad(t *testing.T) {
	_, err := config.Parse([]byte("net: [not a mapping"), "yaml")
	require.Error(t, err)
	_, err = config.Parse([]byte("===["), "toml")
	require.Error(t, err)
}

func TestLoadByExtension(t *testing.T) {
	dir := t.TempDir()

	yp := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(yp, []byte(yamlDoc), 0644))
	doc, err := config.Load(yp)
	require.NoError(t, err)
	require.Equal(t, "direct", doc.Net["jp"].Type)

	tp := filepath.Join(dir, "c.toml")
	require.NoError(t, os.WriteFile(tp, []byte(tomlDoc), 0644))
	doc, err = config.Load(tp)
	require.NoError(t, err)
	require.Equal(t, "direct", doc.Net["jp"].Type)

	_, err = config.Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestMergeExistingWins(t *testing.T) {
	doc, err := config.Parse([]byte("net:\n  a:\n    type: direct\n"), "yaml")
	require.NoError(t, err)
	other, err := config.Parse([]byte("net:\n  a:\n    type: reject\n  b:\n    type: reject\nserver:\n  s:\n    type: socks5\n    bind: :1080\n"), "yaml")
	require.NoError(t, err)

	doc.Merge(other)
	require.Equal(t, "direct", doc.Net["a"].Type)
	require.Equal(t, "reject", doc.Net["b"].Type)
	require.Equal(t, "socks5", doc.Server["s"].Type)
}

func TestDecodeOpt(t *testing.T) {
	doc, err := config.Parse([]byte(yamlDoc), "yaml")
	require.NoError(t, err)

	var cfg struct {
		Rule []struct {
			Type   string       `yaml:"type"`
			Domain string       `yaml:"domain"`
			Target proxy.NetRef `yaml:"target"`
		} `yaml:"rule"`
	}
	require.NoError(t, config.DecodeOpt(doc.Net["myrule"].Opt, &cfg))
	require.Len(t, cfg.Rule, 1)
	require.Equal(t, "google.com", cfg.Rule[0].Domain)
	require.Equal(t, "jp", cfg.Rule[0].Target.NameOrLocal())
}
