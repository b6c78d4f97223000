// Package config loads the optional YAML config file. Every key mirrors a
// command-line flag, and flags given on the command line win.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// File is the parsed config file. Nil fields were not set.
type File struct {
	Listen             *string        `yaml:"listen"`
	Upstream           *string        `yaml:"upstream"`
	DebugListen        *string        `yaml:"debug_listen"`
	DialTimeout        *time.Duration `yaml:"dial_timeout"`
	NegotiationTimeout *time.Duration `yaml:"negotiation_timeout"`
	SniffTimeout       *time.Duration `yaml:"sniff_timeout"`
	HalfCloseTimeout   *time.Duration `yaml:"half_close_timeout"`
	TCPKeepAlive       *string        `yaml:"tcp_keepalive"`
	LogLevel           *string        `yaml:"log_level"`
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return f, nil
}

// Parse parses YAML config data. Unknown keys are an error.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &f, nil
}

type setting struct {
	flag  string
	value string
}

func (f *File) settings() []setting {
	var out []setting
	str := func(flag string, v *string) {
		if v != nil {
			out = append(out, setting{flag, *v})
		}
	}
	dur := func(flag string, v *time.Duration) {
		if v != nil {
			out = append(out, setting{flag, v.String()})
		}
	}

	str("listen", f.Listen)
	str("upstream", f.Upstream)
	str("debug-listen", f.DebugListen)
	dur("dial-timeout", f.DialTimeout)
	dur("negotiation-timeout", f.NegotiationTimeout)
	dur("sniff-timeout", f.SniffTimeout)
	dur("half-close-timeout", f.HalfCloseTimeout)
	str("tcp-keepalive", f.TCPKeepAlive)
	str("log-level", f.LogLevel)
	return out
}

// Apply copies every set field onto the matching flag in fs, skipping flags
// that were given on the command line.
func (f *File) Apply(fs *pflag.FlagSet) error {
	for _, s := range f.settings() {
		fl := fs.Lookup(s.flag)
		if fl == nil {
			return fmt.Errorf("config: no flag --%s", s.flag)
		}
		if fl.Changed {
			continue
		}
		if err := fs.Set(s.flag, s.value); err != nil {
			return fmt.Errorf("config: %s: %w", s.flag, err)
		}
	}
	return nil
}
