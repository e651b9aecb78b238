package settings

import (
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Entry is one declarative schema record: the type/bounds the core expects
// for a settings key, independent of whatever value the server last sent.
type Entry struct {
	Type    string   `mapstructure:"type"`
	Min     *float64 `mapstructure:"min"`
	Max     *float64 `mapstructure:"max"`
	Allowed []string `mapstructure:"allowed"`
	Default any      `mapstructure:"default"`
	Locked  bool     `mapstructure:"locked"`
}

// Schema is the full set of declarative per-key records, keyed by settings
// key name.
type Schema map[string]Entry

// Loader loads a Schema from a YAML file and can watch it for changes,
// replacing the distilled spec's per-key dynamic accessor generation with a
// single declarative document.
type Loader struct {
	path string
	v    *viper.Viper
}

// NewLoader creates a Loader bound to path.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	return &Loader{path: path, v: v}
}

// Load reads the schema file once.
func (l *Loader) Load() (Schema, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, err
	}
	var schema Schema
	if err := l.v.Unmarshal(&schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// Watch loads the schema once and invokes onChange whenever the file is
// rewritten on disk. The returned stop function ends further onChange
// calls; the underlying viper file watcher itself is not closed.
func (l *Loader) Watch(onChange func(Schema)) (stop func(), err error) {
	schema, err := l.Load()
	if err != nil {
		return nil, err
	}
	onChange(schema)

	var stopped atomic.Bool
	l.v.OnConfigChange(func(fsnotify.Event) {
		if stopped.Load() {
			return
		}
		updated, err := l.Load()
		if err != nil {
			slog.Warn("settings: failed to reload schema", "path", l.path, "error", err)
			return
		}
		onChange(updated)
	})
	l.v.WatchConfig()

	return func() { stopped.Store(true) }, nil
}

// ApplyDefaults overlays schema-declared bounds, defaults, and lock state
// onto server settings that omit them. The server's own values always take
// precedence; a schema entry only fills gaps the broadcast message left
// unset, and never introduces a key the server didn't send.
func (s Schema) ApplyDefaults(server Map) Map {
	if len(s) == 0 {
		return server
	}
	merged := make(Map, len(server))
	for key, desc := range server {
		entry, ok := s[key]
		if !ok {
			merged[key] = desc
			continue
		}
		if desc.Default == nil {
			desc.Default = entry.Default
		}
		if desc.Min == nil {
			desc.Min = entry.Min
		}
		if desc.Max == nil {
			desc.Max = entry.Max
		}
		if len(desc.Allowed) == 0 {
			desc.Allowed = entry.Allowed
		}
		if desc.Locked == nil && entry.Locked {
			locked := true
			desc.Locked = &locked
		}
		merged[key] = desc
	}
	return merged
}
