// Package config loads sitesmith settings with Viper from the
// .sitesmith.yml file, SITESMITH_ environment variables and command-line
// flags, applies defaults and validates the result.
//
// Paths are relative to the site root (the working directory) unless given
// as absolute paths.
package config

import (
	"net"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/conneroisu/sitesmith/internal/build"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	DefaultPort         = 8000
	DefaultHost         = "localhost"
	DefaultPollInterval = 5 * time.Second
	DefaultCounterFile  = ".sitesmith/clicks.yml"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Paths   PathsConfig   `mapstructure:"paths" yaml:"paths"`
	Render  RenderConfig  `mapstructure:"render" yaml:"render"`
	Styles  StylesConfig  `mapstructure:"styles" yaml:"styles"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Counter CounterConfig `mapstructure:"counter" yaml:"counter"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	LiveReload bool   `mapstructure:"live_reload" yaml:"live_reload"`
}

type PathsConfig struct {
	Pages    string `mapstructure:"pages" yaml:"pages"`
	Includes string `mapstructure:"includes" yaml:"includes"`
	Output   string `mapstructure:"output" yaml:"output"`
	Assets   string `mapstructure:"assets" yaml:"assets"`
}

// RenderConfig names the include fragments. Bare file names are resolved
// inside paths.includes.
type RenderConfig struct {
	Head           string `mapstructure:"head" yaml:"head"`
	Header         string `mapstructure:"header" yaml:"header"`
	Footer         string `mapstructure:"footer" yaml:"footer"`
	PostFooter     string `mapstructure:"post_footer" yaml:"post_footer"`
	HighlightStyle string `mapstructure:"highlight_style" yaml:"highlight_style"`
	InlineStyles   bool   `mapstructure:"inline_styles" yaml:"inline_styles"`
	Archive        bool   `mapstructure:"archive" yaml:"archive"`
}

type StylesConfig struct {
	Preprocessor     string        `mapstructure:"preprocessor" yaml:"preprocessor"`
	Executable       string        `mapstructure:"executable" yaml:"executable"`
	Root             string        `mapstructure:"root" yaml:"root"`
	Entry            string        `mapstructure:"entry" yaml:"entry"`
	Output           string        `mapstructure:"output" yaml:"output"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CascadeOnFailure bool          `mapstructure:"cascade_on_failure" yaml:"cascade_on_failure"`
}

type WatchConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	InitialBuild  bool          `mapstructure:"initial_build" yaml:"initial_build"`
	MetadataCache bool          `mapstructure:"metadata_cache" yaml:"metadata_cache"`
}

// CounterConfig locates the click counter file and limits how fast one
// client may increment it.
type CounterConfig struct {
	File              string `mapstructure:"file" yaml:"file"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int    `mapstructure:"burst" yaml:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads the configuration from the global Viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// BindEnv registers every configuration key with v so that environment
// variables are seen by Unmarshal even when the key appears in no file.
func BindEnv(v *viper.Viper) {
	for _, key := range keys(reflect.TypeOf(Config{}), "") {
		_ = v.BindEnv(key)
	}
}

func keys(t reflect.Type, prefix string) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("mapstructure")
		if name == "" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if field.Type.Kind() == reflect.Struct && field.Type != durationType {
			out = append(out, keys(field.Type, name)...)
			continue
		}
		out = append(out, name)
	}
	return out
}

// LoadFrom reads, defaults and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, err
	}

	applyDefaults(v, &config)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads unitless numbers bound for a time.Duration as
// seconds, so "interval: 5" and SITESMITH_WATCH_INTERVAL=5 mean five
// seconds. Strings with a unit ("1500ms") and values that already are
// durations pass through.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType || from == durationType {
			return data, nil
		}

		var seconds float64
		switch value := data.(type) {
		case int:
			seconds = float64(value)
		case int32:
			seconds = float64(value)
		case int64:
			seconds = float64(value)
		case uint:
			seconds = float64(value)
		case uint64:
			seconds = float64(value)
		case float32:
			seconds = float64(value)
		case float64:
			seconds = value
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return data, nil
			}
			seconds = parsed
		default:
			return data, nil
		}

		return time.Duration(seconds * float64(time.Second)), nil
	}
}

func applyDefaults(v *viper.Viper, config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = DefaultHost
	}
	if !v.IsSet("server.port") {
		config.Server.Port = DefaultPort
	}
	if !v.IsSet("server.live_reload") {
		config.Server.LiveReload = true
	}

	if config.Paths.Pages == "" {
		config.Paths.Pages = "pages"
	}
	if config.Paths.Includes == "" {
		config.Paths.Includes = "includes"
	}
	if config.Paths.Output == "" {
		config.Paths.Output = "site"
	}
	if config.Paths.Assets == "" {
		config.Paths.Assets = "assets"
	}

	if config.Render.Head == "" && !v.IsSet("render.head") {
		config.Render.Head = "head.html"
	}
	if config.Render.Header == "" {
		config.Render.Header = "header.html"
	}
	if config.Render.Footer == "" {
		config.Render.Footer = "footer.html"
	}
	if config.Render.PostFooter == "" {
		config.Render.PostFooter = "post.html"
	}
	if config.Render.HighlightStyle == "" && !v.IsSet("render.highlight_style") {
		config.Render.HighlightStyle = build.DefaultHighlightStyle
	}
	if !v.IsSet("render.inline_styles") {
		config.Render.InlineStyles = true
	}

	if config.Styles.Preprocessor == "" {
		config.Styles.Preprocessor = string(build.PreprocessorSass)
	}
	if kind, err := build.ParsePreprocessor(config.Styles.Preprocessor); err == nil {
		config.Styles.Preprocessor = string(kind)
		if config.Styles.Executable == "" {
			config.Styles.Executable = kind.Executable()
		}
		if config.Styles.Root == "" {
			config.Styles.Root = kind.SourceDir()
		}
		if config.Styles.Entry == "" && kind.EntryFile() != "" {
			config.Styles.Entry = filepath.FromSlash(kind.EntryFile())
		}
	}
	if config.Styles.Output == "" {
		config.Styles.Output = filepath.Join(config.Paths.Assets, "css", "main.css")
	}
	if config.Styles.Timeout == 0 {
		config.Styles.Timeout = build.DefaultCompileTimeout
	}

	if config.Watch.Interval == 0 {
		config.Watch.Interval = DefaultPollInterval
	}
	if !v.IsSet("watch.initial_build") {
		config.Watch.InitialBuild = true
	}

	if config.Counter.File == "" {
		config.Counter.File = DefaultCounterFile
	}
	if config.Counter.RequestsPerMinute == 0 {
		config.Counter.RequestsPerMinute = 30
	}
	if config.Counter.Burst == 0 {
		config.Counter.Burst = 5
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// Preprocessor returns the parsed styles.preprocessor setting.
func (c *Config) Preprocessor() build.Preprocessor {
	kind, _ := build.ParsePreprocessor(c.Styles.Preprocessor)
	return kind
}

// Fragments resolves the include fragment paths against paths.includes.
func (c *Config) Fragments() build.Fragments {
	return build.Fragments{
		Head:       c.includePath(c.Render.Head),
		Header:     c.includePath(c.Render.Header),
		Footer:     c.includePath(c.Render.Footer),
		PostFooter: c.includePath(c.Render.PostFooter),
	}
}

func (c *Config) includePath(name string) string {
	if name == "" || filepath.IsAbs(name) || filepath.Dir(name) != "." {
		return name
	}
	return filepath.Join(c.Paths.Includes, name)
}

// Address is the host:port the server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
