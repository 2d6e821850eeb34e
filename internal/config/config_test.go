package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/conneroisu/sitesmith/internal/build"
	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()

	config, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, config.Server.Host)
	assert.Equal(t, DefaultPort, config.Server.Port)
	assert.True(t, config.Server.LiveReload)

	assert.Equal(t, "pages", config.Paths.Pages)
	assert.Equal(t, "includes", config.Paths.Includes)
	assert.Equal(t, "site", config.Paths.Output)
	assert.Equal(t, "assets", config.Paths.Assets)

	assert.Equal(t, "sass", config.Styles.Preprocessor)
	assert.Equal(t, "sass", config.Styles.Executable)
	assert.Equal(t, "sass", config.Styles.Root)
	assert.Equal(t, filepath.Join("sass", "main.scss"), config.Styles.Entry)
	assert.Equal(t, filepath.Join("assets", "css", "main.css"), config.Styles.Output)
	assert.Equal(t, build.DefaultCompileTimeout, config.Styles.Timeout)
	assert.False(t, config.Styles.CascadeOnFailure)

	assert.Equal(t, DefaultPollInterval, config.Watch.Interval)
	assert.True(t, config.Watch.InitialBuild)
	assert.False(t, config.Watch.MetadataCache)

	assert.True(t, config.Render.InlineStyles)
	assert.False(t, config.Render.Archive)
	assert.Equal(t, build.DefaultHighlightStyle, config.Render.HighlightStyle)

	assert.Equal(t, DefaultCounterFile, config.Counter.File)
	assert.Equal(t, 30, config.Counter.RequestsPerMinute)
	assert.Equal(t, 5, config.Counter.Burst)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, "text", config.Log.Format)
	assert.Equal(t, "localhost:8000", config.Address())
}

func TestLoadOverrides(t *testing.T) {
	tests := []struct {
		name   string
		setup  func()
		verify func(t *testing.T, c *Config)
	}{
		{
			name: "less derives its conventions",
			setup: func() {
				viper.Set("styles.preprocessor", "less")
			},
			verify: func(t *testing.T, c *Config) {
				assert.Equal(t, build.PreprocessorLess, c.Preprocessor())
				assert.Equal(t, "lessc", c.Styles.Executable)
				assert.Equal(t, "less", c.Styles.Root)
				assert.Equal(t, filepath.Join("less", "main.less"), c.Styles.Entry)
			},
		},
		{
			name: "none disables styles",
			setup: func() {
				viper.Set("styles.preprocessor", "none")
			},
			verify: func(t *testing.T, c *Config) {
				assert.Equal(t, build.PreprocessorNone, c.Preprocessor())
				assert.Empty(t, c.Styles.Entry)
			},
		},
		{
			name: "duration strings",
			setup: func() {
				viper.Set("watch.interval", "250ms")
				viper.Set("styles.timeout", "1m")
			},
			verify: func(t *testing.T, c *Config) {
				assert.Equal(t, 250*time.Millisecond, c.Watch.Interval)
				assert.Equal(t, time.Minute, c.Styles.Timeout)
			},
		},
		{
			name: "explicit false booleans survive defaults",
			setup: func() {
				viper.Set("watch.initial_build", false)
				viper.Set("render.inline_styles", false)
				viper.Set("server.live_reload", false)
			},
			verify: func(t *testing.T, c *Config) {
				assert.False(t, c.Watch.InitialBuild)
				assert.False(t, c.Render.InlineStyles)
				assert.False(t, c.Server.LiveReload)
			},
		},
		{
			name: "empty head disables it",
			setup: func() {
				viper.Set("render.head", "")
			},
			verify: func(t *testing.T, c *Config) {
				assert.Empty(t, c.Fragments().Head)
			},
		},
		{
			name: "port zero is allowed",
			setup: func() {
				viper.Set("server.port", 0)
			},
			verify: func(t *testing.T, c *Config) {
				assert.Equal(t, 0, c.Server.Port)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			tt.setup()

			config, err := Load()
			require.NoError(t, err)
			tt.verify(t, config)
		})
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		setup func()
		field string
	}{
		{"negative port", func() { viper.Set("server.port", -1) }, "server.port"},
		{"port too large", func() { viper.Set("server.port", 70000) }, "server.port"},
		{"dangerous host", func() { viper.Set("server.host", "localhost;rm") }, "server.host"},
		{"traversal in pages", func() { viper.Set("paths.pages", "../elsewhere") }, "paths.pages"},
		{"output equals pages", func() { viper.Set("paths.output", "pages") }, "paths.output"},
		{"unknown preprocessor", func() { viper.Set("styles.preprocessor", "stylus") }, "styles.preprocessor"},
		{"shell in executable", func() { viper.Set("styles.executable", "sass; rm -rf") }, "styles.executable"},
		{"negative interval", func() { viper.Set("watch.interval", "-1s") }, "watch.interval"},
		{"unknown highlight style", func() { viper.Set("render.highlight_style", "nope") }, "render.highlight_style"},
		{"unknown log level", func() { viper.Set("log.level", "loud") }, "log.level"},
		{"unknown log format", func() { viper.Set("log.format", "xml") }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			tt.setup()

			config, err := Load()
			require.Error(t, err)
			assert.Nil(t, config)

			var se *siteerrors.SiteError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, siteerrors.ErrorTypeValidation, se.Type)
			assert.Contains(t, se.Context, tt.field)
		})
	}
}

func TestLoadUnmarshalError(t *testing.T) {
	viper.Reset()
	viper.Set("server.port", "invalid_port")

	config, err := Load()
	assert.Error(t, err)
	assert.Nil(t, config)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".sitesmith.yml")
	content := `
server:
  port: 9000
paths:
  pages: content
styles:
  preprocessor: less
  cascade_on_failure: true
watch:
  interval: 2s
log:
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	config, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 9000, config.Server.Port)
	assert.Equal(t, "content", config.Paths.Pages)
	assert.Equal(t, "lessc", config.Styles.Executable)
	assert.True(t, config.Styles.CascadeOnFailure)
	assert.Equal(t, 2*time.Second, config.Watch.Interval)
	assert.Equal(t, "json", config.Log.Format)
}

func TestLoadUnitlessDurationsAreSeconds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".sitesmith.yml")
	content := `
styles:
  timeout: 30
watch:
  interval: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	config, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, config.Watch.Interval)
	assert.Equal(t, 30*time.Second, config.Styles.Timeout)
	assert.Empty(t, config.Warnings())
}

func TestLoadDurationForms(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  time.Duration
	}{
		{"integer", 2, 2 * time.Second},
		{"float", 1.5, 1500 * time.Millisecond},
		{"numeric string", "5", 5 * time.Second},
		{"string with unit", "1500ms", 1500 * time.Millisecond},
		{"duration value", 750 * time.Millisecond, 750 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.Set("watch.interval", tt.value)

			config, err := LoadFrom(v)
			require.NoError(t, err)
			assert.Equal(t, tt.want, config.Watch.Interval)
		})
	}
}

func TestBindEnv(t *testing.T) {
	t.Setenv("SITESMITH_WATCH_INTERVAL", "5")
	t.Setenv("SITESMITH_SERVER_PORT", "9300")
	t.Setenv("SITESMITH_STYLES_PREPROCESSOR", "less")

	v := viper.New()
	v.SetEnvPrefix("SITESMITH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindEnv(v)

	config, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, config.Watch.Interval)
	assert.Equal(t, 9300, config.Server.Port)
	assert.Equal(t, "lessc", config.Styles.Executable)
}

func TestFragments(t *testing.T) {
	config := &Config{
		Paths: PathsConfig{Includes: "inc"},
		Render: RenderConfig{
			Head:       "head.html",
			Header:     "parts/header.html",
			Footer:     "/abs/footer.html",
			PostFooter: "post.html",
		},
	}

	frag := config.Fragments()
	assert.Equal(t, filepath.Join("inc", "head.html"), frag.Head)
	assert.Equal(t, "parts/header.html", frag.Header)
	assert.Equal(t, "/abs/footer.html", frag.Footer)
	assert.Equal(t, filepath.Join("inc", "post.html"), frag.PostFooter)
}

func TestWarnings(t *testing.T) {
	viper.Reset()
	viper.Set("server.port", 80)
	viper.Set("watch.interval", "10ms")
	viper.Set("watch.metadata_cache", true)
	viper.Set("render.inline_styles", false)

	config, err := Load()
	require.NoError(t, err)

	fields := make([]string, 0)
	for _, w := range config.Warnings() {
		fields = append(fields, w.Field)
	}
	assert.ElementsMatch(t, []string{
		"server.port",
		"watch.interval",
		"watch.metadata_cache",
		"render.inline_styles",
	}, fields)
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"pages", false},
		{"./site/out", false},
		{"/srv/site", false},
		{"", true},
		{"..", true},
		{"../up", true},
		{"a/../../up", true},
		{"pages;rm", true},
		{"..hidden", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := validatePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
