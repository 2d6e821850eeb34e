package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/sitesmith/internal/build"
	siteerrors "github.com/conneroisu/sitesmith/internal/errors"
	"github.com/conneroisu/sitesmith/internal/logging"
)

// Warning is a setting that is valid but probably not what was intended.
type Warning struct {
	Field   string
	Message string
}

// validateConfig checks every section and returns a validation SiteError
// listing all invalid fields.
func validateConfig(config *Config) error {
	vec := &siteerrors.ValidationErrorCollection{}

	validateServerConfig(&config.Server, vec)
	validatePathsConfig(&config.Paths, vec)
	validateRenderConfig(&config.Render, vec)
	validateStylesConfig(&config.Styles, vec)
	validateWatchConfig(&config.Watch, vec)

	if err := validatePath(config.Counter.File); err != nil {
		vec.AddField("counter.file", config.Counter.File, err.Error())
	}
	if config.Counter.RequestsPerMinute < 0 {
		vec.AddField("counter.requests_per_minute", config.Counter.RequestsPerMinute, "must not be negative")
	}
	if config.Counter.Burst < 0 {
		vec.AddField("counter.burst", config.Counter.Burst, "must not be negative")
	}
	if _, err := logging.ParseLevel(config.Log.Level); err != nil {
		vec.AddField("log.level", config.Log.Level, err.Error())
	}
	if config.Log.Format != "text" && config.Log.Format != "json" {
		vec.AddField("log.format", config.Log.Format, "must be text or json")
	}

	if se := vec.ToSiteError(); se != nil {
		return se
	}
	return nil
}

func validateServerConfig(config *ServerConfig, vec *siteerrors.ValidationErrorCollection) {
	// Port 0 lets the system pick one, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		vec.AddField("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port))
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", "/"}
	for _, char := range dangerousChars {
		if strings.Contains(config.Host, char) {
			vec.AddField("server.host", config.Host,
				fmt.Sprintf("host contains dangerous character: %s", char))
			break
		}
	}
}

func validatePathsConfig(config *PathsConfig, vec *siteerrors.ValidationErrorCollection) {
	fields := []struct {
		name  string
		value string
	}{
		{"paths.pages", config.Pages},
		{"paths.includes", config.Includes},
		{"paths.output", config.Output},
		{"paths.assets", config.Assets},
	}
	for _, f := range fields {
		if err := validatePath(f.value); err != nil {
			vec.AddField(f.name, f.value, err.Error())
		}
	}

	if config.Output != "" && filepath.Clean(config.Output) == filepath.Clean(config.Pages) {
		vec.AddField("paths.output", config.Output, "output root must differ from the pages root")
	}
}

func validateRenderConfig(config *RenderConfig, vec *siteerrors.ValidationErrorCollection) {
	if config.Header == "" {
		vec.AddField("render.header", config.Header, "header fragment is required")
	}
	if config.Footer == "" {
		vec.AddField("render.footer", config.Footer, "footer fragment is required")
	}
	if config.HighlightStyle != "" && !build.HighlightStyleExists(config.HighlightStyle) {
		vec.AddField("render.highlight_style", config.HighlightStyle, "unknown highlight style")
	}
}

func validateStylesConfig(config *StylesConfig, vec *siteerrors.ValidationErrorCollection) {
	kind, err := build.ParsePreprocessor(config.Preprocessor)
	if err != nil {
		vec.AddField("styles.preprocessor", config.Preprocessor, err.Error())
		return
	}
	if kind == build.PreprocessorNone {
		return
	}

	if strings.ContainsAny(config.Executable, ";&|$`<>") {
		vec.AddField("styles.executable", config.Executable, "executable contains shell metacharacters")
	}
	if err := validatePath(config.Root); err != nil {
		vec.AddField("styles.root", config.Root, err.Error())
	}
	if err := validatePath(config.Entry); err != nil {
		vec.AddField("styles.entry", config.Entry, err.Error())
	}
	if err := validatePath(config.Output); err != nil {
		vec.AddField("styles.output", config.Output, err.Error())
	}
	if config.Timeout < 0 {
		vec.AddField("styles.timeout", config.Timeout, "timeout must not be negative")
	}
}

func validateWatchConfig(config *WatchConfig, vec *siteerrors.ValidationErrorCollection) {
	if config.Interval <= 0 {
		vec.AddField("watch.interval", config.Interval, "poll interval must be positive")
	}
}

// validatePath rejects empty paths and paths that climb out of the site root.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

// Warnings reports settings that load fine but are likely mistakes.
func (c *Config) Warnings() []Warning {
	var warnings []Warning

	if c.Server.Port > 0 && c.Server.Port < 1024 {
		warnings = append(warnings, Warning{
			Field:   "server.port",
			Message: "port below 1024 requires elevated privileges",
		})
	}
	if c.Watch.Interval > 0 && c.Watch.Interval < 100*time.Millisecond {
		warnings = append(warnings, Warning{
			Field:   "watch.interval",
			Message: "poll intervals under 100ms re-read every watched file very often",
		})
	}
	if c.Watch.MetadataCache {
		warnings = append(warnings, Warning{
			Field:   "watch.metadata_cache",
			Message: "same-size edits within the filesystem's mtime granularity go unnoticed",
		})
	}
	if c.Preprocessor() != build.PreprocessorNone && !c.Render.InlineStyles {
		warnings = append(warnings, Warning{
			Field:   "render.inline_styles",
			Message: "compiled styles are not inlined, so the render after each compile changes nothing",
		})
	}

	return warnings
}
