package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	Aliases: []string{"i"},
	Short:   "Create a site skeleton",
	Long: `Create the directory layout sitesmith expects, a starter page, the
include fragments and a .sitesmith.yml. If no directory is given the site is
created in the current directory. Existing files are never overwritten.

Examples:
  sitesmith init                     # Initialize in current directory
  sitesmith init my-site             # Initialize in new directory 'my-site'
  sitesmith init --preprocessor less # Use lessc instead of sass
  sitesmith init --minimal           # Skip the starter page and stylesheet`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initMinimal      bool
	initPreprocessor string
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&initMinimal, "minimal", false, "Skip the starter page and stylesheet")
	initCmd.Flags().StringVar(&initPreprocessor, "preprocessor", "sass", "Stylesheet preprocessor (sass, less, none)")
}

type skeletonFile struct {
	path    string
	content string
	starter bool
}

func skeleton(preprocessor string) ([]string, []skeletonFile, error) {
	dirs := []string{"pages", "pages/posts", "includes", "assets/css", "assets/js", "assets/images", "site"}
	files := []skeletonFile{
		{path: ".sitesmith.yml", content: fmt.Sprintf(configTemplate, preprocessor)},
		{path: "includes/head.html", content: headTemplate},
		{path: "includes/header.html", content: headerTemplate},
		{path: "includes/footer.html", content: footerTemplate},
		{path: "includes/post.html", content: postTemplate},
		{path: "pages/index.md", content: indexTemplate, starter: true},
	}

	switch preprocessor {
	case "sass":
		dirs = append(dirs, "sass")
		files = append(files, skeletonFile{path: "sass/main.scss", content: scssTemplate, starter: true})
	case "less":
		dirs = append(dirs, "less")
		files = append(files, skeletonFile{path: "less/main.less", content: lessTemplate, starter: true})
	case "none":
	default:
		return nil, nil, fmt.Errorf("unknown preprocessor %q (supported: sass, less, none)", preprocessor)
	}

	return dirs, files, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir := "."
	if len(args) == 1 {
		projectDir = args[0]
	}

	dirs, files, err := skeleton(initPreprocessor)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initializing sitesmith site in %s\n", projectDir)

	for _, dir := range dirs {
		if err := os.MkdirAll(filepath.Join(projectDir, filepath.FromSlash(dir)), 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	for _, f := range files {
		if f.starter && initMinimal {
			continue
		}

		path := filepath.Join(projectDir, filepath.FromSlash(f.path))
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "  skip   %s (exists)\n", f.path)
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to check %s: %w", f.path, err)
		}

		if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		fmt.Fprintf(out, "  create %s\n", f.path)
	}

	fmt.Fprintln(out, "Run 'sitesmith serve' to start writing")
	return nil
}

const configTemplate = `# sitesmith configuration file
server:
  host: localhost
  port: 8000
  live_reload: true

paths:
  pages: pages
  includes: includes
  output: site
  assets: assets

render:
  head: head.html
  header: header.html
  footer: footer.html
  post_footer: post.html
  highlight_style: zenburn
  inline_styles: true

styles:
  preprocessor: %s
  timeout: 30s
  cascade_on_failure: false

watch:
  interval: 5s
  initial_build: true

log:
  level: info
  format: text
`

const headTemplate = `<meta name="viewport" content="width=device-width, initial-scale=1">
<link rel="icon" href="/images/favicon.png">
`

const headerTemplate = `<header>
  <nav><a href="/">home</a> · <a href="/posts">posts</a></nav>
</header>
<main>
`

const footerTemplate = `</main>
<footer>
  <p>visits: <span id="count">…</span></p>
  <script>
    fetch("/count", { method: "PUT" })
      .then((r) => r.json())
      .then((c) => { document.getElementById("count").textContent = c.count; });
  </script>
</footer>
`

const postTemplate = `<p><a href="/posts">all posts</a></p>
`

const indexTemplate = "# Hello\n\nThis page lives in `pages/index.md`. Edit it and the browser reloads.\n"

const scssTemplate = `$ink: #222;

body {
  color: $ink;
  font-family: system-ui, sans-serif;
  max-width: 42rem;
  margin: 2rem auto;
}
`

const lessTemplate = `@ink: #222;

body {
  color: @ink;
  font-family: system-ui, sans-serif;
  max-width: 42rem;
  margin: 2rem auto;
}
`
