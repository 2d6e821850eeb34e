// Package cmd provides the command-line interface for sitesmith.
//
// This package implements all CLI commands using the Cobra framework.
//
// # Available Commands
//
//   - init: Create a site skeleton with includes and a config file
//   - serve: Build, watch and serve the site with live reload
//   - watch: Build and watch without serving
//   - build: Build once and exit
//   - config: Show or validate the effective configuration
//   - version: Show version information
//
// # Command Examples
//
//	// Start a site
//	sitesmith init my-site --preprocessor less
//
//	// Serve on another port with faster polling
//	sitesmith serve --port 3000 --interval 1s
//
//	// Render into a separate directory for upload
//	sitesmith build --output dist
//
// # Signals
//
// serve and watch stop on SIGINT or SIGTERM: every watcher is cancelled,
// a running preprocessor is killed and the HTTP server drains in-flight
// requests before the process exits.
package cmd
