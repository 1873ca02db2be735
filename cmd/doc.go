// Package cmd defines and implements the CLI commands for the archiver executable.
//
//   - discover: crawl the listing page and save a records file.
//   - build: materialize the archive from a records file.
//   - serve: browse a built archive over HTTP, with run history when a database is configured.
//   - mirror: upload a built archive to a GCS bucket.
package cmd
