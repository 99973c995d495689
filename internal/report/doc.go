// Package report renders finished audit reports as Markdown or JSON and
// exports the rendered artifacts to blob storage.
package report
