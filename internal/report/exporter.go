package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
)

// Artifact describes one exported rendering.
type Artifact struct {
	Format Format `json:"format"`
	URI    string `json:"uri"`
	Digest string `json:"digest"`
	Size   int    `json:"size"`
}

// Exporter renders reports and writes them to a BlobStore.
type Exporter struct {
	blobs   audit.BlobStore
	hasher  audit.Hasher
	prefix  string
	formats []Format
	logger  *zap.Logger
}

// ExporterOption customizes an Exporter.
type ExporterOption func(*Exporter)

// WithPrefix sets the object path prefix.
func WithPrefix(prefix string) ExporterOption {
	return func(e *Exporter) {
		e.prefix = prefix
	}
}

// WithFormats selects the renderings to export. JSON only by default.
func WithFormats(formats ...Format) ExporterOption {
	return func(e *Exporter) {
		if len(formats) > 0 {
			e.formats = formats
		}
	}
}

// WithLogger sets the exporter's logger.
func WithLogger(logger *zap.Logger) ExporterOption {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExporter wires an Exporter.
func NewExporter(blobs audit.BlobStore, hasher audit.Hasher, opts ...ExporterOption) (*Exporter, error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	e := &Exporter{
		blobs:   blobs,
		hasher:  hasher,
		prefix:  "reports",
		formats: []Format{FormatJSON},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Export writes every configured rendering of report to
// <prefix>/<run_id>/report.<ext>.
func (e *Exporter) Export(ctx context.Context, report audit.Report) ([]Artifact, error) {
	if report.RunID == "" {
		return nil, errors.New("report has no run id")
	}
	artifacts := make([]Artifact, 0, len(e.formats))
	for _, format := range e.formats {
		var buf bytes.Buffer
		if err := Render(&buf, report, format); err != nil {
			return artifacts, err
		}
		digest, err := e.hasher.Hash(buf.Bytes())
		if err != nil {
			return artifacts, fmt.Errorf("hash %s report: %w", format, err)
		}
		objectPath := path.Join(e.prefix, report.RunID, "report."+format.Extension())
		size := buf.Len()
		uri, err := e.blobs.PutObject(ctx, objectPath, format.ContentType(), &buf)
		if err != nil {
			return artifacts, fmt.Errorf("put %s report: %w", format, err)
		}
		e.logger.Info("Report exported",
			zap.String("run_id", report.RunID),
			zap.String("format", string(format)),
			zap.String("uri", uri),
		)
		artifacts = append(artifacts, Artifact{
			Format: format,
			URI:    uri,
			Digest: "sha256:" + digest,
			Size:   size,
		})
	}
	return artifacts, nil
}
