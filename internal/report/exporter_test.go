package report

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/hash/sha256"
	"github.com/JakeFAU/linkaudit/internal/storage/memory"
)

func TestExporterWritesEveryFormat(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	exp, err := NewExporter(blobs, sha256.New(),
		WithPrefix("audits"),
		WithFormats(FormatJSON, FormatMarkdown),
	)
	require.NoError(t, err)

	report := sampleReport()
	artifacts, err := exp.Export(context.Background(), report)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	jsonPath := "audits/" + report.RunID + "/report.json"
	data, ok := blobs.Object(jsonPath)
	require.True(t, ok)
	require.Len(t, data, artifacts[0].Size)

	digest, err := sha256.New().Hash(data)
	require.NoError(t, err)
	require.Equal(t, "sha256:"+digest, artifacts[0].Digest)

	_, ok = blobs.Object("audits/" + report.RunID + "/report.md")
	require.True(t, ok)
	require.Equal(t, FormatMarkdown, artifacts[1].Format)
}

func TestExporterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewExporter(nil, sha256.New())
	require.Error(t, err)
	_, err = NewExporter(memory.NewBlobStore(), nil)
	require.Error(t, err)

	exp, err := NewExporter(memory.NewBlobStore(), sha256.New())
	require.NoError(t, err)
	_, err = exp.Export(context.Background(), audit.Report{})
	require.Error(t, err)
}

func TestExporterPropagatesBlobErrors(t *testing.T) {
	t.Parallel()

	exp, err := NewExporter(failingBlobs{}, sha256.New())
	require.NoError(t, err)
	_, err = exp.Export(context.Background(), sampleReport())
	require.ErrorContains(t, err, "bucket gone")
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestExporterUsesPathsAndContentTypes(t *testing.T) {
	t.Parallel()

	report := sampleReport()
	blobs := new(mockBlobStore)
	blobs.On("PutObject", mock.Anything, "reports/"+report.RunID+"/report.json",
		"application/json", mock.Anything).Return("mem://json", nil).Once()
	blobs.On("PutObject", mock.Anything, "reports/"+report.RunID+"/report.md",
		"text/markdown; charset=utf-8", mock.Anything).Return("mem://md", nil).Once()

	exp, err := NewExporter(blobs, sha256.New(), WithFormats(FormatJSON, FormatMarkdown))
	require.NoError(t, err)
	artifacts, err := exp.Export(context.Background(), report)
	require.NoError(t, err)
	require.Equal(t, "mem://json", artifacts[0].URI)
	require.Equal(t, "mem://md", artifacts[1].URI)
	blobs.AssertExpectations(t)
}

// mockBlobStore mocks audit.BlobStore.
type mockBlobStore struct {
	mock.Mock
}

func (m *mockBlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	args := m.Called(ctx, path, contentType, r)
	return args.String(0), args.Error(1)
}
