package download

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
)

func TestCodeloadURL_GitHub(t *testing.T) {
	url, ok := codeloadURL("https://github.com/npm/cli")
	assert.True(t, ok)
	assert.Equal(t, "https://codeload.github.com/npm/cli/tar.gz/HEAD", url)
}

func TestCodeloadURL_UnknownHost(t *testing.T) {
	_, ok := codeloadURL("https://bitbucket.org/someone/somewhere")
	assert.False(t, ok)
}

func TestRepositoryURL_StringAndObjectShapes(t *testing.T) {
	u, ok := repositoryURL(map[string]interface{}{"repository": "https://github.com/a/b"})
	assert.True(t, ok)
	assert.Equal(t, "https://github.com/a/b", u)

	u, ok = repositoryURL(map[string]interface{}{
		"repository": map[string]interface{}{"url": "https://github.com/a/b.git"},
	})
	assert.True(t, ok)
	assert.Equal(t, "https://github.com/a/b.git", u)

	_, ok = repositoryURL(map[string]interface{}{})
	assert.False(t, ok)
}

func TestMergeManifest_PublishedWinsOnConflict(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"pkg","version":"0.0.1","scripts":{"test":"mocha"}}`), 0o644))

	published := map[string]interface{}{"name": "pkg", "version": "1.0.0"}
	merged, err := mergeManifest(published, dir)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", merged["version"])
	assert.NotNil(t, merged["scripts"])
}

func TestMergeManifest_NoDownloadedManifestReturnsPublished(t *testing.T) {
	merged, err := mergeManifest(map[string]interface{}{"name": "pkg"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "pkg", merged["name"])
}

func TestMergeManifest_WritesMergedResultBackToDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"pkg","version":"0.0.1"}`), 0o644))

	published := map[string]interface{}{"name": "pkg", "version": "1.0.0"}
	_, err := mergeManifest(published, dir)
	require.NoError(t, err)

	onDisk, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	assert.Contains(t, string(onDisk), `"version": "1.0.0"`)
}

func TestMergeManifest_MalformedDownloadedManifestIsUnrecoverable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{not json`), 0o644))

	_, err := mergeManifest(map[string]interface{}{"name": "pkg"}, dir)
	require.Error(t, err)
	assert.Equal(t, common.KindUnrecoverable, common.KindOf(err))
}

func TestExtractTar_RejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../escape.txt", Typeflag: tar.TypeReg, Size: 4, Mode: 0o644}))
	_, _ = tw.Write([]byte("evil"))
	require.NoError(t, tw.Close())

	dir := t.TempDir()
	err := extractTar(&buf, dir, config.DownloadConfig{MaxFiles: 100, MaxSizeBytes: 1024})
	assert.Error(t, err)
	assert.Equal(t, common.KindUnrecoverable, common.KindOf(err))
}

func TestExtractTar_EnforcesMaxFiles(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for i := 0; i < 3; i++ {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: "file.txt", Typeflag: tar.TypeReg, Size: 0, Mode: 0o644}))
	}
	require.NoError(t, tw.Close())

	dir := t.TempDir()
	err := extractTar(&buf, dir, config.DownloadConfig{MaxFiles: 2, MaxSizeBytes: 1024})
	assert.Error(t, err)
}

func TestExtractTar_ExtractsRegularFiles(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "package/index.js", Typeflag: tar.TypeReg, Size: 13, Mode: 0o644}))
	_, _ = tw.Write([]byte("module.exports"[:13]))
	require.NoError(t, tw.Close())

	dir := t.TempDir()
	err := extractTar(&buf, dir, config.DownloadConfig{MaxFiles: 100, MaxSizeBytes: 1024})
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "package", "index.js"))
	assert.NoError(t, statErr)
}

func TestFetch_FallsThroughUnavailableDownloadersToNextCandidate(t *testing.T) {
	original := Chain
	defer func() { Chain = original }()

	Chain = []struct {
		Source     Source
		Downloader Downloader
	}{
		{SourceHostTarball, func(ctx context.Context, manifest map[string]interface{}, dir string, cfg config.DownloadConfig) error {
			return unavailable("test", "no repository")
		}},
		{SourceRegistry, func(ctx context.Context, manifest map[string]interface{}, dir string, cfg config.DownloadConfig) error {
			return os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"pkg"}`), 0o644)
		}},
	}

	result, err := Fetch(context.Background(), map[string]interface{}{"name": "pkg"}, nil, t.TempDir(), config.DownloadConfig{MaxFiles: 10, MaxSizeBytes: 1024, Timeout: 5})
	require.NoError(t, err)
	assert.Equal(t, SourceRegistry, result.Source)
}

func TestFetch_StopsOnNonUnavailableError(t *testing.T) {
	original := Chain
	defer func() { Chain = original }()

	Chain = []struct {
		Source     Source
		Downloader Downloader
	}{
		{SourceHostTarball, func(ctx context.Context, manifest map[string]interface{}, dir string, cfg config.DownloadConfig) error {
			return transient("test", "connection refused", nil)
		}},
	}

	_, err := Fetch(context.Background(), map[string]interface{}{}, nil, t.TempDir(), config.DownloadConfig{MaxFiles: 10, MaxSizeBytes: 1024, Timeout: 5})
	assert.Equal(t, common.KindTransient, common.KindOf(err))
}
