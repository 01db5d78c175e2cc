package download

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/npms-io/npms-analyzer/common"
	"github.com/npms-io/npms-analyzer/config"
)

// DownloadSourceHostTarball fetches a repository's codeload-style tarball
// directly from the source host (GitHub's
// "https://codeload.<host>/<owner>/<repo>/tar.gz/<ref>" shape and
// gitlab.com's archive endpoint), skipping git entirely for those two
// hosts. Repositories on any other host, Gitea instances included, report
// unavailable. It reuses network.DownloadFile's "stream to a temp location, verify,
// then use it" structure, adapted here to stream straight into the bounded
// extractor rather than a single file on disk.
func DownloadSourceHostTarball(ctx context.Context, manifest map[string]interface{}, dir string, cfg config.DownloadConfig) error {
	repoURL, ok := repositoryURL(manifest)
	if !ok {
		return unavailable("sourceHostTarball", "manifest has no repository field")
	}

	tarballURL, ok := codeloadURL(repoURL)
	if !ok {
		return unavailable("sourceHostTarball", "repository host has no known tarball endpoint")
	}

	return fetchAndExtractTarGz(ctx, tarballURL, dir, cfg)
}

// DownloadRegistryTarball fetches the package's own published tarball, the
// dist.tarball field every npm registry document carries. This is the
// downloader of last resort: it always exists for a published version, so
// Fetch never truly fails for a package that made it through publish.
func DownloadRegistryTarball(ctx context.Context, manifest map[string]interface{}, dir string, cfg config.DownloadConfig) error {
	dist, ok := manifest["dist"].(map[string]interface{})
	if !ok {
		return unavailable("registryTarball", "manifest has no dist field")
	}
	tarballURL, ok := dist["tarball"].(string)
	if !ok || tarballURL == "" {
		return unavailable("registryTarball", "manifest dist has no tarball URL")
	}
	if err := fetchAndExtractTarGz(ctx, tarballURL, dir, cfg); err != nil {
		return err
	}
	return flattenPackageDir(dir)
}

// codeloadURL maps a handful of well-known repository URL shapes to their
// host's default-branch tarball endpoint. Hosts this doesn't recognize
// report unavailable so Fetch falls through to git clone.
func codeloadURL(repoURL string) (string, bool) {
	repoURL = strings.TrimSuffix(repoURL, ".git")
	repoURL = strings.TrimPrefix(repoURL, "git+")
	repoURL = strings.TrimPrefix(repoURL, "git://")
	repoURL = strings.TrimPrefix(repoURL, "https://")
	repoURL = strings.TrimPrefix(repoURL, "http://")

	if strings.HasPrefix(repoURL, "github.com/") {
		rest := strings.TrimPrefix(repoURL, "github.com/")
		return fmt.Sprintf("https://codeload.github.com/%s/tar.gz/HEAD", rest), true
	}
	if strings.HasPrefix(repoURL, "gitlab.com/") {
		rest := strings.TrimPrefix(repoURL, "gitlab.com/")
		parts := strings.Split(rest, "/")
		if len(parts) >= 2 {
			return fmt.Sprintf("https://gitlab.com/%s/%s/-/archive/HEAD/%s-HEAD.tar.gz", parts[0], parts[1], parts[1]), true
		}
	}
	return "", false
}

func fetchAndExtractTarGz(ctx context.Context, url, dir string, cfg config.DownloadConfig) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return common.Classify(common.KindFatal, "download.tarball", "build request", err)
	}

	resp, err := sharedTarballClient().Do(req)
	if err != nil {
		return transient("tarball", "request failed", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden, http.StatusGone:
		return unavailable("tarball", fmt.Sprintf("tarball not available, status %d", resp.StatusCode))
	default:
		return transient("tarball", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	gz, err := gzip.NewReader(io.LimitReader(resp.Body, cfg.MaxSizeBytes+1))
	if err != nil {
		return common.Classify(common.KindUnrecoverable, "download.tarball", "not a gzip stream", err)
	}
	defer gz.Close()

	return extractTar(gz, dir, cfg)
}

// extractTar streams entries out of r into dir, refusing to write outside
// dir (the zip-slip protection archive.UnZip performs for ZIP archives,
// applied here to tar entries) and aborting once MaxFiles or MaxSizeBytes
// is exceeded so a hostile or oversized tarball can't exhaust disk.
func extractTar(r io.Reader, dir string, cfg config.DownloadConfig) error {
	tr := tar.NewReader(r)
	var totalSize int64
	var fileCount int

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return common.Classify(common.KindUnrecoverable, "download.tarball", "corrupt tar stream", err)
		}

		fileCount++
		if fileCount > cfg.MaxFiles {
			return &common.Classified{Kind: common.KindUnrecoverable, Origin: "download.tarball", Reason: fmt.Sprintf("tarball exceeds %d files", cfg.MaxFiles)}
		}

		target := filepath.Join(dir, header.Name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return &common.Classified{Kind: common.KindUnrecoverable, Origin: "download.tarball", Reason: "tar entry escapes extraction directory"}
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return common.Classify(common.KindFatal, "download.tarball", "create directory", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return common.Classify(common.KindFatal, "download.tarball", "create parent directory", err)
			}
			totalSize += header.Size
			if totalSize > cfg.MaxSizeBytes {
				return &common.Classified{Kind: common.KindUnrecoverable, Origin: "download.tarball", Reason: fmt.Sprintf("tarball exceeds %d bytes", cfg.MaxSizeBytes)}
			}
			if err := writeTarEntry(target, tr, os.FileMode(header.Mode), cfg.MaxSizeBytes-totalSize+header.Size); err != nil {
				return err
			}
		default:
			// symlinks and other special entries are skipped: they have no
			// bearing on the signals collectors extracts from source.
		}
	}
}

func writeTarEntry(target string, r io.Reader, mode os.FileMode, limit int64) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return common.Classify(common.KindFatal, "download.tarball", "create file", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(r, limit)); err != nil {
		return common.Classify(common.KindFatal, "download.tarball", "write file", err)
	}
	return nil
}

// flattenPackageDir hoists the single top-level directory npm tarballs
// wrap their contents in (conventionally named "package/") up to dir
// itself, so every downloader leaves the same layout behind regardless of
// whether the source came from a repository archive or a registry
// tarball.
func flattenPackageDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return common.Classify(common.KindFatal, "download.tarball", "read extracted directory", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	inner := filepath.Join(dir, entries[0].Name())
	innerEntries, err := os.ReadDir(inner)
	if err != nil {
		return common.Classify(common.KindFatal, "download.tarball", "read inner directory", err)
	}
	for _, e := range innerEntries {
		if err := os.Rename(filepath.Join(inner, e.Name()), filepath.Join(dir, e.Name())); err != nil {
			return common.Classify(common.KindFatal, "download.tarball", "flatten package directory", err)
		}
	}
	return os.Remove(inner)
}

var tarballClientTimeout = 30 * time.Second

func sharedTarballClient() *http.Client {
	return &http.Client{Timeout: tarballClientTimeout}
}
