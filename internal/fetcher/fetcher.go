// Package fetcher resumably downloads and extracts model artifacts named by
// a manifest's download section.
//
// A download proceeds in three stages: resume a partial ".part" file over
// HTTP Range requests (retrying with exponential backoff on failure), verify
// the completed file's MD5 digest against the variant's declared checksum,
// then flatten-extract the archive into the model directory. A backoff
// marker file persists across process restarts so a model that keeps
// failing to download doesn't hammer the remote host every time the process
// is relaunched.
package fetcher

import (
	"archive/zip"
	"context"
	"crypto/md5" //nolint:gosec // checksum format mandated by the upstream archive host, not used for security
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gaia-project/gaia-processing/internal/errors"
	"github.com/gaia-project/gaia-processing/internal/httpclient"
	"github.com/gaia-project/gaia-processing/internal/logging"
	"github.com/gaia-project/gaia-processing/internal/manifest"
)

var log = logging.ForService("fetcher")

const (
	maxRetries           = 5
	initialBackoff       = 5 * time.Second
	maxRestartBackoff    = 600 * time.Second
	streamChunkSize      = 256 * 1024
	backoffMarkerName    = ".download_backoff"
	partSuffix           = ".download.part"
	zenodoRecordTemplate = "https://zenodo.org/records/%s/files/%s?download=1"
)

// Fetcher downloads model artifacts referenced by a manifest's download
// section into the model's base directory.
type Fetcher struct {
	client *httpclient.Client
}

// New creates a Fetcher using a client tuned for large, long-running
// transfers: long timeouts since archives can be hundreds of megabytes.
func New() *Fetcher {
	cfg := httpclient.DefaultConfig()
	cfg.DefaultTimeout = maxRestartBackoff
	cfg.UserAgent = "gaia-processing/0.1"
	return &Fetcher{client: httpclient.New(&cfg)}
}

// EnsureModelFiles makes sure the variant's primary TFLite artifact exists
// on disk, downloading and extracting it if not. If the artifact is already
// present, any stale backoff marker is cleared and EnsureModelFiles returns
// immediately without making a network request. variantName is expected to
// already be resolved via (*manifest.Resolved).EffectiveVariant.
func (f *Fetcher) EnsureModelFiles(ctx context.Context, r *manifest.Resolved, variantName string) error {
	if variantName != "" {
		if err := r.ApplyVariant(variantName); err != nil {
			return err
		}
	}

	if _, err := os.Stat(r.TFLitePath()); err == nil {
		f.clearBackoffMarker(r.BaseDir)
		return nil
	}

	dl := r.Descriptor.Download
	if dl == nil {
		return errors.Newf("model %q has no primary artifact and no download section", r.Descriptor.Model.Name).
			Component("fetcher").
			Category(errors.CategoryArtifactFetch).
			Build()
	}

	variant, ok := dl.Variants[variantName]
	if !ok {
		return errors.Newf("unknown model variant %q", variantName).
			Component("fetcher").
			Category(errors.CategoryArtifactFetch).
			Context("model", r.Descriptor.Model.Name).
			Build()
	}

	if err := f.waitForBackoff(ctx, r.BaseDir); err != nil {
		return err
	}

	url := fmt.Sprintf(zenodoRecordTemplate, dl.RecordID, variant.File)

	log.Info("downloading model artifact", "model", r.Descriptor.Model.Name, "variant", variantName, "url", url)

	if err := f.downloadAndExtract(ctx, url, r.BaseDir, variant.MD5); err != nil {
		f.writeBackoffMarker(r.BaseDir)
		return err
	}

	if _, err := os.Stat(r.TFLitePath()); err != nil {
		entries, _ := os.ReadDir(r.BaseDir)
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		f.writeBackoffMarker(r.BaseDir)
		return errors.Newf("expected artifact %q missing after extraction", r.Descriptor.Model.TFLiteFile).
			Component("fetcher").
			Category(errors.CategoryArtifactFetch).
			Context("dir_contents", strings.Join(names, ",")).
			Build()
	}

	f.clearBackoffMarker(r.BaseDir)
	log.Info("model artifact ready", "model", r.Descriptor.Model.Name, "variant", variantName)
	return nil
}

func (f *Fetcher) downloadAndExtract(ctx context.Context, url, destDir, expectedMD5 string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errors.New(err).Component("fetcher").Category(errors.CategoryArtifactFetch).Build()
	}

	partPath := filepath.Join(destDir, partSuffix)

	if err := f.downloadWithResume(ctx, url, partPath); err != nil {
		return err
	}

	data, err := os.ReadFile(partPath)
	if err != nil {
		return errors.New(err).Component("fetcher").Category(errors.CategoryArtifactFetch).Build()
	}

	if expectedMD5 != "" {
		sum := md5.Sum(data) //nolint:gosec // checksum format mandated by the upstream archive host
		got := hex.EncodeToString(sum[:])
		if got != expectedMD5 {
			_ = os.Remove(partPath)
			return errors.Newf("checksum mismatch: expected %s, got %s", expectedMD5, got).
				Component("fetcher").
				Category(errors.CategoryArtifactFetch).
				Build()
		}
	}

	if err := extractZip(data, destDir); err != nil {
		return err
	}

	return os.Remove(partPath)
}

func (f *Fetcher) downloadWithResume(ctx context.Context, url, partPath string) error {
	backoff := initialBackoff

	for attempt := 1; attempt <= maxRetries; attempt++ {
		var existingLen int64
		if info, err := os.Stat(partPath); err == nil {
			existingLen = info.Size()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return errors.New(err).Component("fetcher").Category(errors.CategoryArtifactFetch).Build()
		}
		if existingLen > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingLen))
		}

		resp, err := f.client.Do(ctx, req)
		if err != nil {
			log.Warn("download request failed, retrying", "attempt", attempt, "error", err)
			if !sleepBackoff(ctx, &backoff) {
				return ctx.Err()
			}
			continue
		}

		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && existingLen > 0 {
			resp.Body.Close()
			return nil
		}

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
			resp.Body.Close()
			log.Warn("download got non-success status, retrying", "attempt", attempt, "status", resp.StatusCode)
			if !sleepBackoff(ctx, &backoff) {
				return ctx.Err()
			}
			continue
		}

		resuming := resp.StatusCode == http.StatusPartialContent
		err = streamToFile(resp.Body, partPath, resuming)
		resp.Body.Close()
		if err != nil {
			log.Warn("download stream failed, retrying", "attempt", attempt, "error", err)
			if !sleepBackoff(ctx, &backoff) {
				return ctx.Err()
			}
			continue
		}

		return nil
	}

	return errors.Newf("download failed after %d attempts", maxRetries).
		Component("fetcher").
		Category(errors.CategoryArtifactFetch).
		Context("url", url).
		Build()
}

func sleepBackoff(ctx context.Context, backoff *time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(*backoff):
	}
	*backoff *= 2
	return true
}

func streamToFile(body io.Reader, path string, resuming bool) error {
	flags := os.O_WRONLY | os.O_CREATE
	if resuming {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, streamChunkSize)
	if _, err := io.CopyBuffer(file, body, buf); err != nil {
		return err
	}
	return file.Sync()
}

func extractZip(data []byte, destDir string) error {
	reader, err := zip.NewReader(strings.NewReader(string(data)), int64(len(data)))
	if err != nil {
		return errors.New(err).Component("fetcher").Category(errors.CategoryArtifactFetch).Build()
	}

	extracted := 0
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if strings.Contains(entry.Name, "__MACOSX") || strings.HasPrefix(filepath.Base(entry.Name), "._") {
			continue
		}

		name := filepath.Base(entry.Name)
		if name == "" || name == "." || name == string(filepath.Separator) {
			continue
		}

		if err := extractZipEntry(entry, filepath.Join(destDir, name)); err != nil {
			return err
		}
		extracted++
	}

	log.Info("extracted archive", "files", extracted, "dest", destDir)
	return nil
}

func extractZipEntry(entry *zip.File, destPath string) error {
	src, err := entry.Open()
	if err != nil {
		return errors.New(err).Component("fetcher").Category(errors.CategoryArtifactFetch).Build()
	}
	defer src.Close()

	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.New(err).Component("fetcher").Category(errors.CategoryArtifactFetch).Build()
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.New(err).Component("fetcher").Category(errors.CategoryArtifactFetch).Build()
	}
	return nil
}

// backoff marker: "resume_epoch_secs backoff_secs", doubling from
// initialBackoff each failure, capped at maxRestartBackoff.

func (f *Fetcher) backoffMarkerPath(dir string) string {
	return filepath.Join(dir, backoffMarkerName)
}

func (f *Fetcher) waitForBackoff(ctx context.Context, dir string) error {
	path := f.backoffMarkerPath(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return nil
	}
	resumeAt, err1 := strconv.ParseInt(fields[0], 10, 64)
	_, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		return nil
	}

	wait := time.Until(time.Unix(resumeAt, 0))
	if wait <= 0 {
		return nil
	}

	log.Info("waiting out download backoff window", "wait", wait)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (f *Fetcher) writeBackoffMarker(dir string) {
	path := f.backoffMarkerPath(dir)

	next := initialBackoff
	if data, err := os.ReadFile(path); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) == 2 {
			if prev, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
				next = time.Duration(prev) * time.Second * 2
			}
		}
	}
	if next > maxRestartBackoff {
		next = maxRestartBackoff
	}

	resumeAt := time.Now().Add(next).Unix()
	content := fmt.Sprintf("%d %d", resumeAt, int64(next.Seconds()))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		log.Warn("failed to write download backoff marker", "error", err)
	}
}

func (f *Fetcher) clearBackoffMarker(dir string) {
	_ = os.Remove(f.backoffMarkerPath(dir))
}
