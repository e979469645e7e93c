package services

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// userAgentTransport adds a browser User-Agent; some publishers refuse Go's default.
type userAgentTransport struct {
	Transport http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	return t.Transport.RoundTrip(req)
}

// RemoteFetcher downloads a PDF from a URL so it can be submitted like an upload.
// A .tar.gz archive is accepted; its first PDF entry is used.
type RemoteFetcher struct {
	Client   *http.Client
	MaxBytes int64
	Logger   *zap.Logger
}

func NewRemoteFetcher(maxBytes int64, logger *zap.Logger) *RemoteFetcher {
	return &RemoteFetcher{
		Client: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &userAgentTransport{Transport: http.DefaultTransport},
		},
		MaxBytes: maxBytes,
		Logger:   logger,
	}
}

// Fetch returns the file name and bytes of the PDF behind link.
func (f *RemoteFetcher) Fetch(ctx context.Context, link string) (string, []byte, error) {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", nil, invalid("url must be an absolute http(s) url")
	}
	log := f.Logger.With(zap.String("url", link))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", nil, errors.Wrap(err, "build request")
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", nil, errors.Wrapf(err, "download %s", link)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, invalid("download failed with status %s", resp.Status)
	}

	name := path.Base(u.Path)
	lowerPath := strings.ToLower(u.Path)
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))

	switch {
	case strings.Contains(contentType, "pdf") || strings.HasSuffix(lowerPath, ".pdf"):
		log.Debug("Direct PDF detected")
		data, err := f.readLimited(resp.Body)
		return name, data, err

	case strings.HasSuffix(lowerPath, ".tar.gz") || strings.HasSuffix(lowerPath, ".tgz"):
		log.Debug("tar.gz archive detected, extracting")
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", nil, invalid("archive is not gzip: %v", err)
		}
		defer gz.Close()

		tr := tar.NewReader(gz)
		for {
			header, err := tr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", nil, invalid("archive is corrupt: %v", err)
			}
			if header.Typeflag == tar.TypeReg && strings.HasSuffix(strings.ToLower(header.Name), ".pdf") {
				log.Info("PDF found in archive", zap.String("filename", header.Name))
				data, err := f.readLimited(tr)
				return path.Base(header.Name), data, err
			}
		}
		return "", nil, invalid("archive contains no PDF")
	}

	log.Warn("Resource is not a PDF", zap.String("content_type", contentType))
	return "", nil, invalid("resource is not a PDF (content type %q)", contentType)
}

func (f *RemoteFetcher) readLimited(r io.Reader) ([]byte, error) {
	if f.MaxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, f.MaxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "read download")
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, invalid("download exceeds %d bytes", f.MaxBytes)
	}
	return data, nil
}
