// Package cdn uploads materialized audio to the public CDN. The real
// storage service is an external collaborator; only this narrow surface
// is consumed by the rest of the system.
package cdn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/unclebandit/voicecast-backend/internal/config"
	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
)

type Uploader interface {
	// Upload stores data under folder/key and returns the public URL.
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// HTTPUploader pushes objects to an S3-compatible HTTP endpoint.
type HTTPUploader struct {
	Endpoint string
	APIKey   string
	Folder   string
	Client   *http.Client
}

func NewHTTPUploader(cfg config.CDNConfig) *HTTPUploader {
	return &HTTPUploader{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Folder:   cfg.Folder,
		Client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (u *HTTPUploader) objectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", u.Endpoint, u.Folder, key)
}

func (u *HTTPUploader) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	target := u.objectURL(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+u.APIKey)
	req.Header.Set("x-amz-acl", "public-read")

	resp, err := u.Client.Do(req)
	if err != nil {
		return "", appErrors.NewCDNUnavailable(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return "", appErrors.NewCDNUnavailable(fmt.Errorf("upload returned %d", resp.StatusCode))
	}
	return target, nil
}

func (u *HTTPUploader) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u.objectURL(key), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+u.APIKey)

	resp, err := u.Client.Do(req)
	if err != nil {
		return appErrors.NewCDNUnavailable(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return appErrors.NewCDNUnavailable(fmt.Errorf("delete returned %d", resp.StatusCode))
	}
	return nil
}

var _ Uploader = (*HTTPUploader)(nil)
