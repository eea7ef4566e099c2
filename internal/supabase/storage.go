package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StorageClient reads and writes objects in Supabase Storage buckets.
type StorageClient struct {
	client *Client
}

// UploadOptions tunes an upload.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Upsert       bool
}

// objectURL joins the storage endpoint with escaped path segments. Object
// names may contain spaces and accents.
func (s *StorageClient) objectURL(segments ...string) string {
	var b strings.Builder
	b.WriteString(s.client.storageURL)
	b.WriteString("/object")
	for _, seg := range segments {
		for _, part := range strings.Split(seg, "/") {
			b.WriteByte('/')
			b.WriteString(url.PathEscape(part))
		}
	}
	return b.String()
}

// call sends the request and turns error statuses into *Error.
func (s *StorageClient) call(ctx context.Context, method, target string, body []byte, headers map[string]string) ([]byte, error) {
	data, status, err := s.client.request(ctx, method, target, body, headers)
	if err != nil {
		return nil, err
	}
	if status >= http.StatusBadRequest {
		return nil, parseError(data, status)
	}
	return data, nil
}

// Upload stores data at filePath within bucketID.
func (s *StorageClient) Upload(ctx context.Context, bucketID, filePath string, data []byte, opts *UploadOptions) error {
	headers := map[string]string{"Content-Type": "application/octet-stream"}
	if opts != nil {
		if opts.ContentType != "" {
			headers["Content-Type"] = opts.ContentType
		}
		if opts.CacheControl != "" {
			headers["Cache-Control"] = opts.CacheControl
		}
		if opts.Upsert {
			headers["x-upsert"] = "true"
		}
	}
	_, err := s.call(ctx, http.MethodPost, s.objectURL(bucketID, filePath), data, headers)
	return err
}

// Delete removes objects from a bucket. Missing objects are not an error.
func (s *StorageClient) Delete(ctx context.Context, bucketID string, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	body, err := json.Marshal(struct {
		Prefixes []string `json:"prefixes"`
	}{filePaths})
	if err != nil {
		return err
	}
	_, err = s.call(ctx, http.MethodDelete, s.objectURL(bucketID), body, nil)
	return err
}

// CreateSignedURL returns a URL granting read access to an object for
// expiresIn.
func (s *StorageClient) CreateSignedURL(ctx context.Context, bucketID, filePath string, expiresIn time.Duration) (string, error) {
	body, err := json.Marshal(struct {
		ExpiresIn int `json:"expiresIn"`
	}{int(expiresIn / time.Second)})
	if err != nil {
		return "", err
	}
	data, err := s.call(ctx, http.MethodPost, s.objectURL("sign", bucketID, filePath), body, nil)
	if err != nil {
		return "", err
	}
	var signed struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.Unmarshal(data, &signed); err != nil {
		return "", fmt.Errorf("decode signed url: %w", err)
	}
	if signed.SignedURL == "" {
		return "", fmt.Errorf("supabase returned an empty signed url")
	}
	return s.client.storageURL + signed.SignedURL, nil
}
