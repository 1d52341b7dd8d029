// Package relayclient talks to the zgDrop relay: multipart uploads to
// /api/upload and downloads from /api/download/{rootHash}.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zgDrop/pkg/merkle"
	"zgDrop/pkg/storage"
	"zgDrop/pkg/uploadqueue"
)

var ErrInvalidRootHash = errors.New("invalid root hash")

// StatusError is a non-2xx relay response. Message comes from the
// {"message"} body when the relay sent one.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("relay returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New returns a client for the relay at baseURL. A zero timeout means no
// timeout, which suits large transfers.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UploadFile uploads the file at path.
func (c *Client) UploadFile(ctx context.Context, path string) (*storage.UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return c.Upload(ctx, filepath.Base(path), f)
}

// Upload streams r to the relay as multipart field "file".
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) (*storage.UploadResult, error) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		part, err := writer.CreateFormFile("file", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	var result storage.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if result.RootHash == "" {
		return nil, errors.New("relay response has no root hash")
	}
	return &result, nil
}

// Uploader adapts the client to the upload queue.
func (c *Client) Uploader() uploadqueue.Uploader {
	return uploadqueue.UploaderFunc(func(ctx context.Context, name string, r io.Reader) (uploadqueue.Receipt, error) {
		res, err := c.Upload(ctx, name, r)
		if err != nil {
			return uploadqueue.Receipt{}, err
		}
		return uploadqueue.Receipt{RootHash: res.RootHash, TxHash: res.TxHash}, nil
	})
}

// Download fetches rootHash into dir and returns the written path. The file
// name comes from the relay's Content-Disposition, falling back to the root
// hash.
func (c *Client) Download(ctx context.Context, rootHash, dir string) (string, error) {
	if !merkle.IsRootHash(rootHash) {
		return "", ErrInvalidRootHash
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/download/"+url.PathEscape(rootHash), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeError(resp)
	}

	name := rootHash
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if fn := filepath.Base(params["filename"]); fn != "" && fn != "." && fn != "/" {
			name = fn
		}
	}

	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}
	return path, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return &StatusError{StatusCode: resp.StatusCode, Message: payload.Message}
	}
	return &StatusError{StatusCode: resp.StatusCode}
}
