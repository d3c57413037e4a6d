// Copyright 2025 AetherEngine
//
// Control Plane API Client
// Drives the upload protocol (two-phase, multipart, legacy) and the
// metadata endpoints. Server error bodies map onto the CLI error kinds.
// No request is retried: every failure, transient or not, is returned to
// the caller on the first attempt.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aether-engine/aether/pkg/cli"
	"github.com/aether-engine/aether/pkg/storage"
)

// multipartThreshold switches uploads to the multipart protocol
const multipartThreshold int64 = 48 * 1024 * 1024

// partSize is the multipart chunk size
const partSize int64 = 8 * 1024 * 1024

// Client talks to the control plane
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *log.Logger
}

// New creates a client with a bounded request timeout
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Logger:     log.New(io.Discard, "", 0),
	}
}

// APIError is the server error body
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// toCLIError classifies a server error for the exit-code contract
func toCLIError(apiErr *APIError) error {
	switch apiErr.Code {
	case "unauthorized", "forbidden":
		return cli.WrapError(cli.KindConfig, apiErr.Message, apiErr)
	case "service_unavailable":
		return cli.WrapError(cli.KindNetwork, apiErr.Message, apiErr)
	default:
		return cli.WrapError(cli.KindRuntime, apiErr.Message, apiErr)
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return cli.WrapError(cli.KindRuntime, "failed to encode request", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return cli.WrapError(cli.KindRuntime, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return cli.WrapError(cli.KindNetwork, fmt.Sprintf("request to %s failed", path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "internal"
			apiErr.Message = fmt.Sprintf("server returned status %d", resp.StatusCode)
		}
		return toCLIError(apiErr)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return cli.WrapError(cli.KindRuntime, "failed to decode response", err)
		}
	}
	return nil
}

// ============================================================================
// UPLOAD PROTOCOL
// ============================================================================

// PresignResponse mirrors the server phase-1 response
type PresignResponse struct {
	UploadURL  string            `json:"upload_url"`
	StorageKey string            `json:"storage_key"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers"`
}

// CompleteResponse mirrors the server phase-2 response
type CompleteResponse struct {
	ArtifactID string `json:"artifact_id"`
	Digest     string `json:"digest"`
	Duplicate  bool   `json:"duplicate"`
	Verified   bool   `json:"verified"`
	StorageKey string `json:"storage_key"`
	Status     string `json:"status"`
}

// Presign runs phase 1 of the two-phase upload
func (c *Client) Presign(ctx context.Context, app, digest string) (*PresignResponse, error) {
	var resp PresignResponse
	err := c.doJSON(ctx, http.MethodPost, "/artifacts/presign",
		map[string]string{"app_name": app, "digest": digest}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Complete runs phase 2 of the two-phase upload
func (c *Client) Complete(ctx context.Context, app, digest string, size int64, signature *string, putDuration time.Duration) (*CompleteResponse, error) {
	payload := map[string]any{
		"app_name":   app,
		"digest":     digest,
		"size_bytes": size,
		"signature":  signature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, cli.WrapError(cli.KindRuntime, "failed to encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/artifacts/complete", bytes.NewReader(body))
	if err != nil {
		return nil, cli.WrapError(cli.KindRuntime, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Aether-Upload-Duration", fmt.Sprintf("%.3f", putDuration.Seconds()))
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, cli.WrapError(cli.KindNetwork, "complete request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "internal"
			apiErr.Message = fmt.Sprintf("server returned status %d", resp.StatusCode)
		}
		return nil, toCLIError(apiErr)
	}
	var out CompleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, cli.WrapError(cli.KindRuntime, "failed to decode response", err)
	}
	return &out, nil
}

// PutPresigned uploads the archive to the presigned URL. progress, when
// non-nil, wraps the reader (e.g. a progress bar).
func (c *Client) PutPresigned(ctx context.Context, presigned *PresignResponse, archivePath string,
	progress func(io.Reader, int64) io.Reader) (time.Duration, error) {

	f, err := os.Open(archivePath)
	if err != nil {
		return 0, cli.WrapError(cli.KindIO, "failed to open archive", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, cli.WrapError(cli.KindIO, "failed to stat archive", err)
	}

	var body io.Reader = f
	if progress != nil {
		body = progress(f, info.Size())
	}

	req, err := http.NewRequestWithContext(ctx, presigned.Method, presigned.UploadURL, body)
	if err != nil {
		return 0, cli.WrapError(cli.KindRuntime, "failed to build upload request", err)
	}
	req.ContentLength = info.Size()
	for k, v := range presigned.Headers {
		req.Header.Set(k, v)
	}

	// Uploads get a generous client: the protocol timeout would truncate
	// large archives.
	uploadClient := &http.Client{Timeout: 10 * time.Minute}
	start := time.Now()
	resp, err := uploadClient.Do(req)
	if err != nil {
		return 0, cli.WrapError(cli.KindNetwork, "artifact upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, cli.NewError(cli.KindNetwork, fmt.Sprintf("artifact upload returned status %d", resp.StatusCode))
	}
	return time.Since(start), nil
}

// UploadArtifact drives the presigned upload protocol end to end,
// switching to multipart above the size threshold. Returns the control
// plane's completion response (storage key, duplicate and verified flags).
func (c *Client) UploadArtifact(ctx context.Context, app, digest, archivePath string, size int64,
	signature *string, progress func(io.Reader, int64) io.Reader) (*CompleteResponse, error) {

	if size > multipartThreshold {
		resp, err := c.uploadMultipart(ctx, app, digest, archivePath, size, signature)
		if err == nil {
			return resp, nil
		}
		if cliErr, ok := err.(*cli.Error); ok {
			if apiErr, ok := cliErr.Cause.(*APIError); ok && apiErr.Code == "multipart_unsupported" {
				c.Logger.Printf("backend lacks multipart support, falling back to single PUT")
			} else {
				return nil, err
			}
		} else {
			return nil, err
		}
	}

	presigned, err := c.Presign(ctx, app, digest)
	if err != nil {
		return nil, err
	}
	var putDuration time.Duration
	if presigned.Method != "NONE" {
		putDuration, err = c.PutPresigned(ctx, presigned, archivePath, progress)
		if err != nil {
			return nil, err
		}
	}
	return c.Complete(ctx, app, digest, size, signature, putDuration)
}

type multipartInitResponse struct {
	UploadID   string `json:"upload_id"`
	StorageKey string `json:"storage_key"`
}

func (c *Client) uploadMultipart(ctx context.Context, app, digest, archivePath string, size int64, signature *string) (*CompleteResponse, error) {
	var initResp multipartInitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/artifacts/multipart/init",
		map[string]string{"app_name": app, "digest": digest}, &initResp); err != nil {
		return nil, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, cli.WrapError(cli.KindIO, "failed to open archive", err)
	}
	defer f.Close()

	uploadClient := &http.Client{Timeout: 10 * time.Minute}
	var parts []storage.Part
	for partNumber := int32(1); ; partNumber++ {
		chunk := make([]byte, partSize)
		n, readErr := io.ReadFull(f, chunk)
		if readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return nil, cli.WrapError(cli.KindIO, "failed to read archive", readErr)
		}

		var presigned storage.PresignedUpload
		if err := c.doJSON(ctx, http.MethodPost, "/artifacts/multipart/presign-part",
			map[string]any{"digest": digest, "upload_id": initResp.UploadID, "part_number": partNumber},
			&presigned); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, presigned.Method, presigned.URL, bytes.NewReader(chunk[:n]))
		if err != nil {
			return nil, cli.WrapError(cli.KindRuntime, "failed to build part request", err)
		}
		for k, v := range presigned.Headers {
			req.Header.Set(k, v)
		}
		resp, err := uploadClient.Do(req)
		if err != nil {
			return nil, cli.WrapError(cli.KindNetwork, fmt.Sprintf("part %d upload failed", partNumber), err)
		}
		etag := strings.Trim(resp.Header.Get("ETag"), `"`)
		resp.Body.Close()
		if resp.StatusCode >= 400 || etag == "" {
			return nil, cli.NewError(cli.KindNetwork, fmt.Sprintf("part %d upload returned status %d", partNumber, resp.StatusCode))
		}
		parts = append(parts, storage.Part{Number: partNumber, ETag: etag})

		if readErr == io.ErrUnexpectedEOF {
			break
		}
	}

	var out CompleteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/artifacts/multipart/complete", map[string]any{
		"app_name":   app,
		"digest":     digest,
		"upload_id":  initResp.UploadID,
		"size_bytes": size,
		"parts":      parts,
		"signature":  signature,
	}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LegacyUploadResponse mirrors the deprecated endpoint response
type LegacyUploadResponse struct {
	ArtifactURL string `json:"artifact_url"`
	Digest      string `json:"digest"`
	Duplicate   bool   `json:"duplicate"`
	Verified    bool   `json:"verified"`
}

// LegacyUpload posts the archive through the deprecated single-shot
// multipart/form-data endpoint.
func (c *Client) LegacyUpload(ctx context.Context, app, digest, archivePath string, signature *string) (*LegacyUploadResponse, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, cli.WrapError(cli.KindIO, "failed to open archive", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		form.WriteField("app_name", app)
		part, err := form.CreateFormFile("artifact", "app.tar.gz")
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/artifacts", pr)
	if err != nil {
		return nil, cli.WrapError(cli.KindRuntime, "failed to build request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("X-Aether-Artifact-Digest", digest)
	if signature != nil {
		req.Header.Set("X-Aether-Signature", *signature)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	uploadClient := &http.Client{Timeout: 10 * time.Minute}
	start := time.Now()
	resp, err := uploadClient.Do(req)
	if err != nil {
		return nil, cli.WrapError(cli.KindNetwork, "legacy upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "internal"
			apiErr.Message = fmt.Sprintf("server returned status %d", resp.StatusCode)
		}
		return nil, toCLIError(apiErr)
	}
	if resp.Header.Get("X-Aether-Deprecated") == "true" {
		c.Logger.Printf("legacy upload path is deprecated; prefer the presigned protocol (took %s)", time.Since(start))
	}
	var out LegacyUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, cli.WrapError(cli.KindRuntime, "failed to decode response", err)
	}
	return &out, nil
}

// ============================================================================
// METADATA ENDPOINTS
// ============================================================================

// UploadSBOM posts an SBOM document for a stored artifact
func (c *Client) UploadSBOM(ctx context.Context, digest string, doc []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/artifacts/%s/sbom", c.BaseURL, digest), bytes.NewReader(doc))
	if err != nil {
		return cli.WrapError(cli.KindRuntime, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return cli.WrapError(cli.KindNetwork, "sbom upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "internal"
			apiErr.Message = fmt.Sprintf("server returned status %d", resp.StatusCode)
		}
		return toCLIError(apiErr)
	}
	return nil
}

// UploadManifest posts the file manifest for a stored artifact
func (c *Client) UploadManifest(ctx context.Context, digest string, doc []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/artifacts/%s/manifest", c.BaseURL, digest), bytes.NewReader(doc))
	if err != nil {
		return cli.WrapError(cli.KindRuntime, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return cli.WrapError(cli.KindNetwork, "manifest upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "internal"
			apiErr.Message = fmt.Sprintf("server returned status %d", resp.StatusCode)
		}
		return toCLIError(apiErr)
	}
	return nil
}

// CreateDeployment asks the control plane to roll out an artifact
func (c *Client) CreateDeployment(ctx context.Context, app, artifactURL string) (string, error) {
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/deployments",
		map[string]string{"app_name": app, "artifact_url": artifactURL}, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// App is one entry from the application listing
type App struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListApps fetches the application list
func (c *Client) ListApps(ctx context.Context) ([]App, error) {
	var out []App
	if err := c.doJSON(ctx, http.MethodGet, "/apps", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamLogs copies the application log stream to w until the server
// closes it or ctx is canceled.
func (c *Client) StreamLogs(ctx context.Context, app string, tail int, follow bool, w io.Writer) error {
	url := fmt.Sprintf("%s/apps/%s/logs?tail_lines=%d", c.BaseURL, app, tail)
	if follow {
		url += "&follow=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return cli.WrapError(cli.KindRuntime, "failed to build request", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	streamClient := &http.Client{} // no timeout: follow streams indefinitely
	resp, err := streamClient.Do(req)
	if err != nil {
		return cli.WrapError(cli.KindNetwork, "logs request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return cli.NewError(cli.KindRuntime, fmt.Sprintf("logs fetch failed: status %d", resp.StatusCode))
	}
	_, err = io.Copy(w, resp.Body)
	if err != nil && ctx.Err() == nil {
		return cli.WrapError(cli.KindNetwork, "log stream interrupted", err)
	}
	return nil
}
