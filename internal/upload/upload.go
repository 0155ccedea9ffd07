// Package upload is the client side of the file upload collaborator. The
// engine treats the result as opaque and attaches it as file metadata on an
// optimistic message; an upload failure is shown inline and never touches the
// message list.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"roomchat/client/internal/models"
)

// Result is the upload service's response.
type Result struct {
	URL  string          `json:"url"`
	Meta models.FileMeta `json:"meta"`
}

// Client uploads files for one room.
type Client struct {
	apiURL string
	roomID string
	hc     *http.Client
}

// NewClient builds an upload client against apiURL.
func NewClient(apiURL, roomID string) *Client {
	return &Client{
		apiURL: apiURL,
		roomID: roomID,
		hc:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Upload posts the file as multipart form data and decodes the service's
// {url, meta} response.
func (c *Client) Upload(ctx context.Context, fileName string, r io.Reader) (*Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read file %s: %w", fileName, err)
	}
	if err := w.WriteField("roomId", c.roomID); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/api/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", fileName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("upload %s failed: %s: %s", fileName, resp.Status, msg)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	if result.Meta.URL == "" {
		result.Meta.URL = result.URL
	}
	return &result, nil
}
