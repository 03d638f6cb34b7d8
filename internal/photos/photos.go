// Package photos uploads matched media to a PhotoPrism-compatible photo
// service and files it into the configured album.
package photos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kozaktomas/photo-courier/internal/config"
)

// Client is an authenticated session against the photo service API.
type Client struct {
	apiURL    string
	parsedURL *url.URL
	token     string
	userUID   string
	album     string
	albumUID  string
	client    *http.Client
}

// New creates a client and authenticates immediately.
func New(cfg *config.PhotosConfig) (*Client, error) {
	apiURL := cfg.URL + "/api/v1"
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid photo service URL: %w", err)
	}
	c := &Client{
		apiURL:    apiURL,
		parsedURL: parsed,
		album:     cfg.Album,
		client:    &http.Client{Timeout: 5 * time.Minute},
	}
	if err := c.auth(cfg.Username, cfg.Password); err != nil {
		return nil, fmt.Errorf("could not authenticate: %w", err)
	}
	return c, nil
}

func (c *Client) resolveURL(pathSegments ...string) string {
	return c.parsedURL.JoinPath(pathSegments...).String()
}

// authResponse is the session response shape.
type authResponse struct {
	Token string `json:"access_token"`
	User  struct {
		UID string `json:"UID"`
	} `json:"user"`
}

func (c *Client) auth(username, password string) error {
	inputBody, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return fmt.Errorf("could not marshal input: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.resolveURL("sessions"), bytes.NewReader(inputBody))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &apiError{status: resp.StatusCode, body: string(body)}
	}

	var result authResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("could not unmarshal response: %w", err)
	}
	if result.Token == "" {
		return errors.New("session response carried no token")
	}
	c.token = result.Token
	c.userUID = result.User.UID
	return nil
}

// album is the subset of the album resource the client needs.
type albumResource struct {
	UID   string `json:"UID"`
	Title string `json:"Title"`
}

// EnsureAlbum resolves the configured album title to a UID, creating the
// album when it does not exist. No-op when no album is configured.
func (c *Client) EnsureAlbum(ctx context.Context) error {
	if c.album == "" || c.albumUID != "" {
		return nil
	}

	endpoint := c.parsedURL.JoinPath("albums")
	q := endpoint.Query()
	q.Set("count", "1000")
	q.Set("type", "album")
	endpoint.RawQuery = q.Encode()

	var albums []albumResource
	if err := c.doJSON(ctx, http.MethodGet, endpoint.String(), nil, &albums); err != nil {
		return fmt.Errorf("could not list albums: %w", err)
	}
	for _, a := range albums {
		if a.Title == c.album {
			c.albumUID = a.UID
			return nil
		}
	}

	var created albumResource
	payload := map[string]string{"Title": c.album}
	if err := c.doJSON(ctx, http.MethodPost, c.resolveURL("albums"), payload, &created); err != nil {
		return fmt.Errorf("could not create album %s: %w", c.album, err)
	}
	c.albumUID = created.UID
	return nil
}

// Upload sends the file to the user's upload folder and triggers processing
// into the configured album. The returned reference identifies the upload
// batch on the remote side.
func (c *Client) Upload(ctx context.Context, path string) (string, error) {
	if c.userUID == "" {
		return "", errors.New("user UID not available")
	}
	if err := c.EnsureAlbum(ctx); err != nil {
		return "", err
	}

	uploadToken := strconv.FormatInt(time.Now().UnixNano(), 10)

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("could not open file: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("could not copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("could not close writer: %w", err)
	}

	uploadURL := c.resolveURL("users", c.userUID, "upload", uploadToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &transportError{err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", &apiError{status: resp.StatusCode, body: string(respBody)}
	}

	if err := c.processUpload(ctx, uploadToken); err != nil {
		return "", err
	}
	return uploadToken, nil
}

// processUpload moves the uploaded files into the library and files them
// into the album when one is configured.
func (c *Client) processUpload(ctx context.Context, uploadToken string) error {
	options := struct {
		Albums []string `json:"albums,omitempty"`
	}{}
	if c.albumUID != "" {
		options.Albums = []string{c.albumUID}
	}

	endpoint := c.resolveURL("users", c.userUID, "upload", uploadToken)
	if err := c.doJSON(ctx, http.MethodPut, endpoint, options, nil); err != nil {
		return fmt.Errorf("could not process upload: %w", err)
	}
	return nil
}

// doJSON performs an authorized request with an optional JSON body and
// unmarshals the JSON response into result when non-nil.
func (c *Client) doJSON(ctx context.Context, method, url string, requestBody, result any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		jsonBody, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("could not marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &apiError{status: resp.StatusCode, body: string(body)}
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("could not unmarshal response: %w", err)
		}
	}
	return nil
}

// transportError wraps network-level failures, always worth retrying.
type transportError struct{ err error }

func (e *transportError) Error() string   { return fmt.Sprintf("could not send request: %v", e.err) }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Transient() bool { return true }

// apiError classifies non-success responses. Throttling and server errors
// are transient; other client errors fail the call permanently.
type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.status, e.body)
}

func (e *apiError) Transient() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}
