package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"trailreport/internal/domain"
)

// Client talks to the CMS over its upload and submit endpoints. A bearer
// token authenticates every call.
type Client struct {
	BaseURL    string
	UploadPath string
	SubmitPath string
	Token      string
	HTTP       *http.Client
}

func NewClient(baseURL, uploadPath, submitPath, token string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    baseURL,
		UploadPath: uploadPath,
		SubmitPath: submitPath,
		Token:      token,
		HTTP:       &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx CMS response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cms: status %d: %s", e.Status, e.Message)
}

// TokenExpired checks the bearer token's exp claim without verifying the
// signature. Verification is the server's job; this pre-check only avoids
// starting a large upload that is guaranteed to be rejected.
func (c *Client) TokenExpired(now time.Time) (bool, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.Token, claims); err != nil {
		return false, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false, fmt.Errorf("token exp claim: %w", err)
	}
	if exp == nil {
		return false, nil
	}
	return now.After(exp.Time), nil
}

// Upload sends one file as multipart form data and returns the fid the CMS
// assigned. progress receives bytes sent out of the total body size; pass
// nil to skip reporting.
func (c *Client) Upload(ctx context.Context, file domain.FileBlob, caption string, progress func(sent, total int64)) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return "", err
		}
	}
	part, err := w.CreateFormFile("file", file.Name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(file.Data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	total := int64(body.Len())
	var reader io.Reader = &body
	if progress != nil {
		reader = &progressReader{r: reader, total: total, fn: progress}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.UploadPath, reader)
	if err != nil {
		return "", err
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apiError(resp)
	}
	var out struct {
		Fid string `json:"fid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.Fid == "" {
		return "", fmt.Errorf("upload response missing fid")
	}
	return out.Fid, nil
}

// Submit posts the consolidated report document.
func (c *Client) Submit(ctx context.Context, sub domain.Submission) (domain.SubmitResult, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+c.SubmitPath, bytes.NewReader(payload))
	if err != nil {
		return domain.SubmitResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.SubmitResult{}, apiError(resp)
	}
	var result domain.SubmitResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.SubmitResult{}, fmt.Errorf("decode submit response: %w", err)
	}
	return result, nil
}

func apiError(resp *http.Response) error {
	msg := resp.Status
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Message != "" {
			msg = envelope.Message
		} else if envelope.Error != "" {
			msg = envelope.Error
		}
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}
