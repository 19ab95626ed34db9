package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrProvider is wrapped by every ProviderError.
var ErrProvider = errors.New("signing provider error")

// ProviderError is returned when the signing provider answers with a non-2xx
// status or cannot be reached.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("signing provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("signing provider %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return ErrProvider }

// Signer is one party asked to sign.
type Signer struct {
	FirstName string
	LastName  string
	Email     string
}

// Signer statuses reported by the provider.
const (
	SignerStatusPending  = "pending"
	SignerStatusSigned   = "signed"
	SignerStatusDeclined = "declined"
)

// Request statuses reported by the provider.
const (
	RequestStatusDraft    = "draft"
	RequestStatusOngoing  = "ongoing"
	RequestStatusDone     = "done"
	RequestStatusDeclined = "declined"
)

type SignerStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RequestStatus is the provider's view of a signature request.
type RequestStatus struct {
	ID      string         `json:"id"`
	Status  string         `json:"status"`
	Signers []SignerStatus `json:"signers"`
}

// Provider is the signing-provider surface used by the service.
type Provider interface {
	CreateRequest(ctx context.Context, name string) (requestID string, err error)
	UploadDocument(ctx context.Context, requestID, filename string, content []byte) (documentID string, err error)
	AddSigner(ctx context.Context, requestID, documentID string, s Signer, order int) (signerID string, err error)
	Activate(ctx context.Context, requestID string) error
	GetRequest(ctx context.Context, requestID string) (*RequestStatus, error)
}

// Client talks to the provider's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Provider = (*Client)(nil)

type idResponse struct {
	ID string `json:"id"`
}

type createRequestBody struct {
	Name           string `json:"name"`
	DeliveryMode   string `json:"delivery_mode"`
	OrderedSigners bool   `json:"ordered_signers"`
}

type signerInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Locale    string `json:"locale"`
}

type signatureField struct {
	DocumentID string `json:"document_id"`
	Type       string `json:"type"`
	Page       int    `json:"page"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
}

type addSignerBody struct {
	Info   signerInfo       `json:"info"`
	Order  int              `json:"signing_order"`
	Level  string           `json:"signature_level"`
	Fields []signatureField `json:"fields"`
}

func (c *Client) CreateRequest(ctx context.Context, name string) (string, error) {
	body, _ := json.Marshal(createRequestBody{Name: name, DeliveryMode: "email", OrderedSigners: true})
	var out idResponse
	if err := c.do(ctx, "create_request", http.MethodPost, "/signature_requests", "application/json", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) UploadDocument(ctx context.Context, requestID, filename string, content []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("nature", "signable_document")
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out idResponse
	path := "/signature_requests/" + requestID + "/documents"
	if err := c.do(ctx, "upload_document", http.MethodPost, path, mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// AddSigner registers s on the request. Lower order signs first.
func (c *Client) AddSigner(ctx context.Context, requestID, documentID string, s Signer, order int) (string, error) {
	body, _ := json.Marshal(addSignerBody{
		Info:  signerInfo{FirstName: s.FirstName, LastName: s.LastName, Email: s.Email, Locale: "fr"},
		Order: order,
		Level: "electronic_signature",
		Fields: []signatureField{
			{DocumentID: documentID, Type: "signature", Page: 1, X: 77, Y: 581 + 60*order},
		},
	})
	var out idResponse
	path := "/signature_requests/" + requestID + "/signers"
	if err := c.do(ctx, "add_signer", http.MethodPost, path, "application/json", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) Activate(ctx context.Context, requestID string) error {
	return c.do(ctx, "activate", http.MethodPost, "/signature_requests/"+requestID+"/activate", "", nil, nil)
}

func (c *Client) GetRequest(ctx context.Context, requestID string) (*RequestStatus, error) {
	var out RequestStatus
	if err := c.do(ctx, "get_request", http.MethodGet, "/signature_requests/"+requestID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ProviderError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
