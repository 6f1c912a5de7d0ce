// Package httpdoc talks to a generic JSON document server. Locators are the
// server-assigned document ids. The client retries transient failures with
// exponential backoff; exhausting retries surfaces an AdapterError that the
// sync core treats as a per-pair, non-fatal failure.
package httpdoc

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/portals/internal/adapter"
	"github.com/openmined/portals/internal/core"
	"github.com/openmined/portals/internal/version"
)

const (
	docsPath = "/api/v1/documents"

	defaultTimeout    = 30 * time.Second
	defaultRetryCount = 3
	retryBackoffMin   = 500 * time.Millisecond
	retryBackoffMax   = 5 * time.Second
)

var userAgent = fmt.Sprintf("Portals/%s (%s; %s)", version.Version, runtime.GOOS, runtime.GOARCH)

// documentBody is the wire shape for create/write requests and read responses.
type documentBody struct {
	ID       string            `json:"id,omitempty"`
	ParentID string            `json:"parent_id,omitempty"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Meta     core.DocumentMeta `json:"metadata"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Adapter struct {
	client  *req.Client
	baseURL string
}

var _ adapter.Adapter = (*Adapter)(nil)

type Option func(*Adapter)

// WithToken sets a bearer token on every request.
func WithToken(token string) Option {
	return func(a *Adapter) {
		a.client.SetCommonBearerAuthToken(token)
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.client.SetTimeout(d)
	}
}

func New(baseURL string, opts ...Option) *Adapter {
	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetCommonRetryCount(defaultRetryCount).
		SetCommonRetryBackoffInterval(retryBackoffMin, retryBackoffMax).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			// retry on transport errors and server-side failures,
			// never on 4xx
			return err != nil || resp.StatusCode >= http.StatusInternalServerError
		}).
		SetUserAgent(userAgent)

	a := &Adapter{client: client, baseURL: baseURL}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Platform() string { return "httpdoc" }

func (a *Adapter) Read(ctx context.Context, locator string) (*core.Document, error) {
	var body documentBody
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&body).
		Get(docsPath + "/" + locator)
	if err := a.handle(resp, err, "read", locator); err != nil {
		return nil, err
	}
	return core.NewDocument(body.Content, body.Meta), nil
}

func (a *Adapter) Write(ctx context.Context, locator string, doc *core.Document) (*adapter.RemoteMetadata, error) {
	var meta adapter.RemoteMetadata
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(&documentBody{Title: doc.Meta.Title, Content: doc.Content, Meta: doc.Meta}).
		SetSuccessResult(&meta).
		Put(docsPath + "/" + locator)
	if err := a.handle(resp, err, "write", locator); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (a *Adapter) Create(ctx context.Context, parentLocator, title string, doc *core.Document) (string, error) {
	body := documentBody{ParentID: parentLocator, Title: title}
	if doc != nil {
		body.Content = doc.Content
		body.Meta = doc.Meta
	}

	var created documentBody
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(&body).
		SetSuccessResult(&created).
		Post(docsPath)
	if err := a.handle(resp, err, "create", parentLocator); err != nil {
		return "", err
	}
	return created.ID, nil
}

// Delete asks the server to archive the document. The server keeps history.
func (a *Adapter) Delete(ctx context.Context, locator string) error {
	resp, err := a.client.R().
		SetContext(ctx).
		Delete(docsPath + "/" + locator)
	return a.handle(resp, err, "delete", locator)
}

func (a *Adapter) GetMetadata(ctx context.Context, locator string) (*adapter.RemoteMetadata, error) {
	var meta adapter.RemoteMetadata
	resp, err := a.client.R().
		SetContext(ctx).
		SetSuccessResult(&meta).
		Get(docsPath + "/" + locator + "/meta")
	if err := a.handle(resp, err, "metadata", locator); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (a *Adapter) Exists(ctx context.Context, locator string) (bool, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		Head(docsPath + "/" + locator)
	if err != nil {
		return false, a.wrap("exists", locator, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.IsErrorState() {
		return false, a.wrap("exists", locator, fmt.Errorf("status %d", resp.StatusCode))
	}
	return true, nil
}

// handle maps transport failures and API error responses into the uniform
// AdapterError shape, translating 404s to core.ErrNotFound.
func (a *Adapter) handle(resp *req.Response, requestErr error, op, locator string) error {
	if requestErr != nil {
		return a.wrap(op, locator, requestErr)
	}
	if resp.StatusCode == http.StatusNotFound {
		return a.wrap(op, locator, core.ErrNotFound)
	}
	if resp.IsErrorState() {
		var apiErr apiError
		if err := resp.UnmarshalJson(&apiErr); err == nil && apiErr.Code != "" {
			return a.wrap(op, locator, &apiErr)
		}
		return a.wrap(op, locator, fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func (a *Adapter) wrap(op, locator string, err error) error {
	return &core.AdapterError{Platform: a.Platform(), Op: op, Locator: locator, Err: err}
}
