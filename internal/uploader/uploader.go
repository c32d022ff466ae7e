// Package uploader issues signed S3 PUT requests and classifies their
// outcome.
package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/benaslater/animal-ai-online-experiment/internal/sigv4"
)

// ErrMissingCredentials indicates that a required credential or target value
// is absent. This is a fatal misconfiguration, not a retryable condition.
var ErrMissingCredentials = errors.New("uploader: missing credentials or target configuration")

// Credentials hold the signing key pair. They are passed explicitly and are
// never read from ambient state, logged or persisted.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Descriptor describes one object upload.
type Descriptor struct {
	Key         string
	Body        []byte
	ContentType string
	// Metadata entries become x-amz-meta-* headers. S3 requires every
	// x-amz-* header on the wire to be signed, so they join the canonical
	// header set alongside host, x-amz-content-sha256 and x-amz-date.
	Metadata map[string]string
}

// UploadError is a non-200 response from the storage service. The body is
// surfaced verbatim; interpretation is the caller's concern.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload rejected with status %d: %s", e.StatusCode, e.Body)
}

// TransportError is a network-level failure before any response was
// obtained, kept distinct from UploadError so callers can tell "server
// rejected" from "could not reach server".
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upload transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Uploader signs and dispatches PUT requests for a single bucket. It holds
// no mutable state between calls and is safe for concurrent use: every call
// captures its own timestamp and recomputes its own key chain.
type Uploader struct {
	bucket   string
	region   string
	creds    Credentials
	endpoint string
	client   *http.Client
	now      func() time.Time
}

// Option adjusts an Uploader.
type Option func(*Uploader)

// WithEndpoint overrides the virtual-hosted AWS endpoint, for test servers
// and S3-compatible stores.
func WithEndpoint(endpoint string) Option {
	return func(u *Uploader) { u.endpoint = endpoint }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(u *Uploader) { u.client = c }
}

// WithClock replaces the wall clock, for deterministic signing in tests.
func WithClock(now func() time.Time) Option {
	return func(u *Uploader) { u.now = now }
}

// New validates the target configuration and returns an Uploader. Empty
// bucket, region or credential values are rejected up front; no upload is
// attempted with a partial configuration.
func New(bucket, region string, creds Credentials, opts ...Option) (*Uploader, error) {
	if bucket == "" || region == "" || creds.AccessKey == "" || creds.SecretKey == "" {
		return nil, ErrMissingCredentials
	}
	u := &Uploader{
		bucket: bucket,
		region: region,
		creds:  creds,
		client: &http.Client{Timeout: 60 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// PutObject uploads one object. It returns nil on HTTP 200, *UploadError
// for any other status, and *TransportError when no response was obtained.
// There is no retry; retry policy belongs to the caller.
func (u *Uploader) PutObject(ctx context.Context, d Descriptor) error {
	req, err := u.buildRequest(ctx, d)
	if err != nil {
		return err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &UploadError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

// buildRequest assembles and signs the PUT. The timestamp is captured once
// and feeds the x-amz-date header, the credential scope and the key
// derivation alike.
func (u *Uploader) buildRequest(ctx context.Context, d Descriptor) (*http.Request, error) {
	base := u.endpoint
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", u.bucket, u.region)
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}

	canonicalURI := sigv4.CanonicalURI(d.Key)
	reqURL := base + canonicalURI

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, bytes.NewReader(d.Body))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(d.Body))

	now := u.now()
	amzDate := sigv4.FormatTime(now)
	scope := sigv4.Scope{Date: sigv4.FormatDate(now), Region: u.region, Service: sigv4.ServiceS3}
	payloadHash := sigv4.HashHex(d.Body)

	headers := []sigv4.Header{
		{Name: "host", Value: parsed.Host},
		{Name: "x-amz-content-sha256", Value: payloadHash},
		{Name: "x-amz-date", Value: amzDate},
	}
	// Metadata header names sort after x-amz-date, so appending them in
	// order keeps the canonical list sorted.
	meta := make(map[string]string, len(d.Metadata))
	for k, v := range d.Metadata {
		meta["x-amz-meta-"+strings.ToLower(k)] = v
	}
	metaNames := make([]string, 0, len(meta))
	for name := range meta {
		metaNames = append(metaNames, name)
	}
	sort.Strings(metaNames)
	for _, name := range metaNames {
		headers = append(headers, sigv4.Header{Name: name, Value: meta[name]})
	}

	canonical := sigv4.CanonicalRequest(http.MethodPut, canonicalURI, "", headers, payloadHash)
	signature := sigv4.Signature(canonical, amzDate, scope, u.creds.SecretKey)

	req.Header.Set("Authorization", sigv4.AuthorizationHeader(u.creds.AccessKey, scope, sigv4.SignedHeaderNames(headers), signature))
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	req.Header.Set("X-Amz-Date", amzDate)
	if d.ContentType != "" {
		req.Header.Set("Content-Type", d.ContentType)
	}
	for _, name := range metaNames {
		req.Header.Set(name, meta[name])
	}
	return req, nil
}

// Bucket returns the configured bucket name.
func (u *Uploader) Bucket() string {
	return u.bucket
}
