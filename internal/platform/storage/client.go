package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const defaultSignedURLExpiry = 15 * time.Minute

var (
	errNoSigner           = errors.New("storage: signer is required")
	errNoUploadOptions    = errors.New("storage: upload options are required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errMethodNotAllowed   = errors.New("storage: HTTP method not allowed for uploads")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	errContentTypeDenied  = errors.New("storage: content type not allowed")
	errMD5Required        = errors.New("storage: content MD5 is required for uploads")
	errMD5Invalid         = errors.New("storage: content MD5 must be base64 encoded")
)

// Client generates signed upload URLs backed by a Signer. Product images are
// written by the browser directly against these URLs and served from the
// bucket's public endpoint afterwards.
type Client struct {
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a new storage signed URL client.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	client := &Client{
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// SignedURLOptions capture configuration for upload signed URLs.
type SignedURLOptions struct {
	Upload *UploadOptions
	Query  map[string]string
}

// UploadOptions control upload-specific validation.
type UploadOptions struct {
	Method              string
	ContentType         string
	ContentMD5          string
	RequireMD5          bool
	AllowedContentTypes []string
	MaxSize             int64
	ExpiresIn           time.Duration
	AdditionalHeaders   map[string]string
}

// SignedURLResult describes the generated signed URL details.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// uploadPlan holds the validated signing inputs for one upload URL. Headers
// lists what the uploading client must send; signedHeaders is the canonical
// form bound into the signature.
type uploadPlan struct {
	method        string
	contentType   string
	md5           string
	expiry        time.Duration
	headers       map[string]string
	signedHeaders []string
}

// SignedURL creates a signed upload URL according to the provided options.
func (c *Client) SignedURL(ctx context.Context, bucket, object string, opts SignedURLOptions) (SignedURLResult, error) {
	if c == nil {
		return SignedURLResult{}, errNoSigner
	}
	if ctx == nil {
		return SignedURLResult{}, errors.New("storage: context is required")
	}
	bucket = strings.TrimSpace(bucket)
	object = strings.TrimSpace(object)
	switch {
	case bucket == "":
		return SignedURLResult{}, errInvalidBucket
	case object == "":
		return SignedURLResult{}, errInvalidObject
	case opts.Upload == nil:
		return SignedURLResult{}, errNoUploadOptions
	}

	plan, err := planUpload(opts.Upload)
	if err != nil {
		return SignedURLResult{}, err
	}

	expiresAt := c.now().Add(plan.expiry)
	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         plan.method,
		ContentType:    plan.contentType,
		MD5:            plan.md5,
		Expires:        expiresAt,
		Headers:        plan.signedHeaders,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	if len(opts.Query) > 0 {
		urlOpts.QueryParameters = mapToURLValues(opts.Query)
	}

	signedURL, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return SignedURLResult{
		URL:       signedURL,
		Method:    plan.method,
		ExpiresAt: expiresAt,
		Headers:   plan.headers,
	}, nil
}

// planUpload validates the upload options and resolves the headers the
// signature must cover.
func planUpload(up *UploadOptions) (uploadPlan, error) {
	method, err := normaliseUploadMethod(up.Method)
	if err != nil {
		return uploadPlan{}, err
	}

	contentType := strings.TrimSpace(up.ContentType)
	if contentType == "" {
		return uploadPlan{}, errContentTypeMissing
	}
	if len(up.AllowedContentTypes) > 0 && !contentTypeAllowed(contentType, up.AllowedContentTypes) {
		return uploadPlan{}, errContentTypeDenied
	}

	md5 := strings.TrimSpace(up.ContentMD5)
	if up.RequireMD5 && md5 == "" {
		return uploadPlan{}, errMD5Required
	}
	if md5 != "" {
		if _, err := base64.StdEncoding.DecodeString(md5); err != nil {
			return uploadPlan{}, errMD5Invalid
		}
	}

	plan := uploadPlan{
		method:      method,
		contentType: contentType,
		md5:         md5,
		expiry:      up.ExpiresIn,
		headers:     map[string]string{"Content-Type": contentType},
	}
	if plan.expiry <= 0 {
		plan.expiry = defaultSignedURLExpiry
	}
	if md5 != "" {
		plan.headers["Content-MD5"] = md5
	}

	if up.MaxSize > 0 {
		lengthRange := fmt.Sprintf("0,%d", up.MaxSize)
		plan.signedHeaders = append(plan.signedHeaders, "x-goog-content-length-range:"+lengthRange)
		plan.headers["x-goog-content-length-range"] = lengthRange
	}

	for _, key := range sortedKeys(up.AdditionalHeaders) {
		value := strings.TrimSpace(up.AdditionalHeaders[key])
		if value == "" {
			continue
		}
		canonical := strings.ToLower(strings.TrimSpace(key))
		plan.signedHeaders = append(plan.signedHeaders, canonical+":"+value)
		plan.headers[key] = value
	}

	return plan, nil
}

const (
	httpMethodPut  = "PUT"
	httpMethodPost = "POST"
)

func normaliseUploadMethod(method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case "":
		return httpMethodPut, nil
	case httpMethodPut, httpMethodPost:
		return method, nil
	default:
		return "", errMethodNotAllowed
	}
}

// contentTypeAllowed matches the concrete type against an allow list that may
// contain exact types, prefix wildcards like "image/*", or a bare "*".
func contentTypeAllowed(contentType string, allowed []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch {
		case candidate == "":
		case candidate == "*":
			return true
		case strings.HasSuffix(candidate, "/*"):
			if strings.HasPrefix(normalized, strings.TrimSuffix(candidate, "*")) {
				return true
			}
		case normalized == candidate:
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mapToURLValues(values map[string]string) url.Values {
	out := make(url.Values, len(values))
	for _, key := range sortedKeys(values) {
		out.Add(key, values[key])
	}
	return out
}
