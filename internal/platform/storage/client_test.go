package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

type fakeSigner struct {
	email    string
	payloads [][]byte
	err      error
}

func (f *fakeSigner) Email() string {
	return f.email
}

func (f *fakeSigner) SignBytes(_ context.Context, payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads = append(f.payloads, payload)
	return []byte("signature"), nil
}

func TestNewClientRequiresSigner(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Fatalf("expected error for nil signer")
	}
	if _, err := NewClient(&fakeSigner{email: "  "}); err == nil {
		t.Fatalf("expected error for signer without email")
	}
}

func TestSignedURLUpload(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	signer := &fakeSigner{email: "svc@seoulthread.iam.gserviceaccount.com"}

	client, err := NewClient(signer, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	result, err := client.SignedURL(context.Background(), "seoulthread-assets", "products/knit.jpg", SignedURLOptions{
		Upload: &UploadOptions{
			ContentType:         "image/jpeg",
			AllowedContentTypes: []string{"image/jpeg", "image/png"},
			MaxSize:             10 << 20,
			ExpiresIn:           15 * time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("signed url: %v", err)
	}

	if result.Method != "PUT" {
		t.Fatalf("expected PUT, got %q", result.Method)
	}
	if !result.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", result.ExpiresAt)
	}
	if result.Headers["Content-Type"] != "image/jpeg" {
		t.Fatalf("content type header missing: %+v", result.Headers)
	}
	if result.Headers["x-goog-content-length-range"] != "0,10485760" {
		t.Fatalf("size header missing: %+v", result.Headers)
	}

	parsed, err := url.Parse(result.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.Contains(parsed.Host, "storage.googleapis.com") {
		t.Fatalf("unexpected host: %s", parsed.Host)
	}
	if !strings.Contains(parsed.Path, "seoulthread-assets/products/knit.jpg") {
		t.Fatalf("unexpected path: %s", parsed.Path)
	}
	if len(signer.payloads) == 0 {
		t.Fatalf("signer was not invoked")
	}
}

func TestSignedURLUploadValidation(t *testing.T) {
	signer := &fakeSigner{email: "svc@seoulthread.iam.gserviceaccount.com"}
	client, err := NewClient(signer)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	cases := []struct {
		name    string
		bucket  string
		object  string
		opts    SignedURLOptions
		wantErr error
	}{
		{
			name:    "missing bucket",
			object:  "a.jpg",
			opts:    SignedURLOptions{Upload: &UploadOptions{ContentType: "image/jpeg"}},
			wantErr: errInvalidBucket,
		},
		{
			name:    "missing object",
			bucket:  "b",
			opts:    SignedURLOptions{Upload: &UploadOptions{ContentType: "image/jpeg"}},
			wantErr: errInvalidObject,
		},
		{
			name:    "missing upload options",
			bucket:  "b",
			object:  "a.jpg",
			opts:    SignedURLOptions{},
			wantErr: errNoUploadOptions,
		},
		{
			name:    "missing content type",
			bucket:  "b",
			object:  "a.jpg",
			opts:    SignedURLOptions{Upload: &UploadOptions{}},
			wantErr: errContentTypeMissing,
		},
		{
			name:   "denied content type",
			bucket: "b",
			object: "a.gif",
			opts: SignedURLOptions{Upload: &UploadOptions{
				ContentType:         "image/gif",
				AllowedContentTypes: []string{"image/jpeg"},
			}},
			wantErr: errContentTypeDenied,
		},
		{
			name:   "disallowed method",
			bucket: "b",
			object: "a.jpg",
			opts: SignedURLOptions{Upload: &UploadOptions{
				Method:      "DELETE",
				ContentType: "image/jpeg",
			}},
			wantErr: errMethodNotAllowed,
		},
		{
			name:   "md5 required",
			bucket: "b",
			object: "a.jpg",
			opts: SignedURLOptions{Upload: &UploadOptions{
				ContentType: "image/jpeg",
				RequireMD5:  true,
			}},
			wantErr: errMD5Required,
		},
		{
			name:   "md5 not base64",
			bucket: "b",
			object: "a.jpg",
			opts: SignedURLOptions{Upload: &UploadOptions{
				ContentType: "image/jpeg",
				ContentMD5:  "!!!not-base64!!!",
			}},
			wantErr: errMD5Invalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.SignedURL(ctx, tc.bucket, tc.object, tc.opts)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestContentTypeAllowedWildcards(t *testing.T) {
	if !contentTypeAllowed("image/webp", []string{"image/*"}) {
		t.Fatalf("expected image/* to allow image/webp")
	}
	if !contentTypeAllowed("video/mp4", []string{"*"}) {
		t.Fatalf("expected * to allow anything")
	}
	if contentTypeAllowed("application/pdf", []string{"image/*", "video/*"}) {
		t.Fatalf("expected pdf to be denied")
	}
}
