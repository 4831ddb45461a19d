package export

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSUploader writes exports to a bucket and signs V4 GET URLs for them.
type GCSUploader struct {
	client *storage.Client
	bucket *storage.BucketHandle
	expiry time.Duration
}

func NewGCSUploader(ctx context.Context, bucket string, expiry time.Duration, credentialsPath string) (*GCSUploader, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: client.Bucket(bucket), expiry: expiry}, nil
}

func (g *GCSUploader) Upload(ctx context.Context, name, contentType string, data []byte) (string, time.Time, error) {
	w := g.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", time.Time{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", time.Time{}, fmt.Errorf("close %s: %w", name, err)
	}

	expires := time.Now().Add(g.expiry)
	url, err := g.bucket.SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s: %w", name, err)
	}
	return url, expires, nil
}

func (g *GCSUploader) Close() error {
	return g.client.Close()
}
