// Package objstore wraps the S3-compatible object storage client.
//
// The service never uploads bytes itself: it hands out presigned PUT URLs
// for client-side direct upload, and deletes objects during cleanup.
package objstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config holds the connection settings for an S3-compatible endpoint.
type Config struct {
	// Endpoint is the service URL, e.g. "https://s3.example.com".
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// Client talks to one S3-compatible endpoint.
type Client struct {
	mc     *minio.Client
	region string
}

// New creates a client for the configured endpoint.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %q: %w", cfg.Endpoint, err)
	}
	host := u.Host
	if host == "" {
		// Bare host:port without a scheme.
		host = cfg.Endpoint
	}

	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: u.Scheme != "http",
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}
	return &Client{mc: mc, region: cfg.Region}, nil
}

// Region returns the configured region.
func (c *Client) Region() string {
	return c.region
}

// PresignPut returns a URL that uploads directly to bucket/key for ttl.
// When contentType is non-empty it is signed into the URL, so the client
// must send the same Content-Type header.
func (c *Client) PresignPut(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error) {
	headers := http.Header{}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	u, err := c.mc.PresignHeader(ctx, http.MethodPut, bucket, key, ttl, url.Values{}, headers)
	if err != nil {
		return "", fmt.Errorf("presigning upload for %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

// DeleteObject removes bucket/key.
func (c *Client) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := c.mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("removing object %s/%s: %w", bucket, key, err)
	}
	return nil
}
