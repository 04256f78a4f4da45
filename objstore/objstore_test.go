package objstore

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_EndpointShapes(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
	}{
		{name: "https URL", endpoint: "https://s3.example.com"},
		{name: "http URL", endpoint: "http://localhost:9000"},
		{name: "bare host", endpoint: "s3.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{
				Endpoint:  tt.endpoint,
				Region:    "us-east-1",
				AccessKey: "access",
				SecretKey: "secret",
			})
			require.NoError(t, err)
			require.Equal(t, "us-east-1", c.Region())
		})
	}
}

func TestPresignPut_SignsContentType(t *testing.T) {
	c, err := New(Config{
		Endpoint:  "http://localhost:9000",
		Region:    "us-east-1",
		AccessKey: "access",
		SecretKey: "secret",
	})
	require.NoError(t, err)

	// Presigning is pure client-side computation, no network involved.
	signed, err := c.PresignPut(context.Background(), "wiki", "tiddlers/abc.png", "image/png", 5*time.Minute)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	require.Contains(t, u.Path, "wiki/tiddlers/abc.png")
	require.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
	require.Equal(t, "300", u.Query().Get("X-Amz-Expires"))
	require.Contains(t, u.Query().Get("X-Amz-SignedHeaders"), "content-type")
}
