package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInjectAndSetEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req = InjectTags(req)

	SetEndpoint(req, "status")

	tags := GetTags(req)
	require.NotNil(t, tags)
	require.Equal(t, "status", tags.Endpoint)
}

func TestGetTags_MissingReturnsNil(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	require.Nil(t, GetTags(req))

	// SetEndpoint without injection must not panic.
	SetEndpoint(req, "status")
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{500, "5xx"},
		{599, "5xx"},
		{100, "unknown"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, StatusClass(tt.status))
	}
}
