package ingestion

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimitSurfacesServerErrorWithoutPanicking(t *testing.T) {
	c := newTestGHClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.RateLimit(context.Background())
	require.Error(t, err)
}
