package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validationf("op", "actorId is required"), http.StatusBadRequest},
		{"not found", NotFound("op", "interaction"), http.StatusNotFound},
		{"embedding", Embedding("op", errors.New("429")), http.StatusBadGateway},
		{"storage", Storage("op", errors.New("disk")), http.StatusServiceUnavailable},
		{"generation", Generation("op", errors.New("bad json")), http.StatusBadGateway},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	base := Storage("retrieval.Search", errors.New("connection refused"))
	wrapped := fmt.Errorf("searching evidence: %w", base)

	assert.True(t, Is(wrapped, KindStorage))
	assert.False(t, Is(wrapped, KindEmbedding))
	assert.Equal(t, "store unavailable", SafeMessage(wrapped))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("rate limited")
	err := Embedding("retrieval.Embed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "retrieval.Embed")
}

func TestSafeMessageHidesPlainErrors(t *testing.T) {
	assert.Equal(t, "internal error", SafeMessage(errors.New("sql: secret details")))
	assert.False(t, Is(nil, KindInternal))
}
