package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyErrorType(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"rate limit", NewCatalogRateLimit("429"), ErrorTypeRateLimit},
		{"not found", NewCatalogNotFound("no match"), ErrorTypeSubtitleMissing},
		{"chunk error", NewTranslationChunkError(3, "bad json", nil), "translation_chunk_failed"},
		{"unexpected", NewUnexpectedError(errors.New("boom")), ErrorTypeInternal},
		{"validation", NewValidationError("bad url"), "validation"},
		{"plain error", errors.New("plain"), ErrorTypeInternal},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ClassifyErrorType(c.err))
		})
	}
}

func TestIsHelpers(t *testing.T) {
	assert.True(t, IsCatalogRateLimit(NewCatalogRateLimit("x")))
	assert.True(t, IsCatalogNotFound(NewCatalogNotFound("x")))
	assert.True(t, IsTranslationChunkError(NewTranslationChunkError(0, "x", nil)))
	assert.True(t, IsValidationError(NewValidationError("x")))
	assert.True(t, IsTransientInfraError(NewTransientInfraError("x", nil)))
	assert.False(t, IsCatalogRateLimit(errors.New("x")))
}

func TestTranslationChunkError_Unwrap(t *testing.T) {
	cause := errors.New("timeout")
	err := NewTranslationChunkError(5, "translate failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "chunk 5")
}

func TestObjectNotFoundIsUnretriable(t *testing.T) {
	err := NewObjectNotFoundError("job missing", nil)
	assert.True(t, IsUnretriable(err))
	assert.True(t, IsObjectNotFound(err))
}
