package wikibag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
		want string
	}{
		{Storagef("db gone: %v", "disk full"), KindStorage, "storage"},
		{Validationf("bad input"), KindValidation, "validation"},
		{Responsef("encode failed"), KindResponse, "response"},
	}

	for _, tt := range tests {
		var appErr *Error
		require.True(t, errors.As(tt.err, &appErr))
		require.Equal(t, tt.kind, appErr.Kind)
		require.Equal(t, tt.want, appErr.Kind.String())
	}
}

func TestErrorMessageFormatting(t *testing.T) {
	err := Storagef("retrieving %q: %v", "My Note", fmt.Errorf("locked"))
	require.Equal(t, `retrieving "My Note": locked`, err.Error())
}

func TestErrorSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", Validationf("title must be a string"))

	var appErr *Error
	require.True(t, errors.As(wrapped, &appErr))
	require.Equal(t, KindValidation, appErr.Kind)
}
