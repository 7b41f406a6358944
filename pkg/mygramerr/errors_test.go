package mygramerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCarriesKindAndMessage(t *testing.T) {
	err := New(NotFound, "table not found")
	require.Equal(t, "table not found", err.Error())
	require.Equal(t, NotFound, KindOf(err))
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(InvalidArgument, "bad value %q", "xyz")
	require.Equal(t, `bad value "xyz"`, err.Error())
}

func TestWrapIncludesCauseInMessage(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Unavailable, "dial mysql", cause)
	require.Equal(t, "dial mysql: connection refused", err.Error())
	require.ErrorIs(t, err, cause)
}

func TestKindOfDefaultsToInternalForUnrecognizedErrors(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("plain error")))
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := Wrap(DataLoss, "read meta.json", errors.New("eof"))
	wrapped := fmt.Errorf("load snapshot: %w", err)
	require.True(t, Is(wrapped, DataLoss))
	require.False(t, Is(wrapped, Unavailable))
}
