package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSinkStoresMessages(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.SendMessage(context.Background(), "first"))
	require.NoError(t, s.SendMessage(context.Background(), "second"))
	require.Equal(t, []string{"first", "second"}, s.Messages())

	msgs := s.Messages()
	msgs[0] = "modified"
	require.Equal(t, "first", s.Messages()[0], "Messages should return a copy")
}

func TestSinkFailWith(t *testing.T) {
	t.Parallel()

	s := New()
	boom := errors.New("boom")
	s.FailWith(boom)
	require.ErrorIs(t, s.SendMessage(context.Background(), "lost"), boom)
	require.Zero(t, s.Len())

	s.FailWith(nil)
	require.NoError(t, s.SendMessage(context.Background(), "kept"))
	require.Equal(t, 1, s.Len())
}
