package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/carevisits/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.Cursor{At: time.Date(2025, time.March, 3, 9, 0, 0, 123, time.UTC), ID: "rec-1"}
	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("not base64!")
	require.ErrorIs(t, err, domain.ErrValidation)

	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	require.Nil(t, cursor)
}
