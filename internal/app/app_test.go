package app

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/carevisits/internal/config"
	"example.com/carevisits/internal/persistence/memory"
)

func TestOpenMemory(t *testing.T) {
	a, err := Open(context.Background(), config.Config{StoreDriver: config.StoreMemory}, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer a.Close()

	require.Nil(t, a.Pool)
	require.IsType(t, &memory.Store{}, a.Repo)
	require.NotNil(t, a.Visits)
	require.NotNil(t, a.Records)
	require.NotNil(t, a.Engine)

	results, err := a.Engine.SyncAll(context.Background(), 2)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreDriver: "sqlite"}, nil)
	require.ErrorContains(t, err, "unknown store driver")
}
