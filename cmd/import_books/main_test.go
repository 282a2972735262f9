package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/library"
)

const sample = `{
  "books": [
    {"title": "1984", "author": "George Orwell"},
    {"title": "", "author": "Missing Title"},
    {"title": "The Art of War", "author": "Sun Tzu"}
  ],
  "users": [
    {"name": "Winston", "password": "bigbrother"},
    {"name": "Julia"}
  ]
}`

func TestImportSeed(t *testing.T) {
	seed, err := decodeSeed(strings.NewReader(sample))
	require.NoError(t, err)

	ctx := context.Background()
	mgr := library.NewLibraryManagerWithStore(library.NewMemoryStore(), 0, nil)
	var out bytes.Buffer

	res := importSeed(ctx, mgr, seed, &out)
	assert.Equal(t, 2, res.books)
	assert.Equal(t, 2, res.users)
	assert.Equal(t, 1, res.failed)
	assert.Contains(t, out.String(), "ERROR")

	users, err := mgr.Registry().List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.True(t, users[0].HasPassword())
	assert.False(t, users[1].HasPassword())
	require.NoError(t, mgr.Registry().Authenticate(ctx, users[0].ID, "bigbrother"))

	require.NoError(t, printCatalog(ctx, mgr, &out))
	assert.Contains(t, out.String(), "The Art of War")
}

func TestDecodeSeedRejectsGarbage(t *testing.T) {
	_, err := decodeSeed(strings.NewReader("{not json"))
	assert.Error(t, err)
}
