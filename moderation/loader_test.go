package moderation

import (
	"chat-sync/errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestCensoredLoader_LoadAll(t *testing.T) {
	req := require.New(t)
	files := fstest.MapFS{
		"words/en.txt":    {Data: []byte("badger\r\nsnake\n\n")},
		"words/fr.txt":    {Data: []byte("  blaireau \nsnake\n")},
		"words/README.md": {Data: []byte("ignored")},
		"words/nested/x":  {Data: []byte("ignored")},
	}

	data, err := NewCensoredLoader(files).LoadAll("words")

	req.NoError(err)
	req.ElementsMatch([]string{"en", "fr"}, data.Languages)
	req.ElementsMatch([]string{"badger", "snake", "blaireau"}, data.Words)
}

func TestCensoredLoader_Empty(t *testing.T) {
	req := require.New(t)
	files := fstest.MapFS{"words/en.txt": {Data: []byte("\n\n")}}

	_, err := NewCensoredLoader(files).LoadAll("words")

	req.ErrorIs(err, errors.ErrEmptyWords)
}
