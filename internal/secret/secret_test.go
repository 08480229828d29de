package secret

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPassword_Piped(t *testing.T) {
	var out bytes.Buffer
	password, err := ReadPassword(strings.NewReader("s3cret\r\nignored\n"), &out, "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", password)
	assert.Empty(t, out.String(), "no prompt without a terminal")

	password, err = ReadPassword(strings.NewReader("last-line-no-newline"), &out, "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "last-line-no-newline", password)
}

func TestReadPassword_Empty(t *testing.T) {
	_, err := ReadPassword(strings.NewReader(""), &bytes.Buffer{}, "Password: ")
	assert.Error(t, err)

	_, err = ReadPassword(strings.NewReader("\n"), &bytes.Buffer{}, "Password: ")
	assert.Error(t, err)
}
