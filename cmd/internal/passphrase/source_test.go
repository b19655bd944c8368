package passphrase

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceUsesEnvironment(t *testing.T) {
	t.Setenv("P2PNFTS_TEST_PASSPHRASE", " correct horse ")
	src := NewSource("P2PNFTS_TEST_PASSPHRASE")

	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, " correct horse ", value)

	t.Setenv("P2PNFTS_TEST_PASSPHRASE", "changed")
	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, " correct horse ", value)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("P2PNFTS_TEST_PASSPHRASE", "   ")
	_, err := NewSource("P2PNFTS_TEST_PASSPHRASE").Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestFixed(t *testing.T) {
	value, err := Fixed("secret").Get()
	require.NoError(t, err)
	require.Equal(t, "secret", value)

	_, err = Fixed(" ").Get()
	require.Error(t, err)
}

func TestConfirmedSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("P2PNFTS_TEST_PASSPHRASE", "hunter2")
	value, err := NewConfirmedSource("P2PNFTS_TEST_PASSPHRASE").Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
}
