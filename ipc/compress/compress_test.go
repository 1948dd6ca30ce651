package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("columnar batch payload "), 200)

	for _, codec := range []Codec{None{}, S2{}, LZ4{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			enc, err := codec.Compress(payload)
			require.NoError(t, err)

			dec, err := codec.Decompress(enc)
			require.NoError(t, err)
			assert.Equal(t, payload, dec)
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "none", "s2", "lz4"} {
		_, err := ByName(name)
		require.NoError(t, err)
	}

	_, err := ByName("zstd9000")
	require.Error(t, err)
}
