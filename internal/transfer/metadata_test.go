package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataEncodeParse(t *testing.T) {
	data, err := NewMetadata("a.bin", 3145728).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"FileName":"a.bin","FileSize":"3145728"}`, string(data))

	m, size, err := ParseMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "a.bin", m.FileName)
	assert.Equal(t, int64(3145728), size)
}

func TestParseMetadataCaseInsensitiveKeys(t *testing.T) {
	m, size, err := ParseMetadata([]byte(`{"fileName":"x.txt","filesize":"12"}`))
	require.NoError(t, err)
	assert.Equal(t, "x.txt", m.FileName)
	assert.Equal(t, int64(12), size)
}

func TestParseMetadataRejects(t *testing.T) {
	cases := map[string]string{
		"bad json":      `{`,
		"negative size": `{"FileName":"a","FileSize":"-1"}`,
		"numeric size":  `{"FileName":"a","FileSize":"12x"}`,
		"plus sign":     `{"FileName":"a","FileSize":"+5"}`,
		"spaces":        `{"FileName":"a","FileSize":" 5"}`,
		"empty size":    `{"FileName":"a","FileSize":""}`,
		"overflow":      `{"FileName":"a","FileSize":"99999999999999999999"}`,
		"empty name":    `{"FileName":"","FileSize":"1"}`,
		"dot dot":       `{"FileName":"..","FileSize":"1"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseMetadata([]byte(payload))
			assert.Error(t, err)
		})
	}
}

func TestParseMetadataStripsDirectories(t *testing.T) {
	m, _, err := ParseMetadata([]byte(`{"FileName":"../../etc/passwd","FileSize":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, "passwd", m.FileName)

	m, _, err = ParseMetadata([]byte(`{"FileName":"C:\\Users\\me\\notes.txt","FileSize":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", m.FileName)
}
