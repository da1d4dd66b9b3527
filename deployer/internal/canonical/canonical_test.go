package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource []string `json:"Resource"`
}

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]interface{}{
		"b": 1.0,
		"a": map[string]interface{}{"z": true, "y": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":null,"z":true},"b":1}`, string(out))
}

func TestMarshalStructsUseTags(t *testing.T) {
	out, err := Marshal(statement{Effect: "Allow", Action: []string{"s3:GetObject"}, Resource: []string{"arn:aws:s3:::b/assets/*"}})
	require.NoError(t, err)
	assert.Equal(t, `{"Action":["s3:GetObject"],"Effect":"Allow","Resource":["arn:aws:s3:::b/assets/*"]}`, string(out))
}

func TestMarshalNestedTypedValues(t *testing.T) {
	out, err := Marshal(map[string]interface{}{"list": []string{"b", "a"}})
	require.NoError(t, err)
	assert.Equal(t, `{"list":["b","a"]}`, string(out))
}

func TestDigestStableAcrossMapOrder(t *testing.T) {
	d1, err := Digest(map[string]interface{}{"x": "1", "y": "2"})
	require.NoError(t, err)
	d2, err := Digest(map[string]interface{}{"y": "2", "x": "1"})
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestMarshalIndentEndsWithNewline(t *testing.T) {
	out, err := MarshalIndent(map[string]interface{}{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": \"b\"\n}\n", string(out))
}

func TestMarshalKeepsLargeIntegersExact(t *testing.T) {
	out, err := Marshal(struct {
		TTL uint64 `json:"ttl"`
	}{TTL: 18446744073709551615})
	require.NoError(t, err)
	assert.Equal(t, `{"ttl":18446744073709551615}`, string(out))
}
