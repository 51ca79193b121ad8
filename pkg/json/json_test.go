package json

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendLine(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, AppendLine(&buf, Default, map[string]interface{}{"id": 1}))
	require.NoError(t, AppendLine(&buf, nil, map[string]interface{}{"name": "<b>"}))

	assert.Equal(t, "{\"id\":1}\n{\"name\":\"<b>\"}\n", buf.String())
}

func TestMarshalLines(t *testing.T) {
	tests := []struct {
		name    string
		records []map[string]interface{}
		want    string
	}{
		{name: "empty", records: nil, want: ""},
		{
			name: "two records",
			records: []map[string]interface{}{
				{"a": "x"},
				{"b": []interface{}{1, 2}},
			},
			want: "{\"a\":\"x\"}\n{\"b\":[1,2]}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalLines(Default, tt.records)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestNewDecoderKeepsNumbers(t *testing.T) {
	dec := NewDecoder(strings.NewReader(`{"big": 9007199254740993}`))

	var out map[string]interface{}
	require.NoError(t, dec.Decode(&out))

	n, ok := out["big"].(Number)
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", n.String())
}

func TestPooledBufferIsReset(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("leftover")
	PutBuffer(buf)

	again := GetBuffer()
	defer PutBuffer(again)
	assert.Equal(t, 0, again.Len())
}
