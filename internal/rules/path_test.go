package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestToGJSONPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"$.query.fields", "query.fields"},
		{"$.categories[0]", "categories.0"},
		{"$.categories.[0]", "categories.0"},
		{"$.a.b[2].c", "a.b.2.c"},
		{"$.query.query.fields.[*]", "query.query.fields"},
		{"$.query.query.fields[*]", "query.query.fields"},
		{"$.[*]", ""},
		{"$", ""},
		{"", ""},
		{"query", "query"},
		{"  $.query  ", "query"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, toGJSONPath(tt.in))
		})
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	body := gjson.Parse(`{"query":{"fields":["a","b"],"filter":null},"n":3}`)

	v, found := extract(body, "$.query.fields")
	require.True(t, found)
	assert.True(t, v.IsArray())

	v, found = extract(body, "$.query.fields[1]")
	require.True(t, found)
	assert.Equal(t, "b", v.Str)

	// An explicit null resolves; absence does not.
	v, found = extract(body, "$.query.filter")
	require.True(t, found)
	assert.Equal(t, gjson.Null, v.Type)

	_, found = extract(body, "$.query.missing")
	assert.False(t, found)

	// A bare "$" selects the whole document.
	v, found = extract(body, "$")
	require.True(t, found)
	assert.True(t, v.IsObject())

	// A trailing wildcard projection selects the array.
	v, found = extract(body, "$.query.fields.[*]")
	require.True(t, found)
	assert.True(t, v.IsArray())
	assert.Len(t, v.Array(), 2)
}

func TestIsEmptyValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		path string
		want bool
	}{
		{"null", `{"v":null}`, "v", true},
		{"empty string", `{"v":""}`, "v", true},
		{"empty array", `{"v":[]}`, "v", true},
		{"empty object", `{"v":{}}`, "v", true},
		{"string", `{"v":"x"}`, "v", false},
		{"array", `{"v":[1]}`, "v", false},
		{"object", `{"v":{"k":1}}`, "v", false},
		{"number", `{"v":0}`, "v", false},
		{"bool", `{"v":false}`, "v", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := gjson.Parse(tt.doc).Get(tt.path)
			assert.Equal(t, tt.want, isEmptyValue(v))
		})
	}
}
