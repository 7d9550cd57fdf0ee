package trackers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeJSON(t *testing.T, raw string) any {
	t.Helper()
	var value any
	require.NoError(t, json.Unmarshal([]byte(raw), &value))
	return value
}

func TestResolvePathDottedAndIndexed(t *testing.T) {
	data := decodeJSON(t, `{"data": {"torrents": [{"id": 1, "name": "a"}, {"id": 2, "name": "b"}]}}`)

	value, ok := ResolvePath(data, "data.torrents[0].name")
	require.True(t, ok)
	require.Equal(t, "a", value)

	// Bare numeric segments index too.
	value, ok = ResolvePath(data, "data.torrents.1.id")
	require.True(t, ok)
	require.Equal(t, "2", renderScalar(value))

	_, ok = ResolvePath(data, "data.torrents[5].id")
	require.False(t, ok)

	_, ok = ResolvePath(data, "data.missing")
	require.False(t, ok)
}

func TestResolvePathWildcardFlattens(t *testing.T) {
	data := decodeJSON(t, `{"groups": [{"ids": [1, 2]}, {"ids": [3]}]}`)

	value, ok := ResolvePath(data, "groups[*].ids")
	require.True(t, ok)
	flattened, isList := value.([]any)
	require.True(t, isList)
	require.Len(t, flattened, 3)
}

func TestRenderScalarIntegralFloats(t *testing.T) {
	require.Equal(t, "4242", renderScalar(float64(4242)))
	require.Equal(t, "4.5", renderScalar(4.5))
	require.Equal(t, "true", renderScalar(true))
	require.Equal(t, "", renderScalar(nil))
}

func TestTruthyStringForms(t *testing.T) {
	require.True(t, truthy("yes"))
	require.True(t, truthy(1))
	require.False(t, truthy("false"))
	require.False(t, truthy("0"))
	require.False(t, truthy(""))
	require.False(t, truthy(nil))
}
