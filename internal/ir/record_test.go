package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCloneIsDeep(t *testing.T) {
	orig := Record{
		"balance":      int64(10),
		"transactions": []any{map[string]any{"credit": int64(10)}},
		"owner":        map[string]any{"name": "ada"},
	}

	clone := orig.Clone()
	clone["balance"] = int64(20)
	clone["transactions"].([]any)[0].(map[string]any)["credit"] = int64(99)
	clone.Set("owner.name", "grace")

	assert.Equal(t, int64(10), orig.Int("balance"))
	assert.Equal(t, int64(10), orig["transactions"].([]any)[0].(map[string]any)["credit"])
	assert.Equal(t, "ada", orig.String("owner.name"))
	assert.Equal(t, "grace", clone.String("owner.name"))
}

func TestRecordGetAndSetPaths(t *testing.T) {
	r := Record{}
	r.Set("address.city", "Lisbon")
	r.Set("open", true)

	v, ok := r.Get("address.city")
	require.True(t, ok)
	assert.Equal(t, "Lisbon", v)

	_, ok = r.Get("address.zip")
	assert.False(t, ok)
	assert.True(t, r.Bool("open"))
	assert.NotNil(t, r.Object("address"))
	assert.Nil(t, r.Object("open"))
}

func TestDecodeRecordNormalizesNumbers(t *testing.T) {
	r, err := DecodeRecord([]byte(`{"n":100,"f":1.5,"nested":{"m":[1,2]}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(100), r["n"])
	assert.Equal(t, 1.5, r["f"])
	nested, ok := AsRecord(r["nested"])
	require.True(t, ok)
	assert.Equal(t, []any{int64(1), int64(2)}, nested["m"])
}

func TestDecodeRecordEmpty(t *testing.T) {
	r, err := DecodeRecord(nil)
	require.NoError(t, err)
	assert.Empty(t, r)

	_, err = DecodeRecord([]byte(`{`))
	assert.Error(t, err)
}

func TestAsIntConversions(t *testing.T) {
	for _, v := range []any{7, int64(7), 7.0} {
		n, ok := AsInt(v)
		assert.True(t, ok)
		assert.Equal(t, int64(7), n)
	}

	_, ok := AsInt(7.5)
	assert.False(t, ok)
	_, ok = AsInt("7")
	assert.False(t, ok)
}

func TestRecordTime(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := Record{"a": ts, "b": ts.Format(time.RFC3339Nano), "c": "garbage"}

	assert.True(t, ts.Equal(r.Time("a")))
	assert.True(t, ts.Equal(r.Time("b")))
	assert.True(t, r.Time("c").IsZero())
}
