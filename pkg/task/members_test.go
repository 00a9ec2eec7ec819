package task

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
)

// countingDeserializer records every GetValue call.
type countingDeserializer struct {
	values map[string]interface{}
	calls  int
}

func (c *countingDeserializer) GetValue(path string, kind Kind) (interface{}, error) {
	c.calls++
	v, ok := c.values[path]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func mustDoc(tt *testing.T, raw string) *DocumentDeserializer {
	d, err := NewDocumentDeserializer([]byte(raw))
	require.NoError(tt, err)
	return d
}

func TestReadMembersDirectObject(tt *testing.T) {
	d := mustDoc(tt, fmt.Sprintf(`{"members":{"0":%q,"1":%q,"2":%q}}`, alice, bob, carol))
	got := ReadMembers(context.Background(), d)
	assert.Equal(tt, map[string]string{"0": alice, "1": bob, "2": carol}, got)
}

func TestReadMembersParticipantsObject(tt *testing.T) {
	d := mustDoc(tt, fmt.Sprintf(`{"participants":{"0":%q}}`, alice))
	got := ReadMembers(context.Background(), d)
	assert.Equal(tt, map[string]string{"0": alice}, got)
}

func TestReadMembersKeepsDirectObjectWithOddEntries(tt *testing.T) {
	d := mustDoc(tt, fmt.Sprintf(`{"members":{"0":%q,"1":7},"participants":{"0":%q}}`, alice, carol))
	got := ReadMembers(context.Background(), d)
	assert.Equal(tt, map[string]string{"0": alice, "1": "7"}, got)
}

func TestReadMembersFlattenedKeys(tt *testing.T) {
	d := mustDoc(tt, fmt.Sprintf(`{"members.0":%q,"members.1":%q,"members.3":%q}`, alice, bob, carol))
	got := ReadMembers(context.Background(), d)
	assert.Equal(tt, map[string]string{"0": alice, "1": bob}, got, "scan stops at the first miss")
}

func TestReadMembersScanIsBounded(tt *testing.T) {
	values := map[string]interface{}{}
	for i := 0; i < 150; i++ {
		values["members."+strconv.Itoa(i)] = alice
	}
	d := &countingDeserializer{values: values}

	got := ReadMembers(context.Background(), d)
	assert.Len(tt, got, MaxIndexedMembers)
	// two object lookups plus the bounded scan
	assert.Equal(tt, 2+MaxIndexedMembers, d.calls)
}

func TestReadMembersNothingFound(tt *testing.T) {
	d := mustDoc(tt, `{"name":"Rome Trip"}`)
	got := ReadMembers(context.Background(), d)
	assert.NotNil(tt, got)
	assert.Empty(tt, got)
}

func TestDocumentDeserializerKinds(tt *testing.T) {
	d := mustDoc(tt, `{"a":{"b":"x","n":2,"t":true}}`)

	v, err := d.GetValue("a.b", KindString)
	require.NoError(tt, err)
	assert.Equal(tt, "x", v)

	v, err = d.GetValue("a.n", KindNumber)
	require.NoError(tt, err)
	assert.Equal(tt, float64(2), v)

	v, err = d.GetValue("a.t", KindBool)
	require.NoError(tt, err)
	assert.Equal(tt, true, v)

	_, err = d.GetValue("a.b", KindObject)
	assert.Error(tt, err)

	_, err = d.GetValue("a.missing", KindString)
	assert.True(tt, errors.Is(err, ErrNotFound))

	_, err = NewDocumentDeserializer([]byte("not json"))
	assert.Error(tt, err)
}

func TestExecuteWritesOutputs(tt *testing.T) {
	out := tt.TempDir()
	in := filepath.Join(tt.TempDir(), "protected.json")
	require.NoError(tt, os.WriteFile(in, []byte(fmt.Sprintf(`{"members":{"0":%q,"1":%q}}`, alice, bob)), 0o644))

	err := Execute(context.Background(), func() (Deserializer, error) { return OpenDocument(in) }, out)
	require.NoError(tt, err)

	raw, err := os.ReadFile(filepath.Join(out, ResultFile))
	require.NoError(tt, err)
	var result Result
	require.NoError(tt, json.Unmarshal(raw, &result))
	assert.Equal(tt, map[string]string{"0": alice, "1": bob}, result.Members)
	assert.Contains(tt, string(raw), "\n  \"members\"")

	raw, err = os.ReadFile(filepath.Join(out, ComputedFile))
	require.NoError(tt, err)
	var computed Computed
	require.NoError(tt, json.Unmarshal(raw, &computed))
	assert.Equal(tt, filepath.Join(out, ResultFile), computed.DeterministicOutputPath)
	assert.Empty(tt, computed.ErrorMessage)
}

func TestExecuteFailureMarker(tt *testing.T) {
	out := tt.TempDir()

	err := Execute(context.Background(), func() (Deserializer, error) {
		return OpenDocument(filepath.Join(out, "missing.json"))
	}, out)
	require.Error(tt, err)

	raw, err := os.ReadFile(filepath.Join(out, ComputedFile))
	require.NoError(tt, err)
	var computed Computed
	require.NoError(tt, json.Unmarshal(raw, &computed))
	assert.Equal(tt, out, computed.DeterministicOutputPath)
	assert.Equal(tt, failMessage, computed.ErrorMessage)

	_, err = os.Stat(filepath.Join(out, ResultFile))
	assert.True(tt, os.IsNotExist(err))
}

func TestApp(tt *testing.T) {
	raw, err := App(context.Background(), []byte(fmt.Sprintf(`{"members":{"0":%q}}`, alice)))
	require.NoError(tt, err)

	var result Result
	require.NoError(tt, json.Unmarshal(raw, &result))
	assert.Equal(tt, alice, result.Members["0"])
}
