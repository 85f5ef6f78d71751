package es

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type (
	stateAgg struct {
		AggregateRoot
		id       string
		name     string
		openedAt time.Time
		tags     []string
	}

	jsonAgg struct {
		AggregateRoot
		ID       string         `json:"id"`
		Balance  int64          `json:"balance"`
		OpenedAt time.Time      `json:"openedAt"`
		Limits   map[string]int `json:"limits"`
	}
)

func (a *stateAgg) GetID() string      { return a.id }
func (a *stateAgg) GetAggType() string { return "state" }
func (a *stateAgg) SnapshotState() (State, error) {
	return State{"id": a.id, "name": a.name, "openedAt": a.openedAt, "tags": a.tags}, nil
}
func (a *stateAgg) RestoreState(s State) error {
	a.id = s.String("id")
	a.name = s.String("name")
	a.openedAt = s.Time("openedAt")
	return s.Decode("tags", &a.tags)
}

func (a *jsonAgg) GetID() string      { return a.ID }
func (a *jsonAgg) GetAggType() string { return "json" }

func TestDefaultSerializer_snapshottable(t *testing.T) {
	opened := time.Date(2023, 5, 17, 8, 30, 0, 123, time.UTC)
	src := &stateAgg{id: "s1", name: "alice", openedAt: opened, tags: []string{"a", "b"}}

	state, err := DefaultSerializer{}.Serialize(src)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"__type": "Date", "value": "2023-05-17T08:30:00.000000123Z"}, state["openedAt"])

	// survives a trip through the row encoding
	data, err := json.Marshal(state)
	require.NoError(t, err)
	stored, err := decodeDocument(data)
	require.NoError(t, err)

	dst := &stateAgg{}
	require.NoError(t, DefaultSerializer{}.Deserialize(stored, dst))
	require.Equal(t, "s1", dst.id)
	require.Equal(t, "alice", dst.name)
	require.True(t, opened.Equal(dst.openedAt))
	require.Equal(t, []string{"a", "b"}, dst.tags)
}

func TestDefaultSerializer_jsonFallback(t *testing.T) {
	src := &jsonAgg{
		ID:       "j1",
		Balance:  9007199254740993,
		OpenedAt: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC),
		Limits:   map[string]int{"daily": 500},
	}

	state, err := DefaultSerializer{}.Serialize(src)
	require.NoError(t, err)
	require.NotContains(t, state, "recorder")
	require.NotContains(t, state, "AggregateRoot")

	data, err := json.Marshal(state)
	require.NoError(t, err)
	stored, err := decodeDocument(data)
	require.NoError(t, err)

	dst := &jsonAgg{}
	require.NoError(t, DefaultSerializer{}.Deserialize(stored, dst))
	require.Equal(t, src.ID, dst.ID)
	require.Equal(t, src.Balance, dst.Balance)
	require.True(t, src.OpenedAt.Equal(dst.OpenedAt))
	require.Equal(t, src.Limits, dst.Limits)
}

func TestEncodeValue(t *testing.T) {
	ts := time.Date(2022, 2, 2, 2, 2, 2, 0, time.UTC)
	var nilTime *time.Time

	v, err := encodeValue(map[string]any{
		"nested": map[string]any{"at": &ts, "none": nilTime},
		"list":   []any{ts, "x", 1},
		"struct": struct {
			A int `json:"a"`
		}{A: 1},
	})
	require.NoError(t, err)

	m := v.(map[string]any)
	nested := m["nested"].(map[string]any)
	require.Equal(t, dateMarker(ts), nested["at"])
	require.Nil(t, nested["none"])
	require.Equal(t, dateMarker(ts), m["list"].([]any)[0])
	require.Equal(t, map[string]any{"a": json.Number("1")}, m["struct"])

	back := decodeValue(v).(map[string]any)
	require.Equal(t, ts, back["nested"].(map[string]any)["at"])
	require.Equal(t, ts, back["list"].([]any)[0])
}

func TestState(t *testing.T) {
	s := State{
		"n":   json.Number("42"),
		"f":   3.5,
		"b":   true,
		"s":   "x",
		"t":   "2021-01-01T00:00:00Z",
		"obj": map[string]any{"k": "v"},
	}
	require.EqualValues(t, 42, s.Int64("n"))
	require.EqualValues(t, 3, s.Int64("f"))
	require.Equal(t, 42.0, s.Float64("n"))
	require.True(t, s.Bool("b"))
	require.Equal(t, "x", s.String("s"))
	require.Equal(t, 2021, s.Time("t").Year())
	require.Empty(t, s.String("missing"))

	var obj map[string]string
	require.NoError(t, s.Decode("obj", &obj))
	require.Equal(t, map[string]string{"k": "v"}, obj)
	require.NoError(t, s.Decode("missing", &obj))
}
