package loader

import (
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Idle, Loading, true},
		{Idle, Loaded, false},
		{Loading, Loaded, true},
		{Loading, Failed, true},
		{Loading, Idle, false},
		{Failed, Loading, true},
		{Failed, Loaded, false},
		{Loaded, Loading, false},
		{Loaded, Failed, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestMustTransitionPanics(t *testing.T) {
	assert.Panics(t, func() { mustTransition(Loaded, Loading) })
	assert.NotPanics(t, func() { mustTransition(Failed, Loading) })
}

func TestStateJSON(t *testing.T) {
	ms := 12.5
	b, err := gojson.Marshal(LoaderState{Phase: Loaded, IsLoaded: true, LoadTimeMs: &ms})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"loaded","isLoaded":true,"isLoading":false,"loadTimeMs":12.5,"stub":false}`, string(b))
	assert.Equal(t, "state(9)", State(9).String())
}

func TestStateUnmarshalText(t *testing.T) {
	var st LoaderState
	require.NoError(t, gojson.Unmarshal([]byte(`{"phase":"failed","error":"boom"}`), &st))
	assert.Equal(t, Failed, st.Phase)
	assert.Equal(t, "boom", st.Error)

	var s State
	assert.Error(t, s.UnmarshalText([]byte("exploded")))
}
