package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressRoundTrip(t *testing.T) {
	evt := Progress{
		Status:  StateRunning,
		Message: "install",
		Phase:   PhaseDockerInstall,
	}
	data, err := Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"progress"`)
	assert.Contains(t, string(data), `"status":"running"`)
	assert.Contains(t, string(data), `"message":"install"`)
	assert.Contains(t, string(data), `"phase":"docker_install"`)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, evt, back)
}

func TestStatusRoundTrip(t *testing.T) {
	evt := Status{Status: StateSucceeded, WikiID: 42}
	data, err := Marshal(evt)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"status"`)
	assert.Contains(t, string(data), `"wiki_id":42`)
	assert.NotContains(t, string(data), "message")

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, evt, back)
}

func TestRoundTripAllStates(t *testing.T) {
	for _, st := range []State{StateQueued, StateRunning, StateSucceeded, StateFailed} {
		for _, ph := range []Phase{PhaseDirCopy, PhaseRenderIni, PhaseDbProvision, PhaseDockerInstall, PhaseDockerIdxCfg, PhaseFlipBootstrap, PhaseIndex} {
			data, err := Marshal(Progress{Status: st, Phase: ph})
			require.NoError(t, err)
			back, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Equal(t, Progress{Status: st, Phase: ph}, back)
		}
		data, err := Marshal(Status{Status: st, Message: "m"})
		require.NoError(t, err)
		back, err := Unmarshal(data)
		require.NoError(t, err)
		assert.Equal(t, Status{Status: st, Message: "m"}, back)
	}
}

func TestUnmarshalUnknown(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"mystery"}`))
	assert.Error(t, err)
	_, err = Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateSucceeded.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "wikifarm:tasks:abc", ChannelKey("abc"))
	assert.Equal(t, "wikifarm:tasks:abc:last", LastKey("abc"))
	assert.Equal(t, "wikifarm:jobs", QueueKey)
}
