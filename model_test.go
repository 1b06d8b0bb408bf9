package gbackup

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalPayload(t *testing.T) {
	payload, err := MarshalPayload(map[string]interface{}{"data_penting": "Ini test backup", "n": 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"data_penting":"Ini test backup","n":1}`, string(payload))

	raw := json.RawMessage(`{"kept":"verbatim"}`)
	payload, err = MarshalPayload(raw)
	require.NoError(t, err)
	require.Equal(t, raw, payload)

	_, err = MarshalPayload(make(chan int))
	require.Error(t, err)
}

func TestDiscoveryHasBackup(t *testing.T) {
	require.False(t, (&Discovery{}).HasBackup())
	require.True(t, (&Discovery{FileID: "F1"}).HasBackup())
}
