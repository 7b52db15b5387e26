package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	t.Run("Stdin", func(t *testing.T) {
		var out bytes.Buffer
		decodeCmd.SetIn(strings.NewReader(`{"Action":"INSERT","Table":"nodes","Payload":{"id":3,"netdev":4,"ipaddr":"10.0.0.1"}}`))
		decodeCmd.SetOut(&out)

		require.NoError(t, runDecode(decodeCmd, nil))

		var ev map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &ev))
		assert.EqualValues(t, 4, ev["device_id"])
		assert.Equal(t, "node_upsert", ev["kind"])
	})

	t.Run("File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "msg.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"Action":"DELETE","Table":"netdevices","ID":12,"Payload":""}`), 0o600))

		var out bytes.Buffer
		decodeCmd.SetOut(&out)
		require.NoError(t, runDecode(decodeCmd, []string{path}))
		assert.Contains(t, out.String(), "device_delete")
	})

	t.Run("Malformed", func(t *testing.T) {
		decodeCmd.SetIn(strings.NewReader(`not json`))
		decodeCmd.SetOut(&bytes.Buffer{})
		assert.ErrorContains(t, runDecode(decodeCmd, nil), "malformed message")
	})
}
