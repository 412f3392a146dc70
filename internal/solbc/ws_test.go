package solbc

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAccountUpdate(t *testing.T) {
	raw := json.RawMessage(`{
		"context": {"slot": 5199307},
		"value": {
			"data": ["AQIDBA==", "base64"],
			"lamports": 33594,
			"owner": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
		}
	}`)

	update, ok := decodeAccountUpdate(raw)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, update.Data)
	assert.Equal(t, int64(5199307), update.Slot)
}

func TestDecodeAccountUpdateRejectsGarbage(t *testing.T) {
	_, ok := decodeAccountUpdate(json.RawMessage(`{"value":{}}`))
	assert.False(t, ok)

	_, ok = decodeAccountUpdate(json.RawMessage(`{"value":{"data":["!!!","base64"]}}`))
	assert.False(t, ok)
}

func TestDecodeSignatureResult(t *testing.T) {
	result, ok := decodeSignatureResult(json.RawMessage(`{
		"context": {"slot": 5207624},
		"value": {"err": null}
	}`))
	require.True(t, ok)
	assert.Nil(t, result.Err)

	result, ok = decodeSignatureResult(json.RawMessage(`{
		"context": {"slot": 5207625},
		"value": {"err": {"InstructionError": [0, "Custom"]}}
	}`))
	require.True(t, ok)
	assert.NotNil(t, result.Err)
}

func TestIsAccountNotFoundError(t *testing.T) {
	assert.False(t, IsAccountNotFoundError(nil))
	assert.True(t, IsAccountNotFoundError(ErrAccountNotFound))
	assert.True(t, IsAccountNotFoundError(errors.New("rpc: account Not Found")))
	assert.False(t, IsAccountNotFoundError(errors.New("connection refused")))
}
