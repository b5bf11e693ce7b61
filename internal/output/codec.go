package output

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"bedready-go/internal/types"
)

// wireMessage is the CBOR shape of a push message: {plugin, data}.
type wireMessage struct {
	Plugin string `cbor:"plugin"`
	Data   any    `cbor:"data"`
}

var decMode = mustDecMode()

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}

// EncodeMessage converts a push message to CBOR.
func EncodeMessage(msg types.PluginMessage) ([]byte, error) {
	var data any
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return nil, fmt.Errorf("encode push message: %w", err)
		}
	}
	return cbor.Marshal(wireMessage{Plugin: msg.Plugin, Data: data})
}

// DecodeMessage reads a CBOR {plugin, data} frame. The data is handed on as
// JSON so the panel decodes websocket and relay messages the same way.
func DecodeMessage(payload []byte) (types.PluginMessage, error) {
	var wire wireMessage
	if err := decMode.Unmarshal(payload, &wire); err != nil {
		return types.PluginMessage{}, fmt.Errorf("decode push message: %w", err)
	}
	if wire.Plugin == "" {
		return types.PluginMessage{}, fmt.Errorf("decode push message: missing plugin")
	}
	data, err := json.Marshal(NormalizeJSONValue(wire.Data))
	if err != nil {
		return types.PluginMessage{}, fmt.Errorf("decode push message: %w", err)
	}
	return types.PluginMessage{Plugin: wire.Plugin, Data: data}, nil
}

// NormalizeJSONValue rewrites CBOR decoded values that encoding/json cannot
// marshal, such as maps with non-string keys and byte strings.
func NormalizeJSONValue(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = NormalizeJSONValue(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = NormalizeJSONValue(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = NormalizeJSONValue(val)
		}
		return t
	case []byte:
		return string(t)
	default:
		return v
	}
}
