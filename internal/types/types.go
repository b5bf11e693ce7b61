package types

import (
	"encoding/json"
	"errors"
)

// PluginMessage is one push notification as delivered by a push source.
// Data is kept raw so that messages for other plugins never have to decode.
type PluginMessage struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

// PushMessage is the payload BedReady pushes to its own plugin channel.
type PushMessage struct {
	Similarity     *float64   `json:"similarity,omitempty"`
	BedClear       bool       `json:"bed_clear,omitempty"`
	ReferenceImage string     `json:"reference_image,omitempty"`
	TestImage      string     `json:"test_image,omitempty"`
	Error          *ErrorText `json:"error,omitempty"`
}

// ComparisonResult is the response of the check_bed command.
type ComparisonResult struct {
	Similarity     float64 `json:"similarity"`
	BedClear       *bool   `json:"bed_clear,omitempty"`
	ReferenceImage string  `json:"reference_image"`
	TestImage      string  `json:"test_image"`
	Error          string  `json:"error,omitempty"`
}

// ErrorText accepts either a plain string or an object of the form
// {"error": "..."}; the backend has sent both over the push channel.
type ErrorText string

func (e *ErrorText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = ErrorText(s)
		return nil
	}
	var wrapped struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return errors.New("error field is neither a string nor an object")
	}
	*e = ErrorText(wrapped.Error)
	return nil
}

func (e *ErrorText) String() string {
	if e == nil {
		return ""
	}
	return string(*e)
}
