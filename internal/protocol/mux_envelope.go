package protocol

import (
	"encoding/json"
	"errors"
	"strings"
)

// MuxEnvelope wraps frames of one logical channel when several clients
// share a single hub connection.
type MuxEnvelope struct {
	ConnID string          `json:"conn_id"`
	Data   json.RawMessage `json:"data"`
}

var errMissingConnID = errors.New("missing conn_id")

func WrapMuxEnvelope(connID string, raw []byte) ([]byte, error) {
	connID = strings.TrimSpace(connID)
	if connID == "" {
		return nil, errMissingConnID
	}
	return json.Marshal(MuxEnvelope{ConnID: connID, Data: raw})
}

// UnwrapMuxEnvelope returns the channel id and inner frame. Frames that are
// not envelopes return an error and must be decoded as-is.
func UnwrapMuxEnvelope(raw []byte) (string, []byte, error) {
	var env MuxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(env.ConnID) == "" {
		return "", nil, errMissingConnID
	}
	if len(env.Data) == 0 {
		return "", nil, errors.New("missing data")
	}
	return env.ConnID, env.Data, nil
}
