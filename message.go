package realtime

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Message types the platform itself speaks over the channel. Inbound types are
// otherwise open-ended: the job pipeline may introduce new ones at any time.
const (
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
	MessageTypeGetProgress    = "get_progress"
	MessageTypeProgressUpdate = "progress_update"
)

// Envelope is the wire form of every message on the channel: a JSON object
// with a mandatory string "type" plus arbitrary named fields.
type Envelope struct {
	Type   string
	Fields Fields
}

func NewEnvelope(msgType string, fields Fields) Envelope {
	return Envelope{Type: msgType, Fields: fields}
}

// Encode serializes the envelope to a single JSON object with the type merged
// into the fields. A nil field map encodes as just the type.
func (m Envelope) Encode() ([]byte, error) {
	payload := make(map[string]any, len(m.Fields)+1)
	for k, v := range m.Fields {
		payload[k] = v
	}
	payload["type"] = m.Type
	return json.Marshal(payload)
}

// Full returns the complete parsed object including the "type" field. This is
// the shape handed to generic message listeners, whereas type-specific
// listeners receive Fields alone.
func (m Envelope) Full() Fields {
	full := make(Fields, len(m.Fields)+1)
	for k, v := range m.Fields {
		full[k] = v
	}
	full["type"] = m.Type
	return full
}

func (m Envelope) String() string {
	return "Envelope{type=" + m.Type + "}"
}

// DecodeEnvelope parses one raw frame. Frames that are not a JSON object, or
// whose "type" field is absent or not a string, are malformed and reported
// as ErrMalformedFrame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var raw map[string]any
	if err := json.Unmarshal(frame, &raw); err != nil {
		return Envelope{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}

	msgType, ok := raw["type"].(string)
	if !ok || msgType == "" {
		return Envelope{}, errors.Wrap(ErrMalformedFrame, "missing type field")
	}

	delete(raw, "type")
	return Envelope{Type: msgType, Fields: Fields(raw)}, nil
}

// AudioStatus is the lifecycle state of one audio generation job.
type AudioStatus string

const (
	StatusPending    AudioStatus = "pending"
	StatusProcessing AudioStatus = "processing"
	StatusCompleted  AudioStatus = "completed"
	StatusFailed     AudioStatus = "failed"
)

// Terminal reports whether the job has finished, successfully or not.
func (s AudioStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProgressUpdate reports how far audio generation has advanced for one file.
// Progress is a percentage in [0, 100].
type ProgressUpdate struct {
	AudioID  int64       `json:"audio_id"`
	Status   AudioStatus `json:"status"`
	Progress int         `json:"progress"`
}

// Envelope packs the update into a progress_update message.
func (p ProgressUpdate) Envelope() Envelope {
	return NewEnvelope(MessageTypeProgressUpdate, Fields{
		"audio_id": p.AudioID,
		"status":   p.Status,
		"progress": p.Progress,
	})
}

func progressUpdateFromFields(fields Fields) (ProgressUpdate, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return ProgressUpdate{}, errors.Wrap(err, "cannot re-encode progress fields")
	}

	var p ProgressUpdate
	if err := json.Unmarshal(raw, &p); err != nil {
		return ProgressUpdate{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	return p, nil
}
