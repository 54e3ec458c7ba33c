// Package protocol holds the JSON messages exchanged with clients, over the
// duplex chat channels and the stateless HTTP endpoint.
package protocol

import (
	"encoding/json"

	"github.com/go-go-golems/solace/pkg/events"
	"github.com/go-go-golems/solace/pkg/pipeline"
	"github.com/go-go-golems/solace/pkg/turns"
	"github.com/invopop/jsonschema"
)

// Inbound is one turn sent by the peer. When both fields are present the
// audio wins.
type Inbound struct {
	AudioData *string `json:"audio_data,omitempty" jsonschema:"description=Base64 audio; a data URI prefix is stripped"`
	Text      *string `json:"text,omitempty" jsonschema:"description=Text message"`
}

// Outbound is the final message of a turn.
type Outbound struct {
	Transcription string `json:"transcription,omitempty" jsonschema:"description=What was heard when the turn was audio"`
	Response      string `json:"response,omitempty"`
	Source        string `json:"source,omitempty" jsonschema:"enum=your custom knowledge base,enum=general knowledge"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

// EventFrame carries one pipeline event before the final message.
type EventFrame struct {
	Event events.Event `json:"event"`
}

type ProcessMessageRequest struct {
	Message string `json:"message" jsonschema:"required"`
}

type ProcessMessageResponse struct {
	Response string `json:"response"`
	Source   string `json:"source" jsonschema:"enum=your custom knowledge base,enum=general knowledge"`
}

// ErrorDetail is the body of non-200 HTTP responses.
type ErrorDetail struct {
	Detail string `json:"detail"`
}

// DecodeInbound parses a raw peer message into a turn input. Malformed
// messages are input errors, never fatal to the session.
func DecodeInbound(b []byte) (turns.Input, error) {
	var in Inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return turns.Input{}, turns.InputError("Invalid message format. Expected a JSON object.")
	}
	switch {
	case in.AudioData != nil:
		return turns.DecodeAudioData(*in.AudioData)
	case in.Text != nil:
		return turns.TextInput(*in.Text), nil
	default:
		return turns.Input{}, turns.InputError("Invalid message format. Expected 'audio_data' or 'text'.")
	}
}

func ResultMessage(res *pipeline.Result) Outbound {
	return Outbound{
		Transcription: res.Transcription,
		Response:      res.Generation.ResponseText,
		Source:        string(res.Generation.Source),
		AvatarURL:     res.AvatarURL,
	}
}

// ErrorMessage only ever exposes the peer-safe message of err.
func ErrorMessage(err error) Outbound {
	return Outbound{Error: turns.AsError(err).PublicMessage()}
}

// Schemas returns the JSON schema of every message, keyed by message name.
func Schemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
	}
	return map[string]*jsonschema.Schema{
		"inbound":                  reflector.Reflect(&Inbound{}),
		"outbound":                 reflector.Reflect(&Outbound{}),
		"process_message_request":  reflector.Reflect(&ProcessMessageRequest{}),
		"process_message_response": reflector.Reflect(&ProcessMessageResponse{}),
		"error_detail":             reflector.Reflect(&ErrorDetail{}),
	}
}
