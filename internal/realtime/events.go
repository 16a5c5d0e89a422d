package realtime

import "fmt"

// Client and server event types used on the realtime socket
const (
	eventSessionUpdate    = "session.update"
	eventInputAudioAppend = "input_audio_buffer.append"
	eventSessionCreated   = "session.created"
	eventSessionUpdated   = "session.updated"
	eventOutputAudioDelta = "response.output_audio.delta"
	eventAudioDeltaBeta   = "response.audio.delta"
	eventSpeechStarted    = "input_audio_buffer.speech_started"
	eventResponseDone     = "response.done"
	eventError            = "error"

	sessionTypeRealtime = "realtime"
)

// AudioFormat names the wire encoding of one audio direction
type AudioFormat struct {
	Type string `json:"type"`
	Rate int    `json:"rate,omitempty"`
}

// PCMU is 8kHz G.711 mu-law, the format Twilio streams
var PCMU = AudioFormat{Type: "audio/pcmu"}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Type             string      `json:"type"`
	Model            string      `json:"model"`
	Instructions     string      `json:"instructions,omitempty"`
	OutputModalities []string    `json:"output_modalities"`
	Audio            audioConfig `json:"audio"`
	Tools            []struct{}  `json:"tools"`
}

type audioConfig struct {
	Input  audioInputConfig  `json:"input"`
	Output audioOutputConfig `json:"output"`
}

type audioInputConfig struct {
	Format AudioFormat `json:"format"`
}

type audioOutputConfig struct {
	Format AudioFormat `json:"format"`
	Voice  string      `json:"voice,omitempty"`
}

type inputAudioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// serverEvent holds the fields of the server events this package reacts to
type serverEvent struct {
	Type    string    `json:"type"`
	EventID string    `json:"event_id"`
	ItemID  string    `json:"item_id"`
	Delta   string    `json:"delta"`
	Error   *APIError `json:"error"`
}

// APIError is an error event reported by the realtime service
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("realtime: %s: %s", e.Type, e.Message)
}
