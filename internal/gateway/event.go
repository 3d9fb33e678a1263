package gateway

import "encoding/json"

// OpCode identifies the kind of a gateway payload.
type OpCode int

const (
	OpDispatch            OpCode = 0
	OpHeartbeat           OpCode = 1
	OpIdentify            OpCode = 2
	OpPresenceUpdate      OpCode = 3
	OpVoiceStateUpdate    OpCode = 4
	OpResume              OpCode = 6
	OpReconnect           OpCode = 7
	OpRequestGuildMembers OpCode = 8
	OpInvalidSession      OpCode = 9
	OpHello               OpCode = 10
	OpHeartbeatACK        OpCode = 11
)

// Event is one decoded gateway envelope. Sequence and Type are only present
// on dispatch payloads; Data is the opcode-specific payload, left raw for the
// consumer to decode.
type Event struct {
	Op       OpCode          `json:"op"`
	Sequence int64           `json:"s,omitempty"`
	Type     string          `json:"t,omitempty"`
	Data     json.RawMessage `json:"d"`
}

// Dispatch event names the shard itself reacts to. All dispatches, these
// included, are forwarded to the consumer unchanged.
const (
	eventReady   = "READY"
	eventResumed = "RESUMED"
)

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// IdentifyProperties describes the connecting client to the gateway.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress"`
	LargeThreshold int                `json:"large_threshold,omitempty"`
	Shard          [2]int             `json:"shard"`
	Intents        uint64             `json:"intents"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// outgoing is the envelope for commands sent to the gateway.
type outgoing struct {
	Op OpCode `json:"op"`
	D  any    `json:"d"`
}

// heartbeatPayload carries the last-seen sequence, or null before the first
// dispatch arrives.
type heartbeatPayload struct {
	Op OpCode `json:"op"`
	D  *int64 `json:"d"`
}

// PresenceUpdate is the payload for an OpPresenceUpdate command.
type PresenceUpdate struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

// Activity is a single presence activity.
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

// VoiceStateUpdate is the payload for an OpVoiceStateUpdate command.
type VoiceStateUpdate struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}
