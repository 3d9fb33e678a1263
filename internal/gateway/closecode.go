package gateway

// CloseCode is a numeric reason code accompanying a closed connection.
type CloseCode int

const (
	CloseUnknownError         CloseCode = 4000
	CloseUnknownOpCode        CloseCode = 4001
	CloseDecodeError          CloseCode = 4002
	CloseNotAuthenticated     CloseCode = 4003
	CloseAuthenticationFailed CloseCode = 4004
	CloseAlreadyAuthenticated CloseCode = 4005
	CloseInvalidSequence      CloseCode = 4007
	CloseRateLimited          CloseCode = 4008
	CloseSessionTimedOut      CloseCode = 4009
	CloseInvalidShard         CloseCode = 4010
	CloseShardingRequired     CloseCode = 4011
	CloseInvalidAPIVersion    CloseCode = 4012
	CloseInvalidIntents       CloseCode = 4013
	CloseDisallowedIntents    CloseCode = 4014
)

// Fatal reports whether the close code indicates a condition that retrying
// cannot fix. Unrecognized codes are treated as retryable.
func (c CloseCode) Fatal() bool {
	switch c {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return true
	}
	return false
}

// Resumable reports whether the session that was open when this close code
// arrived may be continued with a Resume. Codes that invalidate the session
// or its sequence require a fresh Identify.
func (c CloseCode) Resumable() bool {
	if c.Fatal() {
		return false
	}
	switch c {
	case CloseNotAuthenticated, CloseInvalidSequence, CloseSessionTimedOut:
		return false
	}
	return true
}

func (c CloseCode) String() string {
	switch c {
	case CloseUnknownError:
		return "unknown error"
	case CloseUnknownOpCode:
		return "unknown opcode"
	case CloseDecodeError:
		return "decode error"
	case CloseNotAuthenticated:
		return "not authenticated"
	case CloseAuthenticationFailed:
		return "authentication failed"
	case CloseAlreadyAuthenticated:
		return "already authenticated"
	case CloseInvalidSequence:
		return "invalid sequence"
	case CloseRateLimited:
		return "rate limited"
	case CloseSessionTimedOut:
		return "session timed out"
	case CloseInvalidShard:
		return "invalid shard"
	case CloseShardingRequired:
		return "sharding required"
	case CloseInvalidAPIVersion:
		return "invalid api version"
	case CloseInvalidIntents:
		return "invalid intents"
	case CloseDisallowedIntents:
		return "disallowed intents"
	}
	return "unclassified"
}
