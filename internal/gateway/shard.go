package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// helloTimeout bounds how long a fresh connection may sit without the
	// gateway's Hello before the attempt is abandoned.
	helloTimeout = 30 * time.Second

	// commandQueueSize is the outbound submission queue capacity. Commands
	// beyond it block the submitter until the ratelimiter drains the queue.
	commandQueueSize = 64

	// eventBufferSize is the decoded event channel capacity.
	eventBufferSize = 256

	// maxBackoffShift caps the reconnect delay at 2^7 = 128 seconds.
	maxBackoffShift = 7
)

// Config carries everything a shard needs at construction.
type Config struct {
	// Token authenticates the Identify and Resume handshakes.
	Token string

	// Intents is the capability bitmask sent with Identify.
	Intents uint64

	// Compress enables the zlib-compressed event stream.
	Compress bool

	// ShardIndex and ShardCount position this shard within the fleet.
	ShardIndex int
	ShardCount int

	// URL is the gateway endpoint, without query parameters.
	URL string

	// Properties describes the client in the Identify payload.
	Properties IdentifyProperties

	// LargeThreshold is forwarded verbatim in the Identify payload.
	LargeThreshold int

	// Resume seeds the shard with a previously snapshotted session so its
	// first connection attempts a Resume instead of a fresh Identify.
	Resume *SessionSnapshot

	Logger *zap.Logger
}

// Status is a point-in-time snapshot of one shard.
type Status struct {
	Shard          int             `json:"shard"`
	Stage          string          `json:"stage"`
	HasSession     bool            `json:"has_session"`
	Sequence       int64           `json:"sequence"`
	LatencyAverage time.Duration   `json:"latency_average"`
	LatencyRecent  []time.Duration `json:"latency_recent"`
	LatencyPeriods int             `json:"latency_periods"`
}

// connOutcome describes how one connection attempt ended.
type connOutcome struct {
	fatal   error // non-nil terminates the shard
	stop    bool  // user close or context cancellation
	reached bool  // the attempt got to StageConnected
}

// Shard manages one persistent connection to the event gateway: transport,
// handshake, heartbeat cadence, command ratelimiting and reconnect policy.
// Decoded event envelopes are delivered on Events; commands are submitted
// through Send and its helpers.
type Shard struct {
	cfg    Config
	logger *zap.Logger

	session  *Session
	commands chan []byte
	events   chan Event

	latencyMu sync.Mutex
	latency   *LatencyTracker

	inflater *Inflater

	connMu sync.Mutex
	conn   *wsConn

	// canResume remembers whether the previous connection ended in a way
	// that permits continuing the session.
	canResume bool

	userClose  atomic.Bool
	userResume atomic.Bool
	closeSig   chan struct{}
	closeOnce  sync.Once

	// resumeSnap holds the session identity preserved by a resumable
	// close, set once during Run's teardown.
	resumeSnap atomic.Pointer[SessionSnapshot]

	closed atomic.Bool
	done   chan struct{}
}

// NewShard constructs a shard. Run must be called exactly once to drive it.
func NewShard(cfg Config) *Shard {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.Int("shard", cfg.ShardIndex))

	s := &Shard{
		cfg:      cfg,
		logger:   logger,
		session:  NewSession(),
		commands: make(chan []byte, commandQueueSize),
		events:   make(chan Event, eventBufferSize),
		latency:  NewLatencyTracker(),
		inflater: NewInflater(),
		closeSig: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.Resume != nil && cfg.Resume.ID != "" {
		s.session.SetIdentity(cfg.Resume.ID, cfg.Resume.ResumeGatewayURL)
		s.session.SetSequence(cfg.Resume.Sequence)
		s.canResume = true
	}
	return s
}

// Events returns the decoded event stream. The caller owns draining it; the
// channel is closed when Run returns.
func (s *Shard) Events() <-chan Event { return s.events }

// Send serializes d under the given opcode and queues it for transmission.
// Serialization failures are returned immediately and leave the connection
// untouched. All commands submitted here pass through the ratelimiter;
// heartbeats never travel this path.
func (s *Shard) Send(ctx context.Context, op OpCode, d any) error {
	if s.closed.Load() {
		return ErrShardClosed
	}

	data, err := json.Marshal(outgoing{Op: op, D: d})
	if err != nil {
		return fmt.Errorf("serialize command: %w", err)
	}

	select {
	case s.commands <- data:
		return nil
	case <-s.done:
		return ErrShardClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdatePresence queues a presence update command.
func (s *Shard) UpdatePresence(ctx context.Context, p PresenceUpdate) error {
	return s.Send(ctx, OpPresenceUpdate, p)
}

// UpdateVoiceState queues a voice state update command.
func (s *Shard) UpdateVoiceState(ctx context.Context, v VoiceStateUpdate) error {
	return s.Send(ctx, OpVoiceStateUpdate, v)
}

// Close ends the shard gracefully, telling the gateway to discard the
// session. Run returns nil once teardown completes.
func (s *Shard) Close() {
	s.userResume.Store(false)
	s.userClose.Store(true)
	s.closeOnce.Do(func() { close(s.closeSig) })
	s.closeConn(websocket.CloseNormalClosure, "")
}

// CloseResumable ends the shard while keeping the session alive server-side.
// Once Run returns, Snapshot carries the preserved identity; a future shard
// seeded with it through Config.Resume picks the session back up.
func (s *Shard) CloseResumable() {
	s.userResume.Store(true)
	s.userClose.Store(true)
	s.closeOnce.Do(func() { close(s.closeSig) })
	s.closeConn(websocket.CloseServiceRestart, "resumable shutdown")
}

// Snapshot returns the session identity preserved by a resumable close. It
// is nil until Run has returned from one.
func (s *Shard) Snapshot() *SessionSnapshot {
	return s.resumeSnap.Load()
}

// Status returns a snapshot safe to call from any goroutine.
func (s *Shard) Status() Status {
	s.latencyMu.Lock()
	avg, _ := s.latency.Average()
	recent := s.latency.Recent()
	periods := s.latency.Periods()
	s.latencyMu.Unlock()

	return Status{
		Shard:          s.cfg.ShardIndex,
		Stage:          s.session.Stage().String(),
		HasSession:     s.session.Resumable(),
		Sequence:       s.session.Sequence(),
		LatencyAverage: avg,
		LatencyRecent:  recent,
		LatencyPeriods: periods,
	}
}

// Session exposes the shared session state, mainly for status surfaces.
func (s *Shard) Session() *Session { return s.session }

// Run drives the shard until a fatal close code, a user Close, or context
// cancellation. It owns the reconnect loop: any retryable failure backs off
// exponentially, capped at 128 seconds, with the counter reset each time a
// connection reaches StageConnected.
func (s *Shard) Run(ctx context.Context) error {
	defer func() {
		s.closed.Store(true)
		if s.userResume.Load() {
			// Capture the identity before the disconnect wipes it.
			s.resumeSnap.Store(s.session.snapshot())
		}
		s.session.SetStage(StageDisconnected)
		close(s.done)
		close(s.events)
	}()

	attempts := 0
	for first := true; ; first = false {
		out, err := s.connect(ctx)
		if err != nil {
			if first {
				// Start-up failure: no partial state, surfaced as-is.
				return fmt.Errorf("connect shard %d: %w", s.cfg.ShardIndex, err)
			}
			s.logger.Warn("connection attempt failed", zap.Error(err))
		}
		if out.fatal != nil {
			s.logger.Error("fatal gateway close", zap.Error(out.fatal))
			return out.fatal
		}
		if out.stop {
			if ctx.Err() != nil && !s.userClose.Load() {
				return ctx.Err()
			}
			return nil
		}
		if out.reached {
			attempts = 0
		}

		delay := backoffDelay(attempts)
		attempts++
		s.logger.Info("reconnecting",
			zap.Duration("delay", delay),
			zap.Int("attempt", attempts),
			zap.Bool("resumable", s.canResume && s.session.Resumable()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closeSig:
			return nil
		case <-time.After(delay):
		}
	}
}

// backoffDelay returns min(2^attempts, 128) seconds.
func backoffDelay(attempts int) time.Duration {
	if attempts > maxBackoffShift {
		attempts = maxBackoffShift
	}
	return time.Duration(1<<attempts) * time.Second
}

// connect runs one full connection: dial, handshake, main loop. It returns
// the outcome plus any establishment error.
func (s *Shard) connect(ctx context.Context) (connOutcome, error) {
	log := s.logger.With(zap.String("conn_id", uuid.NewString()))

	resuming := s.canResume && s.session.Resumable()

	base := s.cfg.URL
	if resuming && s.session.ResumeURL() != "" {
		base = s.session.ResumeURL()
	}
	rawURL, err := gatewayURL(base, s.cfg.Compress)
	if err != nil {
		return connOutcome{}, fmt.Errorf("build gateway url: %w", err)
	}

	s.session.SetStage(StageConnecting)
	conn, err := dialGateway(ctx, rawURL, log)
	if err != nil {
		return connOutcome{}, err
	}
	s.setConn(conn)
	defer s.setConn(nil)
	defer conn.close(websocket.CloseNormalClosure, "")

	if s.userClose.Load() {
		// Close raced the dial; tear down immediately.
		conn.close(websocket.CloseNormalClosure, "")
		return connOutcome{stop: true}, nil
	}

	// Every transport connection starts a fresh compressed stream.
	s.inflater.Reset()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	interval, err := s.awaitHello(connCtx, conn)
	if err != nil {
		return s.streamEnded(conn, log), nil
	}

	s.session.SetStage(StageHandshaking)
	s.session.SetHeartbeatInterval(interval)

	// A beat left open by the previous connection can never be acknowledged
	// here; drop it so the watchdog starts clean.
	s.latencyMu.Lock()
	s.latency.abandonOutstanding()
	s.latencyMu.Unlock()

	limiter := NewCommandRatelimiter(interval)
	log.Info("handshake hello received",
		zap.Duration("heartbeat_interval", interval),
		zap.Int("commands_allotted", limiter.Allotted()),
	)

	hb := newHeartbeater(s.session, log)
	go hb.run(connCtx)

	if resuming {
		s.session.SetStage(StageResuming)
		err = s.writeCommand(conn, outgoing{Op: OpResume, D: resumeData{
			Token:     s.cfg.Token,
			SessionID: s.session.ID(),
			Sequence:  s.session.Sequence(),
		}})
	} else {
		s.freshSession()
		s.session.SetStage(StageIdentifying)
		err = s.writeCommand(conn, s.identifyPayload())
	}
	if err != nil {
		return s.streamEnded(conn, log), nil
	}

	sched := newScheduler(hb.C(), s.commands, conn.Frames(), limiter)
	reached := false

	for {
		act, err := sched.next(connCtx)
		if err != nil {
			// Context cancelled; either the caller is done or the user
			// requested close through another path.
			conn.close(websocket.CloseNormalClosure, "")
			return connOutcome{stop: true, reached: reached}, nil
		}

		switch act.kind {
		case actionHeartbeat:
			if s.heartbeatOutstanding() {
				log.Warn("heartbeat unacknowledged, assuming zombied connection")
				s.canResume = true
				conn.close(websocket.CloseServiceRestart, "heartbeat ack timeout")
				return connOutcome{reached: reached}, nil
			}
			if err := s.sendHeartbeat(conn); err != nil {
				log.Warn("heartbeat write failed", zap.Error(err))
				continue
			}
			hb.Sent()

		case actionCommand:
			if err := conn.write(act.command); err != nil {
				log.Warn("command write failed", zap.Error(err))
			}

		case actionFrame:
			next, reachedNow := s.handleFrame(connCtx, conn, log, act.frame)
			if reachedNow {
				reached = true
			}
			switch next {
			case frameContinue:
			case frameReconnect:
				return connOutcome{reached: reached}, nil
			}

		case actionStreamEnd:
			out := s.streamEnded(conn, log)
			out.reached = reached
			return out, nil
		}
	}
}

type frameDirective int

const (
	frameContinue frameDirective = iota
	frameReconnect
)

// handleFrame pushes one transport frame through the inflater, decodes the
// envelope and reacts to control opcodes. reached reports that this frame
// completed the handshake.
func (s *Shard) handleFrame(ctx context.Context, conn *wsConn, log *zap.Logger, fr frame) (next frameDirective, reached bool) {
	var payload []byte

	if fr.messageType == websocket.BinaryMessage {
		s.inflater.Extend(fr.data)
		out, err := s.inflater.Poll()
		if err != nil {
			log.Error("event stream corrupt", zap.Error(err))
			s.canResume = true
			conn.close(websocket.CloseServiceRestart, "decompression failure")
			return frameReconnect, false
		}
		if out == nil {
			return frameContinue, false
		}
		payload = s.inflater.Take()
	} else {
		payload = fr.data
	}
	defer s.inflater.Clear()

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Warn("undecodable gateway payload", zap.Error(err))
		return frameContinue, false
	}

	switch ev.Op {
	case OpDispatch:
		s.session.SetSequence(ev.Sequence)
		switch ev.Type {
		case eventReady:
			var ready readyData
			if err := json.Unmarshal(ev.Data, &ready); err != nil {
				log.Warn("undecodable ready payload", zap.Error(err))
			} else {
				s.session.SetIdentity(ready.SessionID, ready.ResumeGatewayURL)
			}
			s.session.SetStage(StageConnected)
			s.canResume = true
			reached = true
			log.Info("session established")
		case eventResumed:
			s.session.SetStage(StageConnected)
			reached = true
			log.Info("session resumed", zap.Int64("sequence", ev.Sequence))
		}
		s.emit(ctx, ev)

	case OpHeartbeat:
		// Server-requested immediate beat; bypasses the ratelimiter and
		// does not disturb the cadence timer.
		if err := s.sendHeartbeat(conn); err != nil {
			log.Warn("requested heartbeat write failed", zap.Error(err))
		}

	case OpHeartbeatACK:
		s.latencyMu.Lock()
		if s.latency.Outstanding() {
			s.latency.RecordReceived()
		} else {
			log.Warn("heartbeat ack with no beat outstanding")
		}
		s.latencyMu.Unlock()

	case OpReconnect:
		log.Info("gateway requested reconnect")
		s.canResume = true
		conn.close(websocket.CloseServiceRestart, "reconnect requested")
		return frameReconnect, false

	case OpInvalidSession:
		var resumable bool
		if err := json.Unmarshal(ev.Data, &resumable); err != nil {
			log.Warn("undecodable invalid-session payload", zap.Error(err))
		}
		log.Warn("session invalidated", zap.Bool("resumable", resumable))
		if resumable {
			s.canResume = true
			conn.close(websocket.CloseServiceRestart, "session invalidated")
			return frameReconnect, false
		}
		// Fall back to a fresh Identify on the same connection.
		s.freshSession()
		s.session.SetStage(StageIdentifying)
		if err := s.writeCommand(conn, s.identifyPayload()); err != nil {
			log.Warn("re-identify write failed", zap.Error(err))
		}

	case OpHello:
		log.Warn("unexpected hello after handshake")

	default:
		log.Debug("ignoring unhandled opcode", zap.Int("op", int(ev.Op)))
	}

	return frameContinue, reached
}

// streamEnded classifies why the inbound stream stopped and records whether
// the session survives into the next attempt.
func (s *Shard) streamEnded(conn *wsConn, log *zap.Logger) connOutcome {
	code, hasCode, readErr := conn.closeInfo()

	if s.userClose.Load() {
		if !s.userResume.Load() {
			s.session.SetStage(StageDisconnected)
		}
		log.Info("shard closed by caller", zap.Bool("resumable", s.userResume.Load()))
		return connOutcome{stop: true}
	}

	if hasCode {
		if code.Fatal() {
			s.session.SetStage(StageDisconnected)
			return connOutcome{fatal: &FatalError{Code: code}}
		}
		s.canResume = code.Resumable()
		log.Warn("gateway closed connection",
			zap.Int("code", int(code)),
			zap.String("reason", code.String()),
			zap.Bool("resumable", s.canResume),
		)
		return connOutcome{}
	}

	// Plain transport error; the session is presumed intact.
	s.canResume = true
	if readErr != nil {
		log.Warn("transport error", zap.Error(readErr))
	}
	return connOutcome{}
}

// awaitHello reads frames until the handshake Hello arrives, yielding the
// server-dictated heartbeat interval.
func (s *Shard) awaitHello(ctx context.Context, conn *wsConn) (time.Duration, error) {
	timeout := time.NewTimer(helloTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timeout.C:
			return 0, fmt.Errorf("no hello within %s", helloTimeout)
		case fr, ok := <-conn.Frames():
			if !ok {
				return 0, fmt.Errorf("stream ended before hello")
			}

			var payload []byte
			if fr.messageType == websocket.BinaryMessage {
				s.inflater.Extend(fr.data)
				out, err := s.inflater.Poll()
				if err != nil {
					return 0, err
				}
				if out == nil {
					continue
				}
				payload = s.inflater.Take()
			} else {
				payload = fr.data
			}

			var ev Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				return 0, fmt.Errorf("decode hello: %w", err)
			}
			if ev.Op != OpHello {
				return 0, fmt.Errorf("expected hello, got opcode %d", ev.Op)
			}

			var hello helloData
			if err := json.Unmarshal(ev.Data, &hello); err != nil {
				return 0, fmt.Errorf("decode hello payload: %w", err)
			}
			if hello.HeartbeatInterval <= 0 {
				return 0, fmt.Errorf("hello carried no heartbeat interval")
			}
			return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
		}
	}
}

// sendHeartbeat transmits a heartbeat carrying the current sequence,
// bypassing the command ratelimiter, and opens a latency period.
func (s *Shard) sendHeartbeat(conn *wsConn) error {
	var seq *int64
	if n := s.session.Sequence(); n > 0 {
		seq = &n
	}

	data, err := json.Marshal(heartbeatPayload{Op: OpHeartbeat, D: seq})
	if err != nil {
		return fmt.Errorf("serialize heartbeat: %w", err)
	}

	s.latencyMu.Lock()
	if !s.latency.Outstanding() {
		s.latency.RecordSent()
	}
	s.latencyMu.Unlock()

	return conn.write(data)
}

func (s *Shard) heartbeatOutstanding() bool {
	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()
	return s.latency.Outstanding()
}

// freshSession discards any prior identity and latency history ahead of a
// fresh Identify.
func (s *Shard) freshSession() {
	s.session.clearIdentity()
	s.canResume = false

	s.latencyMu.Lock()
	s.latency.reset()
	s.latencyMu.Unlock()
}

func (s *Shard) identifyPayload() outgoing {
	return outgoing{Op: OpIdentify, D: identifyData{
		Token:          s.cfg.Token,
		Properties:     s.cfg.Properties,
		Compress:       false,
		LargeThreshold: s.cfg.LargeThreshold,
		Shard:          [2]int{s.cfg.ShardIndex, s.cfg.ShardCount},
		Intents:        s.cfg.Intents,
	}}
}

func (s *Shard) writeCommand(conn *wsConn, cmd outgoing) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("serialize command: %w", err)
	}
	return conn.write(data)
}

// emit delivers a decoded envelope to the caller-owned sink in wire order.
func (s *Shard) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Shard) setConn(conn *wsConn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

// closeConn closes the live transport, if any, releasing the main loop.
func (s *Shard) closeConn(code int, reason string) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn != nil {
		conn.close(code, reason)
	}
}
