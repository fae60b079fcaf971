package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
	"github.com/vango-go/vai-botapi/pkg/gateway/metrics"
)

const (
	outboundPriorityQueueSize = 8
	defaultPlayChunkBytes     = 8192
)

var (
	ErrSessionEnded       = errors.New("bot session ended")
	ErrNotWritable        = errors.New("bot connection is not writable")
	ErrTooManyPlayStreams = errors.New("too many concurrent play streams")
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type ingressState int

const (
	ingressIdle ingressState = iota
	ingressOpen
)

// Conn is the subset of *websocket.Conn a Session needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	// ReadTimeout is refreshed by every inbound frame and pong. Zero disables it.
	ReadTimeout       time.Duration
	OutboundQueueSize int
	// MaxPlayStreams caps concurrent PlayAudio streams. Zero means unlimited.
	MaxPlayStreams int
	PlayChunkBytes int
	// MediaFormats is the preference order used when the peer offers formats.
	MediaFormats []protocol.MediaFormat
	// EchoDelay > 0 plays each finished user stream back after the delay.
	EchoDelay time.Duration
}

type Dependencies struct {
	Conn    Conn
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Config  Config
}

// Session is one bot conversation bound to one connection. Inbound frames are
// handled one at a time in arrival order; outbound frames go through a single
// writer goroutine.
type Session struct {
	conn    Conn
	cfg     Config
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// convCtx also ends when the connection fails, before Close runs.
	convCtx    context.Context
	convCancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	writerDone       chan struct{}
	writable         atomic.Bool

	observers observers

	dispatchMu sync.Mutex

	mu             sync.Mutex
	logger         *slog.Logger
	state          State
	conversationID string
	mediaFormat    protocol.MediaFormat
	ingress        ingressState
	userStream     *UserStream
	echo           echoState

	closing atomic.Bool
	closed  chan struct{}
	playSeq atomic.Int64
	playSem *semaphore.Weighted
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.PlayChunkBytes <= 0 {
		deps.Config.PlayChunkBytes = defaultPlayChunkBytes
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}
	if len(deps.Config.MediaFormats) == 0 {
		deps.Config.MediaFormats = []protocol.MediaFormat{protocol.DefaultMediaFormat}
	}

	ctx, cancel := context.WithCancel(context.Background())
	convCtx, convCancel := context.WithCancel(ctx)
	s := &Session{
		conn:             deps.Conn,
		cfg:              deps.Config,
		metrics:          deps.Metrics,
		ctx:              ctx,
		cancel:           cancel,
		convCtx:          convCtx,
		convCancel:       convCancel,
		outboundPriority: make(chan outboundFrame, max(1, min(deps.Config.OutboundQueueSize, outboundPriorityQueueSize))),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		writerDone:       make(chan struct{}),
		logger:           deps.Logger,
		mediaFormat:      protocol.DefaultMediaFormat,
		closed:           make(chan struct{}),
	}
	s.writable.Store(true)
	if deps.Config.MaxPlayStreams > 0 {
		s.playSem = semaphore.NewWeighted(int64(deps.Config.MaxPlayStreams))
	}

	w := &outboundWriter{
		ws:       deps.Conn,
		ctx:      ctx,
		cfg:      deps.Config,
		priority: s.outboundPriority,
		normal:   s.outboundNormal,
	}
	go s.runWriter(w)
	return s, nil
}

func (s *Session) runWriter(w *outboundWriter) {
	defer close(s.writerDone)
	if err := w.Run(); err != nil {
		s.writable.Store(false)
		s.log().Warn("bot connection write failed", "error", err)
	}
}

// ConversationID is empty until session.initiate has been handled.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MediaFormat is the format used for outbound audio.
func (s *Session) MediaFormat() protocol.MediaFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaFormat
}

func (s *Session) Ended() bool {
	return s.State() == StateEnded
}

// Context is done once the session ends, the connection fails or the context
// given to Run is cancelled. Conversation-start observers receive it.
func (s *Session) Context() context.Context {
	return s.convCtx
}

// Done is closed once Close has finished releasing the connection.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

func (s *Session) log() *slog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logger
}

// Run reads frames from the connection and handles them in order until the
// session ends. A nil error means the session ended normally.
func (s *Session) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	stopConv := context.AfterFunc(ctx, s.convCancel)
	defer stopConv()

	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	inbound := make(chan inboundFrame, 16)
	go s.readLoop(inbound)

	for {
		select {
		case <-runCtx.Done():
			s.Close()
			return ctx.Err()
		case frame, ok := <-inbound:
			if !ok {
				s.Close()
				return nil
			}
			if frame.err != nil {
				s.writable.Store(false)
				ended := s.Ended()
				s.Close()
				if ended || isNormalClose(frame.err) {
					s.log().Debug("bot connection closed", "error", frame.err)
					return nil
				}
				s.log().Warn("bot connection read failed", "error", frame.err)
				return fmt.Errorf("read bot frame: %w", frame.err)
			}
			if s.cfg.ReadTimeout > 0 {
				_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			}
			if frame.messageType != websocket.TextMessage {
				s.log().Debug("ignoring non-text frame", "message_type", frame.messageType)
				continue
			}
			s.HandleMessage(runCtx, frame.data)
		}
	}
}

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			// Abort a conversation start still in progress.
			s.convCancel()
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// HandleMessage processes one raw inbound frame. Malformed frames are logged
// and dropped; the connection stays open.
func (s *Session) HandleMessage(ctx context.Context, data []byte) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.Ended() {
		s.log().Debug("ignoring message on ended session")
		return
	}

	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		s.log().Warn("discarding malformed bot message", "error", err)
		s.metrics.RecordMessage(metrics.DirectionInbound, "invalid")
		return
	}
	if msg.Type.IsInbound() {
		s.metrics.RecordMessage(metrics.DirectionInbound, string(msg.Type))
	} else {
		s.metrics.RecordMessage(metrics.DirectionInbound, "unknown")
	}
	if msg.Type != protocol.UserStreamChunk {
		s.log().Debug("received bot message", "message", msg)
	}

	switch msg.Type {
	case protocol.SessionInitiate:
		s.handleInitiate(ctx, msg)
	case protocol.SessionResume:
		s.handleResume(ctx, msg)
	case protocol.UserStreamStart:
		s.handleUserStreamStart(ctx, msg)
	case protocol.UserStreamChunk:
		s.handleUserStreamChunk(msg)
	case protocol.UserStreamStop:
		s.handleUserStreamStop(ctx, msg)
	case protocol.Activities:
		s.handleActivities(msg)
	case protocol.SessionEnd:
		s.closeWith(&msg)
	default:
		s.log().Warn("unknown bot message type", "type", msg.Type)
	}
}

func (s *Session) handleInitiate(ctx context.Context, msg protocol.Message) {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		s.log().Warn("rejecting repeated session.initiate", "requested_conversation_id", msg.ConversationID)
		s.reply(ctx, protocol.SessionError, protocol.Message{
			ConversationID: msg.ConversationID,
			Reason:         "conversation already initiated",
		})
		return
	}
	s.conversationID = msg.ConversationID
	s.mediaFormat = protocol.NegotiateMediaFormat(msg.SupportedMediaFormats, s.cfg.MediaFormats, s.mediaFormat)
	s.logger = s.logger.With("conversation_id", msg.ConversationID)
	s.mu.Unlock()

	if err := s.observers.notifyConversationStart(s.convCtx, msg); err != nil {
		s.log().Warn("conversation start rejected", "error", err)
		s.metrics.RecordConversationStart(false)
		s.reply(ctx, protocol.SessionError, protocol.Message{
			Reason: fmt.Sprintf("Error handling conversation.start: %v", err),
		})
		s.Close()
		return
	}

	s.mu.Lock()
	if s.state == StateUninitialized {
		s.state = StateActive
	}
	active := s.state == StateActive
	format := s.mediaFormat
	s.mu.Unlock()
	if !active {
		return
	}

	s.metrics.RecordConversationStart(true)
	s.log().Info("conversation started", "media_format", format, "caller", msg.Caller)
	s.reply(ctx, protocol.SessionAccepted, protocol.Message{MediaFormat: format})
}

func (s *Session) handleResume(ctx context.Context, msg protocol.Message) {
	s.mu.Lock()
	matches := s.state == StateActive && s.conversationID == msg.ConversationID
	s.mu.Unlock()

	if matches {
		s.reply(ctx, protocol.SessionAccepted, protocol.Message{})
		return
	}
	s.log().Warn("resume for unknown conversation", "requested_conversation_id", msg.ConversationID)
	s.reply(ctx, protocol.SessionError, protocol.Message{
		ConversationID: msg.ConversationID,
		Reason:         "conversation not found",
	})
}

func (s *Session) handleUserStreamStart(ctx context.Context, msg protocol.Message) {
	stream := newUserStream(msg)

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		s.log().Warn("discarding userStream.start before conversation start")
		return
	}
	previous := s.userStream
	s.userStream = stream
	s.ingress = ingressOpen
	s.echo.reset()
	s.mu.Unlock()

	if previous != nil {
		s.log().Warn("userStream.start while a user stream is open; ending previous stream")
		previous.finish()
	}

	s.observers.emitUserStream(stream)
	s.reply(ctx, protocol.UserStreamStarted, protocol.Message{Participant: msg.Participant})
}

func (s *Session) handleUserStreamChunk(msg protocol.Message) {
	s.mu.Lock()
	stream := s.userStream
	open := s.ingress == ingressOpen && stream != nil
	s.mu.Unlock()

	if !open {
		s.log().Warn("discarding audio chunk outside a user stream")
		return
	}

	audio, err := base64.StdEncoding.DecodeString(msg.AudioChunk)
	if err != nil {
		s.log().Warn("discarding undecodable audio chunk", "error", err, "audio_chunk", protocol.RedactAudioChunk(msg.AudioChunk))
		return
	}
	stream.write(audio)
	s.metrics.RecordAudio(metrics.DirectionInbound, len(audio))

	if s.cfg.EchoDelay > 0 {
		s.mu.Lock()
		s.echo.append(audio)
		s.mu.Unlock()
	}
}

func (s *Session) handleUserStreamStop(ctx context.Context, msg protocol.Message) {
	s.mu.Lock()
	stream := s.userStream
	if s.ingress != ingressOpen || stream == nil {
		s.mu.Unlock()
		s.log().Warn("discarding userStream.stop without an open user stream")
		return
	}
	s.userStream = nil
	s.ingress = ingressIdle
	s.mu.Unlock()

	stream.finish()
	s.reply(ctx, protocol.UserStreamStopped, protocol.Message{Participant: msg.Participant})

	if s.cfg.EchoDelay > 0 {
		s.scheduleEcho()
	}
}

func (s *Session) handleActivities(msg protocol.Message) {
	if s.State() != StateActive {
		s.log().Warn("discarding activities before conversation start")
		return
	}
	for i, activity := range msg.Activities {
		if err := activity.Validate(); err != nil {
			s.log().Warn("skipping invalid activity", "index", i, "error", err)
			continue
		}
		s.observers.emitActivity(activity)
	}
}

// reply sends a protocol reply from the dispatch path. Failures are already
// reported through Send.
func (s *Session) reply(ctx context.Context, typ protocol.MessageType, payload protocol.Message) {
	if err := s.Send(ctx, typ, payload); err != nil {
		s.log().Warn("bot reply failed", "type", typ, "error", err)
	}
}

// Close ends the session. It is safe to call more than once and from any
// goroutine, including observers.
func (s *Session) Close() {
	s.closeWith(nil)
}

func (s *Session) closeWith(msg *protocol.Message) {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	defer close(s.closed)

	s.observers.emitEnd(msg)

	s.mu.Lock()
	s.state = StateEnded
	stream := s.userStream
	s.userStream = nil
	s.ingress = ingressIdle
	s.echo.stop()
	s.mu.Unlock()

	s.cancel()
	wait := time.NewTimer(s.cfg.WriteTimeout + 100*time.Millisecond)
	select {
	case <-s.writerDone:
	case <-wait.C:
	}
	wait.Stop()

	s.writable.Store(false)
	if err := s.conn.Close(); err != nil {
		s.log().Debug("closing bot connection", "error", err)
	}
	if stream != nil {
		stream.finish()
	}

	s.log().Info("conversation ended", "reason", EndReason(msg))
}

// EndReason describes why a session ended, given the message its OnEnd
// observers received.
func EndReason(msg *protocol.Message) string {
	if msg == nil {
		return "closed"
	}
	if msg.Reason != "" {
		return msg.Reason
	}
	return string(msg.Type)
}
