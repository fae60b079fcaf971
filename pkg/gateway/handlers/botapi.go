package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-botapi/pkg/gateway/apierror"
	"github.com/vango-go/vai-botapi/pkg/gateway/auth"
	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/protocol"
	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/session"
	"github.com/vango-go/vai-botapi/pkg/gateway/botapi/sessions"
	"github.com/vango-go/vai-botapi/pkg/gateway/config"
	"github.com/vango-go/vai-botapi/pkg/gateway/journal"
	"github.com/vango-go/vai-botapi/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-botapi/pkg/gateway/metrics"
	"github.com/vango-go/vai-botapi/pkg/gateway/mw"
)

const journalTimeout = 5 * time.Second

// Request describes the HTTP request a bot connection was upgraded from.
type Request struct {
	ConnectionID string
	RequestID    string
	RemoteAddr   string
	URL          *url.URL
	Header       http.Header
}

// ConversationHandler is called once per connection when session.initiate
// arrives, before session.accepted is sent. Register further observers on s
// here. A non-nil error is reported to the peer as session.error and ends the
// session.
//
// ctx is s.Context(): it ends with the session or when the connection fails,
// so it may be kept for sends after the handler returns.
type ConversationHandler func(ctx context.Context, s *session.Session, req Request, msg protocol.Message) error

// BotAPIHandler upgrades bot connections and runs one Session per connection.
type BotAPIHandler struct {
	Config         config.Config
	Logger         *slog.Logger
	Lifecycle      *lifecycle.Lifecycle
	Sessions       *sessions.Tracker
	Metrics        *metrics.Metrics
	Journal        journal.Journal
	OnConversation ConversationHandler
}

func (h BotAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		h.Metrics.RecordUpgradeRejection("method_not_allowed")
		w.Header().Set("Allow", http.MethodGet)
		apierror.Write(w, http.StatusMethodNotAllowed, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID})
		return
	}
	if h.Lifecycle.IsDraining() {
		h.Metrics.RecordUpgradeRejection("draining")
		apierror.Write(w, http.StatusServiceUnavailable, &apierror.Error{Type: apierror.ErrOverloaded, Message: "gateway is draining", Code: "draining", RequestID: reqID})
		return
	}
	if !auth.Authorized(r, h.Config.Token) {
		h.Metrics.RecordUpgradeRejection("unauthorized")
		w.Header().Set("WWW-Authenticate", `Bearer realm="botapi"`)
		apierror.Write(w, http.StatusUnauthorized, &apierror.Error{Type: apierror.ErrAuthentication, Message: "invalid bearer token", RequestID: reqID})
		return
	}

	logger := h.logger()
	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Metrics.RecordUpgradeRejection("bad_handshake")
		logger.Debug("bot websocket upgrade failed", "request_id", reqID, "error", err)
		return
	}
	if h.Config.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxMessageBytes)
	}

	req := Request{
		ConnectionID: uuid.NewString(),
		RequestID:    reqID,
		RemoteAddr:   r.RemoteAddr,
		URL:          r.URL,
		Header:       r.Header.Clone(),
	}
	logger = logger.With("connection_id", req.ConnectionID, "request_id", reqID)

	s, err := session.New(session.Dependencies{
		Conn:    conn,
		Logger:  logger,
		Metrics: h.Metrics,
		Config: session.Config{
			PingInterval:   h.Config.PingInterval,
			WriteTimeout:   h.Config.WriteTimeout,
			ReadTimeout:    h.Config.KeepAliveTimeout,
			MaxPlayStreams: h.Config.MaxPlayStreams,
			PlayChunkBytes: h.Config.PlayChunkBytes,
			MediaFormats:   h.Config.PreferredMediaFormats(),
			EchoDelay:      h.Config.EchoDelay,
		},
	})
	if err != nil {
		logger.Error("failed to create bot session", "error", err)
		_ = conn.Close()
		return
	}

	h.Metrics.RecordSessionOpen()
	defer h.Metrics.RecordSessionClose()
	logger.Info("bot connection opened", "remote_addr", req.RemoteAddr)

	h.attach(s, req, logger)

	unregister := h.Sessions.Register(req.ConnectionID, sessions.Handle{ConversationID: s.ConversationID, Close: s.Close})
	defer unregister()

	if err := s.Run(r.Context()); err != nil {
		logger.Warn("bot session ended with error", "error", err)
	}
}

// attach wires the application handler and the journal to s.
func (h BotAPIHandler) attach(s *session.Session, req Request, logger *slog.Logger) {
	jr := h.Journal
	if jr == nil {
		jr = journal.Nop{}
	}
	var started atomic.Bool

	s.OnConversationStart(func(ctx context.Context, msg protocol.Message) error {
		if h.OnConversation != nil {
			if err := h.OnConversation(ctx, s, req, msg); err != nil {
				return err
			}
		}
		started.Store(true)

		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
		defer cancel()
		err := jr.ConversationStarted(jctx, journal.Entry{
			ConnectionID:   req.ConnectionID,
			ConversationID: msg.ConversationID,
			RequestID:      req.RequestID,
			RemoteAddr:     req.RemoteAddr,
			Caller:         msg.Caller,
			MediaFormat:    string(s.MediaFormat()),
			StartedAt:      time.Now(),
		})
		if err != nil {
			logger.Warn("journal conversation start failed", "error", err)
		}
		return nil
	})

	s.OnEnd(func(msg *protocol.Message) {
		if !started.Load() {
			return
		}
		jctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := jr.ConversationEnded(jctx, req.ConnectionID, session.EndReason(msg), time.Now()); err != nil {
			logger.Warn("journal conversation end failed", "error", err)
		}
	})
}

func (h BotAPIHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
