// Package avatar manages the rendering provider session: REST lifecycle,
// the lip-sync channel, and the audio tap that feeds it.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tripandevent/voice-agent-bridge/internal/observability"
	"github.com/tripandevent/voice-agent-bridge/internal/rtc"
)

const avatarIdentity = "liveavatar-avatar-byoli"

// SessionOptions configures a Session
type SessionOptions struct {
	APIBase  string // provider REST base, e.g. https://api.liveavatar.com
	APIKey   string
	AvatarID string

	RoomServerURL string
	RoomAPIKey    string
	RoomAPISecret string

	RestKeepAlive    time.Duration // REST ping cadence, default 30s
	ChannelKeepAlive time.Duration // channel ping cadence, default 60s
	HTTPTimeout      time.Duration
}

// Session drives one avatar rendering session through its lifecycle:
// token creation, start, keep-alives, audio forwarding, stop. All state
// transitions go through one mutex; channel writes are serialized separately
// because the websocket permits a single concurrent writer.
type Session struct {
	opts       SessionOptions
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *observability.Metrics

	mu           sync.Mutex
	started      bool
	starting     bool
	sessionID    string
	sessionToken string
	wsURL        string
	conn         *websocket.Conn
	cancelPings  context.CancelFunc
	pingsDone    sync.WaitGroup

	writeMu sync.Mutex
}

// NewSession creates an avatar session manager. metrics may be nil.
func NewSession(opts SessionOptions, logger zerolog.Logger, metrics *observability.Metrics) *Session {
	if opts.RestKeepAlive == 0 {
		opts.RestKeepAlive = 30 * time.Second
	}
	if opts.ChannelKeepAlive == 0 {
		opts.ChannelKeepAlive = 60 * time.Second
	}
	if opts.HTTPTimeout == 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	return &Session{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.HTTPTimeout},
		logger:     logger,
		metrics:    metrics,
	}
}

// Start brings the avatar into the given room: mints a publish-only join
// token, creates the provider session, starts it, and connects the lip-sync
// channel when the provider offers one. Without a channel URL the session
// runs degraded (video joins the room, no lip-sync) and audio sends become
// no-ops. Calling Start on a started session is a logged no-op.
func (s *Session) Start(ctx context.Context, roomName string) error {
	s.mu.Lock()
	if s.started || s.starting {
		s.mu.Unlock()
		s.logger.Warn().Msg("Avatar session already started")
		return nil
	}
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	s.logger.Info().
		Str("avatar_id", s.opts.AvatarID).
		Str("room", roomName).
		Msg("Creating avatar session")

	// Network phase, unlocked: state queries and Stop stay responsive
	// while the provider handshake is in flight.
	joinToken, err := rtc.MintAvatarToken(s.opts.RoomAPIKey, s.opts.RoomAPISecret, roomName, avatarIdentity)
	if err != nil {
		s.recordSession("error")
		return fmt.Errorf("mint avatar join token: %w", err)
	}

	sessionID, sessionToken, err := s.createSessionToken(ctx, roomName, joinToken)
	if err != nil {
		s.recordSession("error")
		return fmt.Errorf("create avatar session: %w", err)
	}

	wsURL, err := s.startSession(ctx, sessionToken)
	if err != nil {
		s.recordSession("error")
		return fmt.Errorf("start avatar session: %w", err)
	}

	var conn *websocket.Conn
	if wsURL != "" {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			// Degraded: video still renders in the room, lip-sync is lost
			s.logger.Error().Err(err).Msg("Avatar channel dial failed, continuing without lip-sync")
		} else {
			conn = c
			s.logger.Info().Str("session_id", sessionID).Msg("Avatar channel connected")
		}
	} else {
		s.logger.Warn().Msg("No channel URL returned by avatar provider, lip-sync will not work (video only)")
	}

	pingCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.sessionID = sessionID
	s.sessionToken = sessionToken
	s.wsURL = wsURL
	s.conn = conn
	s.cancelPings = cancel
	s.started = true
	s.pingsDone.Add(1)
	if conn != nil {
		s.pingsDone.Add(1)
	}
	s.mu.Unlock()

	go s.restKeepAliveLoop(pingCtx)
	if conn != nil {
		go s.channelKeepAliveLoop(pingCtx)
	}

	if conn != nil {
		s.recordSession("ok")
	} else {
		s.recordSession("degraded")
	}
	s.logger.Info().
		Str("session_id", sessionID).
		Bool("channel", conn != nil).
		Msg("Avatar session started")
	return nil
}

// Stop tears the session down: keep-alives cancelled, channel closed,
// best-effort REST stop, identifiers reset. Safe to call more than once.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false

	if s.cancelPings != nil {
		s.cancelPings()
		s.cancelPings = nil
	}

	conn := s.conn
	s.conn = nil
	sessionID := s.sessionID
	sessionToken := s.sessionToken
	s.sessionID = ""
	s.sessionToken = ""
	s.wsURL = ""
	s.mu.Unlock()

	s.pingsDone.Wait()

	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Avatar channel close failed")
		}
	}

	if sessionToken != "" {
		body := map[string]any{
			"session_id": sessionID,
			"reason":     "USER_DISCONNECTED",
		}
		if _, err := s.post(ctx, "/v1/sessions/stop", sessionToken, body); err != nil {
			// The provider reaps stale sessions on its own
			s.logger.Warn().Err(err).Msg("Avatar session stop request failed")
		}
	}

	s.logger.Info().Str("session_id", sessionID).Msg("Avatar session stopped")
}

// Active reports whether a session is currently running
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// SendAudio forwards a base64-encoded PCM chunk over the lip-sync channel.
// Fire-and-forget: failures and a missing channel are logged, never returned.
func (s *Session) SendAudio(b64Audio string) {
	s.sendChannel(map[string]any{
		"type":  "agent.speak",
		"audio": b64Audio,
	})
}

// NotifySpeakEnd tells the provider the agent finished a speech segment and
// should resume its listening pose.
func (s *Session) NotifySpeakEnd() {
	eventMsg := map[string]any{
		"type":     "agent.speak_end",
		"event_id": uuid.NewString(),
	}
	s.sendChannel(eventMsg)
	s.sendChannel(map[string]any{
		"type":     "agent.start_listening",
		"event_id": uuid.NewString(),
	})
}

// NotifyInterrupt tells the provider to abandon buffered lip-sync playback
func (s *Session) NotifyInterrupt() {
	s.logger.Debug().Msg("Sending avatar interrupt")
	s.sendChannel(map[string]any{
		"type":     "agent.interrupt",
		"event_id": uuid.NewString(),
	})
}

// sendChannel writes one JSON message to the lip-sync channel if connected.
// Send failures are downgraded to warnings: a dropped lip-sync message only
// costs visual fidelity, never the conversation.
func (s *Session) sendChannel(msg map[string]any) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	s.writeMu.Lock()
	err := conn.WriteJSON(msg)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Avatar channel send failed")
	}
}

func (s *Session) channelKeepAliveLoop(ctx context.Context) {
	defer s.pingsDone.Done()
	ticker := time.NewTicker(s.opts.ChannelKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendChannel(map[string]any{
				"type":     "session.keep_alive",
				"event_id": uuid.NewString(),
			})
			s.logger.Debug().Msg("Avatar channel keep-alive sent")
		}
	}
}

func (s *Session) restKeepAliveLoop(ctx context.Context) {
	defer s.pingsDone.Done()
	ticker := time.NewTicker(s.opts.RestKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			token := s.sessionToken
			s.mu.Unlock()
			if token == "" {
				continue
			}
			if _, err := s.post(ctx, "/v1/sessions/keep-alive", token, nil); err != nil {
				if s.metrics != nil {
					s.metrics.RecordKeepAliveFailure("rest")
				}
				s.logger.Warn().Err(err).Msg("Avatar REST keep-alive failed")
				continue
			}
			s.logger.Debug().Msg("Avatar REST keep-alive sent")
		}
	}
}

// createSessionToken exchanges the provider API key for a per-session token.
// The room join token travels inside the request so the provider can connect
// to our media room.
func (s *Session) createSessionToken(ctx context.Context, roomName, joinToken string) (string, string, error) {
	body := map[string]any{
		"mode":      "CUSTOM",
		"avatar_id": s.opts.AvatarID,
		"livekit_config": map[string]any{
			"livekit_url":          s.opts.RoomServerURL,
			"livekit_room":         roomName,
			"livekit_client_token": joinToken,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", "", fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.APIBase+"/v1/sessions/token", bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.opts.APIKey)

	data, err := s.do(req)
	if err != nil {
		return "", "", err
	}

	sessionID, _ := data["session_id"].(string)
	sessionToken, _ := data["session_token"].(string)
	if sessionID == "" || sessionToken == "" {
		return "", "", fmt.Errorf("session token response missing session_id/session_token")
	}
	return sessionID, sessionToken, nil
}

// startSession activates the created session. The channel URL is optional;
// an empty string means the provider offers no lip-sync channel.
func (s *Session) startSession(ctx context.Context, sessionToken string) (string, error) {
	data, err := s.post(ctx, "/v1/sessions/start", sessionToken, nil)
	if err != nil {
		return "", err
	}
	wsURL, _ := data["ws_url"].(string)
	return wsURL, nil
}

// post issues an authenticated provider request and returns the decoded
// "data" object (or the top-level object when no envelope is present).
func (s *Session) post(ctx context.Context, path, bearer string, body map[string]any) (map[string]any, error) {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.APIBase+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	return s.do(req)
}

func (s *Session) do(req *http.Request) (map[string]any, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("avatar api error: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if inner, ok := decoded["data"].(map[string]any); ok {
		return inner, nil
	}
	return decoded, nil
}

func (s *Session) recordSession(status string) {
	if s.metrics != nil {
		s.metrics.RecordAvatarSession(status)
	}
}

func truncate(str string, n int) string {
	if len(str) <= n {
		return str
	}
	return str[:n]
}
