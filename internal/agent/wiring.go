package agent

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tripandevent/voice-agent-bridge/internal/avatar"
	"github.com/tripandevent/voice-agent-bridge/internal/config"
	"github.com/tripandevent/voice-agent-bridge/internal/crm"
	"github.com/tripandevent/voice-agent-bridge/internal/observability"
)

// Conversation bundles the per-conversation components the speech pipeline
// plugs into: the orchestrator for tools and hooks, the avatar session, and
// the audio tap that feeds it.
type Conversation struct {
	Orchestrator *Orchestrator
	Avatar       *avatar.Session
	Tap          *avatar.Tap

	ID      string
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// NewConversation assembles one conversation from configuration. onSegment
// receives the tap's segment-finished signal (interrupted=true on barge-in);
// the speech pipeline uses it to drive its playout accounting.
func NewConversation(cfg *config.Config, crmClient *crm.Client, publisher DataPublisher, onSegment func(interrupted bool)) *Conversation {
	conversationID := observability.NewConversationID()
	logger := observability.WithConversationID(conversationID)
	metrics := observability.NewConversationMetrics(conversationID)

	gateway := crm.NewGateway(crmClient, logger, metrics)

	session := avatar.NewSession(avatar.SessionOptions{
		APIBase:          cfg.AvatarAPIBase,
		APIKey:           cfg.AvatarAPIKey,
		AvatarID:         cfg.AvatarID,
		RoomServerURL:    cfg.RoomServerURL,
		RoomAPIKey:       cfg.RoomAPIKey,
		RoomAPISecret:    cfg.RoomAPISecret,
		RestKeepAlive:    time.Duration(cfg.RestKeepAliveInterval) * time.Second,
		ChannelKeepAlive: time.Duration(cfg.ChannelKeepAliveInterval) * time.Second,
	}, logger, metrics)

	tap := avatar.NewTap(session, avatar.TapOptions{
		TargetSampleRate:  cfg.AvatarSampleRate,
		QueueSize:         cfg.AudioQueueSize,
		OnSegmentFinished: onSegment,
	}, logger, metrics)

	orchestrator := NewOrchestrator(gateway, session, publisher, Options{
		EnablePackageSearch: cfg.EnablePackageSearch,
	}, logger, metrics)

	return &Conversation{
		Orchestrator: orchestrator,
		Avatar:       session,
		Tap:          tap,
		ID:           conversationID,
		Logger:       logger,
		Metrics:      metrics,
	}
}

// Close releases the conversation's resources: the tap sender stops first so
// no audio lands on a stopping session.
func (c *Conversation) Close() {
	c.Tap.Close()
	c.Orchestrator.OnSessionClose()
}
