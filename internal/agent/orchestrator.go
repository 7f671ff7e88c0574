// Package agent hosts the conversation orchestrator: the thin shell that
// wires the CRM gateway, the avatar session, and the client data channel
// around the speech pipeline.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/tripandevent/voice-agent-bridge/internal/crm"
	"github.com/tripandevent/voice-agent-bridge/internal/observability"
)

const (
	topicRobotCommands = "robot-commands"
	topicTranscripts   = "transcripts"

	stopTimeout = 10 * time.Second
)

// DataPublisher pushes reliable data messages to room participants
type DataPublisher interface {
	PublishData(ctx context.Context, topic string, payload []byte) error
}

// CRMService is the slice of the CRM gateway the orchestrator consumes
type CRMService interface {
	SaveLead(ctx context.Context, in crm.LeadInput) crm.LeadResult
	FindPackages(ctx context.Context, q crm.PackageQuery) crm.PackagesResult
	GetPackageDetail(ctx context.Context, packageID string) crm.PackageDetail
}

// AvatarSession is the slice of the avatar manager the orchestrator consumes
type AvatarSession interface {
	Start(ctx context.Context, roomName string) error
	Stop(ctx context.Context)
}

// Options configures an Orchestrator
type Options struct {
	EnablePackageSearch bool
}

// Orchestrator coordinates one conversation. The speech pipeline calls its
// tool methods and lifecycle hooks; everything else (CRM, avatar, robot
// client) hangs off those calls. Side effects on the data channel and the
// avatar are fire-and-forget so a slow integration never stalls a reply.
type Orchestrator struct {
	crm       CRMService
	avatar    AvatarSession
	publisher DataPublisher
	logger    zerolog.Logger
	metrics   *observability.Metrics
	opts      Options
}

// NewOrchestrator creates a conversation orchestrator. avatar, publisher and
// metrics may be nil; the corresponding side effects become no-ops.
func NewOrchestrator(crmSvc CRMService, avatar AvatarSession, publisher DataPublisher, opts Options, logger zerolog.Logger, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		crm:       crmSvc,
		avatar:    avatar,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
}

// StartConversation brings the conversation up: the avatar joins the room and
// the robot greets. An avatar failure is logged and the conversation proceeds
// audio-only; it never aborts the session.
func (o *Orchestrator) StartConversation(ctx context.Context, roomName string) {
	if o.metrics != nil {
		o.metrics.RecordConversationStart()
	}
	o.logger.Info().Str("room", roomName).Msg("Conversation starting")

	if o.avatar != nil {
		if err := o.avatar.Start(ctx, roomName); err != nil {
			o.logger.Error().Err(err).Msg("Avatar failed to start, continuing in audio-only mode")
		}
	}

	o.sendRobotCommand(ctx, "robot_gesture", map[string]string{"gesture": "greet"})
}

// OnUserSpeech forwards a committed user utterance to the client display.
// Fire-and-forget.
func (o *Orchestrator) OnUserSpeech(text string) {
	if text == "" {
		return
	}
	go o.sendTranscript(context.Background(), text, "user")
}

// OnAgentSpeech forwards a committed agent utterance to the client display.
// Fire-and-forget.
func (o *Orchestrator) OnAgentSpeech(text string) {
	if text == "" {
		return
	}
	go o.sendTranscript(context.Background(), text, "agent")
}

// OnSessionClose tears the conversation down. The avatar stop runs in the
// background with its own deadline so close handling stays prompt.
func (o *Orchestrator) OnSessionClose() {
	if o.metrics != nil {
		o.metrics.RecordConversationEnd()
	}
	o.logger.Info().Msg("Conversation closed")

	if o.avatar != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			o.avatar.Stop(ctx)
		}()
	}
}

// sendRobotCommand publishes a robot command on the data channel. Publish
// failures are logged and swallowed.
func (o *Orchestrator) sendRobotCommand(ctx context.Context, command string, args map[string]string) {
	if o.publisher == nil {
		o.logger.Warn().Str("command", command).Msg("No data publisher, robot command dropped")
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":      "robot_command",
		"command":   command,
		"arguments": args,
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("Marshal robot command failed")
		return
	}
	if err := o.publisher.PublishData(ctx, topicRobotCommands, payload); err != nil {
		o.logger.Error().Err(err).Str("command", command).Msg("Robot command publish failed")
	}
}

func (o *Orchestrator) sendTranscript(ctx context.Context, text, speaker string) {
	if o.publisher == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":    "transcript",
		"text":    text,
		"speaker": speaker,
	})
	if err != nil {
		o.logger.Error().Err(err).Msg("Marshal transcript failed")
		return
	}
	if err := o.publisher.PublishData(ctx, topicTranscripts, payload); err != nil {
		o.logger.Error().Err(err).Str("speaker", speaker).Msg("Transcript publish failed")
	}
}
