package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/avvvet/chatbuddy/internal/config"
	"github.com/avvvet/chatbuddy/internal/models"
)

// InboundHandler processes one inbound chat event.
type InboundHandler interface {
	HandleInbound(ctx context.Context, event *models.InboundEvent) (*models.OutboundReply, error)
}

type NATSTransport struct {
	conn           *nats.Conn
	config         config.NATSConfig
	handler        InboundHandler
	requestTimeout time.Duration
	logger         *slog.Logger
}

func NewNATSTransport(cfg config.NATSConfig, serviceName string, handler InboundHandler, requestTimeout time.Duration, logger *slog.Logger) (*NATSTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	instance := fmt.Sprintf("%s-%s", serviceName, uuid.NewString()[:8])

	// Connect to NATS
	conn, err := nats.Connect(cfg.URL,
		nats.Name(instance),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS server", "url", cfg.URL, "instance", instance)

	return NewNATSTransportFromConn(conn, cfg, handler, requestTimeout, logger), nil
}

// NewNATSTransportFromConn wraps an existing connection. conn may be nil when
// only message processing is exercised.
func NewNATSTransportFromConn(conn *nats.Conn, cfg config.NATSConfig, handler InboundHandler, requestTimeout time.Duration, logger *slog.Logger) *NATSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 2 * time.Minute
	}
	return &NATSTransport{
		conn:           conn,
		config:         cfg,
		handler:        handler,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

func (nt *NATSTransport) Start() error {
	// Queue group so several instances share the inbound stream
	_, err := nt.conn.QueueSubscribe(nt.config.InboundSubject, nt.config.QueueGroup, nt.handleInbound)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.config.InboundSubject, err)
	}

	nt.logger.Info("subscribed", "subject", nt.config.InboundSubject, "queue", nt.config.QueueGroup)
	return nil
}

func (nt *NATSTransport) handleInbound(msg *nats.Msg) {
	reply := nt.process(msg.Data)

	if msg.Reply == "" {
		nt.logger.Debug("inbound event without reply subject", "conversation", reply.ConversationKey)
		return
	}
	if err := nt.sendResponse(msg, reply); err != nil {
		nt.logger.Error("error sending response", "error", err)
	}
}

// process decodes one event and runs the handler.
func (nt *NATSTransport) process(data []byte) *models.OutboundReply {
	var event models.InboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		nt.logger.Warn("error parsing inbound event", "error", err)
		return errorReply(event.ConversationKey, models.ErrorParseError, "invalid event format")
	}

	nt.logger.Debug("processing inbound event", "conversation", event.ConversationKey, "sender", event.SenderID)

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), nt.requestTimeout)
	defer cancel()

	reply, err := nt.handler.HandleInbound(ctx, &event)
	if err != nil {
		nt.logger.Error("error processing inbound event", "conversation", event.ConversationKey, "error", err)
		return errorReply(event.ConversationKey, models.ErrorLLMFailed, err.Error())
	}
	return reply
}

func (nt *NATSTransport) sendResponse(msg *nats.Msg, reply *models.OutboundReply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if err := msg.Respond(data); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}

	nt.logger.Debug("response sent", "conversation", reply.ConversationKey, "status", reply.Status)
	return nil
}

// PublishProactive posts an unprompted message on the outbound subject.
func (nt *NATSTransport) PublishProactive(_ context.Context, message *models.ProactiveMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal proactive message: %w", err)
	}
	if err := nt.conn.Publish(nt.config.OutboundSubject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", nt.config.OutboundSubject, err)
	}
	nt.logger.Info("proactive message published", "conversation", message.ConversationKey, "level", message.ColdLevel)
	return nil
}

func (nt *NATSTransport) Close() error {
	if nt.conn != nil {
		if err := nt.conn.Drain(); err != nil {
			nt.conn.Close()
			return fmt.Errorf("failed to drain NATS connection: %w", err)
		}
		nt.logger.Info("NATS connection closed")
	}
	return nil
}

func errorReply(key, errorCode, errorMessage string) *models.OutboundReply {
	return &models.OutboundReply{
		ConversationKey: key,
		Status:          models.StatusError,
		ErrorCode:       &errorCode,
		ErrorMessage:    &errorMessage,
	}
}
