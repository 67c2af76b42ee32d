package gateway

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lexiqai/dialogue-gateway/internal/dialogue"
	"github.com/lexiqai/dialogue-gateway/internal/observability"
	"github.com/rs/zerolog"
)

// connection is one client socket holding at most one conversation
type connection struct {
	id      string
	conn    *websocket.Conn
	handler *Handler
	logger  zerolog.Logger

	// gorilla/websocket allows one concurrent writer
	writeMu sync.Mutex

	mu       sync.Mutex
	session  *dialogue.Session
	npc      string
	persona  string
	encoding string
}

func newConnection(conn *websocket.Conn, h *Handler) *connection {
	id := uuid.New().String()
	return &connection{
		id:      id,
		conn:    conn,
		handler: h,
		logger:  observability.WithCorrelationID(id).With().Str("component", "gateway").Logger(),
	}
}

// readLoop handles client messages until the socket closes, then abandons the conversation
func (c *connection) readLoop() {
	defer c.closeSession()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to parse client message")
			c.reject(ReasonBadMessage)
			continue
		}

		switch msg.Type {
		case MessageStart:
			c.handleStart(msg)
		case MessageAsk:
			c.handleAsk(msg)
		case MessageCancel:
			c.handleCancel()
		default:
			c.logger.Debug().Str("type", msg.Type).Msg("Unknown client message")
			c.reject(ReasonBadMessage)
		}
	}
}

func (c *connection) handleStart(msg ClientMessage) {
	c.mu.Lock()
	open := c.session != nil
	c.mu.Unlock()
	if open {
		c.reject(ReasonAlreadyOpen)
		return
	}

	persona, voice := msg.Persona, msg.Voice
	if msg.NPC != "" {
		npc, ok := c.handler.catalog.Get(msg.NPC)
		if !ok {
			c.reject(ReasonUnknownNPC)
			return
		}
		persona = npc.Persona
		if voice == "" {
			voice = npc.Voice
		}
	}
	if strings.TrimSpace(persona) == "" {
		c.reject(ReasonNoPersona)
		return
	}

	encoding := EncodingSamples
	if msg.AudioEncoding == EncodingWAV {
		encoding = EncodingWAV
	}

	session := c.handler.orchestrator.OpenSessionWithID(uuid.New().String(), c.id, voice, c.deliver)

	c.mu.Lock()
	c.session = session
	c.npc = msg.NPC
	c.persona = persona
	c.encoding = encoding
	c.mu.Unlock()

	c.logger.Info().
		Str("session_id", session.ID()).
		Str("npc", msg.NPC).
		Str("voice", session.Voice()).
		Msg("Conversation started")

	c.send(ServerEvent{
		Type:      EventSession,
		SessionID: session.ID(),
		NPC:       msg.NPC,
		Voice:     session.Voice(),
	})
}

func (c *connection) handleAsk(msg ClientMessage) {
	c.mu.Lock()
	session, persona := c.session, c.persona
	c.mu.Unlock()

	if session == nil {
		c.reject(ReasonNoSession)
		return
	}

	// Send thinking before the question can possibly be delivered
	c.writeMu.Lock()
	err := c.handler.orchestrator.AskQuestion(session, persona, msg.Question)
	if err == nil {
		err = c.writeLocked(ServerEvent{Type: EventThinking, SessionID: session.ID()})
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug().Err(err).Msg("Failed to send thinking event")
		}
		return
	}
	c.writeMu.Unlock()

	switch {
	case errors.Is(err, dialogue.ErrEmptyQuestion):
		c.reject(ReasonEmptyQuestion)
	case errors.Is(err, dialogue.ErrSessionBusy):
		c.reject(ReasonBusy)
	default:
		c.reject(ReasonNoSession)
	}
}

func (c *connection) handleCancel() {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil {
		c.reject(ReasonNoSession)
		return
	}
	c.handler.orchestrator.Cancel(session)
}

func (c *connection) closeSession() {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session != nil {
		c.handler.orchestrator.CloseSession(session)
	}
}

// deliver forwards a dialogue result to the client
func (c *connection) deliver(result dialogue.Result) {
	c.mu.Lock()
	encoding := c.encoding
	var sessionID string
	if c.session != nil {
		sessionID = c.session.ID()
	}
	c.mu.Unlock()

	event := ServerEvent{
		Type:      EventDialogue,
		SessionID: sessionID,
		Text:      result.Text,
	}

	if result.HasAudio() {
		if encoding == EncodingWAV {
			wav, err := result.Audio.WAV()
			if err != nil {
				c.logger.Warn().Err(err).Msg("Failed to encode WAV, sending text only")
			} else {
				event.AudioWAV = base64.StdEncoding.EncodeToString(wav)
			}
		} else {
			event.Audio = result.Audio
		}
	}

	c.send(event)
}

func (c *connection) reject(reason string) {
	c.send(ServerEvent{Type: EventRejected, Reason: reason})
}

func (c *connection) send(event ServerEvent) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.writeLocked(event); err != nil {
		c.logger.Debug().Err(err).Str("event", event.Type).Msg("Failed to send event")
	}
}

// writeLocked must be called with writeMu held
func (c *connection) writeLocked(event ServerEvent) error {
	data, err := sonic.Marshal(event)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
