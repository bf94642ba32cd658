package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sjawhar/caption-relay/internal/caption"
)

// Wire message type tags, client → coordinator and coordinator → client.
const (
	TypeRegister      = "REGISTER"
	TypeCreateSession = "CREATE_SESSION"
	TypeCaptionData   = "CAPTION_DATA"
	TypeEndSession    = "END_SESSION"

	TypeRegistered     = "REGISTERED"
	TypeSessionCreated = "SESSION_CREATED"
	TypeCaptureStatus  = "CAPTURE_STATUS"
	TypeError          = "ERROR"
)

// ClientMessage is a message the transport agent sends to the coordinator.
type ClientMessage interface{ isClientMessage() }

type Register struct {
	ClientType string `json:"clientType"`
	Version    string `json:"version"`
}

type CreateSession struct {
	SessionID string           `json:"sessionId"`
	Title     string           `json:"title"`
	Platform  caption.Platform `json:"platform"`
	TabID     int              `json:"tabId"`
}

type WireCaptionData struct {
	SessionID string           `json:"sessionId"`
	Platform  caption.Platform `json:"platform"`
	Captions  []caption.Event  `json:"captions"`
	Timestamp time.Time        `json:"timestamp"`
}

type EndSession struct {
	SessionID string `json:"sessionId"`
}

func (Register) isClientMessage()        {}
func (CreateSession) isClientMessage()   {}
func (WireCaptionData) isClientMessage() {}
func (EndSession) isClientMessage()      {}

// ServerMessage is a message the coordinator sends back to the agent.
type ServerMessage interface{ isServerMessage() }

type Registered struct {
	ClientID string `json:"clientId"`
}

type SessionCreated struct {
	SessionID string      `json:"sessionId"`
	Session   SessionInfo `json:"session"`
}

type CaptureStatus struct {
	Status string `json:"status"`
}

type ErrorMessage struct {
	Error string `json:"error"`
}

func (Registered) isServerMessage()     {}
func (SessionCreated) isServerMessage() {}
func (CaptureStatus) isServerMessage()  {}
func (ErrorMessage) isServerMessage()   {}

// SessionInfo is the coordinator's view of a session as carried on the
// wire in SESSION_CREATED.
type SessionInfo struct {
	SessionID    string           `json:"sessionId"`
	Title        string           `json:"title"`
	Platform     caption.Platform `json:"platform"`
	TabID        int              `json:"tabId"`
	StartedAt    time.Time        `json:"startedAt"`
	CaptionCount int              `json:"captionCount"`
	State        string           `json:"state"`
}

// EncodeClient marshals a client message as flat JSON with a "type" tag.
func EncodeClient(m ClientMessage) ([]byte, error) {
	switch v := m.(type) {
	case Register:
		return marshalTagged(TypeRegister, v)
	case CreateSession:
		return marshalTagged(TypeCreateSession, v)
	case WireCaptionData:
		return marshalTagged(TypeCaptionData, v)
	case EndSession:
		return marshalTagged(TypeEndSession, v)
	}
	return nil, fmt.Errorf("unencodable client message %T", m)
}

// EncodeServer marshals a coordinator message as flat JSON with a "type" tag.
func EncodeServer(m ServerMessage) ([]byte, error) {
	switch v := m.(type) {
	case Registered:
		return marshalTagged(TypeRegistered, v)
	case SessionCreated:
		return marshalTagged(TypeSessionCreated, v)
	case CaptureStatus:
		return marshalTagged(TypeCaptureStatus, v)
	case ErrorMessage:
		return marshalTagged(TypeError, v)
	}
	return nil, fmt.Errorf("unencodable server message %T", m)
}

// ParseClient decodes one coordinator-bound message. Unknown or malformed
// payloads are errors; the caller logs and drops them without closing
// the connection.
func ParseClient(data []byte) (ClientMessage, error) {
	tag, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TypeRegister:
		var m Register
		return m, unmarshalBody(data, &m)
	case TypeCreateSession:
		var m CreateSession
		return m, unmarshalBody(data, &m)
	case TypeCaptionData:
		var m WireCaptionData
		return m, unmarshalBody(data, &m)
	case TypeEndSession:
		var m EndSession
		return m, unmarshalBody(data, &m)
	}
	return nil, fmt.Errorf("unknown message type %q", tag)
}

// ParseServer decodes one agent-bound message.
func ParseServer(data []byte) (ServerMessage, error) {
	tag, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch tag {
	case TypeRegistered:
		var m Registered
		return m, unmarshalBody(data, &m)
	case TypeSessionCreated:
		var m SessionCreated
		return m, unmarshalBody(data, &m)
	case TypeCaptureStatus:
		var m CaptureStatus
		return m, unmarshalBody(data, &m)
	case TypeError:
		var m ErrorMessage
		return m, unmarshalBody(data, &m)
	}
	return nil, fmt.Errorf("unknown message type %q", tag)
}

// ClientHandler routes parsed client messages on the coordinator side.
type ClientHandler struct {
	OnRegister      func(Register)
	OnCreateSession func(CreateSession)
	OnCaptionData   func(WireCaptionData)
	OnEndSession    func(EndSession)
}

func (h ClientHandler) Handle(m ClientMessage) error {
	switch v := m.(type) {
	case Register:
		if h.OnRegister == nil {
			return fmt.Errorf("no handler for %s", TypeRegister)
		}
		h.OnRegister(v)
	case CreateSession:
		if h.OnCreateSession == nil {
			return fmt.Errorf("no handler for %s", TypeCreateSession)
		}
		h.OnCreateSession(v)
	case WireCaptionData:
		if h.OnCaptionData == nil {
			return fmt.Errorf("no handler for %s", TypeCaptionData)
		}
		h.OnCaptionData(v)
	case EndSession:
		if h.OnEndSession == nil {
			return fmt.Errorf("no handler for %s", TypeEndSession)
		}
		h.OnEndSession(v)
	default:
		return fmt.Errorf("unhandled client message %T", m)
	}
	return nil
}

// ServerHandler routes parsed coordinator messages on the agent side.
type ServerHandler struct {
	OnRegistered     func(Registered)
	OnSessionCreated func(SessionCreated)
	OnCaptureStatus  func(CaptureStatus)
	OnError          func(ErrorMessage)
}

func (h ServerHandler) Handle(m ServerMessage) error {
	switch v := m.(type) {
	case Registered:
		if h.OnRegistered == nil {
			return fmt.Errorf("no handler for %s", TypeRegistered)
		}
		h.OnRegistered(v)
	case SessionCreated:
		if h.OnSessionCreated == nil {
			return fmt.Errorf("no handler for %s", TypeSessionCreated)
		}
		h.OnSessionCreated(v)
	case CaptureStatus:
		if h.OnCaptureStatus == nil {
			return fmt.Errorf("no handler for %s", TypeCaptureStatus)
		}
		h.OnCaptureStatus(v)
	case ErrorMessage:
		if h.OnError == nil {
			return fmt.Errorf("no handler for %s", TypeError)
		}
		h.OnError(v)
	default:
		return fmt.Errorf("unhandled server message %T", m)
	}
	return nil
}

func marshalTagged(tag string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", tag, err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flatten %s: %w", tag, err)
	}
	tagRaw, _ := json.Marshal(tag)
	fields["type"] = tagRaw
	return json.Marshal(fields)
}

func peekType(data []byte) (string, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}
	if probe.Type == "" {
		return "", fmt.Errorf("message has no type field")
	}
	return probe.Type, nil
}

func unmarshalBody(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse message body: %w", err)
	}
	return nil
}
