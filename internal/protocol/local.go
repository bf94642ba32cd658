// Package protocol defines the two message surfaces of the system: the
// in-process command channel between the transport agent and the extractor,
// and the JSON wire protocol spoken with the session coordinator. Both are
// closed tagged unions routed through exhaustive handler tables, so adding
// a message kind is a compile-visible change rather than a default case.
package protocol

import (
	"fmt"

	"github.com/sjawhar/caption-relay/internal/caption"
)

// Command is a control message sent to the extractor. The set is closed.
type Command interface{ isCommand() }

type StartCapture struct {
	SessionID string
}

type StopCapture struct{}

type GetStatus struct {
	Reply chan<- Status
}

func (StartCapture) isCommand() {}
func (StopCapture) isCommand()  {}
func (GetStatus) isCommand()    {}

// Status is the extractor's answer to GetStatus.
type Status struct {
	IsCapturing bool             `json:"isCapturing"`
	Platform    caption.Platform `json:"platform"`
	SessionID   string           `json:"sessionId"`
	BufferSize  int              `json:"bufferSize"`
}

// CommandHandler routes commands to one func per kind.
type CommandHandler struct {
	OnStartCapture func(StartCapture)
	OnStopCapture  func(StopCapture)
	OnGetStatus    func(GetStatus)
}

// Handle dispatches cmd to its handler. A nil handler for a received kind
// is reported as an error; the union is closed, so the type switch covers
// every variant.
func (h CommandHandler) Handle(cmd Command) error {
	switch c := cmd.(type) {
	case StartCapture:
		if h.OnStartCapture == nil {
			return fmt.Errorf("no handler for StartCapture")
		}
		h.OnStartCapture(c)
	case StopCapture:
		if h.OnStopCapture == nil {
			return fmt.Errorf("no handler for StopCapture")
		}
		h.OnStopCapture(c)
	case GetStatus:
		if h.OnGetStatus == nil {
			return fmt.Errorf("no handler for GetStatus")
		}
		h.OnGetStatus(c)
	default:
		return fmt.Errorf("unhandled command %T", cmd)
	}
	return nil
}

// Notification is a message emitted by the extractor (or the feed layer)
// toward its host. The set is closed.
type Notification interface{ isNotification() }

type MeetingDetected struct {
	Platform caption.Platform
	URL      string
}

type CaptureStarted struct {
	SessionID string
	Platform  caption.Platform
}

type CaptureStopped struct {
	SessionID string
	Platform  caption.Platform
}

type CaptionData struct {
	SessionID string
	Platform  caption.Platform
	Captions  []caption.Event
}

func (MeetingDetected) isNotification() {}
func (CaptureStarted) isNotification() {}
func (CaptureStopped) isNotification() {}
func (CaptionData) isNotification()    {}

// NotificationHandler routes notifications to one func per kind.
type NotificationHandler struct {
	OnMeetingDetected func(MeetingDetected)
	OnCaptureStarted  func(CaptureStarted)
	OnCaptureStopped  func(CaptureStopped)
	OnCaptionData     func(CaptionData)
}

func (h NotificationHandler) Handle(n Notification) error {
	switch v := n.(type) {
	case MeetingDetected:
		if h.OnMeetingDetected == nil {
			return fmt.Errorf("no handler for MeetingDetected")
		}
		h.OnMeetingDetected(v)
	case CaptureStarted:
		if h.OnCaptureStarted == nil {
			return fmt.Errorf("no handler for CaptureStarted")
		}
		h.OnCaptureStarted(v)
	case CaptureStopped:
		if h.OnCaptureStopped == nil {
			return fmt.Errorf("no handler for CaptureStopped")
		}
		h.OnCaptureStopped(v)
	case CaptionData:
		if h.OnCaptionData == nil {
			return fmt.Errorf("no handler for CaptionData")
		}
		h.OnCaptionData(v)
	default:
		return fmt.Errorf("unhandled notification %T", n)
	}
	return nil
}
