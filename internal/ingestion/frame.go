package ingestion

import (
	"bytes"
	"encoding/json"

	"github.com/hypetrain/hypetrain/internal/models"
)

// ConnectionLimitDetail is the detail text Twitter sends when the app already
// holds the maximum number of stream connections.
const ConnectionLimitDetail = "This stream is currently at the maximum allowed connection limit."

// FrameKind classifies one line of the stream body.
type FrameKind int

const (
	FrameKeepAlive FrameKind = iota
	FrameConnectionLimit
	FrameReconnect
	FrameEvent
	FrameUnknown
)

func (k FrameKind) String() string {
	switch k {
	case FrameKeepAlive:
		return "keep_alive"
	case FrameConnectionLimit:
		return "connection_limit"
	case FrameReconnect:
		return "reconnect"
	case FrameEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Frame is a classified stream line.
type Frame struct {
	Kind  FrameKind
	Tweet models.Tweet
	Raw   []byte
}

type streamPayload struct {
	Data            *models.Tweet   `json:"data"`
	ConnectionIssue json.RawMessage `json:"connection_issue"`
	Detail          string          `json:"detail"`
}

// ClassifyFrame decides what a single newline-delimited stream record means.
// The limit detail is checked before connection_issue because Twitter sends
// both on a rejected connection.
func ClassifyFrame(line []byte) Frame {
	raw := bytes.TrimSpace(line)
	if len(raw) == 0 {
		return Frame{Kind: FrameKeepAlive}
	}

	var payload streamPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		if bytes.Contains(raw, []byte(ConnectionLimitDetail)) {
			return Frame{Kind: FrameConnectionLimit, Raw: raw}
		}
		return Frame{Kind: FrameKeepAlive, Raw: raw}
	}

	switch {
	case payload.Detail == ConnectionLimitDetail:
		return Frame{Kind: FrameConnectionLimit, Raw: raw}
	case len(payload.ConnectionIssue) > 0 && string(payload.ConnectionIssue) != "null":
		return Frame{Kind: FrameReconnect, Raw: raw}
	case payload.Data != nil:
		return Frame{Kind: FrameEvent, Tweet: *payload.Data, Raw: raw}
	default:
		return Frame{Kind: FrameUnknown, Raw: raw}
	}
}
