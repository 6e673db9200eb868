package onebot

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"qqbridge/internal/domain"
)

// Event is the subset of a OneBot message event that qqbridge reads.
type Event struct {
	PostType    string          `json:"post_type,omitempty"`
	MessageType string          `json:"message_type"`
	GroupID     FlexID          `json:"group_id"`
	UserID      FlexID          `json:"user_id"`
	RawMessage  json.RawMessage `json:"raw_message,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
	Sender      *Sender         `json:"sender,omitempty"`
}

type Sender struct {
	Card     string `json:"card,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

// Segment is one element of an array-format message.
type Segment struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// FlexID is an identifier that gateways encode either as a JSON string or
// as a JSON number. Null and absent values decode to "".
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// ExtractText returns the message text of an event. A string raw_message
// wins, then a string message, then the concatenated text segments of an
// array message. Non-text segments are dropped.
func (e *Event) ExtractText() string {
	if s, ok := rawString(e.RawMessage); ok {
		return s
	}
	if s, ok := rawString(e.Message); ok {
		return s
	}
	var segs []Segment
	if len(e.Message) == 0 || json.Unmarshal(e.Message, &segs) != nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range segs {
		if seg.Type != "text" {
			continue
		}
		var data struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(seg.Data, &data) == nil {
			b.WriteString(data.Text)
		}
	}
	return b.String()
}

// rawString reports whether raw is a JSON string. Absent and null values
// are not strings.
func rawString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Normalize converts the event into a domain message.
func (e *Event) Normalize() domain.InboundMessage {
	msg := domain.InboundMessage{
		MessageType: e.MessageType,
		GroupID:     e.GroupID.String(),
		SenderID:    e.UserID.String(),
		Text:        e.ExtractText(),
	}
	if e.Sender != nil {
		msg.SenderName = e.Sender.Card
		if msg.SenderName == "" {
			msg.SenderName = e.Sender.Nickname
		}
	}
	return msg
}

// numericID returns id as a JSON number when it is a decimal integer,
// which is what most gateways expect for group_id and user_id.
func numericID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
