// Package protocol defines the JSON frames exchanged with clients.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message types carried in the msg_type field of outbound frames.
const (
	MsgTypeEnter = "ENTER"
	MsgTypeExit  = "EXIT"
	MsgTypeChat  = "chat.message"
)

// Words is the argument of an inbound command. On the wire it is either a
// single string, which is split on whitespace, or a list of strings.
type Words []string

// UnmarshalJSON implements json.Unmarshaler.
func (w *Words) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = strings.Fields(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("message must be a string or a list of strings: %w", err)
	}
	*w = list
	return nil
}

// Text joins the words with single spaces.
func (w Words) Text() string {
	return strings.TrimSpace(strings.Join(w, " "))
}

// Inbound is a command frame sent by a client.
type Inbound struct {
	Command string `json:"command"`
	Message Words  `json:"message,omitempty"`
}

// DecodeInbound parses a client frame.
//
// Postcondition: Returns the decoded frame, or an error for malformed JSON.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("decoding command frame: %w", err)
	}
	return in, nil
}

// Frame is a server-to-client frame. Exactly one shape is populated:
// plain text (Message), presence (MsgType + Username), chat relay
// (MsgType + Username + Message) or a reported failure (Error).
type Frame struct {
	MsgType  string `json:"msg_type,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Text builds a plain text frame.
func Text(message string) Frame {
	return Frame{Message: message}
}

// Presence builds an ENTER or EXIT frame.
func Presence(msgType, username string) Frame {
	return Frame{MsgType: msgType, Username: username}
}

// Chat builds a chat relay frame.
func Chat(username, message string) Frame {
	return Frame{MsgType: MsgTypeChat, Username: username, Message: message}
}

// Error builds a reported-failure frame.
func Error(description string) Frame {
	return Frame{Error: description}
}

// IsZero reports whether the frame carries nothing.
func (f Frame) IsZero() bool {
	return f == Frame{}
}

// Encode serializes the frame as JSON.
func (f Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}
