// Package stream implements the voicelink session engine: the event-tagged
// wire protocol, the WebSocket transport, the session state machine, the
// bounded-backoff reconnection controller, and the turn/activity heuristic
// that drives UI status.
package stream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Wire event tags. The protocol is JSON envelopes over a persistent duplex
// socket; every message carries exactly one event tag.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventError     = "error"
)

// Envelope is the JSON wire message for all stream events.
type Envelope struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Stop      *StopPayload  `json:"stop,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// StartPayload carries the session-identifying metadata sent once when a
// stream opens. ExtraData is a base64-encoded JSON blob of free-form
// correlation metadata; it is opaque to the remote peer.
type StartPayload struct {
	AccountSid string `json:"accountSid,omitempty"`
	StreamSid  string `json:"streamSid,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	ExtraData  string `json:"extraData,omitempty"`
}

// MediaPayload carries one codec-encoded audio frame.
type MediaPayload struct {
	Payload string `json:"payload"`
}

// StopPayload identifies the telephony call linked to a stream when a
// termination is requested through the dial collaborator.
type StopPayload struct {
	AccountSid string `json:"accountSid,omitempty"`
	CallSid    string `json:"callSid,omitempty"`
}

// PeerContext is the identifying metadata for one session, immutable for the
// session's lifetime. Extra is serialized into StartPayload.ExtraData.
type PeerContext struct {
	AccountSid string
	From       string
	To         string
	Extra      map[string]any
}

// startPayload builds the outbound start payload for the given stream id.
func (pc PeerContext) startPayload(streamSid string) (*StartPayload, error) {
	p := &StartPayload{
		AccountSid: pc.AccountSid,
		StreamSid:  streamSid,
		From:       pc.From,
		To:         pc.To,
	}
	if len(pc.Extra) > 0 {
		raw, err := json.Marshal(pc.Extra)
		if err != nil {
			return nil, fmt.Errorf("stream: marshal peer extra data: %w", err)
		}
		p.ExtraData = base64.StdEncoding.EncodeToString(raw)
	}
	return p, nil
}
