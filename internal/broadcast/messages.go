package broadcast

import (
	"encoding/json"
	"strings"

	"github.com/mredag/eformLockerRoom-sub013/internal/model"
)

// Error frame messages sent for bad client input.
const (
	msgInvalidFormat  = "Invalid message format"
	msgUnknownType    = "Unknown message type"
	msgRoomRequired   = "Room name is required"
	msgRoomTooLong    = "Room name too long"
	maxRoomNameLength = 128
)

type pingData struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

// HandleMessage processes one inbound client frame. Bad input is answered
// with an error frame; the connection stays open. Unknown connection ids
// are ignored.
func (e *Engine) HandleMessage(connectionID string, raw []byte) {
	e.mu.Lock()
	c, ok := e.conns[connectionID]
	if ok {
		c.lastActivity = e.now()
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	var msg model.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.logger.Debug("broadcast: malformed client message", "connection_id", connectionID, "err", err)
		e.sendError(c.socket, msgInvalidFormat)
		return
	}

	switch msg.Type {
	case model.FrameJoinRoom, model.FrameLeaveRoom:
		room := strings.TrimSpace(msg.Room)
		if room == "" {
			e.sendError(c.socket, msgRoomRequired)
			return
		}
		if len(room) > maxRoomNameLength {
			e.sendError(c.socket, msgRoomTooLong)
			return
		}
		if msg.Type == model.FrameJoinRoom {
			e.JoinRoom(connectionID, room)
		} else {
			e.LeaveRoom(connectionID, room)
		}

	case model.FramePing:
		var pd pingData
		if len(msg.Data) > 0 {
			// A ping with an unexpected payload still gets a pong.
			_ = json.Unmarshal(msg.Data, &pd)
		}
		now := e.now().UTC()
		data := map[string]any{"server_timestamp": now}
		if len(pd.Timestamp) > 0 {
			data["timestamp"] = pd.Timestamp
		} else {
			data["timestamp"] = nil
		}
		e.sendFrame(c, model.Frame{
			Type:      model.FramePong,
			Data:      data,
			Timestamp: now,
			Namespace: c.namespace,
		})

	default:
		e.sendError(c.socket, msgUnknownType)
	}
}
