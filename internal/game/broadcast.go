package game

import "github.com/yonatanbiwix/simon-game-app/internal"

// Broadcaster delivers messages to the connections of a room. Delivery is
// fire-and-forget: failures never feed back into game state.
type Broadcaster interface {
	BroadcastToRoom(code string, msg internal.Message[any])
	SendToPlayer(code, playerID string, msg internal.Message[any])
}

// outbound is a room message collected under a room lock and sent after it
// is released.
type outbound struct {
	msg internal.Message[any]
}

func toRoom(msgType string, data any) outbound {
	return outbound{msg: internal.Message[any]{Type: msgType, Data: data}}
}

func publish(out Broadcaster, code string, msgs []outbound) {
	for _, m := range msgs {
		out.BroadcastToRoom(code, m.msg)
	}
}
