package internal

type PlayerSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	IsHost    bool   `json:"is_host"`
}

func CreatePlayerSnapshot(p *Player) PlayerSnapshot {
	return PlayerSnapshot{
		ID:        p.ID,
		Name:      p.Name,
		Connected: p.Connected,
		IsHost:    p.IsHost,
	}
}

// CreateRoomSnapshot is the public view of a room sent over the wire.
func CreateRoomSnapshot(r *Room) RoomSnapshot {
	players := make([]PlayerSnapshot, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, CreatePlayerSnapshot(p))
	}
	return RoomSnapshot{
		Code:    r.Code,
		Status:  r.Status,
		Players: players,
	}
}
