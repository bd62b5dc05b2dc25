package internal

// Methods (Room Struct)

func (r *Room) PlayerByID(id string) *Player {
	for _, p := range r.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) HasPlayer(id string) bool {
	return r.PlayerByID(id) != nil
}

func (r *Room) Host() *Player {
	for _, p := range r.Players {
		if p.IsHost {
			return p
		}
	}
	return nil
}

func (r *Room) ConnectedCount() int {
	count := 0
	for _, p := range r.Players {
		if p.Connected {
			count++
		}
	}
	return count
}

// PlayerIDs returns ids in seat order.
func (r *Room) PlayerIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		ids = append(ids, p.ID)
	}
	return ids
}

// Names maps player id to display name.
func (r *Room) Names() map[string]string {
	names := make(map[string]string, len(r.Players))
	for _, p := range r.Players {
		names[p.ID] = p.Name
	}
	return names
}

// Clone deep-copies the room, including its game state.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	c := &Room{
		Code:      r.Code,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		Players:   make([]*Player, 0, len(r.Players)),
	}
	for _, p := range r.Players {
		cp := *p
		c.Players = append(c.Players, &cp)
	}
	if r.Game != nil {
		c.Game = r.Game.Clone()
	}
	if r.EmptySince != nil {
		t := *r.EmptySince
		c.EmptySince = &t
	}
	return c
}
