package room

import (
	"strings"

	"github.com/nexusroom/server/internal/roomerr"
)

const (
	guildNameMin = 3
	guildNameMax = 20
	guildTagMin  = 2
	guildTagMax  = 4
)

// CreateGuild creates a new guild led by founder, rejecting a name or
// tag outside bounds or a tag that collides case-insensitively with an
// existing one. The stored tag is always uppercased.
func (r *Room) CreateGuild(founder *Player, name, tag string) (*Guild, error) {
	if founder.GuildID != "" {
		return nil, roomerr.New(roomerr.InvalidState, "already in a guild")
	}
	if len(name) < guildNameMin || len(name) > guildNameMax {
		return nil, roomerr.New(roomerr.InvalidMessage, "guild name must be 3-20 characters")
	}
	if len(tag) < guildTagMin || len(tag) > guildTagMax {
		return nil, roomerr.New(roomerr.InvalidMessage, "guild tag must be 2-4 characters")
	}
	upper := strings.ToUpper(tag)
	for _, g := range r.guilds {
		if strings.ToUpper(g.Tag) == upper {
			return nil, roomerr.New(roomerr.NameTaken, "guild tag already in use")
		}
	}
	id := "guild-" + founder.CharacterID
	g := &Guild{ID: id, Name: name, Tag: upper, Leader: founder.CharacterID, Members: []string{founder.CharacterID}}
	r.guilds[id] = g
	founder.GuildID = id
	return g, nil
}

// JoinGuild adds p to guild guildID.
func (r *Room) JoinGuild(p *Player, guildID string) error {
	if p.GuildID != "" {
		return roomerr.New(roomerr.InvalidState, "already in a guild")
	}
	g, ok := r.guilds[guildID]
	if !ok {
		return roomerr.New(roomerr.NotFound, "guild not found")
	}
	g.Members = append(g.Members, p.CharacterID)
	p.GuildID = guildID
	return nil
}

// LeaveGuild removes p from its guild, handing leadership to the next
// member in join order if p was the leader, and dissolving the guild if
// p was the last member.
func (r *Room) LeaveGuild(p *Player) error {
	g, ok := r.guilds[p.GuildID]
	if !ok {
		return roomerr.New(roomerr.InvalidState, "not in a guild")
	}
	g.Members = removeMember(g.Members, p.CharacterID)
	wasLeader := g.Leader == p.CharacterID
	p.GuildID = ""

	if len(g.Members) == 0 {
		delete(r.guilds, g.ID)
		return nil
	}
	if wasLeader {
		g.Leader = g.Members[0]
	}
	return nil
}

func removeMember(members []string, id string) []string {
	out := members[:0]
	for _, m := range members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

func (r *Room) guildMembers(guildID string) []*Player {
	g, ok := r.guilds[guildID]
	if !ok {
		return nil
	}
	out := make([]*Player, 0, len(g.Members))
	for _, id := range g.Members {
		if p, ok := r.players[id]; ok {
			out = append(out, p)
		}
	}
	return out
}
