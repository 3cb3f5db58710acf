package room

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/nexusroom/server/internal/persist"
	"github.com/nexusroom/server/internal/roomerr"
	"github.com/nexusroom/server/internal/spatial"
	"github.com/nexusroom/server/internal/trade"
	"github.com/nexusroom/server/internal/validate"
)

const emoteRadius = 20.0

var validEmotes = map[string]bool{"wave": true, "dance": true, "flex": true, "bow": true, "laugh": true}

// Dispatch handles one inbound client frame. It runs on the room's
// single tick goroutine (messages are queued onto the same command
// queue the tick timer posts to), so no additional locking is needed
// here.
func (r *Room) Dispatch(ctx context.Context, characterID string, msgType string, payload json.RawMessage) {
	p, ok := r.players[characterID]
	if !ok {
		return
	}

	if level := r.validator.DetectCheating(p.AccountID); level == validate.LevelCritical {
		r.sender.Send(Outbound{Type: "kick", To: characterID, Payload: map[string]any{"code": 1000, "reason": "cheating detected"}})
		return
	}

	switch msgType {
	case "move":
		r.dispatchMove(p, payload)
	case "castSpell":
		r.dispatchCastSpell(p, payload)
	case "chat":
		r.dispatchChat(p, payload)
	case "pickupLoot":
		r.dispatchPickupLoot(p, payload)
	case "createGuild":
		r.dispatchCreateGuild(p, payload)
	case "joinGuild":
		r.dispatchJoinGuild(p, payload)
	case "leaveGuild":
		r.dispatchLeaveGuild(p)
	case "guildChat":
		r.dispatchGuildChat(p, payload)
	case "whisper":
		r.dispatchWhisper(p, payload)
	case "emote":
		r.dispatchEmote(p, payload)
	case "acceptQuest":
		r.dispatchQuest(p, payload, r.quests.Accept)
	case "completeQuest":
		r.dispatchQuest(p, payload, r.quests.Complete)
	case "claimBattlePassReward":
		r.dispatchClaimBattlePassReward(p, payload)
	case "unlockBattlePassPremium":
		if err := r.battlePass.UnlockPremium(p.AccountID); err != nil {
			r.sendError(characterID, "battlePassError", err)
		}
	case "requestBattlePassProgress":
		r.dispatchBattlePassProgress(p)
	case "requestAchievementProgress":
		r.dispatchAchievementProgress(p)
	case "createDungeon":
		r.dispatchCreateDungeon(p, payload)
	case "enterDungeon":
		r.dispatchEnterDungeon(ctx, p, payload)
	case "exitDungeon":
		r.dispatchExitDungeon(p)
	case "requestDungeonProgress":
		r.dispatchDungeonProgress(p, payload)
	case "initiateTrade":
		r.dispatchInitiateTrade(p, payload)
	case "addTradeItem":
		r.dispatchTradeItem(p, payload, true)
	case "removeTradeItem":
		r.dispatchTradeItem(p, payload, false)
	case "setTradeCredits":
		r.dispatchSetTradeCredits(p, payload)
	case "confirmTrade":
		r.dispatchConfirmTrade(ctx, p, payload)
	case "cancelTrade":
		r.dispatchCancelTrade(p, payload)
	default:
		r.sendError(characterID, "invalidMessage", roomerr.New(roomerr.InvalidMessage, "unknown message type: "+msgType))
	}
}

func (r *Room) sendError(to, kind string, err error) {
	r.sender.Send(Outbound{Type: kind, To: to, Payload: map[string]any{"error": err.Error(), "kind": string(roomerr.KindOf(err))}})
}

func decode[T any](payload json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}

type movePayload struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Rotation float64 `json:"rotation"`
}

func (r *Room) dispatchMove(p *Player, payload json.RawMessage) {
	msg, err := decode[movePayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	to := validate.Position{X: msg.X, Y: msg.Y, Z: msg.Z}
	now := r.now()
	dt := 16 * time.Millisecond
	if !p.lastMoveAt.IsZero() {
		dt = now.Sub(p.lastMoveAt)
	}
	if !r.validator.ValidateMovement(p.AccountID, to, dt) {
		last, _ := r.validator.LastAcceptedPosition(p.AccountID)
		r.sender.Send(Outbound{Type: "positionCorrection", To: p.CharacterID, Payload: map[string]any{"x": last.X, "y": last.Y, "z": last.Z}})
		return
	}
	p.lastMoveAt = now
	p.Pos = spatial.Vec3{X: msg.X, Y: msg.Y, Z: msg.Z}
	p.Rotation = msg.Rotation
}

type castSpellPayload struct {
	SpellID  string  `json:"spellId"`
	Rotation float64 `json:"rotation"`
}

func (r *Room) dispatchCastSpell(p *Player, payload json.RawMessage) {
	msg, err := decode[castSpellPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	if err := r.CastSpell(p, msg.SpellID, msg.Rotation); err != nil {
		r.sendError(p.CharacterID, "spellCastRejected", err)
	}
}

type textPayload struct {
	Text string `json:"text"`
}

func (r *Room) dispatchChat(p *Player, payload json.RawMessage) {
	msg, err := decode[textPayload](payload)
	if err != nil {
		return
	}
	r.sender.Send(Outbound{Type: "chat", Payload: map[string]any{"from": p.CharacterID, "name": p.Name, "text": msg.Text}})
}

type lootPayload struct {
	LootID string `json:"lootId"`
}

func (r *Room) dispatchPickupLoot(p *Player, payload json.RawMessage) {
	msg, err := decode[lootPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	if err := r.PickupLoot(p, msg.LootID); err != nil {
		r.sendError(p.CharacterID, "lootError", err)
		return
	}
	r.sender.Send(Outbound{Type: "lootPickedUp", Payload: map[string]any{"lootId": msg.LootID, "by": p.CharacterID}})
}

type guildCreatePayload struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

func (r *Room) dispatchCreateGuild(p *Player, payload json.RawMessage) {
	msg, err := decode[guildCreatePayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	g, err := r.CreateGuild(p, msg.Name, msg.Tag)
	if err != nil {
		r.sendError(p.CharacterID, "guildError", err)
		return
	}
	r.sender.Send(Outbound{Type: "guildCreated", To: p.CharacterID, Payload: map[string]any{"guildId": g.ID, "tag": g.Tag}})
}

type guildIDPayload struct {
	GuildID string `json:"guildId"`
}

func (r *Room) dispatchJoinGuild(p *Player, payload json.RawMessage) {
	msg, err := decode[guildIDPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	if err := r.JoinGuild(p, msg.GuildID); err != nil {
		r.sendError(p.CharacterID, "guildError", err)
		return
	}
	r.sender.Send(Outbound{Type: "guildJoined", To: p.CharacterID, Payload: map[string]any{"guildId": msg.GuildID}})
}

func (r *Room) dispatchLeaveGuild(p *Player) {
	if err := r.LeaveGuild(p); err != nil {
		r.sendError(p.CharacterID, "guildError", err)
	}
}

func (r *Room) dispatchGuildChat(p *Player, payload json.RawMessage) {
	msg, err := decode[textPayload](payload)
	if err != nil || p.GuildID == "" {
		return
	}
	for _, member := range r.guildMembers(p.GuildID) {
		r.sender.Send(Outbound{Type: "guildChat", To: member.CharacterID, Payload: map[string]any{"from": p.CharacterID, "name": p.Name, "text": msg.Text}})
	}
}

type whisperPayload struct {
	TargetID string `json:"targetId"`
	Text     string `json:"text"`
}

func (r *Room) dispatchWhisper(p *Player, payload json.RawMessage) {
	msg, err := decode[whisperPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	if _, ok := r.players[msg.TargetID]; !ok {
		r.sendError(p.CharacterID, "invalidMessage", roomerr.New(roomerr.NotFound, "whisper target not connected"))
		return
	}
	r.sender.Send(Outbound{Type: "whisper", To: msg.TargetID, Payload: map[string]any{"from": p.CharacterID, "name": p.Name, "text": msg.Text}})
}

type emotePayload struct {
	Emote string `json:"emote"`
}

func (r *Room) dispatchEmote(p *Player, payload json.RawMessage) {
	msg, err := decode[emotePayload](payload)
	if err != nil || !validEmotes[msg.Emote] {
		r.sendError(p.CharacterID, "invalidMessage", roomerr.New(roomerr.InvalidMessage, "unknown emote"))
		return
	}
	for _, other := range r.players {
		if spatial.Distance(p.Pos, other.Pos) <= emoteRadius {
			r.sender.Send(Outbound{Type: "emote", To: other.CharacterID, Payload: map[string]any{"from": p.CharacterID, "emote": msg.Emote}})
		}
	}
}

type questPayload struct {
	QuestID string `json:"questId"`
}

func (r *Room) dispatchQuest(p *Player, payload json.RawMessage, fn func(account, questID string) error) {
	msg, err := decode[questPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	if err := fn(p.AccountID, msg.QuestID); err != nil {
		r.sendError(p.CharacterID, "questError", err)
	}
}

type claimBattlePassPayload struct {
	Tier  int    `json:"tier"`
	Track string `json:"track"`
}

func (r *Room) dispatchClaimBattlePassReward(p *Player, payload json.RawMessage) {
	msg, err := decode[claimBattlePassPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	if err := r.battlePass.ClaimReward(p.AccountID, msg.Tier, msg.Track); err != nil {
		r.sendError(p.CharacterID, "battlePassError", err)
	}
}

func (r *Room) dispatchBattlePassProgress(p *Player) {
	progress, err := r.battlePass.Progress(p.AccountID)
	if err != nil {
		r.sendError(p.CharacterID, "battlePassError", err)
		return
	}
	r.sender.Send(Outbound{Type: "battlePassProgress", To: p.CharacterID, Payload: progress})
}

func (r *Room) dispatchAchievementProgress(p *Player) {
	progress, err := r.achievements.Progress(p.AccountID)
	if err != nil {
		r.log.Warn("achievement progress lookup failed", zap.Error(err))
		return
	}
	r.sender.Send(Outbound{Type: "achievementProgress", To: p.CharacterID, Payload: progress})
}

type createDungeonPayload struct {
	Difficulty int `json:"difficulty"`
	Level      int `json:"level"`
}

func (r *Room) dispatchCreateDungeon(p *Player, payload json.RawMessage) {
	msg, err := decode[createDungeonPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	seed := r.now().UnixNano()
	inst := r.dungeons.Create(seed, msg.Difficulty, msg.Level)
	r.sender.Send(Outbound{Type: "dungeonCreated", To: p.CharacterID, Payload: map[string]any{"dungeonId": inst.ID}})
}

type dungeonIDPayload struct {
	DungeonID string `json:"dungeonId"`
}

func (r *Room) dispatchEnterDungeon(ctx context.Context, p *Player, payload json.RawMessage) {
	msg, err := decode[dungeonIDPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	progress, err := r.dungeons.Enter(p.AccountID, p.CharacterID, msg.DungeonID)
	if err != nil {
		r.sendError(p.CharacterID, "dungeonError", err)
		return
	}
	r.sender.Send(Outbound{Type: "dungeonEntered", To: p.CharacterID, Payload: progress})
}

func (r *Room) dispatchExitDungeon(p *Player) {
	r.dungeons.Leave(p.AccountID)
}

func (r *Room) dispatchDungeonProgress(p *Player, payload json.RawMessage) {
	msg, err := decode[dungeonIDPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	inst, ok := r.dungeons.Instance(msg.DungeonID)
	if !ok {
		r.sendError(p.CharacterID, "dungeonError", roomerr.New(roomerr.NotFound, "dungeon instance not found"))
		return
	}
	r.sender.Send(Outbound{Type: "dungeonProgress", To: p.CharacterID, Payload: map[string]any{"dungeonId": inst.ID, "completed": inst.Completed, "rooms": inst.Rooms}})
}

type initiateTradePayload struct {
	TargetID string `json:"targetId"`
}

func (r *Room) dispatchInitiateTrade(p *Player, payload json.RawMessage) {
	msg, err := decode[initiateTradePayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	target, ok := r.players[msg.TargetID]
	if !ok {
		r.sendError(p.CharacterID, "tradeError", roomerr.New(roomerr.NotFound, "trade target not connected"))
		return
	}
	session, err := r.trades.Initiate(
		p.CharacterID, target.CharacterID,
		trade.Position{X: p.Pos.X, Y: p.Pos.Y, Z: p.Pos.Z},
		trade.Position{X: target.Pos.X, Y: target.Pos.Y, Z: target.Pos.Z},
	)
	if err != nil {
		r.sendError(p.CharacterID, "tradeError", err)
		return
	}
	for _, id := range []string{p.CharacterID, target.CharacterID} {
		r.sender.Send(Outbound{Type: "tradeInitiated", To: id, Payload: map[string]any{"sessionId": session.ID}})
	}
}

type tradeItemPayload struct {
	SessionID string `json:"sessionId"`
	ItemID    string `json:"itemId"`
	Count     int    `json:"count"`
	Slot      string `json:"slot"`
}

func (r *Room) dispatchTradeItem(p *Player, payload json.RawMessage, add bool) {
	msg, err := decode[tradeItemPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	var opErr error
	if add {
		opErr = r.trades.AddItem(msg.SessionID, p.CharacterID, persist.ItemStack{ItemID: msg.ItemID, Count: msg.Count, Slot: msg.Slot})
	} else {
		opErr = r.trades.RemoveItem(msg.SessionID, p.CharacterID, msg.ItemID)
	}
	if opErr != nil {
		r.sendError(p.CharacterID, "tradeError", opErr)
	}
}

type setTradeCreditsPayload struct {
	SessionID string `json:"sessionId"`
	Credits   int    `json:"credits"`
}

func (r *Room) dispatchSetTradeCredits(p *Player, payload json.RawMessage) {
	msg, err := decode[setTradeCreditsPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	if err := r.trades.SetCredits(msg.SessionID, p.CharacterID, msg.Credits); err != nil {
		r.sendError(p.CharacterID, "tradeError", err)
	}
}

type sessionIDPayload struct {
	SessionID string `json:"sessionId"`
}

func (r *Room) dispatchConfirmTrade(ctx context.Context, p *Player, payload json.RawMessage) {
	msg, err := decode[sessionIDPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	session, err := r.trades.ConfirmTrade(ctx, msg.SessionID, p.CharacterID, func(characterID string) (*persist.PlayerRecord, error) {
		return r.repo.Load(ctx, characterID)
	})
	if err != nil {
		r.sendError(p.CharacterID, "tradeError", err)
		return
	}
	if session.Status == trade.Completed {
		for _, id := range []string{session.P1, session.P2} {
			r.sender.Send(Outbound{Type: "tradeCompleted", To: id, Payload: map[string]any{"sessionId": session.ID}})
		}
	}
}

func (r *Room) dispatchCancelTrade(p *Player, payload json.RawMessage) {
	msg, err := decode[sessionIDPayload](payload)
	if err != nil {
		r.sendError(p.CharacterID, "invalidMessage", err)
		return
	}
	if err := r.trades.Cancel(msg.SessionID, p.CharacterID); err != nil {
		r.sendError(p.CharacterID, "tradeError", err)
	}
}
