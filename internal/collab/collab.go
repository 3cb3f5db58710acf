// Package collab declares the external collaborator interfaces for
// content systems that live outside this module: quests, achievements,
// battle pass. The room runtime depends only on these interfaces —
// concrete implementations live elsewhere — but a logging no-op default
// is provided so every inbound message can be dispatched end to end
// without a content catalog attached, mirroring the practice of wiring
// every handler through a Deps struct even when a collaborator is
// optional.
package collab

import "go.uber.org/zap"

// QuestSystem forwards quest accept/complete events and progress-kind
// notifications (kills, gathers, deliveries) to the external quest
// catalog.
type QuestSystem interface {
	HandleEvent(account, kind, target string, qty int)
	Accept(account, questID string) error
	Complete(account, questID string) error
}

// BattlePass forwards XP and reward-claim requests to the external
// battle-pass catalog.
type BattlePass interface {
	AddXP(account string, n int)
	ClaimReward(account string, tier int, track string) error
	UnlockPremium(account string) error
	Progress(account string) (any, error)
}

// AchievementUnlock describes an achievement that fired as a result of a
// HandleEvent call.
type AchievementUnlock struct {
	Unlocked   bool
	Definition string
}

// AchievementSystem forwards gameplay events to the external achievement
// catalog and reports any unlock that resulted.
type AchievementSystem interface {
	HandleEvent(account, event string) (AchievementUnlock, error)
	Progress(account string) (any, error)
}

// NoopQuestSystem, NoopBattlePass, and NoopAchievementSystem log every call
// and never error. They are the defaults wired into Deps when no content
// catalog is attached to the process.
type NoopQuestSystem struct{ Log *zap.Logger }

func (n NoopQuestSystem) HandleEvent(account, kind, target string, qty int) {
	n.Log.Debug("quest event (no catalog attached)",
		zap.String("account", account), zap.String("kind", kind),
		zap.String("target", target), zap.Int("qty", qty))
}

func (n NoopQuestSystem) Accept(account, questID string) error {
	n.Log.Debug("quest accept (no catalog attached)", zap.String("account", account), zap.String("quest", questID))
	return nil
}

func (n NoopQuestSystem) Complete(account, questID string) error {
	n.Log.Debug("quest complete (no catalog attached)", zap.String("account", account), zap.String("quest", questID))
	return nil
}

type NoopBattlePass struct{ Log *zap.Logger }

func (n NoopBattlePass) AddXP(account string, amount int) {
	n.Log.Debug("battle pass xp (no catalog attached)", zap.String("account", account), zap.Int("xp", amount))
}

func (n NoopBattlePass) ClaimReward(account string, tier int, track string) error {
	n.Log.Debug("battle pass claim (no catalog attached)", zap.String("account", account), zap.Int("tier", tier), zap.String("track", track))
	return nil
}

func (n NoopBattlePass) UnlockPremium(account string) error {
	n.Log.Debug("battle pass premium unlock (no catalog attached)", zap.String("account", account))
	return nil
}

func (n NoopBattlePass) Progress(account string) (any, error) {
	return map[string]any{}, nil
}

type NoopAchievementSystem struct{ Log *zap.Logger }

func (n NoopAchievementSystem) HandleEvent(account, ev string) (AchievementUnlock, error) {
	n.Log.Debug("achievement event (no catalog attached)", zap.String("account", account), zap.String("event", ev))
	return AchievementUnlock{}, nil
}

func (n NoopAchievementSystem) Progress(account string) (any, error) {
	return map[string]any{}, nil
}
