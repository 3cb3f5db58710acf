package replication

// HighPriorityMessage reports whether a message type bypasses the
// batcher and is broadcast immediately: kills, crit damage numbers, boss
// spawn, chat, whisper, emote.
func HighPriorityMessage(msgType string) bool {
	switch msgType {
	case "kill", "critDamageNumber", "bossSpawn", "chat", "whisper", "emote":
		return true
	default:
		return false
	}
}
