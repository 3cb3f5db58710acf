package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// SQLStore is the Postgres-backed Store, used when database.store =
// "sql". SaveFields writes only the columns present in fields — the
// differential update the repository's cache layer already computed —
// and skips the round-trip entirely when fields is empty.
type SQLStore struct {
	db *DB
}

func NewSQLStore(db *DB) *SQLStore {
	return &SQLStore{db: db}
}

var fieldColumn = map[string]string{
	"name":             "name",
	"race":             "race",
	"level":            "level",
	"xp":               "xp",
	"credits":          "credits",
	"hp":               "hp",
	"maxHp":            "max_hp",
	"mana":             "mana",
	"maxMana":          "max_mana",
	"inventory":        "inventory",
	"equipped":         "equipped",
	"questState":       "quest_state",
	"achievementState": "achievement_state",
	"battlePassXp":     "battle_pass_xp",
	"rotation":         "rotation",
	"currentFloor":     "current_floor",
	"lastLogin":        "last_login",
	"updatedAt":        "updated_at",
}

func (s *SQLStore) SaveFields(ctx context.Context, characterID string, fields map[string]any, full *PlayerRecord) error {
	if len(fields) == 0 {
		return nil
	}

	cols := make([]string, 0, len(fields)+3)
	args := make([]any, 0, len(fields)+3)
	n := 1

	for key, value := range fields {
		if key == "position" {
			continue
		}
		col, ok := fieldColumn[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case []ItemStack, map[string]int:
			raw, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", key, err)
			}
			cols = append(cols, fmt.Sprintf("%s = $%d", col, n))
			args = append(args, raw)
		default:
			cols = append(cols, fmt.Sprintf("%s = $%d", col, n))
			args = append(args, value)
		}
		n++
	}

	if pos, ok := fields["position"]; ok {
		p := pos.([3]float64)
		cols = append(cols, fmt.Sprintf("pos_x = $%d", n), fmt.Sprintf("pos_y = $%d", n+1), fmt.Sprintf("pos_z = $%d", n+2))
		args = append(args, p[0], p[1], p[2])
		n += 3
	}

	if len(cols) == 0 {
		return s.insertIfAbsent(ctx, full)
	}

	args = append(args, characterID)
	query := fmt.Sprintf(`UPDATE players SET %s WHERE character_id = $%d`, strings.Join(cols, ", "), n)
	tag, err := s.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.insertIfAbsent(ctx, full)
	}
	return nil
}

func (s *SQLStore) insertIfAbsent(ctx context.Context, full *PlayerRecord) error {
	inv, err := json.Marshal(full.Inventory)
	if err != nil {
		return err
	}
	equipped, err := json.Marshal(full.Equipped)
	if err != nil {
		return err
	}
	quests, err := json.Marshal(full.QuestState)
	if err != nil {
		return err
	}
	achievements, err := json.Marshal(full.AchievementState)
	if err != nil {
		return err
	}

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO players (
			character_id, account_id, name, race, level, xp, credits,
			hp, max_hp, mana, max_mana, inventory, equipped,
			quest_state, achievement_state, battle_pass_xp,
			pos_x, pos_y, pos_z, rotation, current_floor,
			created_at, last_login, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24
		) ON CONFLICT (character_id) DO NOTHING`,
		full.CharacterID, full.AccountID, full.Name, full.Race, full.Level, full.XP, full.Credits,
		full.HP, full.MaxHP, full.Mana, full.MaxMana, inv, equipped,
		quests, achievements, full.BattlePassXP,
		full.X, full.Y, full.Z, full.Rotation, full.CurrentFloor,
		full.CreatedAt, full.LastLogin, full.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, characterID string) (*PlayerRecord, error) {
	var rec PlayerRecord
	var inv, equipped, quests, achievements []byte

	err := s.db.Pool.QueryRow(ctx,
		`SELECT character_id, account_id, name, race, level, xp, credits,
		        hp, max_hp, mana, max_mana, inventory, equipped,
		        quest_state, achievement_state, battle_pass_xp,
		        pos_x, pos_y, pos_z, rotation, current_floor,
		        created_at, last_login, updated_at
		 FROM players WHERE character_id = $1`, characterID,
	).Scan(
		&rec.CharacterID, &rec.AccountID, &rec.Name, &rec.Race, &rec.Level, &rec.XP, &rec.Credits,
		&rec.HP, &rec.MaxHP, &rec.Mana, &rec.MaxMana, &inv, &equipped,
		&quests, &achievements, &rec.BattlePassXP,
		&rec.X, &rec.Y, &rec.Z, &rec.Rotation, &rec.CurrentFloor,
		&rec.CreatedAt, &rec.LastLogin, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load player: %w", err)
	}

	if err := json.Unmarshal(inv, &rec.Inventory); err != nil {
		return nil, fmt.Errorf("unmarshal inventory: %w", err)
	}
	if err := json.Unmarshal(equipped, &rec.Equipped); err != nil {
		return nil, fmt.Errorf("unmarshal equipped: %w", err)
	}
	if err := json.Unmarshal(quests, &rec.QuestState); err != nil {
		return nil, fmt.Errorf("unmarshal quest state: %w", err)
	}
	if err := json.Unmarshal(achievements, &rec.AchievementState); err != nil {
		return nil, fmt.Errorf("unmarshal achievement state: %w", err)
	}
	return &rec, nil
}

func (s *SQLStore) ListByAccount(ctx context.Context, accountID string) ([]Summary, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT character_id, name, level, last_login FROM players
		 WHERE account_id = $1 ORDER BY last_login DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list by account: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.CharacterID, &sm.Name, &sm.Level, &sm.LastLogin); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountByAccount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := s.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM players WHERE account_id = $1`, accountID,
	).Scan(&count)
	return count, err
}

func (s *SQLStore) NameExists(ctx context.Context, name, excludingCharacterID, accountID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM players WHERE name = $1 AND character_id != $2`
	args := []any{name, excludingCharacterID}
	if accountID != "" {
		query += ` AND account_id = $3`
		args = append(args, accountID)
	}
	query += `)`
	err := s.db.Pool.QueryRow(ctx, query, args...).Scan(&exists)
	return exists, err
}

func (s *SQLStore) Close() {}
