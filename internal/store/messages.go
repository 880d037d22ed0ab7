package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/hubmirror/internal/dbx"
	"github.com/dmitrijs2005/hubmirror/internal/models"
)

// messageTables maps a kind to its replica table.
var messageTables = map[models.MessageKind]string{
	models.KindCast:         "casts",
	models.KindReaction:     "reactions",
	models.KindLink:         "links",
	models.KindVerification: "verifications",
	models.KindUserData:     "user_data",
	models.KindSigner:       "signers",
}

// PostgresGateway implements Gateway over *sql.DB. Individual statements run
// on the pool; the signer-revocation cascade runs inside one transaction.
type PostgresGateway struct {
	db *sql.DB
}

func NewPostgresGateway(db *sql.DB) *PostgresGateway {
	return &PostgresGateway{db: db}
}

type upsertSpec struct {
	columns  []string
	conflict []string
	update   []string
	args     func(m *models.Message) ([]any, error)
}

// conflictIndexes maps the conflict columns onto their positions in columns.
func (s upsertSpec) conflictIndexes() []int {
	idx := make([]int, 0, len(s.conflict))
	for _, c := range s.conflict {
		for i, col := range s.columns {
			if col == c {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

// Lifecycle columns are deliberately absent from every update list: an add
// must never clear a marker stamped by an earlier remove/prune/revoke.
var upsertSpecs = map[models.MessageKind]upsertSpec{
	models.KindCast: {
		columns:  []string{"hash", "fid", "signer", "body_text", "mentions", "embeds", "parent_fid", "parent_hash", "ts"},
		conflict: []string{"hash"},
		update:   []string{"fid", "signer", "body_text", "mentions", "embeds", "parent_fid", "parent_hash", "ts"},
		args: func(m *models.Message) ([]any, error) {
			b, ok := m.Body.(models.CastBody)
			if !ok {
				return nil, fmt.Errorf("cast upsert: unexpected body %T", m.Body)
			}
			mentions, err := jsonOrNull(b.Mentions)
			if err != nil {
				return nil, err
			}
			embeds, err := jsonOrNull(b.Embeds)
			if err != nil {
				return nil, err
			}
			return []any{m.Hash, m.Fid, m.Signer, b.Text, mentions, embeds, b.ParentFid, b.ParentHash, m.Timestamp}, nil
		},
	},
	models.KindReaction: {
		columns:  []string{"fid", "type", "target_hash", "target_url", "target_fid", "hash", "signer", "ts"},
		conflict: []string{"fid", "type", "target_hash", "target_url"},
		update:   []string{"target_fid", "hash", "signer", "ts"},
		args: func(m *models.Message) ([]any, error) {
			b, ok := m.Body.(models.ReactionBody)
			if !ok {
				return nil, fmt.Errorf("reaction upsert: unexpected body %T", m.Body)
			}
			return []any{m.Fid, b.Type, b.TargetHash, b.TargetURL, b.TargetFid, m.Hash, m.Signer, m.Timestamp}, nil
		},
	},
	models.KindLink: {
		columns:  []string{"fid", "type", "target_fid", "hash", "signer", "ts"},
		conflict: []string{"fid", "type", "target_fid"},
		update:   []string{"hash", "signer", "ts"},
		args: func(m *models.Message) ([]any, error) {
			b, ok := m.Body.(models.LinkBody)
			if !ok {
				return nil, fmt.Errorf("link upsert: unexpected body %T", m.Body)
			}
			return []any{m.Fid, b.Type, b.TargetFid, m.Hash, m.Signer, m.Timestamp}, nil
		},
	},
	models.KindVerification: {
		columns:  []string{"fid", "address", "hash", "signer", "signature", "block_hash", "ts"},
		conflict: []string{"fid", "address"},
		update:   []string{"hash", "signer", "signature", "block_hash", "ts"},
		args: func(m *models.Message) ([]any, error) {
			b, ok := m.Body.(models.VerificationBody)
			if !ok {
				return nil, fmt.Errorf("verification upsert: unexpected body %T", m.Body)
			}
			return []any{m.Fid, b.Address, m.Hash, m.Signer, b.Signature, b.BlockHash, m.Timestamp}, nil
		},
	},
	models.KindUserData: {
		columns:  []string{"fid", "type", "value", "hash", "signer", "ts"},
		conflict: []string{"fid", "type"},
		update:   []string{"value", "hash", "signer", "ts"},
		args: func(m *models.Message) ([]any, error) {
			b, ok := m.Body.(models.UserDataBody)
			if !ok {
				return nil, fmt.Errorf("user data upsert: unexpected body %T", m.Body)
			}
			return []any{m.Fid, b.Type, b.Value, m.Hash, m.Signer, m.Timestamp}, nil
		},
	},
	models.KindSigner: {
		columns:  []string{"fid", "key", "name", "hash", "signer", "ts"},
		conflict: []string{"fid", "key"},
		update:   []string{"name", "hash", "signer", "ts"},
		args: func(m *models.Message) ([]any, error) {
			b, ok := m.Body.(models.SignerBody)
			if !ok {
				return nil, fmt.Errorf("signer upsert: unexpected body %T", m.Body)
			}
			return []any{m.Fid, b.Key, b.Name, m.Hash, m.Signer, m.Timestamp}, nil
		},
	},
}

func (g *PostgresGateway) UpsertMessages(ctx context.Context, kind models.MessageKind, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	spec, ok := upsertSpecs[kind]
	if !ok {
		return fmt.Errorf("upsert: unknown kind %v", kind)
	}

	// Postgres rejects a multi-row ON CONFLICT DO UPDATE that touches the same
	// key twice (SQLSTATE 21000), and duplicates inside one batch window are
	// expected during backfill/tail overlap. Collapse them to the last
	// occurrence per conflict key before rendering the statement.
	keyIdx := spec.conflictIndexes()
	rows := make([][]any, 0, len(msgs))
	seen := make(map[string]int, len(msgs))
	for _, m := range msgs {
		rowArgs, err := spec.args(m)
		if err != nil {
			return err
		}
		key := conflictKey(rowArgs, keyIdx)
		if i, dup := seen[key]; dup {
			rows[i] = rowArgs
			continue
		}
		seen[key] = len(rows)
		rows = append(rows, rowArgs)
	}

	args := make([]any, 0, len(rows)*len(spec.columns))
	for _, r := range rows {
		args = append(args, r...)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s, updated_at = now()",
		messageTables[kind],
		strings.Join(spec.columns, ", "),
		valuePlaceholders(len(rows), len(spec.columns)),
		strings.Join(spec.conflict, ", "),
		excludedAssignments(spec.update),
	)

	if _, err := g.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (g *PostgresGateway) SetFlag(ctx context.Context, key models.MatchKey, flag models.Flag, ts time.Time) error {
	return setFlag(ctx, g.db, key, flag, ts)
}

func setFlag(ctx context.Context, db dbx.DBTX, key models.MatchKey, flag models.Flag, ts time.Time) error {
	table := messageTables[key.Kind()]
	col := flag.Column()
	if table == "" || col == "" {
		return fmt.Errorf("set flag: unknown kind %v or flag %v", key.Kind(), flag)
	}

	var query string
	var args []any

	switch k := key.(type) {
	case models.ByHash:
		if key.Kind() == models.KindCast {
			// Hash is the cast natural key, so a missing row becomes a tombstone.
			query = fmt.Sprintf(
				"INSERT INTO casts (hash, %[1]s) VALUES ($1, $2) ON CONFLICT (hash) DO UPDATE SET %[1]s = COALESCE(casts.%[1]s, excluded.%[1]s), updated_at = now()",
				col)
			args = []any{k.Hash, ts}
			break
		}
		// Composite-keyed kinds cannot be tombstoned from a hash alone; a
		// marker for a row we never saw is dropped, and the next backfill
		// reconciles it.
		query = fmt.Sprintf(
			"UPDATE %[1]s SET %[2]s = COALESCE(%[2]s, $1), updated_at = now() WHERE hash = $2", table, col)
		args = []any{ts, k.Hash}

	case models.ReactionKey:
		query = fmt.Sprintf(
			"INSERT INTO reactions (fid, type, target_hash, target_url, %[1]s) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (fid, type, target_hash, target_url) DO UPDATE SET %[1]s = COALESCE(reactions.%[1]s, excluded.%[1]s), updated_at = now()",
			col)
		args = []any{k.Fid, k.Type, k.TargetHash, k.TargetURL, ts}

	case models.LinkKey:
		query = fmt.Sprintf(
			"INSERT INTO links (fid, type, target_fid, %[1]s) VALUES ($1, $2, $3, $4) ON CONFLICT (fid, type, target_fid) DO UPDATE SET %[1]s = COALESCE(links.%[1]s, excluded.%[1]s), updated_at = now()",
			col)
		args = []any{k.Fid, k.Type, k.TargetFid, ts}

	case models.VerificationKey:
		query = fmt.Sprintf(
			"INSERT INTO verifications (fid, address, %[1]s) VALUES ($1, $2, $3) ON CONFLICT (fid, address) DO UPDATE SET %[1]s = COALESCE(verifications.%[1]s, excluded.%[1]s), updated_at = now()",
			col)
		args = []any{k.Fid, k.Address, ts}

	case models.SignerKey:
		query = fmt.Sprintf(
			"INSERT INTO signers (fid, key, %[1]s) VALUES ($1, $2, $3) ON CONFLICT (fid, key) DO UPDATE SET %[1]s = COALESCE(signers.%[1]s, excluded.%[1]s), updated_at = now()",
			col)
		args = []any{k.Fid, k.Key, ts}

	case models.UserDataKey:
		query = fmt.Sprintf(
			"INSERT INTO user_data (fid, type, %[1]s) VALUES ($1, $2, $3) ON CONFLICT (fid, type) DO UPDATE SET %[1]s = COALESCE(user_data.%[1]s, excluded.%[1]s), updated_at = now()",
			col)
		args = []any{k.Fid, k.Type, ts}

	default:
		return fmt.Errorf("set flag: unknown key %T", key)
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (g *PostgresGateway) CascadeFlag(ctx context.Context, signer string, flag models.Flag, ts time.Time) error {
	return cascadeFlag(ctx, g.db, signer, flag, ts)
}

func cascadeFlag(ctx context.Context, db dbx.DBTX, signer string, flag models.Flag, ts time.Time) error {
	col := flag.Column()
	if col == "" {
		return fmt.Errorf("cascade flag: unknown flag %v", flag)
	}

	for _, kind := range models.Kinds {
		query := fmt.Sprintf(
			"UPDATE %[1]s SET %[2]s = COALESCE(%[2]s, $1), updated_at = now() WHERE signer = $2",
			messageTables[kind], col)
		if _, err := db.ExecContext(ctx, query, ts, signer); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

// RevokeSigner handles a signer removal: the signer row is marked deleted and
// every message the key produced is marked revoked, atomically, so a crash
// between the two steps cannot leave the cascade half-applied.
func (g *PostgresGateway) RevokeSigner(ctx context.Context, fid uint64, key string, ts time.Time) error {
	return dbx.WithTx(ctx, g.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := setFlag(ctx, tx, models.SignerKey{Fid: fid, Key: key}, models.FlagDeleted, ts); err != nil {
			return err
		}
		return cascadeFlag(ctx, tx, key, models.FlagRevoked, ts)
	})
}

// conflictKey renders the conflict-column values of one row as a map key.
func conflictKey(rowArgs []any, idx []int) string {
	var sb strings.Builder
	for _, i := range idx {
		fmt.Fprintf(&sb, "%v\x1f", rowArgs[i])
	}
	return sb.String()
}

// valuePlaceholders renders ($1, $2), ($3, $4), ... for rows x cols.
func valuePlaceholders(rows, cols int) string {
	var sb strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", n)
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

func excludedAssignments(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = excluded.%s", c, c)
	}
	return strings.Join(parts, ", ")
}

func jsonOrNull(v any) (any, error) {
	switch val := v.(type) {
	case []uint64:
		if len(val) == 0 {
			return nil, nil
		}
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding json column: %w", err)
	}
	return b, nil
}
