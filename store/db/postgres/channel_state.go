package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/store"
)

// UpsertChannelState inserts or updates a channel sync cursor.
func (d *DB) UpsertChannelState(ctx context.Context, state *store.ChannelState) (*store.ChannelState, error) {
	stmt := `INSERT INTO channel_state (channel_id, guild_id, name, last_message_id, last_sync_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (channel_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			name = EXCLUDED.name,
			last_message_id = EXCLUDED.last_message_id,
			last_sync_ts = EXCLUDED.last_sync_ts`

	_, err := d.db.ExecContext(ctx, stmt,
		state.ChannelID,
		state.GuildID,
		state.Name,
		state.LastMessageID,
		state.LastSyncTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert channel state")
	}
	return state, nil
}

// ListChannelStates lists channel sync cursors.
func (d *DB) ListChannelStates(ctx context.Context, find *store.FindChannelState) ([]*store.ChannelState, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ChannelID != nil {
		where, args = append(where, "channel_id = "+placeholder(len(args)+1)), append(args, *find.ChannelID)
	}
	if find.GuildID != nil {
		where, args = append(where, "guild_id = "+placeholder(len(args)+1)), append(args, *find.GuildID)
	}

	query := `
		SELECT channel_id, guild_id, name, last_message_id, last_sync_ts
		FROM channel_state
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY channel_id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list channel states")
	}
	defer rows.Close()

	list := []*store.ChannelState{}
	for rows.Next() {
		var state store.ChannelState
		err := rows.Scan(
			&state.ChannelID,
			&state.GuildID,
			&state.Name,
			&state.LastMessageID,
			&state.LastSyncTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan channel state")
		}
		list = append(list, &state)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}
