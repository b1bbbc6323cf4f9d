// Package ingest turns raw platform records into stored, indexed messages:
// normalize, upsert into the lineage store, hand changed texts to the
// indexer, and walk the guild on a schedule.
package ingest

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/guildsage/guildsage/plugin/discord"
	"github.com/guildsage/guildsage/plugin/markdown"
	"github.com/guildsage/guildsage/store"
)

// ErrMalformedInput marks records the normalizer cannot turn into a valid
// message. The pipeline skips and logs such records; one bad record never
// aborts a batch.
var ErrMalformedInput = errors.New("malformed input record")

// Discord inline tokens: user/role mentions, channel mentions, custom emoji.
var (
	mentionPattern = regexp.MustCompile(`<@[!&]?(\d+)>`)
	channelPattern = regexp.MustCompile(`<#(\d+)>`)
	emojiPattern   = regexp.MustCompile(`<a?(:[A-Za-z0-9_~]+:)\d+>`)
)

// Scope tells the normalizer where a batch comes from. Thread batches carry
// the thread id and are stored under the thread's parent channel, so reply
// and thread lineage stay within one channel.
type Scope struct {
	ChannelID string
	ThreadID  string
}

// Normalizer converts Discord records into store messages.
type Normalizer struct{}

// NewNormalizer creates a new Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts one raw record. scope may be nil, in which case the
// record's own channel id is used.
func (n *Normalizer) Normalize(raw *discord.RawMessage, scope *Scope) (*store.Message, error) {
	if raw == nil {
		return nil, errors.Wrap(ErrMalformedInput, "nil record")
	}
	if raw.ID == "" {
		return nil, errors.Wrap(ErrMalformedInput, "missing message id")
	}
	if raw.ChannelID == "" {
		return nil, errors.Wrapf(ErrMalformedInput, "message %s has no channel id", raw.ID)
	}
	postedAt, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedInput, "message %s has unparseable timestamp %q", raw.ID, raw.Timestamp)
	}

	channelID := raw.ChannelID
	threadID := ""
	if scope != nil {
		if scope.ChannelID != "" {
			channelID = scope.ChannelID
		}
		threadID = scope.ThreadID
	}

	parentID := ""
	if ref := raw.MessageReference; ref != nil && ref.MessageID != "" {
		// Parents must live in the same channel; a forwarded reference into
		// another channel is not reply lineage.
		if ref.ChannelID != "" && ref.ChannelID != raw.ChannelID {
			slog.Warn("dropping cross-channel message reference",
				"message_id", raw.ID,
				"channel_id", raw.ChannelID,
				"ref_channel_id", ref.ChannelID,
			)
		} else {
			parentID = ref.MessageID
		}
	}

	msg := &store.Message{
		ID:        raw.ID,
		ChannelID: channelID,
		Author:    authorName(raw.Author),
		AuthorID:  authorID(raw.Author),
		PostedTs:  postedAt.UnixMilli(),
		Text:      normalizeText(raw.Content, raw.Mentions),
		Reactions: aggregateReactions(raw.Reactions),
		ParentID:  parentID,
		ThreadID:  threadID,
	}
	if raw.EditedTimestamp != "" {
		if editedAt, err := time.Parse(time.RFC3339, raw.EditedTimestamp); err == nil {
			msg.UpdatedTs = editedAt.UnixMilli()
		}
	}
	return msg, nil
}

// normalizeText strips Discord's inline tokens and flattens markdown to
// plain text. Attachment-only messages come out empty; they are stored for
// lineage but never embedded.
func normalizeText(content string, mentions []discord.User) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	byID := make(map[string]string, len(mentions))
	for _, user := range mentions {
		byID[user.ID] = user.Username
	}
	content = mentionPattern.ReplaceAllStringFunc(content, func(token string) string {
		id := mentionPattern.FindStringSubmatch(token)[1]
		if name, ok := byID[id]; ok && name != "" {
			return "@" + name
		}
		return "@" + id
	})
	content = channelPattern.ReplaceAllString(content, "#$1")
	content = emojiPattern.ReplaceAllString(content, "$1")

	return markdown.Flatten(content)
}

// aggregateReactions folds the reaction list into emoji -> count. Custom
// emoji keep their :name: form, unicode emoji stay as themselves.
func aggregateReactions(reactions []discord.Reaction) map[string]int {
	if len(reactions) == 0 {
		return nil
	}
	out := make(map[string]int, len(reactions))
	for _, r := range reactions {
		if r.Count <= 0 {
			continue
		}
		name := r.Emoji.Name
		if name == "" {
			continue
		}
		if r.Emoji.ID != "" {
			name = fmt.Sprintf(":%s:", name)
		}
		out[name] += r.Count
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func authorName(user *discord.User) string {
	if user == nil {
		return ""
	}
	if user.Username != "" {
		return user.Username
	}
	return user.ID
}

func authorID(user *discord.User) string {
	if user == nil {
		return ""
	}
	return user.ID
}
