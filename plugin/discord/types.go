package discord

// Channel types the sync walk cares about. Threads are channels whose
// ParentID points at the text channel they were opened under.
const (
	ChannelTypeGuildText          = 0
	ChannelTypeGuildAnnouncement  = 5
	ChannelTypeAnnouncementThread = 10
	ChannelTypePublicThread       = 11
	ChannelTypePrivateThread      = 12
)

// User is a Discord user, as returned by the API.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	GlobalName    string `json:"global_name,omitempty"`
	Discriminator string `json:"discriminator,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// Guild is a Discord server.
type Guild struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Owner bool   `json:"owner,omitempty"`
}

// Channel is a guild channel or thread.
type Channel struct {
	ID       string `json:"id"`
	GuildID  string `json:"guild_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     int    `json:"type"`
	Topic    string `json:"topic,omitempty"`
	ParentID string `json:"parent_id,omitempty"`

	ThreadMetadata *ThreadMetadata `json:"thread_metadata,omitempty"`
}

// ThreadMetadata carries the thread-only channel fields.
type ThreadMetadata struct {
	Archived bool `json:"archived"`
	Locked   bool `json:"locked"`
}

// IsThread reports whether the channel is a thread.
func (c *Channel) IsThread() bool {
	switch c.Type {
	case ChannelTypeAnnouncementThread, ChannelTypePublicThread, ChannelTypePrivateThread:
		return true
	}
	return false
}

// IsTextChannel reports whether the channel holds readable message history.
func (c *Channel) IsTextChannel() bool {
	return c.Type == ChannelTypeGuildText || c.Type == ChannelTypeGuildAnnouncement
}

// threadList is the response envelope of the active-threads endpoint.
type threadList struct {
	Threads []*Channel `json:"threads"`
	HasMore bool       `json:"has_more"`
}

// Emoji identifies a reaction emoji. Custom emoji have an ID, unicode emoji
// only a name.
type Emoji struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Reaction is one emoji's reaction tally on a message.
type Reaction struct {
	Count int   `json:"count"`
	Emoji Emoji `json:"emoji"`
}

// MessageReference points at the message a reply responds to.
type MessageReference struct {
	MessageID string `json:"message_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	GuildID   string `json:"guild_id,omitempty"`
}

// Attachment is a file attached to a message. Only identity fields are kept;
// attachment content is never fetched.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
}

// RawMessage is a message exactly as Discord returns it. The ingest
// normalizer turns it into a store.Message.
type RawMessage struct {
	ID              string `json:"id"`
	ChannelID       string `json:"channel_id"`
	Author          *User  `json:"author,omitempty"`
	Content         string `json:"content"`
	Timestamp       string `json:"timestamp"`
	EditedTimestamp string `json:"edited_timestamp,omitempty"`
	Type            int    `json:"type"`
	Pinned          bool   `json:"pinned,omitempty"`

	Mentions         []User            `json:"mentions,omitempty"`
	Reactions        []Reaction        `json:"reactions,omitempty"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	MessageReference *MessageReference `json:"message_reference,omitempty"`
}
