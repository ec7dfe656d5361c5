package models

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeMessage MessageType = "message"
	TypeReply   MessageType = "reply"
	TypeSystem  MessageType = "systemEventMessage"
	TypeMeeting MessageType = "meetingMessage"
)

type ChannelType string

const (
	ChannelStandard ChannelType = "standard"
	ChannelPrivate  ChannelType = "private"
	ChannelShared   ChannelType = "shared"
)

// Team is a Microsoft Teams team as returned by the Graph API.
type Team struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Channel is immutable once discovered; it lives for a single extraction run.
type Channel struct {
	ID          string      `json:"id"`
	TeamID      string      `json:"team_id"`
	DisplayName string      `json:"display_name"`
	Description string      `json:"description,omitempty"`
	Type        ChannelType `json:"channel_type"`
	WebURL      string      `json:"web_url,omitempty"`
	Email       string      `json:"email,omitempty"`
}

type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	ContentURL  string `json:"content_url,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

type Reaction struct {
	Type      string     `json:"reaction_type"`
	UserID    string     `json:"user_id"`
	UserName  string     `json:"user_name,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type Mention struct {
	ID        int    `json:"id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email,omitempty"`
}

// Message is a single Teams channel message or reply, produced by parsing
// one Graph API item. Immutable after construction.
type Message struct {
	ID             string      `json:"id"`
	Type           MessageType `json:"message_type"`
	CreatedAt      time.Time   `json:"created_at"`
	LastModifiedAt *time.Time  `json:"last_modified_at,omitempty"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`

	Subject         string `json:"subject,omitempty"`
	BodyContent     string `json:"body_content"`
	BodyContentType string `json:"body_content_type"`

	AuthorID    string `json:"author_id"`
	AuthorName  string `json:"author_name"`
	AuthorEmail string `json:"author_email,omitempty"`

	TeamID      string `json:"team_id"`
	TeamName    string `json:"team_name,omitempty"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"`

	ReplyToID string `json:"reply_to_id,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	Mentions    []Mention    `json:"mentions,omitempty"`

	WebURL     string `json:"web_url,omitempty"`
	Importance string `json:"importance"`
}

// Graph API wire shapes. Timestamps come back as RFC 3339 strings and are
// absent rather than null for undeleted or unedited messages.

type apiIdentity struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	UserIdentityType  string `json:"userIdentityType"`
}

type apiMessage struct {
	ID                   string `json:"id"`
	ReplyToID            string `json:"replyToId"`
	MessageType          string `json:"messageType"`
	CreatedDateTime      string `json:"createdDateTime"`
	LastModifiedDateTime string `json:"lastModifiedDateTime"`
	DeletedDateTime      string `json:"deletedDateTime"`
	Subject              string `json:"subject"`
	Importance           string `json:"importance"`
	WebURL               string `json:"webUrl"`
	Body                 struct {
		Content     string `json:"content"`
		ContentType string `json:"contentType"`
	} `json:"body"`
	From struct {
		User apiIdentity `json:"user"`
	} `json:"from"`
	Attachments []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		ContentURL  string `json:"contentUrl"`
		Size        int64  `json:"size"`
	} `json:"attachments"`
	Reactions []struct {
		ReactionType    string `json:"reactionType"`
		CreatedDateTime string `json:"createdDateTime"`
		User            struct {
			User apiIdentity `json:"user"`
		} `json:"user"`
	} `json:"reactions"`
	Mentions []struct {
		ID        int `json:"id"`
		Mentioned struct {
			User apiIdentity `json:"user"`
		} `json:"mentioned"`
	} `json:"mentions"`
	Replies []json.RawMessage `json:"replies"`
}

type apiChannel struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	Description    string `json:"description"`
	MembershipType string `json:"membershipType"`
	WebURL         string `json:"webUrl"`
	Email          string `json:"email"`
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

// ParseMessage converts one Graph API message item into a Message. It also
// returns any reply payloads the API embedded via $expand=replies, so the
// caller can avoid a follow-up fetch.
func ParseMessage(data []byte, ch Channel) (Message, []json.RawMessage, error) {
	var raw apiMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, nil, err
	}

	msg := Message{
		ID:              raw.ID,
		Type:            TypeMessage,
		Subject:         raw.Subject,
		BodyContent:     raw.Body.Content,
		BodyContentType: raw.Body.ContentType,
		AuthorID:        raw.From.User.ID,
		AuthorName:      raw.From.User.DisplayName,
		AuthorEmail:     raw.From.User.UserPrincipalName,
		TeamID:          ch.TeamID,
		ChannelID:       ch.ID,
		ChannelName:     ch.DisplayName,
		ReplyToID:       raw.ReplyToID,
		WebURL:          raw.WebURL,
		Importance:      raw.Importance,
	}
	if raw.MessageType != "" {
		msg.Type = MessageType(raw.MessageType)
	}
	if msg.BodyContentType == "" {
		msg.BodyContentType = "html"
	}
	if msg.Importance == "" {
		msg.Importance = "normal"
	}

	if t := parseTime(raw.CreatedDateTime); t != nil {
		msg.CreatedAt = *t
	} else {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.LastModifiedAt = parseTime(raw.LastModifiedDateTime)
	msg.DeletedAt = parseTime(raw.DeletedDateTime)

	for _, a := range raw.Attachments {
		msg.Attachments = append(msg.Attachments, Attachment{
			ID:          a.ID,
			Name:        a.Name,
			ContentType: a.ContentType,
			ContentURL:  a.ContentURL,
			Size:        a.Size,
		})
	}
	for _, r := range raw.Reactions {
		msg.Reactions = append(msg.Reactions, Reaction{
			Type:      r.ReactionType,
			UserID:    r.User.User.ID,
			UserName:  r.User.User.DisplayName,
			CreatedAt: parseTime(r.CreatedDateTime),
		})
	}
	for _, m := range raw.Mentions {
		mention := Mention{
			ID:       m.ID,
			UserID:   m.Mentioned.User.ID,
			UserName: m.Mentioned.User.DisplayName,
		}
		if m.Mentioned.User.UserIdentityType == "aadUser" {
			mention.UserEmail = m.Mentioned.User.UserPrincipalName
		}
		msg.Mentions = append(msg.Mentions, mention)
	}

	return msg, raw.Replies, nil
}

// ParseChannel converts one Graph API channel item into a Channel.
func ParseChannel(data []byte, teamID string) (Channel, error) {
	var raw apiChannel
	if err := json.Unmarshal(data, &raw); err != nil {
		return Channel{}, err
	}
	ch := Channel{
		ID:          raw.ID,
		TeamID:      teamID,
		DisplayName: raw.DisplayName,
		Description: raw.Description,
		Type:        ChannelStandard,
		WebURL:      raw.WebURL,
		Email:       raw.Email,
	}
	if raw.MembershipType != "" {
		ch.Type = ChannelType(raw.MembershipType)
	}
	return ch, nil
}
