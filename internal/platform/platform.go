// Package platform declares the narrow ports the mission coordinator drives:
// the chat server, its members, the discussion site, webhook delivery and
// carrier artwork. Concrete clients live in subpackages.
package platform

import (
	"context"
	"errors"
	"time"

	"missionline/internal/domain"
)

var (
	// ErrNotFound means the message, channel or post is already gone.
	ErrNotFound = errors.New("platform: not found")
	// ErrForbidden means the bot lacks permission, or the user refuses DMs.
	ErrForbidden = errors.New("platform: forbidden")
	// ErrInputTimeout means no user reply arrived inside the wait window.
	ErrInputTimeout = errors.New("platform: timed out waiting for input")
)

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title       string
	Description string
	URL         string
	Color       int
	ImageURL    string
	Fields      []EmbedField
	Footer      string
}

type Message struct {
	Content string
	Embeds  []Embed
	// Files are local paths to attach.
	Files []string
}

type Channel struct {
	ID       string
	Name     string
	Category string
}

// Input is a user reply collected by WaitForInput.
type Input struct {
	Content     string
	Attachments []string
}

type Chat interface {
	SendMessage(ctx context.Context, channelID string, msg Message) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg Message) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	CreateChannel(ctx context.Context, name, category string) (string, error)
	// FindChannel returns ErrNotFound when no channel has the name.
	FindChannel(ctx context.Context, name, category string) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
	ListChannels(ctx context.Context, category string) ([]Channel, error)
	// WaitForInput waits for the next message from userID in channelID.
	WaitForInput(ctx context.Context, channelID, userID string, timeout time.Duration) (Input, error)
}

type Members interface {
	SendDirect(ctx context.Context, userID string, msg Message) error
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	HasRole(ctx context.Context, userID, roleID string) (bool, error)
}

// Post identifies a discussion-site submission or comment.
type Post struct {
	ID  string
	URL string
}

type Discussion interface {
	SubmitPost(ctx context.Context, title, imagePath string) (Post, error)
	Reply(ctx context.Context, postID, text string) (Post, error)
	SetLabel(ctx context.Context, postID, label string) error
	MarkSensitive(ctx context.Context, postID string) error
}

// Delivery identifies a message posted through a webhook.
type Delivery struct {
	MessageID string
	JumpURL   string
}

type Webhooks interface {
	Post(ctx context.Context, url string, msg Message) (Delivery, error)
	Edit(ctx context.Context, url, messageID string, msg Message) error
}

type ImageSize int

const (
	SizeChat ImageSize = iota
	SizeDiscussion
)

func (s ImageSize) String() string {
	if s == SizeDiscussion {
		return "discussion"
	}
	return "chat"
}

type Images interface {
	HasValidImage(ctx context.Context, carrier domain.Carrier) (bool, error)
	// StoreImage saves an uploaded attachment as the carrier's background.
	StoreImage(ctx context.Context, carrier domain.Carrier, attachment string) error
	// Render draws the mission card and returns the file path.
	Render(ctx context.Context, carrier domain.Carrier, params domain.MissionParams, size ImageSize) (string, error)
	// Archive moves the carrier's background aside when the carrier is deleted.
	Archive(ctx context.Context, carrier domain.Carrier) error
}

// Platform bundles every port; a single client may implement several.
type Platform struct {
	Chat       Chat
	Members    Members
	Discussion Discussion
	Webhooks   Webhooks
	Images     Images
}

// IsGone reports whether err means the target no longer exists.
func IsGone(err error) bool { return errors.Is(err, ErrNotFound) }
