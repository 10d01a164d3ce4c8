package ports

import (
	"context"

	"medialeech/internal/domain"
)

// MessageRef identifies one message inside one conversation.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

// Media describes the downloadable payload attached to a message.
type Media struct {
	Class domain.MediaClass
	Name  string
	Size  int64
}

// Message is the transport-neutral view of a chat message. ReplyTo is the
// id of the replied-to message, 0 when the message is not a reply.
type Message struct {
	Ref      MessageRef
	AuthorID int64
	Text     string
	ReplyTo  int64
	Media    *Media
}

// Button is one inline keyboard button. Data buttons produce a Callback
// event; URL buttons open a link.
type Button struct {
	Label string
	Data  string
	URL   string
}

// Callback is a button press.
type Callback struct {
	ID      string
	UserID  int64
	ChatID  int64
	Data    string
	Message MessageRef
}

// Event is one inbound transport update: a message or a callback.
type Event struct {
	Message  *Message
	Callback *Callback
}

// Upload describes a file to push into a chat.
type Upload struct {
	ChatID    int64
	Path      string
	FileName  string
	Caption   string
	Class     domain.MediaClass
	ThumbPath string
	ReplyTo   int64
	Buttons   [][]Button
	Progress  func(done, total int64)
}

// Receipt is the platform's acknowledgement of an upload. FileHash feeds the
// stream/download link generator.
type Receipt struct {
	Ref      MessageRef
	FileName string
	FileHash string
}

// Chat is the messaging transport contract. Implementations live outside
// this module; tests use fakes.
type Chat interface {
	SendMessage(ctx context.Context, chatID int64, text string) (MessageRef, error)
	SendButtons(ctx context.Context, chatID int64, text string, rows [][]Button) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	GetMessages(ctx context.Context, chatID int64, ids []int64) ([]Message, error)
	DownloadMedia(ctx context.Context, ref MessageRef, destPath string, progress func(done, total int64)) (string, error)
	UploadFile(ctx context.Context, up Upload) (Receipt, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
	Updates() <-chan Event
}
