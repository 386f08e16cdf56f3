package interfaces

import (
	"context"

	"salesbot/internal/entities"
)

// TextGenerator produces a short sales answer; "" means no answer.
type TextGenerator interface {
	Complete(ctx context.Context, text string) string
}

// ImageClassifier maps a product photo onto the anchor vocabulary.
type ImageClassifier interface {
	Classify(ctx context.Context, image string) entities.Classification
}

type Messenger interface {
	Send(ctx context.Context, to, body string, opts entities.SendOptions) (string, error)
}

type MediaFetcher interface {
	Fetch(ctx context.Context, url string) (entities.StoredMedia, error)
	PublicURL(filename string) string
}

type QuoteRenderer interface {
	Render(content string) (path, filename string, err error)
}

type ConversationStore interface {
	Create(ctx context.Context, sender, message, response string) (int64, error)
}

type ConversationReader interface {
	List(ctx context.Context, f entities.ConversationFilter) ([]entities.Conversation, int, error)
	Stats(ctx context.Context) (entities.ConversationStats, error)
}

type Catalog interface {
	FindByAnchor(ctx context.Context, anchor string) (entities.Product, error)
}

type ProductLister interface {
	List(ctx context.Context) ([]entities.Product, error)
}
