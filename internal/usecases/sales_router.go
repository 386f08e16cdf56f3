package usecases

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"salesbot/internal/config"
	"salesbot/internal/entities"
	"salesbot/internal/infrastructure"
	"salesbot/internal/interfaces"
	"salesbot/internal/repository"
)

// RouterDeps are the collaborators of SalesRouter. Catalog and Metrics may be
// nil; everything else is required.
type RouterDeps struct {
	Vocabulary    *config.Vocabulary
	LLM           interfaces.TextGenerator
	Vision        interfaces.ImageClassifier
	Messenger     interfaces.Messenger
	Media         interfaces.MediaFetcher
	Quotes        interfaces.QuoteRenderer
	Conversations interfaces.ConversationStore
	Catalog       interfaces.Catalog
	Metrics       *infrastructure.Metrics
	Logger        *log.Logger
}

// SalesRouter turns one inbound WhatsApp message into exactly one reply,
// sends it and logs the exchange.
type SalesRouter struct {
	vocab         *config.Vocabulary
	replies       config.Replies
	llm           interfaces.TextGenerator
	vision        interfaces.ImageClassifier
	messenger     interfaces.Messenger
	media         interfaces.MediaFetcher
	quotes        interfaces.QuoteRenderer
	conversations interfaces.ConversationStore
	catalog       interfaces.Catalog
	metrics       *infrastructure.Metrics
	logger        *log.Logger
	sessions      *senderSessions
}

func NewSalesRouter(d RouterDeps) (*SalesRouter, error) {
	switch {
	case d.Vocabulary == nil:
		return nil, errors.New("sales router: vocabulary is required")
	case d.LLM == nil:
		return nil, errors.New("sales router: text generator is required")
	case d.Vision == nil:
		return nil, errors.New("sales router: image classifier is required")
	case d.Messenger == nil:
		return nil, errors.New("sales router: messenger is required")
	case d.Media == nil:
		return nil, errors.New("sales router: media fetcher is required")
	case d.Quotes == nil:
		return nil, errors.New("sales router: quote renderer is required")
	case d.Conversations == nil:
		return nil, errors.New("sales router: conversation store is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = infrastructure.NopLogger()
	}
	return &SalesRouter{
		vocab:         d.Vocabulary,
		replies:       d.Vocabulary.Replies,
		llm:           d.LLM,
		vision:        d.Vision,
		messenger:     d.Messenger,
		media:         d.Media,
		quotes:        d.Quotes,
		conversations: d.Conversations,
		catalog:       d.Catalog,
		metrics:       d.Metrics,
		logger:        logger,
		sessions:      newSenderSessions(),
	}, nil
}

// Handle routes msg, sends the reply and appends the exchange to the
// conversation log. Send and log failures are recorded but never change the
// reply. Messages from the same sender are handled one at a time.
func (r *SalesRouter) Handle(ctx context.Context, msg entities.InboundMessage) entities.Reply {
	release := r.sessions.acquire(msg.From)
	defer release()

	reply := r.route(ctx, msg)

	if _, err := r.messenger.Send(ctx, msg.From, reply.Text, entities.SendOptions{MediaURLs: reply.MediaURLs}); err != nil {
		r.logger.Error("reply not delivered", "to", msg.From, "route", reply.Route, "err", err)
		r.metrics.SendFailed()
	}

	if _, err := r.conversations.Create(ctx, msg.From, msg.Body, reply.Text); err != nil {
		r.logger.Error("conversation not stored", "from", msg.From, "err", err)
		r.metrics.StoreFailed()
	}

	r.metrics.ObserveReply(reply.Route)
	r.logger.Info("message handled", "from", msg.From, "route", reply.Route, "media", len(reply.MediaURLs))
	return reply
}

func (r *SalesRouter) route(ctx context.Context, msg entities.InboundMessage) entities.Reply {
	if msg.NumMedia > 0 {
		return r.replyToMedia(ctx, msg)
	}

	text := infrastructure.TrimTail(strings.TrimSpace(msg.Body), infrastructure.MaxPromptChars)
	lower := strings.ToLower(text)

	if r.vocab.HasQuoteTrigger(lower) {
		return r.replyWithQuote()
	}
	if anchor, ok := r.vocab.MatchAnchor(lower); ok && r.vocab.HasPriceTrigger(lower) {
		return entities.Reply{Route: RouteDirect, Text: r.priceReply(ctx, anchor)}
	}
	if IsOffTopic(r.vocab, lower) {
		return entities.Reply{Route: RouteOffTopic, Text: r.replies.OffTopic}
	}

	answer := r.llm.Complete(ctx, text)
	switch {
	case answer == "":
		answer = r.replies.DontKnow
	case IsOffTopic(r.vocab, strings.ToLower(answer)):
		answer = r.replies.OffTopic
	}
	return entities.Reply{Route: RouteLLM, Text: answer}
}

// imageFilename stands in for a re-hosted file when checking whether files
// can be published at all.
const imageFilename = "image"

func (r *SalesRouter) replyToMedia(ctx context.Context, msg entities.InboundMessage) entities.Reply {
	reply := entities.Reply{Route: RouteImage, Text: r.replies.ImageReceived}
	if !msg.HasImage() {
		return reply
	}
	// Without a public URL the classifier cannot reach the re-hosted file.
	if r.media.PublicURL(imageFilename) == "" {
		r.logger.Warn("PUBLIC_BASE_URL unset, image not classified", "url", msg.MediaURL)
		return reply
	}

	stored, err := r.media.Fetch(ctx, msg.MediaURL)
	if err != nil {
		r.logger.Warn("media not re-hosted", "url", msg.MediaURL, "err", err)
		return reply
	}
	if stored.PublicURL == "" {
		r.logger.Warn("re-hosted image has no public URL", "file", stored.Filename)
		return reply
	}

	cls := r.vision.Classify(ctx, stored.PublicURL)
	r.logger.Debug("image classified", "category", cls.Category, "confidence", cls.Confidence)
	if !cls.Recognized() {
		reply.Text = r.replies.ImageUnmatched
		return reply
	}

	product, err := r.findProduct(ctx, cls.Category)
	if err != nil {
		reply.Text = fill(r.replies.ImageNotStocked, "anchor", cls.Category)
		return reply
	}
	reply.Text = fill(r.replies.ImageFound,
		"name", product.Name,
		"price", product.Price(),
		"stock", strconv.Itoa(product.Stock))
	if img := product.Image(); img != "" {
		reply.MediaURLs = []string{img}
	}
	return reply
}

func (r *SalesRouter) replyWithQuote() entities.Reply {
	reply := entities.Reply{Route: RouteQuote}

	_, filename, err := r.quotes.Render(r.replies.QuoteContent)
	if err != nil {
		r.logger.Error("quote not rendered", "err", err)
		reply.Text = r.replies.QuoteFailed
		return reply
	}

	url := r.media.PublicURL(filename)
	if url == "" {
		reply.Text = r.replies.QuotePanel
		return reply
	}
	reply.Text = r.replies.QuoteAttached
	reply.MediaURLs = []string{url}
	return reply
}

// priceReply prefers the catalog row, then the anchor's static answer.
func (r *SalesRouter) priceReply(ctx context.Context, anchor string) string {
	if product, err := r.findProduct(ctx, anchor); err == nil {
		return fill(r.replies.Price,
			"name", product.Name,
			"price", product.Price(),
			"stock", strconv.Itoa(product.Stock))
	}
	if a, ok := r.vocab.Anchor(anchor); ok && a.PriceReply != "" {
		return a.PriceReply
	}
	return fill(r.replies.NoPrice, "anchor", anchor)
}

func (r *SalesRouter) findProduct(ctx context.Context, anchor string) (entities.Product, error) {
	if r.catalog == nil {
		return entities.Product{}, repository.ErrProductNotFound
	}
	product, err := r.catalog.FindByAnchor(ctx, anchor)
	if err != nil && !errors.Is(err, repository.ErrProductNotFound) {
		r.logger.Error("catalog lookup failed", "anchor", anchor, "err", err)
	}
	return product, err
}
