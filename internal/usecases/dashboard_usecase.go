package usecases

import (
	"context"
	"errors"
	"io"

	"salesbot/internal/config"
	"salesbot/internal/entities"
	"salesbot/internal/interfaces"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

// ErrInvalidPage is returned for a page below 1 or a page size outside
// 1..MaxPerPage.
var ErrInvalidPage = errors.New("invalid pagination")

// ErrCatalogUnavailable is returned when the catalog database is not wired.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

type ProductImporter interface {
	interfaces.ProductLister
	ImportCSV(ctx context.Context, src io.Reader, canonical func(string) (string, bool), replace bool) (int, error)
}

// DashboardUsecase backs the operator panel and its JSON API.
type DashboardUsecase struct {
	conversations interfaces.ConversationReader
	products      ProductImporter
	vocab         *config.Vocabulary
}

func NewDashboardUsecase(conversations interfaces.ConversationReader, products ProductImporter, vocab *config.Vocabulary) *DashboardUsecase {
	return &DashboardUsecase{
		conversations: conversations,
		products:      products,
		vocab:         vocab,
	}
}

// ListConversations returns one page of the log. A zero page or page size
// takes the default.
func (u *DashboardUsecase) ListConversations(ctx context.Context, f entities.ConversationFilter) (entities.ConversationPage, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.PerPage == 0 {
		f.PerPage = DefaultPerPage
	}
	if f.Page < 1 || f.PerPage < 1 || f.PerPage > MaxPerPage {
		return entities.ConversationPage{}, ErrInvalidPage
	}

	items, total, err := u.conversations.List(ctx, f)
	if err != nil {
		return entities.ConversationPage{}, err
	}
	return entities.NewConversationPage(items, f, total), nil
}

func (u *DashboardUsecase) Stats(ctx context.Context) (entities.ConversationStats, error) {
	return u.conversations.Stats(ctx)
}

func (u *DashboardUsecase) ListProducts(ctx context.Context) ([]entities.Product, error) {
	if u.products == nil {
		return nil, ErrCatalogUnavailable
	}
	products, err := u.products.List(ctx)
	if err != nil {
		return nil, err
	}
	if products == nil {
		products = []entities.Product{}
	}
	return products, nil
}

// ImportProducts loads a catalog CSV, mapping anchors onto the vocabulary.
func (u *DashboardUsecase) ImportProducts(ctx context.Context, src io.Reader, replace bool) (int, error) {
	if u.products == nil {
		return 0, ErrCatalogUnavailable
	}
	return u.products.ImportCSV(ctx, src, u.vocab.Canonical, replace)
}
