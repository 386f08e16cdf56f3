package entities

import "time"

type Conversation struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationFilter selects one page of the conversation log.
type ConversationFilter struct {
	Query   string
	Page    int
	PerPage int
}

// Offset is the number of rows skipped before the page.
func (f ConversationFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PerPage
}

type ConversationPage struct {
	Items      []Conversation `json:"items"`
	Query      string         `json:"q"`
	Page       int            `json:"page"`
	PerPage    int            `json:"per_page"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// NewConversationPage computes the page count; an empty log still has one page.
func NewConversationPage(items []Conversation, f ConversationFilter, total int) ConversationPage {
	pages := 1
	if f.PerPage > 0 && total > 0 {
		pages = (total + f.PerPage - 1) / f.PerPage
	}
	if items == nil {
		items = []Conversation{}
	}
	return ConversationPage{
		Items:      items,
		Query:      f.Query,
		Page:       f.Page,
		PerPage:    f.PerPage,
		Total:      total,
		TotalPages: pages,
	}
}

func (p ConversationPage) HasPrev() bool { return p.Page > 1 }
func (p ConversationPage) HasNext() bool { return p.Page < p.TotalPages }
func (p ConversationPage) PrevPage() int { return p.Page - 1 }
func (p ConversationPage) NextPage() int { return p.Page + 1 }

// ConversationStats summarises the log for the panel.
type ConversationStats struct {
	Today int `json:"today"`
	Month int `json:"month"`
	Total int `json:"total"`
}
