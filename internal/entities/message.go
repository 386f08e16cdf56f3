package entities

import "strings"

// InboundMessage is one Twilio webhook delivery. Only the first media item is
// carried.
type InboundMessage struct {
	Body             string
	From             string
	To               string
	NumMedia         int
	MediaURL         string
	MediaContentType string
}

// HasImage reports whether the first attachment is an image.
func (m InboundMessage) HasImage() bool {
	return m.NumMedia > 0 && m.MediaURL != "" && strings.HasPrefix(strings.ToLower(m.MediaContentType), "image/")
}

// Reply is what the router decided to answer.
type Reply struct {
	Route     string
	Text      string
	MediaURLs []string
}

// StoredMedia is a file re-hosted under the public directory.
type StoredMedia struct {
	Path        string
	Filename    string
	PublicURL   string
	ContentType string
}

// SendOptions tunes one outbound WhatsApp message.
type SendOptions struct {
	MediaURLs []string
	// UseTemplate overrides the configured default mode when set.
	UseTemplate  *bool
	TemplateSID  string
	TemplateVars map[string]string
}

// PublicFileURL is where a file in the public directory is served, or "" when
// no public base URL is configured.
func PublicFileURL(baseURL, filename string) string {
	if baseURL == "" || filename == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/public/" + filename
}
