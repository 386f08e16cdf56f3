package config

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed vocabulary.toml
var defaultVocabulary string

// Anchor is one catalog keyword with its spelling variants.
type Anchor struct {
	Name    string   `toml:"name"`
	Aliases []string `toml:"aliases"`
	// PriceReply answers a price question when the catalog has no row.
	PriceReply string `toml:"price_reply"`
}

// Replies are the canned texts sent by the router. Any "{menu}" placeholder
// is expanded when the vocabulary is loaded.
type Replies struct {
	Menu            string `toml:"menu"`
	ImageReceived   string `toml:"image_received"`
	OffTopic        string `toml:"off_topic"`
	DontKnow        string `toml:"dont_know"`
	ImageFound      string `toml:"image_found"`
	ImageNotStocked string `toml:"image_not_stocked"`
	ImageUnmatched  string `toml:"image_unmatched"`
	Price           string `toml:"price"`
	NoPrice         string `toml:"no_price"`
	QuoteContent    string `toml:"quote_content"`
	QuoteAttached   string `toml:"quote_attached"`
	QuotePanel      string `toml:"quote_panel"`
	QuoteFailed     string `toml:"quote_failed"`
}

// Vocabulary is the single source of anchors and intent keywords.
type Vocabulary struct {
	Anchors          []Anchor `toml:"anchors"`
	PriceTriggers    []string `toml:"price_triggers"`
	QuoteTriggers    []string `toml:"quote_triggers"`
	GreetingPattern  string   `toml:"greeting_pattern"`
	OffTopicPatterns []string `toml:"off_topic_patterns"`
	OffTopicMinWords int      `toml:"off_topic_min_words"`
	Replies          Replies  `toml:"replies"`

	greeting *regexp.Regexp
	offTopic []*regexp.Regexp
	keywords []keyword
	byName   map[string]Anchor
}

type keyword struct {
	text   string
	anchor string
}

// DefaultVocabulary returns the embedded vocabulary.
func DefaultVocabulary() (*Vocabulary, error) {
	return LoadVocabulary("")
}

// LoadVocabulary decodes the embedded defaults and, when path is set, the
// file at path on top of them.
func LoadVocabulary(path string) (*Vocabulary, error) {
	var v Vocabulary
	if _, err := toml.Decode(defaultVocabulary, &v); err != nil {
		return nil, fmt.Errorf("decode default vocabulary: %w", err)
	}
	if path != "" {
		if err := v.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := v.compile(); err != nil {
		return nil, err
	}
	return &v, nil
}

// overlay decodes the file at path over v. Lists named in the file replace
// the defaults wholesale; decoding straight into a filled slice would reuse
// the default elements and leak their fields into the new entries.
func (v *Vocabulary) overlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	md, err := toml.Decode(string(raw), &map[string]any{})
	if err != nil {
		return fmt.Errorf("decode vocabulary %s: %w", path, err)
	}

	if md.IsDefined("anchors") {
		v.Anchors = nil
	}
	if md.IsDefined("price_triggers") {
		v.PriceTriggers = nil
	}
	if md.IsDefined("quote_triggers") {
		v.QuoteTriggers = nil
	}
	if md.IsDefined("off_topic_patterns") {
		v.OffTopicPatterns = nil
	}

	if _, err := toml.Decode(string(raw), v); err != nil {
		return fmt.Errorf("decode vocabulary %s: %w", path, err)
	}
	return nil
}

func (v *Vocabulary) compile() error {
	if len(v.Anchors) == 0 {
		return fmt.Errorf("vocabulary has no anchors")
	}

	var err error
	if v.greeting, err = regexp.Compile(v.GreetingPattern); err != nil {
		return fmt.Errorf("greeting pattern: %w", err)
	}
	v.offTopic = v.offTopic[:0]
	for _, p := range v.OffTopicPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("off-topic pattern %q: %w", p, err)
		}
		v.offTopic = append(v.offTopic, re)
	}

	v.keywords = v.keywords[:0]
	v.byName = make(map[string]Anchor, len(v.Anchors))
	for i, a := range v.Anchors {
		name := normalize(a.Name)
		if name == "" {
			return fmt.Errorf("anchor %d has no name", i)
		}
		a.Name = name
		v.Anchors[i] = a
		v.byName[name] = a
		v.keywords = append(v.keywords, keyword{text: name, anchor: name})
		for _, alias := range a.Aliases {
			if alias = normalize(alias); alias != "" {
				v.keywords = append(v.keywords, keyword{text: alias, anchor: name})
			}
		}
	}

	menu := strings.NewReplacer("{menu}", v.Replies.Menu)
	r := &v.Replies
	for _, s := range []*string{
		&r.ImageReceived, &r.OffTopic, &r.DontKnow, &r.ImageFound, &r.ImageNotStocked,
		&r.ImageUnmatched, &r.Price, &r.NoPrice, &r.QuoteAttached, &r.QuotePanel, &r.QuoteFailed,
	} {
		*s = menu.Replace(*s)
	}
	return nil
}

// AnchorNames lists the canonical anchors in vocabulary order.
func (v *Vocabulary) AnchorNames() []string {
	names := make([]string, len(v.Anchors))
	for i, a := range v.Anchors {
		names[i] = a.Name
	}
	return names
}

// Anchor returns the anchor entry for a canonical name.
func (v *Vocabulary) Anchor(name string) (Anchor, bool) {
	a, ok := v.byName[normalize(name)]
	return a, ok
}

// MatchAnchor returns the first anchor whose name or alias occurs in text.
// text is expected to be lowercased already.
func (v *Vocabulary) MatchAnchor(text string) (string, bool) {
	for _, k := range v.keywords {
		if strings.Contains(text, k.text) {
			return k.anchor, true
		}
	}
	return "", false
}

// HasAnchor reports whether any anchor keyword occurs in text.
func (v *Vocabulary) HasAnchor(text string) bool {
	_, ok := v.MatchAnchor(text)
	return ok
}

// Canonical maps a free-form category (e.g. a model answer) onto an anchor.
func (v *Vocabulary) Canonical(category string) (string, bool) {
	c := normalize(category)
	if c == "" {
		return "", false
	}
	for _, k := range v.keywords {
		if c == k.text {
			return k.anchor, true
		}
	}
	return "", false
}

func (v *Vocabulary) IsGreeting(text string) bool {
	return v.greeting.MatchString(text)
}

// MatchesDenylist reports whether text hits any off-topic pattern.
func (v *Vocabulary) MatchesDenylist(text string) bool {
	for _, re := range v.offTopic {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (v *Vocabulary) HasQuoteTrigger(text string) bool {
	return containsAny(text, v.QuoteTriggers)
}

func (v *Vocabulary) HasPriceTrigger(text string) bool {
	return containsAny(text, v.PriceTriggers)
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
