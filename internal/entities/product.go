package entities

import "strconv"

type Product struct {
	ID         int64   `json:"id"`
	Anchor     string  `json:"anchor"`
	Name       string  `json:"name"`
	PriceCents int     `json:"price_cents"`
	Stock      int     `json:"stock"`
	ImageURL   *string `json:"image_url,omitempty"`
}

// Price formats the price in whole units, dropping a zero fraction:
// 300 -> "3", 350 -> "3.50".
func (p Product) Price() string {
	return FormatCents(p.PriceCents)
}

func FormatCents(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	units, rest := cents/100, cents%100
	if rest == 0 {
		return sign + strconv.Itoa(units)
	}
	frac := strconv.Itoa(rest)
	if rest < 10 {
		frac = "0" + frac
	}
	return sign + strconv.Itoa(units) + "." + frac
}

// Image returns the image URL or "".
func (p Product) Image() string {
	if p.ImageURL == nil {
		return ""
	}
	return *p.ImageURL
}

// Classification is the normalized answer of the vision model. Category is
// empty when nothing from the anchor vocabulary was recognized.
type Classification struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

func (c Classification) Recognized() bool { return c.Category != "" }
