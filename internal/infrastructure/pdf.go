package infrastructure

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const contactQRImage = "contact-qr"

// QuoteRenderer writes quotation PDFs into the public directory.
type QuoteRenderer struct {
	dir     string
	contact string
}

// NewQuoteRenderer renders into dir. When storeNumber holds a phone number a
// QR code linking to the store's WhatsApp chat is printed under the quote.
func NewQuoteRenderer(dir, storeNumber string) *QuoteRenderer {
	return &QuoteRenderer{dir: dir, contact: whatsAppLink(storeNumber)}
}

// Render writes content to a new PDF and returns its path and file name.
func (r *QuoteRenderer) Render(content string) (string, string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create quote dir: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Arial", "B", 15)
		pdf.Cell(80, 10, "")
		pdf.CellFormat(30, 10, "Cotizacion", "1", 0, "C", false, 0, "")
		pdf.Ln(20)
	})
	pdf.AddPage()
	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 10, tr(content), "", "", false)

	if r.contact != "" {
		png, err := qrcode.Encode(r.contact, qrcode.Medium, 256)
		if err != nil {
			return "", "", fmt.Errorf("encode contact qr: %w", err)
		}
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(contactQRImage, opts, bytes.NewReader(png))

		pdf.Ln(5)
		y := pdf.GetY()
		pdf.ImageOptions(contactQRImage, 10, y, 35, 35, false, opts, 0, r.contact)
		pdf.SetXY(50, y+12)
		pdf.SetFont("Arial", "", 10)
		pdf.Cell(0, 10, tr("Escríbenos por WhatsApp: "+r.contact))
	}

	filename := "cotizacion-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8] + ".pdf"
	path := filepath.Join(r.dir, filename)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", "", fmt.Errorf("write quote pdf: %w", err)
	}
	return path, filename, nil
}

func whatsAppLink(number string) string {
	var digits strings.Builder
	for _, c := range strings.TrimPrefix(number, "whatsapp:") {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	return "https://wa.me/" + digits.String()
}
