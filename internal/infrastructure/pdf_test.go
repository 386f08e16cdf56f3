package infrastructure

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuoteRenderer_Render(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "public")
	r := NewQuoteRenderer(dir, "whatsapp:+1 (415) 523-8886")

	path, filename, err := r.Render("Detalle de Cotización:\nEl precio del martillo es de $3 dólares.")
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^cotizacion-[0-9a-f]{8}\.pdf$`), filename)
	require.Equal(t, filepath.Join(dir, filename), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestQuoteRenderer_UniqueNames(t *testing.T) {
	r := NewQuoteRenderer(t.TempDir(), "")

	_, a, err := r.Render("uno")
	require.NoError(t, err)
	_, b, err := r.Render("dos")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestWhatsAppLink(t *testing.T) {
	require.Equal(t, "https://wa.me/14155238886", whatsAppLink("whatsapp:+1 (415) 523-8886"))
	require.Empty(t, whatsAppLink(""))
	require.Empty(t, whatsAppLink("whatsapp:"))
}
