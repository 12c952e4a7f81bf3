package report

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatReportHTMLFullReport(t *testing.T) {
	text := "Tomografia Computadorizada de Abdome Total\n" +
		"Exame realizado em caráter de urgência.\n\n" +
		"TÉCNICA:\n" +
		"Exame realizado em aparelho multislice.\n\n" +
		"ANÁLISE:\n" +
		"Fígado de dimensões normais.\n" +
		"Rins tópicos."

	html := FormatReportHTML(text)

	assert.Contains(t, html, `<h1 class="laudo-titulo">TOMOGRAFIA COMPUTADORIZADA DE ABDOME TOTAL</h1>`)
	assert.Contains(t, html, `<p class="laudo-urgencia">Exame realizado em caráter de urgência.</p>`)
	assert.Contains(t, html, `<p class="laudo-secao">TÉCNICA:</p>`)
	assert.Contains(t, html, `<em>multislice</em>`)
	assert.Contains(t, html, `<p class="laudo-secao">ANÁLISE:</p>`)
	assert.Contains(t, html, `<p class="laudo-texto">Fígado de dimensões normais.</p>`)
	assert.Contains(t, html, `<p class="laudo-texto">Rins tópicos.</p>`)
}

func TestFormatReportHTMLAlreadyFormatted(t *testing.T) {
	html := `<h1 class="laudo-titulo">RX TÓRAX</h1><p class="laudo-texto">Normal.</p>`
	assert.Equal(t, html, FormatReportHTML(html))
}

func TestFormatReportHTMLEmpty(t *testing.T) {
	assert.Equal(t, "", FormatReportHTML(""))
	assert.Equal(t, "", FormatReportHTML("  \n\n  "))
}

func TestItalicizeForeignTermsCaseInsensitive(t *testing.T) {
	out := italicizeForeignTerms("Aparelho Multislice com escala Hounsfield.")
	assert.Contains(t, out, "<em>Multislice</em>")
	assert.Contains(t, out, "<em>Hounsfield</em>")
}

func TestItalicizeForeignTermsWordBoundary(t *testing.T) {
	// "contraste" contains "contrast" but is a Portuguese word.
	out := italicizeForeignTerms("Administrado contraste endovenoso.")
	assert.NotContains(t, out, "<em>")
}

func TestStripFormatting(t *testing.T) {
	html := `<h1 class="laudo-titulo">TC ABDOME</h1>` + "\n\n\n\n" + `<p class="laudo-texto">Fígado normal.</p>`
	plain := StripFormatting(html)

	assert.Equal(t, "TC ABDOME\n\nFígado normal.", plain)
	assert.False(t, strings.Contains(plain, "<"))
}
