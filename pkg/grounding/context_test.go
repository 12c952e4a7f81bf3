package grounding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/store"
)

func seededStore(t *testing.T) *store.Store {
	st, err := store.New()
	require.NoError(t, err)

	tmpl, err := st.CreateTemplate(report.Template{
		Slug:           "tc-abdome-total",
		Name:           "TC Abdome Total",
		ExamType:       "tc",
		ExamSubtype:    "abdome",
		Contrast:       report.ContrastBoth,
		UrgencyDefault: true,
		Keywords:       []string{"abdome", "tomografia"},
		BodyContent:    "TOMOGRAFIA COMPUTADORIZADA DE ABDOME TOTAL",
		Status:         report.StatusPublished,
	})
	require.NoError(t, err)

	_, err = st.AddRegion(report.Region{TemplateID: tmpl.ID, Slug: "figado", SortOrder: 1})
	require.NoError(t, err)
	_, err = st.AddRegion(report.Region{TemplateID: tmpl.ID, Slug: "cavidade", SortOrder: 2, Optional: true})
	require.NoError(t, err)

	_, err = st.AddFinding(report.Finding{
		TemplateID:  tmpl.ID,
		RegionSlug:  "figado",
		Slug:        "esteatose",
		Keywords:    []string{"esteatose"},
		BodyContent: "Parênquima hepático com densidade reduzida, medindo {{medida}}.",
		FieldRules: map[string]report.FieldRule{
			"medida": {Kind: report.FieldOptional},
		},
		MeasureDefault: "difusa",
	})
	require.NoError(t, err)
	return st
}

func TestRenderSections(t *testing.T) {
	st := seededStore(t)
	bundles, err := st.ReadForExamType("tc")
	require.NoError(t, err)

	text := Render(bundles)

	assert.Contains(t, text, "## MÁSCARAS DISPONÍVEIS")
	assert.Contains(t, text, "### tc-abdome-total")
	assert.Contains(t, text, "- Tipo: tc")
	assert.Contains(t, text, "- Subtipo: abdome")
	assert.Contains(t, text, "- Contraste: ambos")
	assert.Contains(t, text, "- Urgência padrão: sim")
	assert.Contains(t, text, "- Regiões: figado; cavidade (opcional)")
	assert.Contains(t, text, "## ACHADOS DISPONÍVEIS")
	assert.Contains(t, text, "### esteatose")
	assert.Contains(t, text, "- Região: figado")
	assert.Contains(t, text, "- Campos opcionais: medida")
	assert.Contains(t, text, "- Medida padrão: difusa")
	assert.Contains(t, text, "TOMOGRAFIA COMPUTADORIZADA DE ABDOME TOTAL")
}

func TestRenderEmptyKnowledgeBase(t *testing.T) {
	text := Render(nil)

	assert.Contains(t, text, "## MÁSCARAS DISPONÍVEIS")
	assert.Contains(t, text, "## ACHADOS DISPONÍVEIS")
}

func TestRenderDeterministic(t *testing.T) {
	st := seededStore(t)
	bundles, err := st.ReadForExamType("tc")
	require.NoError(t, err)

	first := Render(bundles)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Render(bundles))
	}
}

func TestFormatterCachesUntilMutation(t *testing.T) {
	st := seededStore(t)
	formatter := NewFormatter(st)

	before, err := formatter.Context("tc")
	require.NoError(t, err)
	again, err := formatter.Context("tc")
	require.NoError(t, err)
	assert.Equal(t, before, again)

	tmpl, err := st.CreateTemplate(report.Template{
		Slug:        "tc-cranio",
		Name:        "TC Crânio",
		ExamType:    "tc",
		BodyContent: "TOMOGRAFIA COMPUTADORIZADA DE CRÂNIO",
		Status:      report.StatusPublished,
	})
	require.NoError(t, err)

	after, err := formatter.Context("tc")
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
	assert.Contains(t, after, "### tc-cranio")

	// Mutations on one exam type invalidate the all-types block too.
	all, err := formatter.Context("")
	require.NoError(t, err)
	assert.Contains(t, all, "### tc-cranio")

	require.NoError(t, st.ArchiveTemplate(tmpl.ID))
	afterArchive, err := formatter.Context("tc")
	require.NoError(t, err)
	assert.False(t, strings.Contains(afterArchive, "### tc-cranio"))
}
