package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleBaseSections(t *testing.T) {
	out := Assemble(AssembleOptions{GroundingContext: "## MÁSCARAS DISPONÍVEIS\n\n(nenhuma)"})

	assert.Contains(t, out, "radiologista brasileiro")
	assert.Contains(t, out, "## MÁSCARAS DISPONÍVEIS")
	assert.Contains(t, out, "## FORMATO DE RESPOSTA")
	assert.Contains(t, out, `"laudo"`)
	assert.Contains(t, out, `"sugestoes"`)
	assert.Contains(t, out, `"erro"`)
}

func TestAssembleFidelityConstraintExactlyOnce(t *testing.T) {
	for _, opts := range []AssembleOptions{
		{},
		{Emergency: true},
		{Comparative: true},
		{ResearchDetail: true},
		{Emergency: true, Comparative: true, ResearchDetail: true},
		{GroundingContext: "contexto"},
	} {
		out := Assemble(opts)
		require.Equal(t, 1, strings.Count(out, FidelityConstraint),
			"fidelity constraint must appear verbatim exactly once")
	}
}

func TestAssembleAddenda(t *testing.T) {
	plain := Assemble(AssembleOptions{})
	assert.NotContains(t, plain, "PRONTO-SOCORRO")
	assert.NotContains(t, plain, "MODO COMPARATIVO")
	assert.NotContains(t, plain, "PESQUISA DETALHADA")

	all := Assemble(AssembleOptions{Emergency: true, Comparative: true, ResearchDetail: true})
	assert.Contains(t, all, "## MODO PRONTO-SOCORRO (ATIVO)")
	assert.Contains(t, all, "## MODO COMPARATIVO (ATIVO)")
	assert.Contains(t, all, "## MODO PESQUISA DETALHADA (ATIVO)")

	// Fixed addendum order regardless of flag combination.
	emergencyIdx := strings.Index(all, "PRONTO-SOCORRO")
	comparativeIdx := strings.Index(all, "MODO COMPARATIVO")
	researchIdx := strings.Index(all, "PESQUISA DETALHADA")
	assert.Less(t, emergencyIdx, comparativeIdx)
	assert.Less(t, comparativeIdx, researchIdx)
}

func TestAssembleDeterministic(t *testing.T) {
	opts := AssembleOptions{Emergency: true, GroundingContext: "bloco"}
	first := Assemble(opts)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Assemble(opts))
	}
}

func TestAssembleGroundingVerbatim(t *testing.T) {
	grounding := "## MÁSCARAS DISPONÍVEIS\n\n### tc-abdome\n```\ncorpo\n```"
	out := Assemble(AssembleOptions{GroundingContext: grounding})
	assert.Contains(t, out, grounding)
}

func TestOutputSchemaSectionMentionsContractFields(t *testing.T) {
	section := outputSchemaSection()
	assert.Contains(t, section, "laudo")
	assert.Contains(t, section, "sugestoes")
	assert.Contains(t, section, "erro")
}
