// Package prompt assembles the system instructions for report generation.
// Assembly is deterministic: fixed sections, the grounding context verbatim,
// then mode addenda in fixed order. Addenda are pure concatenation and never
// mutually exclusive.
package prompt

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/eduardocaminha/radreport/pkg/report"
)

// FidelityConstraint is the non-negotiable safety property of the whole
// pipeline: generation must never fabricate clinical content beyond what the
// grounding context and dictation justify. It appears verbatim, exactly once,
// in every assembled prompt.
const FidelityConstraint = `3. NÃO invente achados que não foram mencionados
4. Se algo estiver vago, mantenha vago - NÃO complete com informações não fornecidas`

const basePromptHeader = `Você é um radiologista brasileiro experiente especializado em tomografia computadorizada.
Sua tarefa é transformar texto ditado em um laudo de TC estruturado.

## REGRAS GERAIS

1. Corrija português e padronize termos técnicos radiológicos em PT-BR
2. Mantenha o sentido clínico EXATO do texto original
` + FidelityConstraint + `
5. Use as máscaras e achados disponíveis quando aplicável

## REGRAS DE FORMATAÇÃO

- Medidas: sempre uma casa decimal (1,0 cm, não 1 cm)
- Unidade: sempre "cm" abreviado
- Números: por extenso até dez, depois numeral
- Lateralidade: "à direita/esquerda" (não "no lado direito")

## NÍVEIS DE VALIDAÇÃO

### ESSENCIAIS (bloqueiam geração - retorne erro):
- Contraste sim/não (se não especificado)
- Medidas marcadas como "requer" nos achados
- Lateralidade marcada como "requer" nos achados

### IMPORTANTES (não bloqueiam - retorne sugestões):
- Achados sem template pré-definido
- Descrições possivelmente incompletas (fraturas, lesões, etc.)

## BLOCOS OPCIONAIS

- "urgencia": incluído por padrão, remover se usuário mencionar "eletivo", "ambulatorial" ou "não é urgência"

## ABREVIAÇÕES ACEITAS

- "tomo" ou "tc" = tomografia computadorizada
- "com" ou "contrastado" = com contraste
- "sem" = sem contraste
- Lateralidade: "esq" = esquerda, "dir" = direita`

const outputContractHeader = `## FORMATO DE RESPOSTA

SEMPRE responda em JSON válido com esta estrutura:
{
  "laudo": "texto completo do laudo ou null se houver erro",
  "sugestoes": ["lista de aspectos que poderiam ser melhor descritos"],
  "erro": "mensagem de erro ou null se não houver erro"
}

Se faltar informação ESSENCIAL, retorne erro e laudo null.
Se o achado não tiver template, gere descrição E inclua sugestões de completude.`

// EmergencyAddendum biases output toward acute findings that drive immediate
// management.
const EmergencyAddendum = `## MODO PRONTO-SOCORRO (ATIVO)

- Seja mais objetivo e conciso
- Foco em achados agudos relevantes
- Menos detalhamento de achados crônicos/incidentais
- Priorize informações que impactem conduta imediata`

const ComparativeAddendum = `## MODO COMPARATIVO (ATIVO)

- O ditado referencia um exame anterior; preserve as comparações mencionadas
- Use termos evolutivos padronizados: "estável", "aumento", "redução", "novo achado"
- NÃO afirme estabilidade de estruturas que o ditado não comparou`

// ResearchDetailAddendum mandates materially more specific advisory
// suggestions, naming the sub-attributes expected for common finding classes.
const ResearchDetailAddendum = `## MODO PESQUISA DETALHADA (ATIVO)

- Sugestões devem ser mais longas e específicas, citando a granularidade típica de descrição radiológica
- Nódulos: cite dimensões nos três eixos, densidade, contornos, realce pós-contraste
- Fraturas: cite traço, desvio, cominuição, envolvimento articular
- Lesões: cite localização segmentar, margens, conteúdo, efeito de massa
- Linfonodos: cite eixo curto, morfologia, cadeia acometida`

// AssembleOptions are the mode flags plus the grounding block. Modes are
// compatible; any combination may be active.
type AssembleOptions struct {
	Emergency        bool
	Comparative      bool
	ResearchDetail   bool
	GroundingContext string
}

// Assemble builds the full instruction prompt. Repeated calls with the same
// options return identical strings.
func Assemble(opts AssembleOptions) string {
	sections := []string{
		basePromptHeader,
		strings.TrimSpace(opts.GroundingContext),
		outputContractHeader,
		outputSchemaSection(),
	}

	if opts.Emergency {
		sections = append(sections, EmergencyAddendum)
	}
	if opts.Comparative {
		sections = append(sections, ComparativeAddendum)
	}
	if opts.ResearchDetail {
		sections = append(sections, ResearchDetailAddendum)
	}

	nonEmpty := make([]string, 0, len(sections))
	for _, section := range sections {
		if section != "" {
			nonEmpty = append(nonEmpty, section)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

var (
	schemaSectionOnce sync.Once
	schemaSection     string
)

// outputSchemaSection appends the reflected JSON schema of the result type so
// the contract stays in lockstep with the Go struct.
func outputSchemaSection() string {
	schemaSectionOnce.Do(func() {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}
		schema := reflector.Reflect(report.GenerationResult{})
		schemaJSON, err := json.Marshal(schema)
		if err != nil {
			// The literal contract above remains the sole instruction.
			schemaSection = ""
			return
		}
		schemaSection = "Esquema JSON da resposta:\n" + string(schemaJSON)
	})
	return schemaSection
}
