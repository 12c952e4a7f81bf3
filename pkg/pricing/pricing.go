// Package pricing computes generation cost from token usage and model name.
package pricing

import (
	"fmt"
	"strings"

	"github.com/eduardocaminha/radreport/pkg/report"
)

// USDToBRL is the fixed exchange rate applied to the per-million-token USD
// price table below.
const USDToBRL = 5.5

const defaultModelKey = "claude-sonnet-4.5"

type modelPricing struct {
	InputUSD  float64
	OutputUSD float64
}

// Prices per million tokens, in USD.
var pricingTable = map[string]modelPricing{
	"claude-opus-4.5":   {InputUSD: 5, OutputUSD: 25},
	"claude-opus-4.1":   {InputUSD: 15, OutputUSD: 75},
	"claude-opus-4":     {InputUSD: 15, OutputUSD: 75},
	"claude-opus-3":     {InputUSD: 15, OutputUSD: 75},
	"claude-sonnet-4.5": {InputUSD: 3, OutputUSD: 15},
	"claude-sonnet-4":   {InputUSD: 3, OutputUSD: 15},
	"claude-sonnet-3.7": {InputUSD: 3, OutputUSD: 15},
	"claude-haiku-4.5":  {InputUSD: 1, OutputUSD: 5},
	"claude-haiku-3.5":  {InputUSD: 0.80, OutputUSD: 4},
	"claude-haiku-3":    {InputUSD: 0.25, OutputUSD: 1.25},
}

// CostInfo is the cost breakdown of one generation, in BRL unless suffixed.
type CostInfo struct {
	InputBRL  float64
	OutputBRL float64
	TotalBRL  float64
	TotalUSD  float64
	Model     string
}

// IdentifyModel maps a full model name (e.g. a dated release identifier) to
// the price table key, falling back to the default model.
func IdentifyModel(modelName string) string {
	lower := strings.ToLower(modelName)

	ordered := []string{
		"opus-4.5", "opus-4.1", "opus-4", "opus-3",
		"sonnet-4.5", "sonnet-4", "sonnet-3.7",
		"haiku-4.5", "haiku-3.5", "haiku-3",
	}
	for _, marker := range ordered {
		// Release names spell the version with dashes (sonnet-4-5-20250929).
		dashed := strings.ReplaceAll(marker, ".", "-")
		if strings.Contains(lower, marker) || strings.Contains(lower, dashed) {
			return "claude-" + marker
		}
	}
	return defaultModelKey
}

// ComputeCost converts token usage into cost for the given model.
func ComputeCost(usage report.TokenUsage, modelName string) CostInfo {
	prices, ok := pricingTable[IdentifyModel(modelName)]
	if !ok {
		prices = pricingTable[defaultModelKey]
	}

	inputUSD := float64(usage.InputTokens) / 1_000_000 * prices.InputUSD
	outputUSD := float64(usage.OutputTokens) / 1_000_000 * prices.OutputUSD
	totalUSD := inputUSD + outputUSD

	return CostInfo{
		InputBRL:  inputUSD * USDToBRL,
		OutputBRL: outputUSD * USDToBRL,
		TotalBRL:  totalUSD * USDToBRL,
		TotalUSD:  totalUSD,
		Model:     modelName,
	}
}

// FormatCostBRL renders a BRL amount with the precision appropriate to its
// magnitude, using the Brazilian decimal separator.
func FormatCostBRL(value float64) string {
	switch {
	case value < 0.0001:
		return "< R$ 0,00"
	case value < 0.01:
		return "R$ " + brDecimal(value, 4)
	case value < 1:
		return "R$ " + brDecimal(value, 3)
	default:
		return "R$ " + brDecimal(value, 2)
	}
}

// FormatTokens renders a token count compactly (1.2K, 3.40M).
func FormatTokens(tokens int64) string {
	switch {
	case tokens < 1000:
		return fmt.Sprintf("%d", tokens)
	case tokens < 1_000_000:
		return fmt.Sprintf("%.1fK", float64(tokens)/1000)
	default:
		return fmt.Sprintf("%.2fM", float64(tokens)/1_000_000)
	}
}

func brDecimal(value float64, places int) string {
	return strings.Replace(fmt.Sprintf("%.*f", places, value), ".", ",", 1)
}
