package regression

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stwalsh4118/appraisal/internal/analytics"
)

// Predictor set names.
const (
	PredictorSetCore     = "core"
	PredictorSetExtended = "extended"
	PredictorSetTerrain  = "terrain"
)

// Interaction bundle names.
const (
	BundleNone    = "none"
	BundleTime    = "time"
	BundleQuality = "quality"
	BundleFull    = "full"
)

// coreTerms are forced into every model.
var coreTerms = []string{
	"log_area",
	"log_lot",
	"log_age",
	"t",
	"quality_score",
	"condition_score",
	"has_garage",
	"is_view",
}

// predictorSets maps a set name to the candidate terms stepwise may add on
// top of the core terms.
var predictorSets = map[string][]string{
	PredictorSetCore:     {},
	PredictorSetExtended: {"bedrooms", "bathrooms", "effective_age", "has_basement", "in_flood_zone"},
	PredictorSetTerrain:  {"elevation", "slope", "in_flood_zone"},
}

// interactionBundles maps a bundle name to the term combinations whose
// products become candidate interaction terms.
var interactionBundles = map[string][][]string{
	BundleNone: nil,
	BundleTime: {
		{"log_area", "t"},
	},
	BundleQuality: {
		{"log_area", "quality_score"},
		{"log_area", "condition_score"},
	},
	BundleFull: {
		{"log_area", "t"},
		{"log_area", "quality_score"},
		{"log_area", "condition_score"},
		{"log_area", "quality_score", "t"},
	},
}

// ModelSpec is a resolved predictor set and interaction bundle.
type ModelSpec struct {
	PredictorSet string   `json:"predictorSet"`
	Bundle       string   `json:"interactionBundle"`
	Forced       []string `json:"forced"`
	Candidates   []string `json:"candidates"`
	Interactions []string `json:"interactions"`
}

// AllCandidates returns candidate base terms followed by interaction terms.
func (s ModelSpec) AllCandidates() []string {
	out := make([]string, 0, len(s.Candidates)+len(s.Interactions))
	out = append(out, s.Candidates...)
	return append(out, s.Interactions...)
}

// Resolve looks up a predictor set and interaction bundle by name. Unknown
// names yield a *analytics.ConfigurationError.
func Resolve(predictorSet, bundle string) (ModelSpec, error) {
	set := strings.ToLower(strings.TrimSpace(predictorSet))
	b := strings.ToLower(strings.TrimSpace(bundle))

	candidates, ok := predictorSets[set]
	if !ok {
		return ModelSpec{}, &analytics.ConfigurationError{
			Reason: fmt.Sprintf("unknown predictor set %q (known: %s)", predictorSet, strings.Join(PredictorSets(), ", ")),
		}
	}
	combos, ok := interactionBundles[b]
	if !ok {
		return ModelSpec{}, &analytics.ConfigurationError{
			Reason: fmt.Sprintf("unknown interaction bundle %q (known: %s)", bundle, strings.Join(Bundles(), ", ")),
		}
	}

	spec := ModelSpec{
		PredictorSet: set,
		Bundle:       b,
		Forced:       append([]string(nil), coreTerms...),
		Candidates:   append([]string(nil), candidates...),
	}
	for _, combo := range combos {
		spec.Interactions = append(spec.Interactions, analytics.InteractionName(combo...))
	}
	return spec, nil
}

// PredictorSets returns the registered predictor set names, sorted.
func PredictorSets() []string {
	return sortedKeys(predictorSets)
}

// Bundles returns the registered interaction bundle names, sorted.
func Bundles() []string {
	return sortedKeys(interactionBundles)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
