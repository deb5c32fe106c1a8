package usecase

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/databowl/backend/internal/domain"
	"github.com/spf13/cast"
)

// DefaultNotes is attached to every estimate the model returned without notes
const DefaultNotes = "Filtered for visible items only."

const (
	servingSingle = "Single item"
	servingPlate  = "Plate"

	// Largest integer a JavaScript client can represent exactly
	maxSafeInteger = 1<<53 - 1
)

// Dishes the model tends to infer from cuisine context rather than observe.
var inferredDishPattern = regexp.MustCompile(`roti|chapati|naan|paratha|sabzi|dal|thali|curry|rice`)

// visibilityMarkers override the denylist when the model says it saw the item.
var visibilityMarkers = []string{"visible", "plate"}

// ExtractJSON pulls the outermost JSON object out of free-form model text.
// Returns nil when there is no brace pair or the slice is not valid JSON.
func ExtractJSON(text string) map[string]any {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}

	first := strings.Index(content, "{")
	last := strings.LastIndex(content, "}")
	if first == -1 || last < first {
		return nil
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(content[first:last+1]), &parsed); err != nil {
		return nil
	}
	return parsed
}

// VisibilityGuard validates parsed model output, drops items that look
// inferred rather than seen, and normalizes every number to a non-negative
// integer.
//
// If the filter would remove every item the original list is kept, so a
// model that reported at least one item never yields an empty list.
func VisibilityGuard(parsed map[string]any) (estimate *domain.NutritionEstimate, err error) {
	if parsed == nil || isFalsy(parsed["items"]) {
		return nil, domain.NewInvalidResponse()
	}

	defer func() {
		if r := recover(); r != nil {
			estimate = nil
			err = domain.NewProcessingFailed(fmt.Errorf("guard panic: %v", r))
		}
	}()

	rawItems, _ := parsed["items"].([]any)

	visible := make([]any, 0, len(rawItems))
	for _, raw := range rawItems {
		if isVisibleItem(raw) {
			visible = append(visible, raw)
		}
	}
	if len(visible) == 0 {
		visible = rawItems
	}

	items := make([]domain.Item, 0, len(visible))
	for _, raw := range visible {
		items = append(items, toItem(raw))
	}

	macros, _ := parsed["macros"].(map[string]any)

	return &domain.NutritionEstimate{
		Calories: roundNonNegative(parsed["calories"]),
		Serving:  stringOrDefault(parsed["serving"], defaultServing(len(rawItems))),
		Macros: domain.Macros{
			ProteinG: roundNonNegative(macros["protein_g"]),
			CarbsG:   roundNonNegative(macros["carbs_g"]),
			FatG:     roundNonNegative(macros["fat_g"]),
			FiberG:   roundNonNegative(macros["fiber_g"]),
		},
		Items: items,
		Notes: stringOrDefault(parsed["notes"], DefaultNotes),
	}, nil
}

// isVisibleItem reports whether an item survives the inferred-dish filter.
// Entries that are not objects have no name and always pass.
func isVisibleItem(raw any) bool {
	name := strings.ToLower(itemName(raw))
	if !inferredDishPattern.MatchString(name) {
		return true
	}
	for _, marker := range visibilityMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}
	return false
}

func itemName(raw any) string {
	obj, ok := raw.(map[string]any)
	if !ok || isFalsy(obj["name"]) {
		return ""
	}
	return cast.ToString(obj["name"])
}

func toItem(raw any) domain.Item {
	obj, ok := raw.(map[string]any)
	if !ok {
		return domain.Item{Name: cast.ToString(raw)}
	}

	item := domain.Item{
		Name:     itemName(obj),
		Quantity: cast.ToString(obj["quantity"]),
	}
	if calories, ok := toNumber(obj["calories"]); ok {
		item.Calories = &calories
	}
	return item
}

func defaultServing(itemCount int) string {
	if itemCount == 1 {
		return servingSingle
	}
	return servingPlate
}

// roundNonNegative coerces v to a number, rounds half up and clamps to
// [0, maxSafeInteger]. Anything that is not a finite number becomes 0.
func roundNonNegative(v any) int {
	n, ok := toNumber(v)
	if !ok {
		return 0
	}
	rounded := math.Floor(n + 0.5)
	if rounded <= 0 {
		return 0
	}
	if rounded > maxSafeInteger {
		return maxSafeInteger
	}
	return int(rounded)
}

// toNumber accepts JSON numbers, numeric strings and booleans.
func toNumber(v any) (float64, bool) {
	switch value := v.(type) {
	case nil:
		return 0, false
	case string:
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return 0, false
		}
		v = trimmed
	case map[string]any, []any:
		return 0, false
	}

	n, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// stringOrDefault returns v as text, or fallback when v is falsy. Objects and
// arrays have no text form in the output schema and also take the fallback.
func stringOrDefault(v any, fallback string) string {
	if isFalsy(v) {
		return fallback
	}
	if s := cast.ToString(v); s != "" {
		return s
	}
	return fallback
}

// isFalsy mirrors the truthiness of decoded JSON values: null, false, 0 and
// the empty string are falsy; objects and arrays, even empty ones, are not.
func isFalsy(v any) bool {
	switch value := v.(type) {
	case nil:
		return true
	case bool:
		return !value
	case float64:
		return value == 0 || math.IsNaN(value)
	case string:
		return value == ""
	}
	return false
}
