package usecase

import (
	"testing"

	"github.com/databowl/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want map[string]any
	}{
		{
			name: "empty text",
			text: "",
			want: nil,
		},
		{
			name: "whitespace only",
			text: "   \n\t",
			want: nil,
		},
		{
			name: "no braces",
			text: "I could not identify any food in this photo.",
			want: nil,
		},
		{
			name: "only opening brace",
			text: "here it is: {\"calories\": 10",
			want: nil,
		},
		{
			name: "closing brace before opening brace",
			text: "} nothing useful {",
			want: nil,
		},
		{
			name: "malformed json between braces",
			text: "{calories: ten}",
			want: nil,
		},
		{
			name: "bare object",
			text: `{"calories": 120}`,
			want: map[string]any{"calories": float64(120)},
		},
		{
			name: "object wrapped in prose",
			text: "Sure! Here is the estimate:\n{\"calories\": 300, \"items\": []}\nLet me know if you need more.",
			want: map[string]any{"calories": float64(300), "items": []any{}},
		},
		{
			name: "object inside markdown fence",
			text: "```json\n{\"serving\": \"Plate\", \"macros\": {\"protein_g\": 12}}\n```",
			want: map[string]any{
				"serving": "Plate",
				"macros":  map[string]any{"protein_g": float64(12)},
			},
		},
		{
			name: "two objects are sliced together and fail",
			text: `{"a": 1} and {"b": 2}`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.text)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVisibilityGuard_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		parsed map[string]any
	}{
		{"nil object", nil},
		{"missing items", map[string]any{"calories": float64(100)}},
		{"null items", map[string]any{"items": nil}},
		{"false items", map[string]any{"items": false}},
		{"zero items", map[string]any{"items": float64(0)}},
		{"empty string items", map[string]any{"items": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VisibilityGuard(tt.parsed)
			assert.Nil(t, got)
			assert.True(t, domain.IsCode(err, domain.CodeInvalidResponse), "error = %v, want INVALID_RESPONSE", err)
		})
	}
}

func TestVisibilityGuard_Filtering(t *testing.T) {
	t.Run("removes inferred dishes and keeps visible ones", func(t *testing.T) {
		parsed := map[string]any{
			"items": []any{
				map[string]any{"name": "Grilled chicken", "quantity": "150 g", "calories": float64(250)},
				map[string]any{"name": "Butter naan", "quantity": "1 piece", "calories": float64(260)},
				map[string]any{"name": "Steamed RICE", "quantity": "1 cup", "calories": float64(200)},
				map[string]any{"name": "Salad", "quantity": "1 bowl", "calories": float64(40)},
			},
		}

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		require.Len(t, got.Items, 2)
		assert.Equal(t, "Grilled chicken", got.Items[0].Name)
		assert.Equal(t, "Salad", got.Items[1].Name)
	})

	t.Run("visibility marker overrides the denylist", func(t *testing.T) {
		parsed := map[string]any{
			"items": []any{
				map[string]any{"name": "Dal, visible in bowl"},
				map[string]any{"name": "Rice on plate"},
				map[string]any{"name": "Paratha"},
				map[string]any{"name": "Yogurt"},
			},
		}

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		require.Len(t, got.Items, 3)
		assert.Equal(t, "Dal, visible in bowl", got.Items[0].Name)
		assert.Equal(t, "Rice on plate", got.Items[1].Name)
		assert.Equal(t, "Yogurt", got.Items[2].Name)
	})

	t.Run("keeps original list when every item is filtered", func(t *testing.T) {
		parsed := map[string]any{
			"items": []any{
				map[string]any{"name": "Roti"},
				map[string]any{"name": "Chicken curry"},
				map[string]any{"name": "Jeera rice"},
			},
		}

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		require.Len(t, got.Items, 3)
		assert.Equal(t, "Roti", got.Items[0].Name)
		assert.Equal(t, "Chicken curry", got.Items[1].Name)
		assert.Equal(t, "Jeera rice", got.Items[2].Name)
	})

	t.Run("denylist matches substrings", func(t *testing.T) {
		parsed := map[string]any{
			"items": []any{
				map[string]any{"name": "Sandals"},
				map[string]any{"name": "Apple"},
			},
		}

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "Apple", got.Items[0].Name)
	})

	t.Run("empty item list stays empty", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{"items": []any{}})
		require.NoError(t, err)
		assert.NotNil(t, got.Items)
		assert.Empty(t, got.Items)
		assert.Equal(t, "Plate", got.Serving)
	})

	t.Run("non-array items become an empty list", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{"items": map[string]any{"name": "Egg"}})
		require.NoError(t, err)
		assert.Empty(t, got.Items)
	})

	t.Run("non-object entries pass the filter", func(t *testing.T) {
		parsed := map[string]any{
			"items": []any{"naan", map[string]any{"name": "Naan"}},
		}

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "naan", got.Items[0].Name)
	})

	t.Run("order is preserved", func(t *testing.T) {
		parsed := map[string]any{
			"items": []any{
				map[string]any{"name": "Egg"},
				map[string]any{"name": "Toast"},
				map[string]any{"name": "Coffee"},
			},
		}

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		names := make([]string, 0, len(got.Items))
		for _, item := range got.Items {
			names = append(names, item.Name)
		}
		assert.Equal(t, []string{"Egg", "Toast", "Coffee"}, names)
	})
}

func TestVisibilityGuard_Normalization(t *testing.T) {
	t.Run("rounds calories and macros", func(t *testing.T) {
		parsed := map[string]any{
			"items":    []any{map[string]any{"name": "Oats"}},
			"calories": float64(349.5),
			"macros": map[string]any{
				"protein_g": float64(12.4),
				"carbs_g":   "60.5",
				"fat_g":     " 7 ",
				"fiber_g":   "lots",
			},
		}

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		assert.Equal(t, 350, got.Calories)
		assert.Equal(t, domain.Macros{ProteinG: 12, CarbsG: 61, FatG: 7, FiberG: 0}, got.Macros)
	})

	t.Run("missing and non-numeric values become zero", func(t *testing.T) {
		inputs := []any{nil, "", "abc", map[string]any{}, []any{}, float64(-12.7)}

		for _, input := range inputs {
			parsed := map[string]any{
				"items":    []any{},
				"calories": input,
				"macros": map[string]any{
					"protein_g": input,
					"carbs_g":   input,
					"fat_g":     input,
					"fiber_g":   input,
				},
			}

			got, err := VisibilityGuard(parsed)
			require.NoError(t, err)
			assert.Equal(t, 0, got.Calories, "input %#v", input)
			assert.Equal(t, domain.Macros{}, got.Macros, "input %#v", input)
		}
	})

	t.Run("macros that are not an object default to zero", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{"items": []any{}, "macros": "high protein"})
		require.NoError(t, err)
		assert.Equal(t, domain.Macros{}, got.Macros)
	})

	t.Run("non-finite values become zero", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{"items": []any{}, "calories": "Infinity"})
		require.NoError(t, err)
		assert.Equal(t, 0, got.Calories)
	})

	t.Run("item fields are normalized", func(t *testing.T) {
		parsed := map[string]any{
			"items": []any{
				map[string]any{"name": "Banana", "quantity": float64(2), "calories": "210.5"},
				map[string]any{"name": "Tea", "calories": "unknown"},
			},
		}

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		require.Len(t, got.Items, 2)

		assert.Equal(t, "2", got.Items[0].Quantity)
		require.NotNil(t, got.Items[0].Calories)
		assert.Equal(t, 210.5, *got.Items[0].Calories)

		assert.Equal(t, "", got.Items[1].Quantity)
		assert.Nil(t, got.Items[1].Calories)
	})
}

func TestVisibilityGuard_Defaults(t *testing.T) {
	t.Run("notes default to the disclosure message", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{"items": []any{}, "notes": ""})
		require.NoError(t, err)
		assert.Equal(t, DefaultNotes, got.Notes)
	})

	t.Run("model notes are kept", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{"items": []any{}, "notes": "Portion looks large."})
		require.NoError(t, err)
		assert.Equal(t, "Portion looks large.", got.Notes)
	})

	t.Run("serving defaults to single item for one item", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{"items": []any{map[string]any{"name": "Apple"}}})
		require.NoError(t, err)
		assert.Equal(t, "Single item", got.Serving)
	})

	t.Run("serving defaults to plate for several items", func(t *testing.T) {
		parsed := map[string]any{
			"items": []any{map[string]any{"name": "Apple"}, map[string]any{"name": "Pear"}},
		}
		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		assert.Equal(t, "Plate", got.Serving)
	})

	t.Run("serving default counts the unfiltered list", func(t *testing.T) {
		parsed := map[string]any{
			"items": []any{map[string]any{"name": "Apple"}, map[string]any{"name": "Naan"}},
		}
		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "Plate", got.Serving)
	})

	t.Run("structured notes and serving take the defaults", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{
			"items":   []any{map[string]any{"name": "Apple"}},
			"notes":   map[string]any{"text": "crisp"},
			"serving": []any{"1 apple"},
		})
		require.NoError(t, err)
		assert.Equal(t, DefaultNotes, got.Notes)
		assert.Equal(t, "Single item", got.Serving)
	})

	t.Run("numeric notes are stringified", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{"items": []any{}, "notes": float64(2)})
		require.NoError(t, err)
		assert.Equal(t, "2", got.Notes)
	})

	t.Run("model serving is kept", func(t *testing.T) {
		got, err := VisibilityGuard(map[string]any{"items": []any{}, "serving": "1 bowl"})
		require.NoError(t, err)
		assert.Equal(t, "1 bowl", got.Serving)
	})
}

func TestVisibilityGuard_Scenarios(t *testing.T) {
	t.Run("lone naan is kept by the fallback", func(t *testing.T) {
		parsed := ExtractJSON(`{"items":[{"name":"Naan","calories":200}]}`)

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "Naan", got.Items[0].Name)
		require.NotNil(t, got.Items[0].Calories)
		assert.Equal(t, float64(200), *got.Items[0].Calories)
		assert.Equal(t, DefaultNotes, got.Notes)
		assert.Equal(t, "Single item", got.Serving)
	})

	t.Run("visible chicken with partial macros", func(t *testing.T) {
		parsed := ExtractJSON(`{"items":[{"name":"Grilled chicken breast, visible on plate","calories":250}],"calories":250,"macros":{"protein_g":40.6}}`)

		got, err := VisibilityGuard(parsed)
		require.NoError(t, err)
		assert.Equal(t, 250, got.Calories)
		assert.Equal(t, domain.Macros{ProteinG: 41}, got.Macros)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "Grilled chicken breast, visible on plate", got.Items[0].Name)
	})

	t.Run("unparseable text is an invalid response", func(t *testing.T) {
		got, err := VisibilityGuard(ExtractJSON("no json here"))
		assert.Nil(t, got)
		assert.True(t, domain.IsCode(err, domain.CodeInvalidResponse))
	})
}
