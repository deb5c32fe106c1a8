package domain

// NutritionEstimate is the normalized nutrition record returned to the caller
type NutritionEstimate struct {
	Calories int    `json:"calories"`
	Serving  string `json:"serving"`
	Macros   Macros `json:"macros"`
	Items    []Item `json:"items"`
	Notes    string `json:"notes"`
}

// Macros contains the rounded macronutrient totals in grams
type Macros struct {
	ProteinG int `json:"protein_g"`
	CarbsG   int `json:"carbs_g"`
	FatG     int `json:"fat_g"`
	FiberG   int `json:"fiber_g"`
}

// Item is a single food the model reported as visible in the photo
type Item struct {
	Name     string   `json:"name"`
	Quantity string   `json:"quantity"`
	Calories *float64 `json:"calories,omitempty"` // nil when the model gave no usable number
}

// ImageInput is an uploaded photo ready to be sent for inference
type ImageInput struct {
	Filename string
	MimeType string
	Data     []byte
}
