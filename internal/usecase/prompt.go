package usecase

// estimatePrompt asks for strictly visible foods and a JSON-only answer in
// the shape VisibilityGuard expects.
const estimatePrompt = `Identify ONLY the foods visibly present in the attached image and estimate nutrition for those items. Do NOT assume sides or Indian mains (roti/chapati/naan/paratha/sabzi/dal/thali/curry/rice) unless clearly visible. Rules:
- List only items that are visually present; omit uncertain items.
- Use generic names if the brand is unknown.
- Output VALID JSON only. No prose or explanations.
Schema: {
  "calories": number,
  "serving": string,
  "macros": {
    "protein_g": number,
    "carbs_g": number,
    "fat_g": number,
    "fiber_g": number
  },
  "items": [
    {
      "name": string,
      "quantity": string,
      "calories": number
    }
  ],
  "notes": string
}`

// EstimatePrompt returns the instruction sent with every image.
func EstimatePrompt() string {
	return estimatePrompt
}
