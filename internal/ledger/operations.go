package ledger

import "github.com/pitchforge/deckgen-api/internal/domain"

// Model keys recorded on usage events. They match the id column of the
// model_pricing table.
const (
	modelGeminiFlash      = "gemini-2.0-flash"
	modelGeminiFlashImage = "gemini-2.0-flash-image"
)

// operationSpec binds an operation key to the model it bills against, the
// token kind it aggregates under, and sanity bounds on reported counts.
type operationSpec struct {
	ModelKey        string
	TokenKind       domain.TokenKind
	MaxInputTokens  int64
	MaxOutputTokens int64
}

// operations is the closed set of billable operations. Callers must use one
// of these keys; anything else is rejected so a typo cannot silently create
// an unbillable ledger row.
var operations = map[string]operationSpec{
	"deck.research": {
		ModelKey:        modelGeminiFlash,
		TokenKind:       domain.TokenKindText,
		MaxInputTokens:  1_000_000,
		MaxOutputTokens: 65_536,
	},
	"deck.slides": {
		ModelKey:        modelGeminiFlash,
		TokenKind:       domain.TokenKindText,
		MaxInputTokens:  1_000_000,
		MaxOutputTokens: 65_536,
	},
	"slide.image_prompts": {
		ModelKey:        modelGeminiFlashImage,
		TokenKind:       domain.TokenKindImage,
		MaxInputTokens:  1_000_000,
		MaxOutputTokens: 65_536,
	},
}
