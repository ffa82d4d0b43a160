package analysis

import (
	"github.com/invopop/jsonschema"
)

type sentimentContract struct {
	Label      string  `json:"label" jsonschema:"enum=positive,enum=neutral,enum=negative"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

type issueContract struct {
	Category   string  `json:"category" jsonschema:"minLength=1"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

type priorityContract struct {
	Priority   string  `json:"priority" jsonschema:"enum=low,enum=medium,enum=high"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

type summaryContract struct {
	Summary string `json:"summary" jsonschema:"minLength=1"`
}

type replyContract struct {
	Reply string `json:"reply" jsonschema:"minLength=1"`
}

// contractSchema renders the JSON schema of v for embedding in a prompt.
// It returns "" when v is nil or the schema cannot be marshaled.
func contractSchema(v any) string {
	if v == nil {
		return ""
	}
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	b, err := schema.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}
