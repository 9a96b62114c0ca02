package executor

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/livepeer/mediaindex-core/internal/task"
)

// payloadSchemas holds one JSON schema per task.Type describing the shape
// handlers decode via mapstructure. Run validates the opaque payload map
// against it before dispatch, so a malformed payload fails fast as an
// InputError instead of surfacing as a handler panic or a cryptic decode
// error deep inside a handler (spec.md §7: InputError is permanent, never
// retried).
var payloadSchemas = map[task.Type]*gojsonschema.Schema{}

func init() {
	pathOnly := mustCompile(`{
		"type": "object",
		"required": ["path"],
		"properties": {"path": {"type": "string", "minLength": 1}}
	}`)
	for _, t := range []task.Type{
		task.TypeScanFile, task.TypePreprocessImage, task.TypePreprocessVideo,
		task.TypePreprocessAudio, task.TypeSegmentVideo, task.TypeEmbedImage,
		task.TypeEmbedAudio, task.TypeGenerateThumb, task.TypeGeneratePreview,
	} {
		payloadSchemas[t] = pathOnly
	}

	payloadSchemas[task.TypeEmbedVideo] = mustCompile(`{
		"type": "object",
		"required": ["path", "segment_id", "start_ms", "end_ms"],
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"segment_id": {"type": "string", "minLength": 1},
			"start_ms": {"type": "number"},
			"end_ms": {"type": "number"}
		}
	}`)
}

func mustCompile(schemaJSON string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded payload schema: %s", err))
	}
	return s
}

// validatePayload reports the first violation of t.Type's registered
// schema, or nil if t.Type has no schema or the payload conforms.
func validatePayload(t task.Task) error {
	schema, ok := payloadSchemas[t.Type]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(t.Payload)
	if err != nil {
		return fmt.Errorf("payload not serializable: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("payload schema violation: %s", result.Errors()[0].String())
	}
	return nil
}
