package runtime

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// DecodeInput extracts a typed input record from work item variables.
// Fields carrying a `default` tag are filled first, so keys that are missing
// or null in vars keep their documented defaults.
func DecodeInput(vars map[string]any, target any) error {
	if err := ApplyDefaults(target); err != nil {
		return err
	}
	if err := mapToStruct(vars, target, "json", false); err != nil {
		return fmt.Errorf("invalid input variables: %w", err)
	}
	return nil
}

// mapToStruct converts a map[string]any to a struct using mapstructure.
// It supports time.Duration and time.Time conversions. With strict set, keys
// that match no field fail the decode.
func mapToStruct(m map[string]any, target any, tagName string, strict bool) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: tagName,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		WeaklyTypedInput: true, // Allow type coercion (e.g., "500" -> 500.0)
		ErrorUnused:      strict,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(m); err != nil {
		return fmt.Errorf("failed to decode map to struct: %w", err)
	}

	return nil
}

// mapToStructFromYAML merges raw config values into a struct using its yaml tags.
func mapToStructFromYAML(m map[string]any, target any, strict bool) error {
	return mapToStruct(m, target, "yaml", strict)
}
