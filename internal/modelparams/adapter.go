// Package modelparams holds the per-model-family knowledge that used to
// live as scattered string matching: how collected parameters are shaped
// into the provider payload and how results come back. Adding a family
// means adding a registry entry, not touching shared code paths.
package modelparams

import "strings"

// Adapter describes one model family.
type Adapter struct {
	// ShapeInput converts validated session parameters into the input
	// payload the provider expects.
	ShapeInput func(params map[string]any) map[string]any
	// Video marks families whose results are delivered as video files.
	Video bool
	// PickResults chooses which result URL set applies; urls and
	// watermarked come straight from the provider's result payload.
	PickResults func(params map[string]any, urls, watermarked []string) []string
}

var defaultAdapter = Adapter{
	ShapeInput:  identity,
	PickResults: firstNonEmpty,
}

var registry = map[string]Adapter{
	"seedream-edit": {
		ShapeInput:  renameKey("image_input", "image_urls"),
		PickResults: firstNonEmpty,
	},
	"sora-watermark-remover": {
		ShapeInput:  identity,
		Video:       true,
		PickResults: firstNonEmpty,
	},
	"sora-2-text-to-video": {
		ShapeInput:  identity,
		Video:       true,
		PickResults: soraResults,
	},
}

// For returns the adapter for a model, falling back to the identity
// adapter for families with no special handling.
func For(modelID string) Adapter {
	if a, ok := registry[modelID]; ok {
		return a
	}
	return defaultAdapter
}

func identity(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func renameKey(from, to string) func(map[string]any) map[string]any {
	return func(params map[string]any) map[string]any {
		out := identity(params)
		if v, ok := out[from]; ok {
			delete(out, from)
			out[to] = v
		}
		return out
	}
}

func firstNonEmpty(_ map[string]any, urls, watermarked []string) []string {
	if len(urls) > 0 {
		return urls
	}
	return watermarked
}

// soraResults honors the remove_watermark switch: when the user kept the
// watermark, the watermarked URL set is the real result.
func soraResults(params map[string]any, urls, watermarked []string) []string {
	if !boolParam(params, "remove_watermark", true) && len(watermarked) > 0 {
		return watermarked
	}
	return firstNonEmpty(params, urls, watermarked)
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true", "yes", "да", "1":
			return true
		case "false", "no", "нет", "0":
			return false
		}
	}
	return fallback
}
