package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/digkill/TGArtBot/internal/models"
)

// ValidationError is a recoverable user-input problem: the caller
// re-prompts with Reason instead of failing the flow.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
}

// NextParam walks the model's schema in declaration order and returns
// the first parameter not yet collected, or nil when the set is
// complete. Optional parameters with defaults still get asked so the
// user can override them; the guided flow may skip them explicitly.
func NextParam(m *models.Model, params map[string]any) *models.ParamSpec {
	for i := range m.Params {
		if _, ok := params[m.Params[i].Name]; !ok {
			return &m.Params[i]
		}
	}
	return nil
}

// MissingRequired lists required parameters without a collected value or
// a schema default.
func MissingRequired(m *models.Model, params map[string]any) []string {
	var missing []string
	for _, spec := range m.Params {
		if !spec.Required {
			continue
		}
		if _, ok := params[spec.Name]; ok {
			continue
		}
		if spec.Default != "" {
			continue
		}
		missing = append(missing, spec.Name)
	}
	return missing
}

// ApplyDefaults fills in schema defaults for parameters the user did not
// set. Defaults are validated values by construction.
func ApplyDefaults(m *models.Model, params map[string]any) {
	for _, spec := range m.Params {
		if _, ok := params[spec.Name]; ok {
			continue
		}
		if spec.Default == "" {
			continue
		}
		if v, err := Validate(&spec, spec.Default); err == nil {
			params[spec.Name] = v
		}
	}
}

// Validate checks one raw user reply against the parameter's declared
// type, enum and bounds and returns the typed value.
func Validate(spec *models.ParamSpec, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ValidationError{Param: spec.Name, Reason: "значение не может быть пустым"}
	}

	switch spec.Type {
	case "string":
		if spec.MaxLength > 0 && len([]rune(raw)) > spec.MaxLength {
			return nil, &ValidationError{Param: spec.Name, Reason: fmt.Sprintf("слишком длинное значение (максимум %d символов)", spec.MaxLength)}
		}
		if len(spec.Enum) > 0 && !containsFold(spec.Enum, raw) {
			return nil, &ValidationError{Param: spec.Name, Reason: "выберите одно из: " + strings.Join(spec.Enum, ", ")}
		}
		return canonicalEnum(spec.Enum, raw), nil

	case "number":
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &ValidationError{Param: spec.Name, Reason: "ожидается число"}
		}
		if spec.Min != nil && n < *spec.Min {
			return nil, &ValidationError{Param: spec.Name, Reason: fmt.Sprintf("не меньше %v", *spec.Min)}
		}
		if spec.Max != nil && n > *spec.Max {
			return nil, &ValidationError{Param: spec.Name, Reason: fmt.Sprintf("не больше %v", *spec.Max)}
		}
		return n, nil

	case "boolean":
		switch strings.ToLower(raw) {
		case "true", "yes", "да", "1":
			return true, nil
		case "false", "no", "нет", "0":
			return false, nil
		}
		return nil, &ValidationError{Param: spec.Name, Reason: "ответьте «да» или «нет»"}

	case "array":
		// Arrays are collected through media uploads, not text replies.
		return nil, &ValidationError{Param: spec.Name, Reason: "пришлите изображение, а не текст"}

	default:
		return raw, nil
	}
}

// ParseSingleShot handles the one-message path: a JSON object covering
// the whole parameter set, or plain text treated as the prompt. Returned
// params are validated and defaulted; missing required parameters are
// reported by name.
func ParseSingleShot(m *models.Model, text string) (map[string]any, error) {
	params := make(map[string]any)
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "{") {
		var raw map[string]any
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, &ValidationError{Param: "params", Reason: "не удалось разобрать JSON: " + err.Error()}
		}
		for name, value := range raw {
			spec := m.Param(name)
			if spec == nil {
				continue // unknown keys are ignored, not fatal
			}
			if spec.Type == "array" {
				params[name] = value
				continue
			}
			validated, err := Validate(spec, fmt.Sprintf("%v", value))
			if err != nil {
				return nil, err
			}
			params[name] = validated
		}
	} else {
		spec := m.Param("prompt")
		if spec == nil {
			return nil, &ValidationError{Param: "prompt", Reason: "эта модель не принимает текстовый промпт"}
		}
		validated, err := Validate(spec, text)
		if err != nil {
			return nil, err
		}
		params["prompt"] = validated
	}

	ApplyDefaults(m, params)
	if missing := MissingRequired(m, params); len(missing) > 0 {
		return nil, &ValidationError{Param: missing[0], Reason: "обязательный параметр не указан"}
	}
	return params, nil
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// canonicalEnum maps a case-insensitive match back to the declared
// casing so the provider always sees schema values.
func canonicalEnum(list []string, v string) string {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return item
		}
	}
	return v
}
