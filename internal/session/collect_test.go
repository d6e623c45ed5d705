package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGArtBot/internal/models"
)

func editModel() *models.Model {
	min := 1.0
	max := 4.0
	return &models.Model{
		ID:   "seedream-edit",
		Name: "Seedream 4.5 Edit",
		Params: []models.ParamSpec{
			{Name: "prompt", Type: "string", Required: true, MaxLength: 5000, Prompt: "Опишите правку"},
			{Name: "image_input", Type: "array", Required: true, Prompt: "Пришлите исходные изображения"},
			{Name: "resolution", Type: "string", Enum: []string{"1K", "2K", "4K"}, Default: "2K"},
			{Name: "max_images", Type: "number", Min: &min, Max: &max, Default: "1"},
		},
	}
}

func TestNextParam_DeclarationOrder(t *testing.T) {
	m := editModel()
	params := map[string]any{}

	assert.Equal(t, "prompt", NextParam(m, params).Name)

	params["prompt"] = "убери фон"
	assert.Equal(t, "image_input", NextParam(m, params).Name)

	params["image_input"] = []string{"https://cdn.example/ref.png"}
	assert.Equal(t, "resolution", NextParam(m, params).Name)

	params["resolution"] = "2K"
	params["max_images"] = 1.0
	assert.Nil(t, NextParam(m, params))
}

func TestValidate_StringBounds(t *testing.T) {
	spec := &models.ParamSpec{Name: "prompt", Type: "string", MaxLength: 5}

	v, err := Validate(spec, "  кот  ")
	require.NoError(t, err)
	assert.Equal(t, "кот", v)

	_, err = Validate(spec, "очень длинный промпт")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "prompt", vErr.Param)

	_, err = Validate(spec, "   ")
	assert.ErrorAs(t, err, &vErr)
}

func TestValidate_EnumCaseInsensitive(t *testing.T) {
	spec := &models.ParamSpec{Name: "resolution", Type: "string", Enum: []string{"1K", "2K", "4K"}}

	v, err := Validate(spec, "4k")
	require.NoError(t, err)
	assert.Equal(t, "4K", v, "reply is canonicalized to the declared spelling")

	_, err = Validate(spec, "8K")
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestValidate_NumberBounds(t *testing.T) {
	min := 1.0
	max := 4.0
	spec := &models.ParamSpec{Name: "max_images", Type: "number", Min: &min, Max: &max}

	v, err := Validate(spec, "3")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	var vErr *ValidationError
	_, err = Validate(spec, "0")
	assert.ErrorAs(t, err, &vErr)
	_, err = Validate(spec, "5")
	assert.ErrorAs(t, err, &vErr)
	_, err = Validate(spec, "три")
	assert.ErrorAs(t, err, &vErr)
}

func TestValidate_BooleanRussianAnswers(t *testing.T) {
	spec := &models.ParamSpec{Name: "remove_watermark", Type: "boolean"}

	v, err := Validate(spec, "да")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Validate(spec, "Нет")
	require.NoError(t, err)
	assert.Equal(t, false, v)

	var vErr *ValidationError
	_, err = Validate(spec, "возможно")
	assert.ErrorAs(t, err, &vErr)
}

func TestApplyDefaults_OnlyFillsAbsent(t *testing.T) {
	m := editModel()
	params := map[string]any{"resolution": "4K"}

	ApplyDefaults(m, params)

	assert.Equal(t, "4K", params["resolution"])
	assert.Equal(t, 1.0, params["max_images"])
	assert.NotContains(t, params, "prompt", "defaults never invent required values")
}

func TestMissingRequired(t *testing.T) {
	m := editModel()

	missing := MissingRequired(m, map[string]any{"prompt": "x"})
	assert.Equal(t, []string{"image_input"}, missing)

	missing = MissingRequired(m, map[string]any{"prompt": "x", "image_input": []string{"u"}})
	assert.Empty(t, missing)
}

func TestParseSingleShot_JSONObject(t *testing.T) {
	m := editModel()

	params, err := ParseSingleShot(m, `{"prompt":"убери фон","image_input":["https://cdn.example/a.png"],"resolution":"4k","unknown_key":true}`)
	require.NoError(t, err)

	assert.Equal(t, "убери фон", params["prompt"])
	assert.Equal(t, "4K", params["resolution"])
	assert.NotContains(t, params, "unknown_key")
	assert.Equal(t, 1.0, params["max_images"], "defaults apply to the one-shot path too")
}

func TestParseSingleShot_PlainTextIsPrompt(t *testing.T) {
	m := &models.Model{
		ID: "z-image",
		Params: []models.ParamSpec{
			{Name: "prompt", Type: "string", Required: true, MaxLength: 5000},
		},
	}

	params, err := ParseSingleShot(m, "нарисуй кота в сапогах")
	require.NoError(t, err)
	assert.Equal(t, "нарисуй кота в сапогах", params["prompt"])
}

func TestParseSingleShot_MissingRequired(t *testing.T) {
	m := editModel()

	_, err := ParseSingleShot(m, `{"prompt":"убери фон"}`)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "image_input", vErr.Param)

	_, err = ParseSingleShot(m, `{"prompt":`)
	assert.ErrorAs(t, err, &vErr)
}
