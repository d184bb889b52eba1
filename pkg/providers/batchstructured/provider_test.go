package batchstructured

import (
	"testing"

	"github.com/scribeloop/scribecore/pkg/domain"
)

func TestResultSchemaOmitsTranslationWhenDisabled(t *testing.T) {
	schema := resultSchema(domain.LangEn, domain.LangEs, false, domain.DirectionAuto)
	props := schema["properties"].(map[string]interface{})
	if _, ok := props["translation"]; ok {
		t.Errorf("expected translation property to be omitted when translation is disabled")
	}
	required := schema["required"].([]string)
	for _, r := range required {
		if r == "translation" {
			t.Errorf("expected translation to not be required when disabled")
		}
	}
}

func TestResultSchemaIncludesTranslationWhenEnabled(t *testing.T) {
	schema := resultSchema(domain.LangEn, domain.LangEs, true, domain.DirectionAuto)
	props := schema["properties"].(map[string]interface{})
	if _, ok := props["translation"]; !ok {
		t.Errorf("expected translation property to be present when translation is enabled")
	}
}

func TestResultSchemaLangEnumDedupes(t *testing.T) {
	schema := resultSchema(domain.LangEn, domain.LangEn, true, domain.DirectionAuto)
	enumVal := schema["properties"].(map[string]interface{})["detectedLang"].(map[string]interface{})["enum"].([]string)
	if len(enumVal) != 1 {
		t.Errorf("expected deduped lang enum of length 1, got %v", enumVal)
	}
}

func TestResultSchemaLangEnumAddsEnglishFallback(t *testing.T) {
	schema := resultSchema(domain.LangFr, domain.LangEs, true, domain.DirectionAuto)
	enumVal := schema["properties"].(map[string]interface{})["detectedLang"].(map[string]interface{})["enum"].([]string)
	if len(enumVal) != 3 {
		t.Errorf("expected source+target+en enum of length 3, got %v", enumVal)
	}
}

func TestResultSchemaSourceTargetDirectionFixesLang(t *testing.T) {
	schema := resultSchema(domain.LangFr, domain.LangEs, true, domain.DirectionSourceTarget)
	enumVal := schema["properties"].(map[string]interface{})["detectedLang"].(map[string]interface{})["enum"].([]string)
	if len(enumVal) != 1 || enumVal[0] != string(domain.LangFr) {
		t.Errorf("expected fixed source-language enum, got %v", enumVal)
	}
}
