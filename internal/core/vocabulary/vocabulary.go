// Package vocabulary контролируемый словарь, встроенный в бинарник
package vocabulary

import (
	_ "embed"
	"fmt"
	"strings"

	"listing-pipeline/internal/core/domain"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var rawVocabulary []byte

// TypeKeywords ключевые слова одного типа
type TypeKeywords struct {
	Type     domain.PropertyType `yaml:"type"`
	Keywords []string            `yaml:"keywords"`
}

// Vocabulary разобранный словарь
type Vocabulary struct {
	BuildingTypes  map[string]domain.PropertyType `yaml:"building_types"`
	TypeKeywords   []TypeKeywords                 `yaml:"type_keywords"`
	StudioKeywords []string                       `yaml:"studio_keywords"`
	RoomWords      map[string]int                 `yaml:"room_words"`
	TitleFluff     []string                       `yaml:"title_fluff"`
}

var defaultVocabulary = mustParse(rawVocabulary)

// Default словарь, встроенный в сборку
func Default() *Vocabulary {
	return defaultVocabulary
}

// Parse разбирает словарь из YAML
func Parse(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("vocabulary: failed to parse yaml: %w", err)
	}
	for i, tk := range v.TypeKeywords {
		if domain.ParsePropertyType(string(tk.Type)) == domain.PropertyTypeUnknown {
			return nil, fmt.Errorf("vocabulary: type_keywords[%d] has unknown type %q", i, tk.Type)
		}
	}
	for descriptor, t := range v.BuildingTypes {
		if domain.ParsePropertyType(string(t)) == domain.PropertyTypeUnknown {
			return nil, fmt.Errorf("vocabulary: building type %q maps to unknown type %q", descriptor, t)
		}
	}
	return &v, nil
}

func mustParse(data []byte) *Vocabulary {
	v, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return v
}

// BuildingType сопоставляет описатель здания с типом, неизвестный описатель дает apartment
func (v *Vocabulary) BuildingType(descriptor string) domain.PropertyType {
	key := strings.ToLower(strings.TrimSpace(descriptor))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if t, ok := v.BuildingTypes[key]; ok {
		return t
	}
	return domain.PropertyTypeApartment
}

// RoomsFromWord переводит "THREE" или "three" в 3
func (v *Vocabulary) RoomsFromWord(word string) (int, bool) {
	n, ok := v.RoomWords[strings.ToLower(strings.TrimSpace(word))]
	return n, ok
}
