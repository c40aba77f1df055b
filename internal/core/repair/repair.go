// Package repair восстанавливает JSON-объект из ответа языковой модели, который может
// быть обернут в markdown, обрезан посередине или перемешан с текстом.
package repair

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/cleaning"
	"listing-pipeline/internal/core/port"
)

// ErrUnrepairable ни одна стратегия не дала JSON-объект
var ErrUnrepairable = errors.New("response could not be repaired into a JSON object")

const (
	previewLength   = 200
	maxCommaBackoff = 64
	maxStartTries   = 16
)

var fenceMarkers = []string{"```json", "```JSON", "```"}

var (
	reDanglingKey     = regexp.MustCompile(`,\s*"[^"]*"\s*:\s*$`)
	reDanglingElement = regexp.MustCompile(`,\s*"[^"]*$`)
	reOpenArray       = regexp.MustCompile(`:\s*\[[^\[\]{}]*$`)
	reOpenString      = regexp.MustCompile(`:\s*"[^"]*$`)
	reTrailingComma   = regexp.MustCompile(`,\s*$`)
)

// Repair возвращает объект или ErrUnrepairable. Логгер берется из контекста.
func Repair(ctx context.Context, content string) (map[string]interface{}, error) {
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{"component": "response_repair"})

	stripped := stripFences(content)
	start := strings.IndexByte(stripped, '{')
	if start < 0 {
		if obj := parseObject(strings.TrimSpace(content)); obj != nil {
			return cleanImageURLs(obj), nil
		}
		logger.Warn("No JSON object start found in response", failureFields(content, scanState{}))
		return nil, ErrUnrepairable
	}

	// первый сбалансированный объект; текст вокруг может содержать свои фигурные скобки.
	// Обрезанным считается объект от того начала, с которого сканер дошел до конца ввода.
	var state scanState
	truncatedFrom := start
	for tries, from := 0, start; from >= 0 && tries < maxStartTries; tries++ {
		end, st := scan(stripped, from)
		if end < 0 {
			state = st
			truncatedFrom = from
			break
		}
		if obj := parseObject(stripped[from : end+1]); obj != nil {
			return cleanImageURLs(obj), nil
		}
		next := strings.IndexByte(stripped[from+1:], '{')
		if next < 0 {
			break
		}
		from = from + 1 + next
	}

	if state.truncated() {
		tail := strings.TrimRightFunc(stripped[truncatedFrom:], func(r rune) bool {
			return unicode.IsControl(r) || unicode.IsSpace(r)
		})

		if obj := repairByTruncation(tail); obj != nil {
			logger.Debug("Recovered truncated response by comma back-off", failureFields(content, state))
			return cleanImageURLs(obj), nil
		}
		logger.Warn("Comma back-off repair failed", failureFields(content, state))

		if obj := repairByPatterns(tail); obj != nil {
			logger.Debug("Recovered truncated response by pattern repair", failureFields(content, state))
			return cleanImageURLs(obj), nil
		}
		logger.Warn("Pattern repair failed", failureFields(content, state))
	}

	if obj := parseObject(strings.TrimSpace(content)); obj != nil {
		return cleanImageURLs(obj), nil
	}

	logger.Error("Response repair failed", ErrUnrepairable, failureFields(content, state))
	return nil, ErrUnrepairable
}

// stripFences снимает обертку markdown только по краям ответа, внутри строк JSON
// тройные обратные кавычки остаются как есть
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	for _, marker := range fenceMarkers {
		if strings.HasPrefix(s, marker) {
			s = s[len(marker):]
			break
		}
	}
	s = strings.TrimSuffix(strings.TrimRightFunc(s, unicode.IsSpace), "```")
	return strings.TrimSpace(s)
}

// scanState состояние сканера на конце ввода
type scanState struct {
	stack    []byte // незакрытые '{' и '['
	inString bool
}

func (s scanState) openBraces() int {
	return strings.Count(string(s.stack), "{")
}

func (s scanState) openBrackets() int {
	return strings.Count(string(s.stack), "[")
}

func (s scanState) truncated() bool {
	return len(s.stack) > 0
}

// closers закрывающие символы в порядке, обратном открытию
func (s scanState) closers() string {
	var b strings.Builder
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// scan идет от from с учетом строк и экранирования. Возвращает индекс закрывающей
// скобки объекта или -1, если ввод кончился раньше.
func scan(s string, from int) (int, scanState) {
	var st scanState
	escaped := false
	for i := from; i < len(s); i++ {
		c := s[i]
		if st.inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				st.inString = false
			}
			continue
		}

		switch c {
		case '"':
			st.inString = true
		case '{', '[':
			st.stack = append(st.stack, c)
		case '}', ']':
			if len(st.stack) > 0 {
				st.stack = st.stack[:len(st.stack)-1]
			}
		}
		if len(st.stack) == 0 && i > from {
			return i, st
		}
	}
	return -1, st
}

// repairByTruncation сначала пробует просто закрыть хвост, затем отступает к предыдущим
// запятым и дописывает недостающие закрывающие скобки
func repairByTruncation(tail string) map[string]interface{} {
	if obj := closeAndParse(tail); obj != nil {
		return obj
	}

	pos := len(tail)
	for i := 0; i < maxCommaBackoff; i++ {
		idx := strings.LastIndexByte(tail[:pos], ',')
		if idx <= 0 {
			return nil
		}
		if obj := closeAndParse(tail[:idx]); obj != nil {
			return obj
		}
		pos = idx
	}
	return nil
}

func closeAndParse(candidate string) map[string]interface{} {
	candidate = strings.TrimRightFunc(candidate, unicode.IsSpace)
	_, st := scan(candidate, 0)
	if st.inString {
		return nil
	}
	return parseObject(candidate + st.closers())
}

// repairByPatterns грубое исправление хвоста регулярными выражениями
func repairByPatterns(tail string) map[string]interface{} {
	s := reDanglingKey.ReplaceAllString(tail, "")
	s = reDanglingElement.ReplaceAllString(s, "")
	s = reOpenArray.ReplaceAllString(s, ": []")
	s = reOpenString.ReplaceAllString(s, `: ""`)
	s = reTrailingComma.ReplaceAllString(s, "")

	_, st := scan(s, 0)
	if st.inString {
		s += `"`
		_, st = scan(s, 0)
	}
	return parseObject(s + st.closers())
}

func parseObject(s string) map[string]interface{} {
	if s == "" {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil
	}
	return obj
}

// cleanImageURLs убирает невалидные URL из images и gallery_urls, обнуляет плохой hero_url
func cleanImageURLs(obj map[string]interface{}) map[string]interface{} {
	for _, key := range []string{"images", "gallery_urls"} {
		raw, ok := obj[key]
		if !ok || raw == nil {
			continue
		}
		items, ok := raw.([]interface{})
		if !ok {
			obj[key] = []interface{}{}
			continue
		}
		kept := make([]interface{}, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				if cleaning.IsValidImageURL(v) {
					kept = append(kept, strings.TrimSpace(v))
				}
			case map[string]interface{}:
				if u, _ := v["url"].(string); cleaning.IsValidImageURL(u) {
					kept = append(kept, v)
				}
			}
		}
		obj[key] = kept
	}

	if hero, ok := obj["hero_url"]; ok && hero != nil {
		if u, _ := hero.(string); !cleaning.IsValidImageURL(u) {
			obj["hero_url"] = nil
		}
	}
	return obj
}

func failureFields(content string, st scanState) port.Fields {
	return port.Fields{
		"byte_length":      len(content),
		"missing_braces":   st.openBraces(),
		"missing_brackets": st.openBrackets(),
		"preview":          preview(content),
	}
}

func preview(s string) string {
	if len(s) <= previewLength {
		return s
	}
	cut := previewLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
