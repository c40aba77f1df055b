package repair

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/port"
)

type logEntry struct {
	level  string
	msg    string
	fields port.Fields
}

type recordingLogger struct {
	entries *[]logEntry
	base    port.Fields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{entries: &[]logEntry{}, base: port.Fields{}}
}

func (l *recordingLogger) record(level, msg string, fields port.Fields) {
	merged := port.Fields{}
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, fields: merged})
}

func (l *recordingLogger) Info(msg string, fields port.Fields)  { l.record("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields port.Fields)  { l.record("warn", msg, fields) }
func (l *recordingLogger) Debug(msg string, fields port.Fields) { l.record("debug", msg, fields) }
func (l *recordingLogger) Error(msg string, _ error, fields port.Fields) {
	l.record("error", msg, fields)
}

func (l *recordingLogger) WithFields(fields port.Fields) port.LoggerPort {
	merged := port.Fields{}
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{entries: l.entries, base: merged}
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestRepairRecoversObjects(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantKeys []string
		check    func(t *testing.T, obj map[string]interface{})
	}{
		{
			name:     "markdown fence",
			input:    "```json\n{\"title\":\"Flat\",\"price\":1}\n```",
			wantKeys: []string{"price", "title"},
		},
		{
			name:     "surrounding prose",
			input:    `Sure, here is the listing: {"title":"Flat"} Let me know if you need more.`,
			wantKeys: []string{"title"},
		},
		{
			name:     "prose with its own braces",
			input:    `Template {draft} follows. {"title":"Flat","city":"Krakow"}`,
			wantKeys: []string{"city", "title"},
		},
		{
			name:     "cut inside a string value",
			input:    `{"title":"Flat","description":"Long text that was cu`,
			wantKeys: []string{"title"},
		},
		{
			name:     "missing last two closers",
			input:    `{"a":{"b":1},"c":[1,2`,
			wantKeys: []string{"a", "c"},
			check: func(t *testing.T, obj map[string]interface{}) {
				if got := obj["c"].([]interface{}); len(got) != 2 {
					t.Errorf("c = %v, want two elements", got)
				}
			},
		},
		{
			name:     "nested closers in open-stack order",
			input:    `{"items":[{"id":1},{"id":2,"tags":["x"`,
			wantKeys: []string{"items"},
		},
		{
			name:     "prose braces before a truncated object",
			input:    "Sure! {note} here: ```json\n{\"a\":1,\"b\":[1,2",
			wantKeys: []string{"a", "b"},
			check: func(t *testing.T, obj map[string]interface{}) {
				if obj["a"] != float64(1) {
					t.Errorf("a = %v, want 1", obj["a"])
				}
				if got, _ := obj["b"].([]interface{}); !reflect.DeepEqual(got, []interface{}{float64(1), float64(2)}) {
					t.Errorf("b = %v, want [1 2]", obj["b"])
				}
			},
		},
		{
			name:     "backticks inside a string value",
			input:    "{\"code\":\"```x```\",\"title\":\"Flat\"}",
			wantKeys: []string{"code", "title"},
			check: func(t *testing.T, obj map[string]interface{}) {
				if obj["code"] != "```x```" {
					t.Errorf("code = %q, want backticks kept", obj["code"])
				}
			},
		},
		{
			name:     "fenced value inside a fenced response",
			input:    "```json\n{\"description\":\"see ```json block```\"}\n```",
			wantKeys: []string{"description"},
			check: func(t *testing.T, obj map[string]interface{}) {
				if obj["description"] != "see ```json block```" {
					t.Errorf("description = %q, want inner fences kept", obj["description"])
				}
			},
		},
		{
			name:     "fence after a preamble",
			input:    "Here is the JSON:\n```json\n{\"title\":\"Flat\"}\n```",
			wantKeys: []string{"title"},
		},
		{
			name:     "dangling string without commas",
			input:    `{"title":"Fla`,
			wantKeys: []string{"title"},
			check: func(t *testing.T, obj map[string]interface{}) {
				if obj["title"] != "" {
					t.Errorf("title = %v, want empty string", obj["title"])
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			obj, err := Repair(context.Background(), tc.input)
			if err != nil {
				t.Fatalf("Repair() error = %v", err)
			}
			if got := keys(obj); !reflect.DeepEqual(got, tc.wantKeys) {
				t.Fatalf("keys = %v, want %v", got, tc.wantKeys)
			}
			if tc.check != nil {
				tc.check(t, obj)
			}
		})
	}
}

func TestRepairRoundTrip(t *testing.T) {
	objects := []map[string]interface{}{
		{"title": "Flat", "price": 750000.0, "rooms": 3.0},
		{"nested": map[string]interface{}{"list": []interface{}{"a", "b, c", "}"}}, "flag": true},
		{"escaped": `quote " and brace { inside`, "empty": map[string]interface{}{}},
	}

	for i, obj := range objects {
		raw, err := json.Marshal(obj)
		if err != nil {
			t.Fatalf("marshal %d: %v", i, err)
		}
		var want map[string]interface{}
		if err := json.Unmarshal(raw, &want); err != nil {
			t.Fatalf("unmarshal %d: %v", i, err)
		}

		got, err := Repair(context.Background(), "```json\n"+string(raw)+"\n```")
		if err != nil {
			t.Fatalf("Repair(%d) error = %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Repair(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestRepairFailuresAreLogged(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantBraces  int
		wantLogLvls []string
	}{
		{
			name:        "no object at all",
			input:       "I cannot help with that.",
			wantBraces:  0,
			wantLogLvls: []string{"warn"},
		},
		{
			name:        "broken literal",
			input:       `{"a": tru`,
			wantBraces:  1,
			wantLogLvls: []string{"warn", "warn", "error"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger := newRecordingLogger()
			ctx := contextkeys.ContextWithLogger(context.Background(), logger)

			obj, err := Repair(ctx, tc.input)
			if !errors.Is(err, ErrUnrepairable) {
				t.Fatalf("Repair() error = %v, want ErrUnrepairable", err)
			}
			if obj != nil {
				t.Fatalf("Repair() obj = %v, want nil", obj)
			}

			entries := *logger.entries
			if len(entries) != len(tc.wantLogLvls) {
				t.Fatalf("got %d log entries, want %d: %+v", len(entries), len(tc.wantLogLvls), entries)
			}
			for i, e := range entries {
				if e.level != tc.wantLogLvls[i] {
					t.Errorf("entry %d level = %s, want %s", i, e.level, tc.wantLogLvls[i])
				}
				for _, key := range []string{"byte_length", "missing_braces", "missing_brackets", "preview"} {
					if _, ok := e.fields[key]; !ok {
						t.Errorf("entry %d missing field %q", i, key)
					}
				}
				if e.fields["byte_length"] != len(tc.input) {
					t.Errorf("byte_length = %v, want %d", e.fields["byte_length"], len(tc.input))
				}
				if e.fields["missing_braces"] != tc.wantBraces {
					t.Errorf("missing_braces = %v, want %d", e.fields["missing_braces"], tc.wantBraces)
				}
			}
		})
	}
}

func TestRepairPreviewIsBounded(t *testing.T) {
	logger := newRecordingLogger()
	ctx := contextkeys.ContextWithLogger(context.Background(), logger)
	input := strings.Repeat("ż", 400)

	if _, err := Repair(ctx, input); !errors.Is(err, ErrUnrepairable) {
		t.Fatalf("Repair() error = %v, want ErrUnrepairable", err)
	}
	p, _ := (*logger.entries)[0].fields["preview"].(string)
	if len(p) > previewLength {
		t.Errorf("preview length = %d, want <= %d", len(p), previewLength)
	}
	if !strings.HasPrefix(input, p) || p == "" {
		t.Errorf("preview %q is not a non-empty prefix of the input", p)
	}
}

func TestRepairCleansImageURLs(t *testing.T) {
	input := `{
		"images": [
			"https://cdn.example.com/a.jpg",
			"data:image/png;base64,AAAA",
			"https://cdn.example.com/logo.png",
			{"url": "https://cdn.example.com/b.jpg", "caption": "kitchen"},
			{"url": "short"}
		],
		"gallery_urls": "not-a-list",
		"hero_url": "https://cdn.example.com/icon.png"
	}`

	obj, err := Repair(context.Background(), input)
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}

	images := obj["images"].([]interface{})
	if len(images) != 2 {
		t.Fatalf("images = %v, want 2 entries", images)
	}
	if images[0] != "https://cdn.example.com/a.jpg" {
		t.Errorf("images[0] = %v", images[0])
	}
	if gallery := obj["gallery_urls"].([]interface{}); len(gallery) != 0 {
		t.Errorf("gallery_urls = %v, want empty", gallery)
	}
	if obj["hero_url"] != nil {
		t.Errorf("hero_url = %v, want nil", obj["hero_url"])
	}
}
