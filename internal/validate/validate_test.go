package validate

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/model"
)

func ptrF(v float64) *float64 { return &v }
func ptrI(v int) *int         { return &v }

func TestContent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "What's the weather in Paris today?", false},
		{"at ceiling", strings.Repeat("a", MaxContentLength), false},
		{"over ceiling", strings.Repeat("a", MaxContentLength+1), true},
		{"multibyte at ceiling", strings.Repeat("é", MaxContentLength), false},
		{"empty", "", true},
		{"whitespace", "   \n", true},
		{"script tag", "hello <script>alert(1)</script>", true},
		{"script tag spaced and cased", "< ScRiPt src=x>", true},
		{"inline handler", `<img src=x onerror=alert(1)>`, true},
		{"javascript uri", "click javascript:alert(1)", true},
		{"vbscript uri", "VBScript:msgbox", true},
		{"data html uri", "data: text/html;base64,AAAA", true},
		{"iframe", "<iframe src='x'>", true},
		{"embed", "<embed src='x'>", true},
		{"formatting tags ok", "<b>bold</b> and <i>italic</i>", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Content("content", tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if !errors.Is(err, apierr.ErrValidation) {
					t.Errorf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.input {
				t.Error("valid content must not be modified")
			}
		})
	}
}

func TestContentRejectsNeverTruncates(t *testing.T) {
	for _, n := range []int{MaxContentLength + 1, MaxContentLength * 2} {
		got, err := Content("content", strings.Repeat("x", n))
		if err == nil || got != "" {
			t.Errorf("len %d: expected rejection, got %d chars", n, len(got))
		}
	}
}

func TestContentStripsNUL(t *testing.T) {
	got, err := Content("content", "a\x00b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ab" {
		t.Errorf("got %q, want %q", got, "ab")
	}
}

func TestProvider(t *testing.T) {
	tests := []struct {
		input   string
		want    model.Provider
		wantErr bool
	}{
		{"openai", model.ProviderOpenAI, false},
		{" Anthropic ", model.ProviderAnthropic, false},
		{"GOOGLE", model.ProviderGoogle, false},
		{"azure", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Provider(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModel(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"gpt-4o-mini", false},
		{"claude-3.5-sonnet_latest", false},
		{"gemini-2.0-flash", false},
		{strings.Repeat("m", MaxModelLength), false},
		{strings.Repeat("m", MaxModelLength+1), true},
		{"gpt 4", true},
		{"gpt/4", true},
		{"gpt-4;drop", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Model(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTemperature(t *testing.T) {
	tests := []struct {
		name  string
		input *float64
		want  float64
	}{
		{"default", nil, DefaultTemperature},
		{"in range", ptrF(0.5), 0.5},
		{"rounded", ptrF(0.12345), 0.12},
		{"rounded up", ptrF(1.999), 2},
		{"below", ptrF(-1), 0},
		{"above", ptrF(7.5), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Temperature(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaxTokens(t *testing.T) {
	tests := []struct {
		name    string
		input   *int
		want    int
		wantErr bool
	}{
		{"default", nil, DefaultMaxTokens, false},
		{"in range", ptrI(512), 512, false},
		{"at ceiling", ptrI(PlatformMaxTokens), PlatformMaxTokens, false},
		{"clamped", ptrI(100000), PlatformMaxTokens, false},
		{"zero", ptrI(0), 0, true},
		{"negative", ptrI(-5), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MaxTokens(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"board_123", false},
		{"0190f3c2-7a1b-7cde-8f00-112233445566", false},
		{strings.Repeat("a", MaxIDLength+1), true},
		{"../etc/passwd", true},
		{"a b", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ID("board_id", tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTitleAndDescription(t *testing.T) {
	got, err := Title("  <b>Roadmap</b>  ")
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if got != "Roadmap" {
		t.Errorf("Title = %q, want %q", got, "Roadmap")
	}

	if _, err := Title(strings.Repeat("t", MaxTitleLength+1)); err == nil {
		t.Error("expected error for long title")
	}
	if _, err := Title(""); err == nil {
		t.Error("expected error for empty title")
	}
	if _, err := Description(""); err != nil {
		t.Errorf("empty description should be allowed: %v", err)
	}
	if _, err := Description(strings.Repeat("d", MaxDescriptionLength+1)); err == nil {
		t.Error("expected error for long description")
	}
	if _, err := Nickname("<script>x</script>"); err == nil {
		t.Error("expected error for dangerous nickname")
	}
	if _, err := Title("&lt;script&gt;alert(1)"); err == nil {
		t.Error("expected error for entity-encoded script in title")
	}
	if got, err := Title("Tom &amp; Jerry"); err != nil || got != "Tom & Jerry" {
		t.Errorf("Title = %q, %v", got, err)
	}
}

func TestMessages(t *testing.T) {
	valid := []model.Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}
	if _, err := Messages(valid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		msgs []model.Message
	}{
		{"empty", nil},
		{"bad role", []model.Message{{Role: "tool", Content: "x"}}},
		{"last not user", []model.Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}}},
		{"dangerous in history", []model.Message{{Role: "assistant", Content: "<script>"}, {Role: "user", Content: "ok"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Messages(tt.msgs); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestMessagesErrorFields(t *testing.T) {
	many := make([]model.Message, MaxMessages+1)
	for i := range many {
		many[i] = model.Message{Role: "user", Content: "hi"}
	}
	tests := []struct {
		name      string
		msgs      []model.Message
		wantField string
		wantMsg   string
	}{
		{"nil", nil, "messages", "must not be empty"},
		{"empty slice", []model.Message{}, "messages", "must not be empty"},
		{"too many", many, "messages", "too many entries"},
		{"bad role", []model.Message{{Role: "tool", Content: "x"}}, "role", "must be one of user, assistant, system"},
		{"blank content", []model.Message{{Role: "user", Content: " \x00 "}}, "content", "must not be empty"},
		{"long content", []model.Message{{Role: "user", Content: strings.Repeat("a", MaxContentLength+1)}}, "content", "exceeds maximum length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Messages(tt.msgs)
			var apiErr *apierr.Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *apierr.Error, got %v", err)
			}
			if apiErr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", apiErr.Field, tt.wantField)
			}
			if !strings.Contains(apiErr.Message, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", apiErr.Message, tt.wantMsg)
			}
		})
	}
}

func TestMessagesAtLimit(t *testing.T) {
	msgs := make([]model.Message, MaxMessages)
	for i := range msgs {
		msgs[i] = model.Message{Role: "user", Content: "hi"}
	}
	if _, err := Messages(msgs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestModelTagsMatchLimits(t *testing.T) {
	tag := func(v any, field string) string {
		f, ok := reflect.TypeOf(v).FieldByName(field)
		if !ok {
			t.Fatalf("no field %s", field)
		}
		return f.Tag.Get("validate")
	}
	tests := []struct {
		got  string
		want string
	}{
		{tag(model.Message{}, "Content"), "runemax=" + strconv.Itoa(MaxContentLength)},
		{tag(model.Message{}, "Content"), contentTag},
		{tag(model.Message{}, "Role"), roleTag},
		{tag(model.CompletionRequest{}, "Messages"), "max=" + strconv.Itoa(MaxMessages)},
		{tag(model.CompletionRequest{}, "Model"), "max=" + strconv.Itoa(MaxModelLength)},
		{idTag, "max=" + strconv.Itoa(MaxIDLength)},
	}
	for _, tt := range tests {
		if !strings.Contains(tt.got, tt.want) {
			t.Errorf("tag %q does not contain %q", tt.got, tt.want)
		}
	}
	for _, p := range model.Providers {
		if !strings.Contains(tag(model.CompletionRequest{}, "Provider"), string(p)) {
			t.Errorf("provider tag is missing %q", p)
		}
	}
}

func TestSanitizeDisplay(t *testing.T) {
	got, err := SanitizeDisplay("content", "<b>bold</b><span>x</span>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "<b>bold</b>x" {
		t.Errorf("got %q", got)
	}

	got, err = SanitizeDisplay("content", `<a href="https://example.com">link</a>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, `href="https://example.com"`) || !strings.Contains(got, `rel="nofollow"`) {
		t.Errorf("got %q", got)
	}

	if _, err := SanitizeDisplay("content", `<a href="javascript:alert(1)">x</a>`); err == nil {
		t.Error("expected dangerous link to be rejected, not stripped")
	}
}

func TestSanitizePlain(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"<p>hello <b>world</b></p>", "hello world"},
		{"Tom & Jerry", "Tom & Jerry"},
		{`"quoted" it's`, `"quoted" it's`},
		{"a < b", "a < b"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := SanitizePlain(tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if again := SanitizePlain(got); again != got {
				t.Errorf("not stable on re-save: %q then %q", got, again)
			}
		})
	}
}
