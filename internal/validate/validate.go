// Package validate bounds and normalizes every inbound scalar before it can
// reach the access layer, the vault, or a provider. All functions are pure.
package validate

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/canvasgate/canvasgate/internal/apierr"
	"github.com/canvasgate/canvasgate/internal/model"
)

// Limits on inbound values.
const (
	MaxContentLength     = 32000
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	MaxModelLength       = 100
	MaxIDLength          = 64
	MaxNicknameLength    = 50
	MaxMessages          = 200

	MinTemperature     = 0.0
	MaxTemperature     = 2.0
	DefaultTemperature = 0.7

	MinMaxTokens     = 1
	DefaultMaxTokens = 2048
	// PlatformMaxTokens is the hard ceiling passed downstream. Larger
	// requests are clamped, not rejected.
	PlatformMaxTokens = 16384
)

var (
	modelRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	idRegex    = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Tags for values validated outside a struct. They match the bounds above.
const (
	contentTag = "notblank,runemax=32000"
	idTag      = "required,max=64,resourceid"
	roleTag    = "oneof=user assistant system"
)

// Content checks message text: NUL bytes are dropped, text over the ceiling
// is rejected, and any dangerous pattern is a hard rejection.
func Content(field, s string) (string, error) {
	s = stripNUL(s)
	if err := checkVar(field, s, contentTag); err != nil {
		return "", err
	}
	if err := CheckDangerous(field, s); err != nil {
		return "", err
	}
	return s, nil
}

// Provider restricts the provider name to the closed set of vendors.
func Provider(s string) (model.Provider, error) {
	p := model.Provider(strings.ToLower(strings.TrimSpace(s)))
	if err := checkFields("provider", model.CompletionRequest{Provider: p}, "Provider"); err != nil {
		return "", apierr.Validation("provider", "unsupported provider")
	}
	return p, nil
}

// Model checks a model name against a conservative character class.
func Model(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apierr.Validation("model", "must not be empty")
	}
	if err := checkFields("model", model.CompletionRequest{Model: s}, "Model"); err != nil {
		return "", err
	}
	return s, nil
}

// Temperature clamps t into [MinTemperature, MaxTemperature] and rounds it
// to two decimals. A nil value yields DefaultTemperature.
func Temperature(t *float64) (float64, error) {
	if t == nil {
		return DefaultTemperature, nil
	}
	v := *t
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, apierr.Validation("temperature", "must be a finite number")
	}
	v = math.Max(MinTemperature, math.Min(MaxTemperature, v))
	return math.Round(v*100) / 100, nil
}

// MaxTokens bounds the token ceiling. Values above PlatformMaxTokens are
// clamped; values below MinMaxTokens are rejected.
func MaxTokens(n *int) (int, error) {
	if n == nil {
		return DefaultMaxTokens, nil
	}
	if *n < MinMaxTokens {
		return 0, apierr.Validation("max_tokens", "must be at least 1")
	}
	if *n > PlatformMaxTokens {
		return PlatformMaxTokens, nil
	}
	return *n, nil
}

// ID checks a resource identifier.
func ID(field, s string) (string, error) {
	if err := checkVar(field, s, idTag); err != nil {
		return "", err
	}
	return s, nil
}

// Title checks and strips a board or node title.
func Title(s string) (string, error) {
	return boundedPlain("title", s, MaxTitleLength, true)
}

// Description checks and strips a board description. Empty is allowed.
func Description(s string) (string, error) {
	return boundedPlain("description", s, MaxDescriptionLength, false)
}

// Nickname checks and strips a credential nickname. Empty is allowed.
func Nickname(s string) (string, error) {
	return boundedPlain("nickname", s, MaxNicknameLength, false)
}

func boundedPlain(field, s string, max int, required bool) (string, error) {
	s = strings.TrimSpace(s)
	tag := "runemax=" + strconv.Itoa(max)
	if required {
		tag = "notblank," + tag
	}
	if err := checkVar(field, s, tag); err != nil {
		return "", err
	}
	if err := CheckDangerous(field, s); err != nil {
		return "", err
	}
	plain := SanitizePlain(s)
	// Unescaping can surface markup that was entity-encoded in the input.
	if err := CheckDangerous(field, plain); err != nil {
		return "", err
	}
	return plain, nil
}

// Role checks a message role.
func Role(s string) (string, error) {
	if err := checkVar("role", s, roleTag); err != nil {
		return "", err
	}
	return s, nil
}

// Messages validates every message of a conversation and returns a
// normalized copy. The history must end with a user message.
func Messages(msgs []model.Message) ([]model.Message, error) {
	var out []model.Message
	if msgs != nil {
		out = make([]model.Message, len(msgs))
		for i, m := range msgs {
			out[i] = model.Message{Role: m.Role, Content: stripNUL(m.Content)}
		}
	}
	if err := checkAllExcept("messages", model.CompletionRequest{Messages: out}, "Provider", "Model"); err != nil {
		return nil, err
	}
	for _, m := range out {
		if err := CheckDangerous("content", m.Content); err != nil {
			return nil, err
		}
	}
	if out[len(out)-1].Role != "user" {
		return nil, apierr.Validation("messages", "last message must come from the user")
	}
	return out, nil
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
