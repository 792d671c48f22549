// Package types defines the shared data model used across the Figuro voice
// packages.
//
// These types are the lingua franca between the pattern matcher, the
// processing pipeline, the speech adapter, and the conversation session
// manager. Each package keeps its own internal types; anything that crosses
// a package boundary lives here to avoid circular imports.
package types

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Language is a BCP-47 tag for a language supported by the voice agent.
type Language string

const (
	LangVietnamese Language = "vi-VN"
	LangEnglish    Language = "en-US"
	LangJapanese   Language = "ja-JP"
)

// DefaultLanguage is used whenever a caller does not specify one.
const DefaultLanguage = LangVietnamese

// SupportedLanguage pairs a language code with its display name.
type SupportedLanguage struct {
	Code Language `json:"code"`
	Name string   `json:"name"`
}

// DefaultLanguages is the built-in language list, returned when the remote
// voice service cannot be asked.
var DefaultLanguages = []SupportedLanguage{
	{Code: LangVietnamese, Name: "Tiếng Việt"},
	{Code: LangEnglish, Name: "English (US)"},
	{Code: LangJapanese, Name: "Japanese"},
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	switch l {
	case LangVietnamese, LangEnglish, LangJapanese:
		return true
	}
	return false
}

// ParseLanguage returns the Language for s, or [DefaultLanguage] when s is
// empty or unsupported.
func ParseLanguage(s string) Language {
	l := Language(s)
	if l.Valid() {
		return l
	}
	return DefaultLanguage
}

// Source says how an utterance entered the system.
type Source string

const (
	SourceVoice Source = "voice"
	SourceText  Source = "text"
)

// Utterance is one user input. It is created per turn and never mutated.
type Utterance struct {
	Text     string
	Language Language
	Source   Source
}

// Entity types produced by the pattern matcher.
const (
	EntityProduct  = "product"
	EntityQuantity = "quantity"
	EntityColor    = "color"
)

// Entity is a typed fragment extracted from an utterance.
type Entity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// FindEntity returns the first entity of the given type.
func FindEntity(entities []Entity, typ string) (Entity, bool) {
	for _, e := range entities {
		if e.Type == typ {
			return e, true
		}
	}
	return Entity{}, false
}

// Intent is the closed set of things a user can ask the voice agent for.
type Intent string

const (
	IntentCreateOrder      Intent = "create_order"
	IntentCancelOrder      Intent = "cancel_order"
	IntentCheckOrderStatus Intent = "check_order_status"
	IntentGetProductInfo   Intent = "get_product_info"
	IntentGreeting         Intent = "greeting"
	IntentGoodbye          Intent = "goodbye"
	IntentUnknown          Intent = "unknown"
)

// intentOrder is the total precedence order used whenever more than one
// intent could match the same text. unknown is always last.
var intentOrder = []Intent{
	IntentCreateOrder,
	IntentCancelOrder,
	IntentCheckOrderStatus,
	IntentGetProductInfo,
	IntentGreeting,
	IntentGoodbye,
	IntentUnknown,
}

// Intents returns every intent in precedence order. The returned slice is a
// copy and may be modified.
func Intents() []Intent {
	return slices.Clone(intentOrder)
}

// Valid reports whether i is a member of the closed intent set.
func (i Intent) Valid() bool {
	return slices.Contains(intentOrder, i)
}

// ParseIntent maps s to an Intent. Anything unrecognised becomes
// [IntentUnknown].
func ParseIntent(s string) Intent {
	i := Intent(s)
	if i.Valid() {
		return i
	}
	return IntentUnknown
}

// Tier names the pipeline stage that produced a [VoiceResult].
type Tier string

const (
	TierRemote   Tier = "remote"
	TierEnhanced Tier = "enhanced"
	TierMock     Tier = "mock"
)

// VoiceResult is the outcome of processing one utterance. It is immutable
// once produced.
type VoiceResult struct {
	Transcript       string   `json:"transcript"`
	Intent           Intent   `json:"intent"`
	Entities         []Entity `json:"entities"`
	Confidence       float64  `json:"confidence"`
	ResponseText     string   `json:"response_text"`
	AudioURL         string   `json:"audio_url,omitempty"`
	ProcessingTimeMS int      `json:"processing_time_ms"`

	// ProductRecommendations lists product names offered in the reply.
	ProductRecommendations Recommendations `json:"product_recommendations,omitempty"`

	// Tier is the stage that produced this result. Not part of the wire
	// format.
	Tier Tier `json:"-"`
}

// Recommendations is a list of product names. Decoding accepts plain names
// and product objects; an object contributes its "name", else its "title".
// Elements without either are dropped.
type Recommendations []string

// UnmarshalJSON implements [json.Unmarshaler].
func (r *Recommendations) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("types: product recommendations: %w", err)
	}
	if items == nil {
		*r = nil
		return nil
	}
	out := make(Recommendations, 0, len(items))
	for _, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			if name != "" {
				out = append(out, name)
			}
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		for _, key := range []string{"name", "title"} {
			if v, ok := obj[key].(string); ok && v != "" {
				out = append(out, v)
				break
			}
		}
	}
	*r = out
	return nil
}

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ConversationTurn is one entry of a session's history.
type ConversationTurn struct {
	ID               string    `json:"id"`
	Role             Role      `json:"type"`
	Text             string    `json:"text"`
	Timestamp        time.Time `json:"timestamp"`
	Intent           Intent    `json:"intent,omitempty"`
	Entities         []Entity  `json:"entities,omitempty"`
	RecommendedItems []string  `json:"recommendedItems,omitempty"`
}

// UserPreferences holds personalisation data kept alongside a session.
type UserPreferences struct {
	PreferredLanguage  Language `json:"preferredLanguage,omitempty"`
	FavoriteCategories []string `json:"favoriteCategories,omitempty"`
	RecentSearches     []string `json:"lastSearches,omitempty"`
}

// Session is the persisted conversation context of one user.
type Session struct {
	ID           string             `json:"sessionId"`
	Turns        []ConversationTurn `json:"turns"`
	Preferences  UserPreferences    `json:"userPreferences"`
	LastActivity time.Time          `json:"lastActivity"`
}
