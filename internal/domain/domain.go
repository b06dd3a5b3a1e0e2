package domain

import "fmt"

type Person struct {
	ID         string `json:"id" yaml:"id"`
	Department string `json:"dept" yaml:"dept"`
	Name       string `json:"name" yaml:"name"`
}

// Label renders the person the way boards and quests display them.
func (p Person) Label() string {
	return fmt.Sprintf("%s %s", p.Department, p.Name)
}

// ActionTemplate is a static catalog entry quests are generated from.
type ActionTemplate struct {
	Key           string   `json:"key" yaml:"key"`
	Label         string   `json:"label" yaml:"label"`
	BasePoints    int      `json:"base_points" yaml:"base_points"`
	Keywords      []string `json:"keywords" yaml:"keywords"`
	TextTemplates []string `json:"text_templates" yaml:"text_templates"`
}

// Catalog is the ordered action catalog. Order matters: lookups of unknown
// keys fall back to the first entry.
type Catalog []ActionTemplate

// Lookup returns the template for key, or the first entry when the key is
// unknown. ok reports whether the key itself was found.
func (c Catalog) Lookup(key string) (ActionTemplate, bool) {
	for _, a := range c {
		if a.Key == key {
			return a, true
		}
	}
	if len(c) == 0 {
		return ActionTemplate{}, false
	}
	return c[0], false
}

type QuestStatus string

const (
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
)

type Quest struct {
	ID             string      `json:"id"`
	CreatedAt      string      `json:"created_at" format:"date-time"`
	TargetPersonID string      `json:"target_person_id"`
	TargetDept     string      `json:"target_dept,omitempty"`
	TargetName     string      `json:"target_name,omitempty"`
	ActionKey      string      `json:"action_key"`
	ActionLabel    string      `json:"action_label,omitempty"`
	Points         int         `json:"points"`
	Bonus          int         `json:"bonus"`
	Text           string      `json:"text"`
	Status         QuestStatus `json:"status" enum:"active,completed"`
}

// PostType tags a bulletin post. Each type carries its own matching rules:
// complete accepts generic completion words, lunch with a companion rerolls
// the hand, chat and share only match on action keywords.
type PostType string

const (
	PostChat     PostType = "chat"
	PostComplete PostType = "complete"
	PostLunch    PostType = "lunch"
	PostShare    PostType = "share"
)

var PostTypes = []PostType{PostChat, PostComplete, PostLunch, PostShare}

func (t PostType) Valid() bool {
	switch t {
	case PostChat, PostComplete, PostLunch, PostShare:
		return true
	}
	return false
}

// AcceptsCompletionWords reports whether generic completion words count as a match.
func (t PostType) AcceptsCompletionWords() bool { return t == PostComplete }

// RerollsWithCompanion reports whether a post of this type with a companion triggers a mulligan.
func (t PostType) RerollsWithCompanion() bool { return t == PostLunch }

// Post is an append-only bulletin entry. WithWhomPersonID is empty when the
// post names no companion.
type Post struct {
	ID               string   `json:"id"`
	CreatedAt        string   `json:"created_at" format:"date-time"`
	Author           string   `json:"author"`
	Type             PostType `json:"type" enum:"chat,complete,lunch,share"`
	WithWhomPersonID string   `json:"with_whom_person_id,omitempty"`
	WithWhomLabel    string   `json:"with_whom_label,omitempty"`
	Body             string   `json:"body"`
}

// HasCompanion reports whether the post names a person.
func (p Post) HasCompanion() bool { return p.WithWhomPersonID != "" }

// Ledger maps user identity to cumulative points.
type Ledger map[string]int

type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	User   string `json:"user"`
	Points int    `json:"points"`
}

// Session is the single-password login state.
type Session struct {
	IsAuthed bool   `json:"is_authed"`
	User     string `json:"user"`
}

type Rarity string

// Item is a reward card tagged with a rarity tier.
type Item struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Rarity Rarity `json:"rarity" yaml:"rarity"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
