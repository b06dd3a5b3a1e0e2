// Package quest generates micro-quests and decides whether bulletin posts complete them.
package quest

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"hoccoo/internal/domain"
)

// Bonus draw. The two checks use separate random draws: the large bonus is
// only tried after the small one misses, so its effective odds are
// ChanceLarge * (1 - ChanceSmall).
const (
	BonusSmall  = 3
	BonusLarge  = 6
	ChanceSmall = 0.25
	ChanceLarge = 0.08
)

var (
	ErrNoPeople  = errors.New("no people available")
	ErrNoActions = errors.New("no actions available")
)

// DefaultCompletionWords are accepted by complete-type posts even without an action keyword.
var DefaultCompletionWords = []string{"達成", "完了", "できた", "やった", "クリア"}

// Source is the randomness generation consumes. *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
	Intn(n int) int
}

type Generator struct {
	Rand  Source
	Now   func() time.Time
	NewID func() string
}

func (g Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g Generator) newID() string {
	if g.NewID != nil {
		return g.NewID()
	}
	return "q_" + uuid.NewString()
}

// GenerateQuest picks a person, an action and one of its text templates
// uniformly, then rolls the bonus.
func (g Generator) GenerateQuest(roster []domain.Person, catalog domain.Catalog) (domain.Quest, error) {
	if len(roster) == 0 {
		return domain.Quest{}, ErrNoPeople
	}
	if len(catalog) == 0 {
		return domain.Quest{}, ErrNoActions
	}
	target := roster[g.Rand.Intn(len(roster))]
	action := catalog[g.Rand.Intn(len(catalog))]
	text := ""
	if len(action.TextTemplates) > 0 {
		text = action.TextTemplates[g.Rand.Intn(len(action.TextTemplates))]
	}
	text = strings.NewReplacer("{dept}", target.Department, "{name}", target.Name).Replace(text)
	bonus := RollBonus(g.Rand)
	return domain.Quest{
		ID:             g.newID(),
		CreatedAt:      g.now().UTC().Format(time.RFC3339),
		TargetPersonID: target.ID,
		TargetDept:     target.Department,
		TargetName:     target.Name,
		ActionKey:      action.Key,
		ActionLabel:    action.Label,
		Points:         action.BasePoints + bonus,
		Bonus:          bonus,
		Text:           text,
		Status:         domain.QuestActive,
	}, nil
}

// GenerateHand calls GenerateQuest n times; repeats are allowed.
func (g Generator) GenerateHand(roster []domain.Person, catalog domain.Catalog, n int) ([]domain.Quest, error) {
	hand := make([]domain.Quest, 0, n)
	for i := 0; i < n; i++ {
		q, err := g.GenerateQuest(roster, catalog)
		if err != nil {
			return nil, err
		}
		hand = append(hand, q)
	}
	return hand, nil
}

func RollBonus(r Source) int {
	if r.Float64() < ChanceSmall {
		return BonusSmall
	}
	if r.Float64() < ChanceLarge {
		return BonusLarge
	}
	return 0
}

// Matcher decides post/quest matches by substring containment after
// trimming and lower-casing. No tokenization.
type Matcher struct {
	CompletionWords []string
}

// NewMatcher uses words as given. Only a nil list falls back to
// DefaultCompletionWords; an empty one limits completion to action keywords.
func NewMatcher(words []string) Matcher {
	if words == nil {
		words = DefaultCompletionWords
	}
	return Matcher{CompletionWords: words}
}

// Satisfies reports whether post completes quest.
func (m Matcher) Satisfies(post domain.Post, q domain.Quest, catalog domain.Catalog) bool {
	if q.Status != domain.QuestActive {
		return false
	}
	if !post.HasCompanion() || post.WithWhomPersonID != q.TargetPersonID {
		return false
	}
	action, _ := catalog.Lookup(q.ActionKey)
	if includesAny(post.Body, action.Keywords) {
		return true
	}
	if post.Type.AcceptsCompletionWords() {
		return includesAny(post.Body, m.CompletionWords)
	}
	return false
}

// FirstMatch returns the index of the first quest in hand order that post
// satisfies. At most one quest is ever completed per post.
func (m Matcher) FirstMatch(post domain.Post, hand []domain.Quest, catalog domain.Catalog) (int, bool) {
	for i, q := range hand {
		if m.Satisfies(post, q, catalog) {
			return i, true
		}
	}
	return -1, false
}

// IsMulliganPost reports whether post asks for the whole hand to be rerolled.
func IsMulliganPost(post domain.Post) bool {
	return post.Type.RerollsWithCompanion() && post.HasCompanion()
}

func normalize(s string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(s))
}

func includesAny(text string, candidates []string) bool {
	t := normalize(text)
	for _, c := range candidates {
		if strings.Contains(t, normalize(c)) {
			return true
		}
	}
	return false
}
