package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"hoccoo/internal/config"
	"hoccoo/internal/domain"
	"hoccoo/internal/engine/auth"
	"hoccoo/internal/events"
	"hoccoo/internal/gacha"
	"hoccoo/internal/quest"
	"hoccoo/internal/repo"
)

var (
	ErrBodyRequired     = errors.New("post body is required")
	ErrInvalidPostType  = errors.New("invalid post type")
	ErrUnknownPerson    = errors.New("unknown person")
	ErrPersonRequired   = errors.New("dept and name are required")
	ErrNotAuthenticated = errors.New("not logged in")
)

// Recorder receives activity events. events.Writer implements it.
type Recorder interface {
	Append(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error
}

// Engine is the command shell around the quest and reward cores. It loads
// state through the Store port, calls the pure functions, and writes the
// results back in one atomic unit per command. Commands are serialized.
type Engine struct {
	Store   repo.Store
	Events  Recorder
	Config  *config.Config
	Rand    *rand.Rand
	Now     func() time.Time
	NewID   func(prefix string) string
	Logger  *slog.Logger
	Matcher quest.Matcher

	mu *sync.Mutex
}

func New(store repo.Store, rec Recorder, cfg *config.Config) Engine {
	return Engine{
		Store:   store,
		Events:  rec,
		Config:  cfg,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		Now:     time.Now,
		Logger:  slog.Default(),
		Matcher: quest.NewMatcher(cfg.Matching.CompletionWords),
		mu:      &sync.Mutex{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) lock() func() {
	if e.mu == nil {
		return func() {}
	}
	e.mu.Lock()
	return e.mu.Unlock
}

func (e Engine) newID(prefix string) string {
	if e.NewID != nil {
		return e.NewID(prefix)
	}
	return prefix + "_" + uuid.NewString()
}

func (e Engine) generator() quest.Generator {
	return quest.Generator{
		Rand:  e.Rand,
		Now:   e.now,
		NewID: func() string { return e.newID("q") },
	}
}

func (e Engine) handSize() int {
	if e.Config != nil && e.Config.App.HandSize > 0 {
		return e.Config.App.HandSize
	}
	return 5
}

func (e Engine) catalog() domain.Catalog {
	if e.Config == nil {
		return nil
	}
	return e.Config.Actions
}

func (e Engine) record(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Append(ctx, evtType, entityKind, entityID, actorID, payload); err != nil {
		e.logger().Warn("append event failed", "type", evtType, "error", err)
	}
}

// Validate checks configuration and the stored roster before serving.
func (e Engine) Validate(ctx context.Context) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	if err := e.Config.Validate(); err != nil {
		return err
	}
	people, err := e.People(ctx)
	if err != nil {
		return err
	}
	if len(people) == 0 {
		return fmt.Errorf("roster is empty: %w", quest.ErrNoPeople)
	}
	return nil
}

// Seed writes the initial roster and sample posts once per store.
func (e Engine) Seed(ctx context.Context) (bool, error) {
	defer e.lock()()
	seededNow := false
	err := e.Store.Atomic(ctx, func(ctx context.Context, s repo.Store) error {
		seeded, err := repo.Load(ctx, s, repo.KeySeeded, false, e.logger())
		if err != nil || seeded {
			return err
		}
		people, err := repo.Load(ctx, s, repo.KeyPeople, []domain.Person(nil), e.logger())
		if err != nil {
			return err
		}
		if len(people) == 0 {
			if err := repo.Save(ctx, s, repo.KeyPeople, e.Config.People); err != nil {
				return err
			}
		}
		posts, err := repo.Load(ctx, s, repo.KeyPosts, []domain.Post(nil), e.logger())
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			if err := repo.Save(ctx, s, repo.KeyPosts, e.samplePosts()); err != nil {
				return err
			}
		}
		ledger, err := repo.Load(ctx, s, repo.KeyPoints, domain.Ledger{}, e.logger())
		if err != nil {
			return err
		}
		if err := repo.Save(ctx, s, repo.KeyPoints, ledger); err != nil {
			return err
		}
		hands, err := repo.Load(ctx, s, repo.KeyActiveQuests, map[string][]domain.Quest{}, e.logger())
		if err != nil {
			return err
		}
		if err := repo.Save(ctx, s, repo.KeyActiveQuests, hands); err != nil {
			return err
		}
		seededNow = true
		return repo.Save(ctx, s, repo.KeySeeded, true)
	})
	return seededNow, err
}

func (e Engine) samplePosts() []domain.Post {
	byID := map[string]domain.Person{}
	for _, p := range e.Config.People {
		byID[p.ID] = p
	}
	now := e.now().UTC().Format(time.RFC3339)
	mk := func(t domain.PostType, pid, body string) domain.Post {
		return domain.Post{
			ID:               e.newID("post"),
			CreatedAt:        now,
			Author:           "demo",
			Type:             t,
			WithWhomPersonID: pid,
			WithWhomLabel:    byID[pid].Label(),
			Body:             body,
		}
	}
	var out []domain.Post
	if len(e.Config.People) >= 3 {
		p := e.Config.People
		out = append(out,
			mk(domain.PostChat, p[0].ID, fmt.Sprintf("今日、%sの%sさんと挨拶ついでに軽く雑談しました。最近忙しそう…！", p[0].Department, p[0].Name)),
			mk(domain.PostLunch, p[1].ID, fmt.Sprintf("%sの%sさんと食堂でランチ（引き直し用の投稿例）", p[1].Department, p[1].Name)),
			mk(domain.PostComplete, p[2].ID, fmt.Sprintf("%sの%sさんに飲み物の差し入れ（自販機ジュース）しました！達成！", p[2].Department, p[2].Name)),
		)
	}
	return out
}

// Login checks the shared password and stores the session.
func (e Engine) Login(ctx context.Context, user, password string) (domain.Session, error) {
	u, err := auth.Gate{Password: e.Config.App.Password}.Check(user, password)
	if err != nil {
		return domain.Session{}, err
	}
	sess := domain.Session{IsAuthed: true, User: u}
	if err := func() error {
		defer e.lock()()
		return repo.Save(ctx, e.Store, repo.KeyAuth, sess)
	}(); err != nil {
		return domain.Session{}, err
	}
	e.record(ctx, events.SessionLogin, "session", u, u, nil)
	if _, err := e.EnsureHand(ctx, u); err != nil {
		return sess, err
	}
	return sess, nil
}

// Authenticate checks the password without touching the stored session.
func (e Engine) Authenticate(user, password string) (string, error) {
	return auth.Gate{Password: e.Config.App.Password}.Check(user, password)
}

func (e Engine) Logout(ctx context.Context) error {
	sess, err := e.CurrentSession(ctx)
	if err != nil {
		return err
	}
	defer e.lock()()
	if err := repo.Save(ctx, e.Store, repo.KeyAuth, domain.Session{}); err != nil {
		return err
	}
	if sess.IsAuthed {
		e.record(ctx, events.SessionLogout, "session", sess.User, sess.User, nil)
	}
	return nil
}

func (e Engine) CurrentSession(ctx context.Context) (domain.Session, error) {
	return repo.Load(ctx, e.Store, repo.KeyAuth, domain.Session{}, e.logger())
}

// CurrentUser returns the logged-in user or ErrNotAuthenticated.
func (e Engine) CurrentUser(ctx context.Context) (string, error) {
	sess, err := e.CurrentSession(ctx)
	if err != nil {
		return "", err
	}
	if !sess.IsAuthed || sess.User == "" {
		return "", ErrNotAuthenticated
	}
	return sess.User, nil
}

func (e Engine) People(ctx context.Context) ([]domain.Person, error) {
	return repo.Load(ctx, e.Store, repo.KeyPeople, []domain.Person{}, e.logger())
}

// AddPerson prepends a new person to the roster.
func (e Engine) AddPerson(ctx context.Context, actorID, dept, name string) (domain.Person, error) {
	dept, name = strings.TrimSpace(dept), strings.TrimSpace(name)
	if dept == "" || name == "" {
		return domain.Person{}, ErrPersonRequired
	}
	p := domain.Person{ID: e.newID("p"), Department: dept, Name: name}
	defer e.lock()()
	err := e.Store.Atomic(ctx, func(ctx context.Context, s repo.Store) error {
		people, err := repo.Load(ctx, s, repo.KeyPeople, []domain.Person{}, e.logger())
		if err != nil {
			return err
		}
		return repo.Save(ctx, s, repo.KeyPeople, append([]domain.Person{p}, people...))
	})
	if err != nil {
		return domain.Person{}, err
	}
	e.record(ctx, events.PersonAdded, "person", p.ID, actorID, events.EventPayload{"dept": p.Department, "name": p.Name})
	return p, nil
}

// RemovePerson deletes a person. Quests and posts that reference them are left as they are.
func (e Engine) RemovePerson(ctx context.Context, actorID, id string) error {
	defer e.lock()()
	err := e.Store.Atomic(ctx, func(ctx context.Context, s repo.Store) error {
		people, err := repo.Load(ctx, s, repo.KeyPeople, []domain.Person{}, e.logger())
		if err != nil {
			return err
		}
		kept := make([]domain.Person, 0, len(people))
		for _, p := range people {
			if p.ID != id {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(people) {
			return fmt.Errorf("person %s: %w", id, repo.ErrNotFound)
		}
		return repo.Save(ctx, s, repo.KeyPeople, kept)
	})
	if err != nil {
		return err
	}
	e.record(ctx, events.PersonRemoved, "person", id, actorID, nil)
	return nil
}

// Hand returns the user's active quests in insertion order.
func (e Engine) Hand(ctx context.Context, user string) ([]domain.Quest, error) {
	hands, err := repo.Load(ctx, e.Store, repo.KeyActiveQuests, map[string][]domain.Quest{}, e.logger())
	if err != nil {
		return nil, err
	}
	return activeOnly(hands[user]), nil
}

func activeOnly(hand []domain.Quest) []domain.Quest {
	out := make([]domain.Quest, 0, len(hand))
	for _, q := range hand {
		if q.Status == domain.QuestActive {
			out = append(out, q)
		}
	}
	return out
}

// EnsureHand regenerates the user's hand when it does not hold exactly N quests.
func (e Engine) EnsureHand(ctx context.Context, user string) ([]domain.Quest, error) {
	defer e.lock()()
	var hand []domain.Quest
	err := e.Store.Atomic(ctx, func(ctx context.Context, s repo.Store) error {
		hands, people, err := e.loadHands(ctx, s)
		if err != nil {
			return err
		}
		hand = hands[user]
		if len(hand) == e.handSize() {
			return nil
		}
		hand, err = e.generator().GenerateHand(people, e.catalog(), e.handSize())
		if err != nil {
			return err
		}
		hands[user] = hand
		return repo.Save(ctx, s, repo.KeyActiveQuests, hands)
	})
	if err != nil {
		return nil, err
	}
	return hand, nil
}

// Pull discards the user's hand and draws N new quests.
func (e Engine) Pull(ctx context.Context, user string) ([]domain.Quest, error) {
	defer e.lock()()
	var hand []domain.Quest
	err := e.Store.Atomic(ctx, func(ctx context.Context, s repo.Store) error {
		hands, people, err := e.loadHands(ctx, s)
		if err != nil {
			return err
		}
		hand, err = e.generator().GenerateHand(people, e.catalog(), e.handSize())
		if err != nil {
			return err
		}
		hands[user] = hand
		return repo.Save(ctx, s, repo.KeyActiveQuests, hands)
	})
	if err != nil {
		return nil, err
	}
	e.record(ctx, events.HandPulled, "hand", user, user, events.EventPayload{"size": len(hand)})
	return hand, nil
}

func (e Engine) loadHands(ctx context.Context, s repo.Store) (map[string][]domain.Quest, []domain.Person, error) {
	hands, err := repo.Load(ctx, s, repo.KeyActiveQuests, map[string][]domain.Quest{}, e.logger())
	if err != nil {
		return nil, nil, err
	}
	if hands == nil {
		hands = map[string][]domain.Quest{}
	}
	people, err := repo.Load(ctx, s, repo.KeyPeople, []domain.Person{}, e.logger())
	if err != nil {
		return nil, nil, err
	}
	return hands, people, nil
}

func (e Engine) Points(ctx context.Context, user string) (int, error) {
	ledger, err := repo.Load(ctx, e.Store, repo.KeyPoints, domain.Ledger{}, e.logger())
	if err != nil {
		return 0, err
	}
	return ledger[user], nil
}

// Leaderboard ranks users by points, ties broken by Japanese collation of the name.
func (e Engine) Leaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	ledger, err := repo.Load(ctx, e.Store, repo.KeyPoints, domain.Ledger{}, e.logger())
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LeaderboardEntry, 0, len(ledger))
	for u, p := range ledger {
		entries = append(entries, domain.LeaderboardEntry{User: u, Points: p})
	}
	col := collate.New(language.Japanese)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return col.CompareString(entries[i].User, entries[j].User) < 0
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// DrawRewards rolls a reward hand from the configured pool.
func (e Engine) DrawRewards(ctx context.Context, user string) ([]gacha.Draw, error) {
	rc := e.Config.Rewards
	defer e.lock()()
	draws := gacha.RollHand(rc.Items, rc.Rarities, rc.HandSize, e.Rand)
	tally := gacha.Tally(draws)
	payload := events.EventPayload{"size": len(draws), "empty": len(draws) - len(gacha.Items(draws))}
	for r, n := range tally {
		payload[string(r)] = n
	}
	e.record(ctx, events.RewardsDrawn, "rewards", user, user, payload)
	return draws, nil
}
