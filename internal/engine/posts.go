package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hoccoo/internal/domain"
	"hoccoo/internal/events"
	"hoccoo/internal/quest"
	"hoccoo/internal/repo"
)

type PostInput struct {
	Type     domain.PostType
	WithWhom string
	Body     string
}

// PostResult reports what a post changed. Completed is the quest the post
// satisfied, if any; Rerolled is set when the post was a mulligan.
type PostResult struct {
	Post      domain.Post    `json:"post"`
	Completed *domain.Quest  `json:"completed,omitempty"`
	Awarded   int            `json:"awarded"`
	Rerolled  bool           `json:"rerolled"`
	Hand      []domain.Quest `json:"hand"`
	Points    int            `json:"points"`
}

// SubmitPost appends a bulletin post and applies its effects on the author's hand.
//
// The post is matched against the stored hand as the user last saw it. A hit
// credits the quest's points and swaps that quest for one fresh quest. If
// the post is also a mulligan the whole hand is then regenerated, so the
// replacement quest does not survive. Otherwise a hand that no longer holds
// N quests is trimmed or topped up, keeping the quests already shown.
func (e Engine) SubmitPost(ctx context.Context, user string, in PostInput) (PostResult, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return PostResult{}, ErrNotAuthenticated
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return PostResult{}, ErrBodyRequired
	}
	if in.Type == "" {
		in.Type = domain.PostChat
	}
	if !in.Type.Valid() {
		return PostResult{}, fmt.Errorf("%w: %s", ErrInvalidPostType, in.Type)
	}
	withWhom := strings.TrimSpace(in.WithWhom)

	defer e.lock()()
	var res PostResult
	err := e.Store.Atomic(ctx, func(ctx context.Context, s repo.Store) error {
		hands, people, err := e.loadHands(ctx, s)
		if err != nil {
			return err
		}
		post := domain.Post{
			ID:               e.newID("post"),
			CreatedAt:        e.now().UTC().Format(time.RFC3339),
			Author:           user,
			Type:             in.Type,
			WithWhomPersonID: withWhom,
			Body:             body,
		}
		if withWhom != "" {
			p, ok := findPerson(people, withWhom)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownPerson, withWhom)
			}
			post.WithWhomLabel = p.Label()
		}
		posts, err := repo.Load(ctx, s, repo.KeyPosts, []domain.Post{}, e.logger())
		if err != nil {
			return err
		}
		if err := repo.Save(ctx, s, repo.KeyPosts, append([]domain.Post{post}, posts...)); err != nil {
			return err
		}
		res.Post = post

		gen := e.generator()
		hand := activeOnly(hands[user])
		if len(hand) == 0 {
			if hand, err = gen.GenerateHand(people, e.catalog(), e.handSize()); err != nil {
				return err
			}
		}
		ledger, err := repo.Load(ctx, s, repo.KeyPoints, domain.Ledger{}, e.logger())
		if err != nil {
			return err
		}
		if ledger == nil {
			ledger = domain.Ledger{}
		}

		if idx, ok := e.Matcher.FirstMatch(post, hand, e.catalog()); ok {
			hit := hand[idx]
			hit.Status = domain.QuestCompleted
			res.Completed = &hit
			res.Awarded = hit.Points
			ledger[user] += hit.Points
			fresh, err := gen.GenerateQuest(people, e.catalog())
			if err != nil {
				return err
			}
			next := make([]domain.Quest, 0, len(hand))
			next = append(next, hand[:idx]...)
			next = append(next, hand[idx+1:]...)
			hand = append(next, fresh)
			if err := repo.Save(ctx, s, repo.KeyPoints, ledger); err != nil {
				return err
			}
		}
		if quest.IsMulliganPost(post) {
			if hand, err = gen.GenerateHand(people, e.catalog(), e.handSize()); err != nil {
				return err
			}
			res.Rerolled = true
		} else if hand, err = e.fitHand(gen, people, hand); err != nil {
			return err
		}
		hands[user] = hand
		res.Hand = hand
		res.Points = ledger[user]
		return repo.Save(ctx, s, repo.KeyActiveQuests, hands)
	})
	if err != nil {
		return PostResult{}, err
	}

	e.record(ctx, events.PostCreated, "post", res.Post.ID, user, events.EventPayload{
		"type":      string(res.Post.Type),
		"with_whom": res.Post.WithWhomPersonID,
	})
	if res.Completed != nil {
		e.record(ctx, events.QuestCompleted, "quest", res.Completed.ID, user, events.EventPayload{
			"post_id":    res.Post.ID,
			"action_key": res.Completed.ActionKey,
			"points":     res.Awarded,
		})
		e.logger().Info("quest completed", "user", user, "quest", res.Completed.ID, "points", res.Awarded)
	}
	if res.Rerolled {
		e.record(ctx, events.HandRerolled, "hand", user, user, events.EventPayload{"post_id": res.Post.ID})
	}
	return res, nil
}

// fitHand trims hand to N quests or appends fresh ones until it holds N.
func (e Engine) fitHand(gen quest.Generator, people []domain.Person, hand []domain.Quest) ([]domain.Quest, error) {
	n := e.handSize()
	if len(hand) > n {
		return hand[:n], nil
	}
	for len(hand) < n {
		q, err := gen.GenerateQuest(people, e.catalog())
		if err != nil {
			return nil, err
		}
		hand = append(hand, q)
	}
	return hand, nil
}

// Posts returns the board newest first. limit <= 0 returns everything.
func (e Engine) Posts(ctx context.Context, limit int) ([]domain.Post, error) {
	posts, err := repo.Load(ctx, e.Store, repo.KeyPosts, []domain.Post{}, e.logger())
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func findPerson(people []domain.Person, id string) (domain.Person, bool) {
	for _, p := range people {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Person{}, false
}
