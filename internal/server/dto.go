package server

import (
	"hoccoo/internal/domain"
	"hoccoo/internal/engine"
	"hoccoo/internal/gacha"
)

// Request payloads

type LoginRequest struct {
	User     string `json:"user" minLength:"1"`
	Password string `json:"password"`
}

type CreatePostRequest struct {
	Type     string `json:"type,omitempty" enum:"chat,complete,lunch,share"`
	WithWhom string `json:"with_whom,omitempty" doc:"Person id the post is about"`
	Body     string `json:"body"`
}

type CreatePersonRequest struct {
	Dept string `json:"dept"`
	Name string `json:"name"`
}

// Response payloads

type LoginResponse struct {
	Token string         `json:"token"`
	User  string         `json:"user"`
	Hand  []domain.Quest `json:"hand"`
}

type MeResponse struct {
	User   string `json:"user"`
	Points int    `json:"points"`
	Rank   int    `json:"rank,omitempty"`
}

type HandResponse struct {
	Items []domain.Quest `json:"items"`
}

type PostsResponse struct {
	Items []domain.Post `json:"items"`
}

type PostResultResponse struct {
	Post      domain.Post    `json:"post"`
	Completed *domain.Quest  `json:"completed,omitempty"`
	Awarded   int            `json:"awarded"`
	Rerolled  bool           `json:"rerolled"`
	Hand      []domain.Quest `json:"hand"`
	Points    int            `json:"points"`
}

type PeopleResponse struct {
	Items []domain.Person `json:"items"`
}

type LeaderboardResponse struct {
	Items []domain.LeaderboardEntry `json:"items"`
}

type DrawResponse struct {
	Rarity string       `json:"rarity"`
	Item   *domain.Item `json:"item,omitempty"`
}

type RewardsResponse struct {
	Items []DrawResponse `json:"items"`
	Tally map[string]int `json:"tally"`
}

func postResultResponse(res engine.PostResult) PostResultResponse {
	return PostResultResponse{
		Post:      res.Post,
		Completed: res.Completed,
		Awarded:   res.Awarded,
		Rerolled:  res.Rerolled,
		Hand:      nonNilSlice(res.Hand),
		Points:    res.Points,
	}
}

func rewardsResponse(draws []gacha.Draw) RewardsResponse {
	out := RewardsResponse{Items: make([]DrawResponse, 0, len(draws)), Tally: map[string]int{}}
	for _, d := range draws {
		out.Items = append(out.Items, DrawResponse{Rarity: string(d.Rarity), Item: d.Item})
	}
	for r, n := range gacha.Tally(draws) {
		out.Tally[string(r)] = n
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
