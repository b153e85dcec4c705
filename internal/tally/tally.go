// Package tally computes what a poll card shows: per-option vote counts,
// percentages, the viewer's selected option and like state.
package tally

import (
	"sort"

	"github.com/google/uuid"

	"github.com/quickpoll/backend/internal/models"
)

// OptionResult is one option line of a poll result.
type OptionResult struct {
	ID         uuid.UUID `json:"id"`
	Text       string    `json:"text"`
	Order      int       `json:"order"`
	Votes      int       `json:"votes"`
	Percentage int       `json:"percentage"`
	Selected   bool      `json:"selected"`
}

// PollResult is the full computed state of a poll for one viewer.
type PollResult struct {
	Poll       models.Poll    `json:"poll"`
	Options    []OptionResult `json:"options"`
	TotalVotes int            `json:"total_votes"`
	Likes      int            `json:"likes"`
	LikedByMe  bool           `json:"liked_by_me"`
	MyVote     *uuid.UUID     `json:"my_vote,omitempty"`
}

// Snapshot is a full read of a poll's rows.
type Snapshot struct {
	Poll    models.Poll
	Options []models.PollOption
	Votes   []models.Vote
	Likes   []models.Like
}

// Compute builds the result of s as seen by viewer. viewer may be uuid.Nil.
func Compute(s Snapshot, viewer uuid.UUID) PollResult {
	options := make([]models.PollOption, len(s.Options))
	copy(options, s.Options)
	sort.SliceStable(options, func(i, j int) bool { return options[i].OptionOrder < options[j].OptionOrder })

	res := PollResult{
		Poll:       s.Poll,
		TotalVotes: len(s.Votes),
		Likes:      len(s.Likes),
		Options:    make([]OptionResult, len(options)),
	}

	counts := make([]int, len(options))
	for i, o := range options {
		counts[i] = VoteCount(s.Votes, o.ID)
	}
	for _, v := range s.Votes {
		if viewer != uuid.Nil && v.UserID == viewer {
			id := v.OptionID
			res.MyVote = &id
			break
		}
	}
	for _, l := range s.Likes {
		if viewer != uuid.Nil && l.UserID == viewer {
			res.LikedByMe = true
			break
		}
	}

	rounded := RoundedPercentages(counts, res.TotalVotes)
	for i, o := range options {
		res.Options[i] = OptionResult{
			ID:         o.ID,
			Text:       o.OptionText,
			Order:      o.OptionOrder,
			Votes:      counts[i],
			Percentage: rounded[i],
			Selected:   res.MyVote != nil && *res.MyVote == o.ID,
		}
	}
	return res
}

// VoteCount returns how many votes reference optionID.
func VoteCount(votes []models.Vote, optionID uuid.UUID) int {
	n := 0
	for _, v := range votes {
		if v.OptionID == optionID {
			n++
		}
	}
	return n
}

// Percentage returns 100*count/total, or 0 when total is 0.
func Percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(count) / float64(total)
}

// RoundedPercentages converts counts into whole percentages using the largest
// remainder method. Each value is the floor or ceiling of its exact
// percentage, and when the counts account for every vote they sum to 100.
func RoundedPercentages(counts []int, total int) []int {
	out := make([]int, len(counts))
	if total <= 0 {
		return out
	}

	type rem struct {
		idx  int
		frac int
	}
	rems := make([]rem, len(counts))
	sumCounts, sumFloors := 0, 0
	for i, c := range counts {
		out[i] = 100 * c / total
		rems[i] = rem{idx: i, frac: 100 * c % total}
		sumCounts += c
		sumFloors += out[i]
	}
	if sumCounts != total {
		// Votes outside the listed options; nothing to balance against.
		return out
	}

	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for k := 0; k < 100-sumFloors && k < len(rems); k++ {
		if rems[k].frac == 0 {
			break
		}
		out[rems[k].idx]++
	}
	return out
}
