package domain

import (
	"sort"
	"strings"
	"time"
)

// SimilarityQuery carries the fields a likely-duplicate submission would
// share with an existing convention.
type SimilarityQuery struct {
	Siret               string
	AppellationCode     string
	BeneficiaryLastName string
	BeneficiaryBirthdate time.Time
	DateStart           time.Time
}

// SimilarityPolicy holds the tunable parts of duplicate detection. The
// window and cap are business decisions, not structural invariants.
type SimilarityPolicy struct {
	Window     time.Duration
	MaxResults int
}

// DefaultSimilarityPolicy matches the product defaults: a 7-day start
// window and at most 5 advisory results.
func DefaultSimilarityPolicy() SimilarityPolicy {
	return SimilarityPolicy{
		Window:     7 * 24 * time.Hour,
		MaxResults: 5,
	}
}

// FindSimilar filters candidate conventions down to likely duplicates of
// the queried submission: same siret and appellation code, same
// beneficiary last name and birthdate, start date within the window.
// Conventions in terminal states are excluded. Results are ordered most
// recent start date first and capped. Advisory only, never blocking.
func FindSimilar(candidates []Convention, q SimilarityQuery, p SimilarityPolicy) []string {
	var matches []Convention
	for _, c := range candidates {
		if c.Status.Terminal() {
			continue
		}
		if c.Siret != q.Siret || c.AppellationCode != q.AppellationCode {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(c.Beneficiary.LastName), strings.TrimSpace(q.BeneficiaryLastName)) {
			continue
		}
		if !sameDay(c.Beneficiary.Birthdate, q.BeneficiaryBirthdate) {
			continue
		}
		gap := c.DateStart.Sub(q.DateStart)
		if gap < 0 {
			gap = -gap
		}
		if gap > p.Window {
			continue
		}
		matches = append(matches, c)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].DateStart.After(matches[j].DateStart)
	})

	if p.MaxResults > 0 && len(matches) > p.MaxResults {
		matches = matches[:p.MaxResults]
	}

	ids := make([]string, len(matches))
	for i, c := range matches {
		ids[i] = c.ID
	}
	return ids
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
