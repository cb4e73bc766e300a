package match

import "sort"

const (
	// FloorSimilarity is the minimum name similarity for a candidate to be
	// surfaced at all; anything below is discarded.
	FloorSimilarity = 0.30

	// AutoAcceptSimilarity is the minimum name similarity for unattended
	// acceptance. Candidates between the floor and this threshold need
	// manual disambiguation.
	AutoAcceptSimilarity = 0.70
)

// Candidate is one business the matcher may resolve a free-text name to.
type Candidate struct {
	BusinessID string
	Name       string
	PlaceID    string
}

// Alternative is a ranked non-winning candidate.
type Alternative struct {
	BusinessID string  `json:"business_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"` // 0-100
}

// Result is the outcome of matching one incoming record against the
// directory. Ephemeral; never persisted.
type Result struct {
	SourceName   string        `json:"source_name"`
	BusinessID   string        `json:"business_id,omitempty"` // empty when nothing matched
	Confidence   float64       `json:"confidence"`            // 0-100
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// AutoAccepted reports whether the match is confident enough for unattended
// processing.
func (r Result) AutoAccepted() bool {
	return r.BusinessID != "" && r.Confidence >= AutoAcceptSimilarity*100
}

// Business resolves an incoming record to a directory business. An exact
// place-identifier hit short-circuits with confidence 100 and no fuzzy
// ranking. Otherwise candidates are ranked by normalized-name similarity;
// candidates under FloorSimilarity are dropped.
func Business(sourceName, placeID string, candidates []Candidate) Result {
	res := Result{SourceName: sourceName}

	if placeID != "" {
		for _, c := range candidates {
			if c.PlaceID == placeID {
				res.BusinessID = c.BusinessID
				res.Confidence = 100
				return res
			}
		}
	}

	normalized := NormalizeName(sourceName)
	if normalized == "" {
		return res
	}

	type scored struct {
		cand Candidate
		sim  float64
	}
	var ranked []scored
	for _, c := range candidates {
		sim := Similarity(normalized, NormalizeName(c.Name))
		if sim < FloorSimilarity {
			continue
		}
		ranked = append(ranked, scored{cand: c, sim: sim})
	}
	if len(ranked) == 0 {
		return res
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].sim > ranked[j].sim
	})

	res.BusinessID = ranked[0].cand.BusinessID
	res.Confidence = ranked[0].sim * 100
	for _, s := range ranked[1:] {
		res.Alternatives = append(res.Alternatives, Alternative{
			BusinessID: s.cand.BusinessID,
			Name:       s.cand.Name,
			Confidence: s.sim * 100,
		})
	}
	return res
}
