// Package search ranks restaurants against a free-text query. Query terms,
// less stopwords, are compiled into an Aho-Corasick automaton which is run
// over each restaurant's name, cuisine, neighborhood and address.
package search

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kittclouds/restokitt/internal/model"
	"github.com/orsinium-labs/stopwords"
	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// Field weights. A name match outranks a cuisine or neighborhood match,
// which outranks an address match.
const (
	weightName         = 3
	weightCuisine      = 2
	weightNeighborhood = 2
	weightAddress      = 1
)

var english = stopwords.MustGet("en")

// Terms splits |query| into lower-cased words, dropping stopwords and
// duplicates.
func Terms(query string) []string {
	var words = strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	var out []string
	var seen = make(map[string]bool, len(words))
	for _, w := range words {
		w = strings.Trim(w, "'")
		if w == "" || seen[w] || english.Contains(w) {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

// Hit is a ranked result.
type Hit struct {
	Restaurant model.Restaurant `json:"restaurant"`
	Score      int              `json:"score"`
	// Matched is the number of distinct query terms found.
	Matched int `json:"matched"`
}

// Search returns restaurants of |rs| matching at least one term of |query|,
// best first: by distinct terms matched, then weighted score, then id.
func Search(rs []model.Restaurant, query string) []Hit {
	var terms = Terms(query)
	if len(terms) == 0 {
		return nil
	}
	var builder = ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.LeftMostLongestMatch,
	})
	var ac = builder.Build(terms)

	var hits []Hit
	for _, r := range rs {
		var matched = make(map[int]bool)
		var score int

		for _, f := range []struct {
			text   string
			weight int
		}{
			{r.Name, weightName},
			{r.CuisineType, weightCuisine},
			{r.Neighborhood, weightNeighborhood},
			{r.Address, weightAddress},
		} {
			for _, m := range ac.FindAll(strings.ToLower(f.text)) {
				matched[m.Pattern()] = true
				score += f.weight
			}
		}
		if len(matched) != 0 {
			hits = append(hits, Hit{Restaurant: r, Score: score, Matched: len(matched)})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Matched != hits[j].Matched {
			return hits[i].Matched > hits[j].Matched
		}
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Restaurant.ID < hits[j].Restaurant.ID
	})
	return hits
}
