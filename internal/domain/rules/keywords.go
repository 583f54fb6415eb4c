package rules

import (
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
)

// KeywordIndex is a cheap pre-filter: a line only needs a rule's regex run on
// it when one of the rule's keywords occurs in the line, ignoring case. Rules
// without keywords are always candidates.
type KeywordIndex struct {
	trie      *ahocorasick.Trie // nil when no rule has keywords
	byKeyword map[string][]int  // keyword -> rule positions
	always    []*Rule
	alwaysPos []int
	rules     []*Rule
}

func newKeywordIndex(rules []*Rule) *KeywordIndex {
	idx := &KeywordIndex{
		byKeyword: make(map[string][]int),
		rules:     rules,
	}

	var keywords []string
	for i, r := range rules {
		if r.AlwaysCandidate() {
			idx.always = append(idx.always, r)
			idx.alwaysPos = append(idx.alwaysPos, i)
			continue
		}
		for _, kw := range r.keywords {
			if _, seen := idx.byKeyword[kw]; !seen {
				keywords = append(keywords, kw)
			}
			idx.byKeyword[kw] = append(idx.byKeyword[kw], i)
		}
	}

	if len(keywords) > 0 {
		idx.trie = ahocorasick.NewTrieBuilder().AddStrings(keywords).Build()
	}
	return idx
}

// candidates lowercases line once and returns the always-candidate rules
// together with every rule whose keyword occurs in it, in rule order.
func (idx *KeywordIndex) candidates(line string) []*Rule {
	if idx.trie == nil {
		return idx.always
	}

	matches := idx.trie.MatchString(strings.ToLower(line))
	if len(matches) == 0 {
		return idx.always
	}

	hit := make([]bool, len(idx.rules))
	for _, pos := range idx.alwaysPos {
		hit[pos] = true
	}
	for _, m := range matches {
		for _, pos := range idx.byKeyword[m.MatchString()] {
			hit[pos] = true
		}
	}

	out := make([]*Rule, 0, len(idx.always)+len(matches))
	for i, ok := range hit {
		if ok {
			out = append(out, idx.rules[i])
		}
	}
	return out
}
