package termindex

// Pair is a target term expressed as its raw and stemmed dictionary
// ids; a term occurrence matches a pair on either id matching either
// side, so a stemmed query token can match an unstemmed indexed term
// and vice versa.
type Pair struct {
	ID        uint32
	IDStemmed uint32
}

// Hit is a single match location.
type Hit struct {
	PartID uint32
	Offset uint32
}

func matchesPair(t Term, p Pair) bool {
	return t.ID == p.ID || t.IDStemmed == p.IDStemmed || t.ID == p.IDStemmed || t.IDStemmed == p.ID
}

// PhraseMatch scans part's terms for consecutive occurrences matching
// target in sequence, returning the offset of the first term of each
// match.
func PhraseMatch(part Part, target []Pair) []Hit {
	if len(target) == 0 {
		return nil
	}
	var hits []Hit
	progress := 0
	for idx, t := range part.Terms {
		if matchesPair(t, target[progress]) {
			progress++
			if progress == len(target) {
				start := idx - len(target) + 1
				hits = append(hits, Hit{PartID: part.PartID, Offset: part.Terms[start].Offset})
				progress = 0
			}
			continue
		}
		// Restart; the current term might itself begin a new candidate match.
		if matchesPair(t, target[0]) {
			progress = 1
		} else {
			progress = 0
		}
	}
	return hits
}

// BagTarget is one unordered target term for BagMatch.
type BagTarget struct {
	ID        uint32
	IDStemmed uint32
}

// BagMatch tracks up to 64 target terms with a bitmask of the ones not
// yet seen; when every target has matched (mask clears) it returns the
// accumulated hit offsets. If the part runs out of terms before every
// target is seen, BagMatch returns nil (no match in this part).
func BagMatch(part Part, targets []BagTarget) []Hit {
	if len(targets) > 64 {
		targets = targets[:64]
	}
	var mask uint64
	for i := range targets {
		mask |= 1 << uint(i)
	}
	var hits []Hit
	for _, t := range part.Terms {
		for i, bt := range targets {
			bit := uint64(1) << uint(i)
			if mask&bit == 0 {
				continue
			}
			if matchesPair(t, Pair{bt.ID, bt.IDStemmed}) {
				mask &^= bit
				hits = append(hits, Hit{PartID: part.PartID, Offset: t.Offset})
			}
		}
		if mask == 0 {
			return hits
		}
	}
	return nil
}
