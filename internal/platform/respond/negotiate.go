package respond

import (
	"strconv"
	"strings"
)

type mediaRange struct {
	typ     string
	subtype string
	q       float64
}

// parseAccept splits an Accept header into media ranges. A missing or
// invalid q parameter counts as 1.0; the last q wins when repeated.
func parseAccept(header string) []mediaRange {
	var ranges []mediaRange
	for part := range strings.SplitSeq(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		params := strings.Split(part, ";")
		mt := strings.ToLower(strings.TrimSpace(params[0]))
		if mt == "" {
			continue
		}

		mr := mediaRange{q: 1.0}
		if typ, sub, ok := strings.Cut(mt, "/"); ok {
			mr.typ, mr.subtype = strings.TrimSpace(typ), strings.TrimSpace(sub)
		} else {
			mr.typ, mr.subtype = mt, "*"
		}

		for _, p := range params[1:] {
			key, val, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
				continue
			}
			q, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil || q < 0 || q > 1 {
				q = 1.0
			}
			mr.q = q
		}
		ranges = append(ranges, mr)
	}
	return ranges
}

// match reports how specifically mr names the given structured suffix
// ("json" or "cbor"). Higher is more specific; -1 means no match.
func (mr mediaRange) match(suffix string) int {
	switch {
	case mr.typ == "*" && mr.subtype == "*":
		return 0
	case mr.typ != "application":
		return -1
	case mr.subtype == "*":
		return 1
	case mr.subtype == "*+"+suffix:
		return 2
	case mr.subtype == suffix:
		return 3
	case mr.subtype == "problem+"+suffix:
		return 4
	default:
		return -1
	}
}

// preference returns the q-value of the most specific range matching
// suffix, along with that specificity.
func preference(ranges []mediaRange, suffix string) (q float64, specificity int) {
	specificity = -1
	for _, mr := range ranges {
		s := mr.match(suffix)
		if s < 0 {
			continue
		}
		if s > specificity || (s == specificity && mr.q > q) {
			specificity, q = s, mr.q
		}
	}
	return q, specificity
}

// selectFormat reports whether the problem body should be CBOR. q-values
// rank first and specificity breaks ties; JSON wins everything else.
func selectFormat(accept string) bool {
	if strings.TrimSpace(accept) == "" {
		return false
	}
	ranges := parseAccept(accept)
	cborQ, cborSpec := preference(ranges, "cbor")
	if cborSpec < 0 || cborQ <= 0 {
		return false
	}
	jsonQ, jsonSpec := preference(ranges, "json")
	if jsonSpec < 0 || jsonQ <= 0 {
		return true
	}
	if cborQ != jsonQ {
		return cborQ > jsonQ
	}
	return cborSpec > jsonSpec
}
