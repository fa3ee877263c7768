package emias

import (
	"bytes"
	"encoding/json"
)

// ListingKind tags the shape of a getDoctorsInfo result.
type ListingKind int

const (
	// KindUnrecognized is a payload that matched no known shape.
	KindUnrecognized ListingKind = iota
	// KindLdps is a list of diagnostic facilities.
	KindLdps
	// KindDoctors is a list of specialists.
	KindDoctors
	// KindEmpty is the API's "nothing available" answer.
	KindEmpty
)

func (k ListingKind) String() string {
	switch k {
	case KindLdps:
		return "ldps"
	case KindDoctors:
		return "doctors"
	case KindEmpty:
		return "empty"
	default:
		return "unrecognized"
	}
}

// Listing is the decoded result of getDoctorsInfo. Only the slice matching
// Kind is populated; Raw keeps the payload for Unrecognized results.
type Listing struct {
	Kind    ListingKind
	Ldps    []Ldp
	Doctors []Doctor
	Raw     json.RawMessage
}

var (
	ldpKeys    = []string{"id", "lpuId", "name", "ldpType", "complexResource"}
	doctorKeys = []string{"id", "lpuId", "name", "arSpecialityId", "arSpecialityName", "mainDoctor", "complexResource"}
)

// listingTrials is evaluated in order; the first shape that fits wins.
var listingTrials = []func(json.RawMessage) (Listing, bool){
	tryLdps,
	tryDoctors,
	tryEmpty,
}

// DecodeListing classifies a getDoctorsInfo result. It never fails: payloads
// that fit no known shape come back as KindUnrecognized.
func DecodeListing(raw json.RawMessage) Listing {
	for _, trial := range listingTrials {
		if listing, ok := trial(raw); ok {
			return listing
		}
	}

	return Listing{Kind: KindUnrecognized, Raw: append(json.RawMessage(nil), raw...)}
}

func tryLdps(raw json.RawMessage) (Listing, bool) {
	if !arrayWithKeys(raw, ldpKeys) {
		return Listing{}, false
	}

	var ldps []Ldp
	if err := json.Unmarshal(raw, &ldps); err != nil {
		return Listing{}, false
	}

	return Listing{Kind: KindLdps, Ldps: ldps}, true
}

func tryDoctors(raw json.RawMessage) (Listing, bool) {
	if !arrayWithKeys(raw, doctorKeys) {
		return Listing{}, false
	}

	var doctors []Doctor
	if err := json.Unmarshal(raw, &doctors); err != nil {
		return Listing{}, false
	}

	return Listing{Kind: KindDoctors, Doctors: doctors}, true
}

func tryEmpty(raw json.RawMessage) (Listing, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Listing{}, false
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil || len(items) != 0 {
			return Listing{}, false
		}
	case '{':
		var members map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &members); err != nil {
			return Listing{}, false
		}
		for _, value := range members {
			if v := bytes.TrimSpace(value); len(v) == 0 || v[0] != '"' {
				return Listing{}, false
			}
		}
	default:
		return Listing{}, false
	}

	return Listing{Kind: KindEmpty}, true
}

// arrayWithKeys reports whether raw is a non-empty array of objects that all
// carry every key in keys.
func arrayWithKeys(raw json.RawMessage, keys []string) bool {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return false
	}

	for _, item := range items {
		for _, key := range keys {
			if _, ok := item[key]; !ok {
				return false
			}
		}
	}

	return true
}
