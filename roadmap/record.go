package roadmap

import (
	"encoding/json"
	"maps"
	"slices"
)

// Keys of the records this package owns. Any other key found in the file
// belongs to another tool and is written back unchanged.
var (
	roadmapKeys = []string{
		"metadata", "focus_symbols", "open_questions", "operational_recommendations",
		"symbolic_connections", "web_sources", "peer_reviews",
	}
	webSourceKeys  = []string{"id", "url", "title", "success", "extracted_concepts", "fetched_at"}
	peerReviewKeys = []string{"id", "reviewer", "timestamp", "assessment", "confidence", "cycle", "suggestions"}

	// Keys always written for records built here. A decoded record that
	// lacked one keeps lacking it.
	webSourceTracked  = []string{"id", "url", "success", "extracted_concepts", "fetched_at"}
	peerReviewTracked = []string{"reviewer", "timestamp", "assessment", "confidence"}
)

// splitObject returns the members of the JSON object data whose keys are
// not in known, and the keys of tracked that data does not carry.
func splitObject(data []byte, known, tracked []string) (map[string]json.RawMessage, []string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, nil, err
	}
	if obj == nil {
		return nil, nil, nil
	}

	var extra map[string]json.RawMessage
	for k, v := range obj {
		if slices.Contains(known, k) {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}

	var absent []string
	for _, k := range tracked {
		if _, ok := obj[k]; !ok {
			absent = append(absent, k)
		}
	}
	return extra, absent, nil
}

// joinObject removes the absent keys from the JSON object data and adds
// the extra members that data does not define.
func joinObject(data []byte, extra map[string]json.RawMessage, absent []string) ([]byte, error) {
	if len(extra) == 0 && len(absent) == 0 {
		return data, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for _, k := range absent {
		delete(obj, k)
	}
	for k, v := range extra {
		if _, ok := obj[k]; !ok {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	out := maps.Clone(extra)
	for k, v := range out {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// UnmarshalJSON decodes a source record and keeps the members written by
// other tools.
func (s *WebSource) UnmarshalJSON(data []byte) error {
	type plain WebSource
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, absent, err := splitObject(data, webSourceKeys, webSourceTracked)
	if err != nil {
		return err
	}
	*s = WebSource(p)
	s.Extra = extra
	s.absent = absent
	return nil
}

// MarshalJSON writes the source record with the members kept on decode.
func (s WebSource) MarshalJSON() ([]byte, error) {
	type plain WebSource
	data, err := json.Marshal(plain(s))
	if err != nil {
		return nil, err
	}
	return joinObject(data, s.Extra, s.absent)
}

// UnmarshalJSON decodes a review record. Reviews written by older tools
// carry the review under "text"; it is read as the assessment and the
// "text" member is written back as it was.
func (pr *PeerReview) UnmarshalJSON(data []byte) error {
	type plain PeerReview
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, absent, err := splitObject(data, peerReviewKeys, peerReviewTracked)
	if err != nil {
		return err
	}
	*pr = PeerReview(p)
	pr.Extra = extra
	pr.absent = absent

	if slices.Contains(absent, "assessment") {
		var text string
		if raw, ok := extra["text"]; ok && json.Unmarshal(raw, &text) == nil {
			pr.Assessment = text
		}
	}
	return nil
}

// MarshalJSON writes the review record with the members kept on decode.
func (pr PeerReview) MarshalJSON() ([]byte, error) {
	type plain PeerReview
	data, err := json.Marshal(plain(pr))
	if err != nil {
		return nil, err
	}
	return joinObject(data, pr.Extra, pr.absent)
}

// MarshalJSON writes the roadmap with the top-level members kept on
// decode.
func (r Roadmap) MarshalJSON() ([]byte, error) {
	type plain Roadmap
	data, err := json.Marshal(plain(r))
	if err != nil {
		return nil, err
	}
	return joinObject(data, r.Extra, nil)
}
