package mirror

import "encoding/json"

// ReactionTally maps a reaction key (emoji or custom symbol) to the reactors
// that currently apply it. It is the schema'd form of the reactions document
// stored on each row; mutation goes through Add and Remove so the document
// only grows under adds and only shrinks under removes.
type ReactionTally map[string][]int64

// Add records reactorID under key. Adding a reactor already present is a
// no-op, so replayed add events converge.
func (t ReactionTally) Add(key string, reactorID int64) ReactionTally {
	if t == nil {
		t = make(ReactionTally)
	}
	for _, id := range t[key] {
		if id == reactorID {
			return t
		}
	}
	t[key] = append(t[key], reactorID)
	return t
}

// Remove withdraws reactorID from key. Removing an absent reactor or key is
// a no-op; a key left with no reactors is dropped from the document.
func (t ReactionTally) Remove(key string, reactorID int64) ReactionTally {
	if t == nil {
		return nil
	}
	ids, ok := t[key]
	if !ok {
		return t
	}
	for i, id := range ids {
		if id == reactorID {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(t, key)
	} else {
		t[key] = ids
	}
	return t
}

// Empty reports whether the tally carries no reactions at all.
func (t ReactionTally) Empty() bool {
	return len(t) == 0
}

// marshalTally serializes a tally for storage, mapping an empty tally to nil
// so the column stays NULL until the first reaction arrives.
func marshalTally(t ReactionTally) (any, error) {
	if t.Empty() {
		return nil, nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// unmarshalTally parses a stored reactions document; empty input yields nil.
func unmarshalTally(raw string) (ReactionTally, error) {
	if raw == "" {
		return nil, nil
	}
	var t ReactionTally
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, err
	}
	return t, nil
}
