package schema

// Well-known meta entry names.
const (
	MetaChannel = "channel"  // ["channel", "http"]
	MetaReplyTo = "reply_to" // ["reply_to", eventID]
	MetaTool    = "tool"     // ["tool", toolName, args...]
	MetaError   = "error"    // ["error", message]
)

// MetaEntry returns the first meta entry with the given name, or nil.
func (e Event) MetaEntry(name string) []string {
	for _, entry := range e.Meta {
		if len(entry) > 0 && entry[0] == name {
			return entry
		}
	}
	return nil
}

// MetaValue returns the first value of the first meta entry with the given
// name. The second return reports whether such a value exists.
func (e Event) MetaValue(name string) (string, bool) {
	entry := e.MetaEntry(name)
	if len(entry) < 2 {
		return "", false
	}
	return entry[1], true
}

// MetaValues returns the first value of every meta entry with the given name,
// in stream order. Entries without a value are skipped.
func (e Event) MetaValues(name string) []string {
	var values []string
	for _, entry := range e.Meta {
		if len(entry) >= 2 && entry[0] == name {
			values = append(values, entry[1])
		}
	}
	return values
}

// HasMeta reports whether the event carries a meta entry with the given name.
func (e Event) HasMeta(name string) bool {
	return e.MetaEntry(name) != nil
}
