package relay

// ID is an opaque external identifier (user, channel, or role) as issued by
// the chat platform. IDs are comparable and stored in their canonical
// decimal string form; Backchannel never interprets their structure.
type ID string

// String returns the canonical string form.
func (id ID) String() string { return string(id) }

// ParseID validates a persisted identifier string. Platform identifiers are
// non-empty and contain no whitespace; anything else persisted in the store
// indicates corruption and is an internal error.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", Internalf("malformed persisted identifier: empty")
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			return "", Internalf("malformed persisted identifier %q", s)
		}
	}
	return ID(s), nil
}
