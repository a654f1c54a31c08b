package adapter

import "strings"

// DefaultAnonymityMarker switches mention-all to the silent form.
const DefaultAnonymityMarker = "cita!"

// GroupSuffix marks group chat addresses.
const GroupSuffix = "@g.us"

// IsGroupAddress reports whether addr is a group chat address.
func IsGroupAddress(addr string) bool {
	return strings.HasSuffix(addr, GroupSuffix)
}

// LocalPart returns the address part before the first "@".
func LocalPart(addr string) string {
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		return addr[:i]
	}
	return addr
}

// BuildMention composes the mention-all text. Every participant is attached
// as a mention in both forms. When anonymous is set and the marker occurs in
// message, its first occurrence is removed and no visible tokens are added.
// Otherwise each participant gets an "@local " token, in list order, ahead of
// a newline and the message.
func BuildMention(participants []string, message string, anonymous bool, marker string) (string, []string) {
	if marker == "" {
		marker = DefaultAnonymityMarker
	}
	mentions := append([]string(nil), participants...)

	if anonymous && strings.Contains(message, marker) {
		return strings.Replace(message, marker, "", 1), mentions
	}

	var b strings.Builder
	for _, p := range participants {
		b.WriteString("@")
		b.WriteString(LocalPart(p))
		b.WriteString(" ")
	}
	b.WriteString("\n")
	b.WriteString(message)
	return b.String(), mentions
}
