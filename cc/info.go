package cc

// Entry is a single command class taken from a node or endpoint information list, annotated with
// whether it is supported or controlled, and whether it sits behind a security scheme mark.
type Entry struct {
	Class      CommandClass
	Controlled bool
	Secure     bool
}

// ParseClassList decodes a raw command class list, honouring the support/control mark and the
// security scheme marks appended by secure command supported reports.
func ParseClassList(list []byte) []Entry {
	var entries []Entry

	controlled := false
	secure := false

	for i := 0; i < len(list); i++ {
		b := list[i]

		switch {
		case b == SupportControlMark:
			controlled = true
		case b == SecuritySchemeMarkHigh && i+1 < len(list) && list[i+1] == SecuritySchemeMarkLow:
			secure = true
			controlled = false
			i++
		case b >= 0xF1:
			if i+1 >= len(list) {
				return entries
			}
			entries = append(entries, Entry{Class: CommandClass(uint16(b)<<8 | uint16(list[i+1])), Controlled: controlled, Secure: secure})
			i++
		default:
			entries = append(entries, Entry{Class: CommandClass(b), Controlled: controlled, Secure: secure})
		}
	}

	return entries
}

// Supports returns true if the class is supported, secure or not.
func Supports(list []byte, class CommandClass) bool {
	for _, e := range ParseClassList(list) {
		if e.Class == class && !e.Controlled {
			return true
		}
	}

	return false
}

// SupportsSecurely returns true if the class is supported behind a security scheme mark.
func SupportsSecurely(list []byte, class CommandClass) bool {
	for _, e := range ParseClassList(list) {
		if e.Class == class && !e.Controlled && e.Secure {
			return true
		}
	}

	return false
}

// SupportsInsecurely returns true if the class is supported without security.
func SupportsInsecurely(list []byte, class CommandClass) bool {
	for _, e := range ParseClassList(list) {
		if e.Class == class && !e.Controlled && !e.Secure {
			return true
		}
	}

	return false
}

// Controls returns true if the class is listed after a support/control mark.
func Controls(list []byte, class CommandClass) bool {
	for _, e := range ParseClassList(list) {
		if e.Class == class && e.Controlled {
			return true
		}
	}

	return false
}

// AppendSecureList appends a security scheme mark and a reported secure class list.
func AppendSecureList(list []byte, secure []byte) []byte {
	out := make([]byte, 0, len(list)+2+len(secure))
	out = append(out, list...)
	out = append(out, SecuritySchemeMarkHigh, SecuritySchemeMarkLow)
	return append(out, secure...)
}
