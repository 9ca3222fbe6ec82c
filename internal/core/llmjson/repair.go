package llmjson

import (
	"strings"
	"unicode"
)

type scanState struct {
	stack    []byte
	inString bool
	escaped  bool
}

// scan walks s like a JSON tokenizer, tracking open containers and string state
func scan(s string) scanState {
	var st scanState
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if st.inString {
			switch {
			case st.escaped:
				st.escaped = false
			case ch == '\\':
				st.escaped = true
			case ch == '"':
				st.inString = false
			}
			continue
		}
		switch ch {
		case '"':
			st.inString = true
		case '{', '[':
			st.stack = append(st.stack, ch)
		case '}', ']':
			if len(st.stack) > 0 {
				st.stack = st.stack[:len(st.stack)-1]
			}
		}
	}
	return st
}

// repair closes an unterminated string, strips dangling commas, keys and partial
// literals, then closes every open container in order
func repair(s string) string {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	if st := scan(s); st.inString {
		if st.escaped {
			s = s[:len(s)-1]
		}
		s += `"`
	}

	for {
		before := s
		s = strings.TrimRightFunc(s, unicode.IsSpace)
		s = strings.TrimSuffix(s, ",")
		s = trimPartialLiteral(s)
		switch {
		case strings.HasSuffix(s, ":"):
			s = trimTrailingString(strings.TrimRightFunc(s[:len(s)-1], unicode.IsSpace))
		case danglingKey(s):
			s = trimTrailingString(s)
		}
		if s == before {
			break
		}
	}

	st := scan(s)
	var b strings.Builder
	b.Grow(len(s) + len(st.stack))
	b.WriteString(s)
	for i := len(st.stack) - 1; i >= 0; i-- {
		if st.stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// trimPartialLiteral removes a cut-off true/false/null or a number ending mid-exponent
func trimPartialLiteral(s string) string {
	end := len(s)
	start := end
	for start > 0 && s[start-1] >= 'a' && s[start-1] <= 'z' {
		start--
	}
	if start < end {
		word := s[start:end]
		switch word {
		case "true", "false", "null":
			return s
		}
		for _, lit := range []string{"true", "false", "null"} {
			if strings.HasPrefix(lit, word) {
				return s[:start]
			}
		}
		if word != "e" || start == 0 || !isDigit(s[start-1]) {
			return s
		}
	}
	for len(s) > 0 {
		last := s[len(s)-1]
		if last == '-' || last == '+' || last == '.' || ((last == 'e' || last == 'E') && len(s) > 1 && isDigit(s[len(s)-2])) {
			s = s[:len(s)-1]
			continue
		}
		break
	}
	return s
}

// danglingKey reports whether s ends with an object key that has no value
func danglingKey(s string) bool {
	start := trailingStringStart(s)
	if start < 0 {
		return false
	}
	prefix := strings.TrimRightFunc(s[:start], unicode.IsSpace)
	if prefix == "" {
		return false
	}
	if last := prefix[len(prefix)-1]; last != '{' && last != ',' {
		return false
	}
	st := scan(prefix)
	return len(st.stack) > 0 && st.stack[len(st.stack)-1] == '{'
}

func trimTrailingString(s string) string {
	if start := trailingStringStart(s); start >= 0 {
		return s[:start]
	}
	return s
}

// trailingStringStart returns the index of the opening quote of the string literal
// that ends s, or -1 when s does not end with one
func trailingStringStart(s string) int {
	if len(s) < 2 || s[len(s)-1] != '"' {
		return -1
	}
	for i := len(s) - 2; i >= 0; i-- {
		if s[i] != '"' {
			continue
		}
		bs := 0
		for j := i - 1; j >= 0 && s[j] == '\\'; j-- {
			bs++
		}
		if bs%2 == 0 {
			return i
		}
	}
	return -1
}

// balancedSubstrings returns the outermost brace-balanced substrings of s
func balancedSubstrings(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if j := matchClose(s, i); j > 0 {
			out = append(out, s[i:j+1])
			i = j
		}
	}
	return out
}

// matchClose returns the index closing the container opened at s[i], or -1
func matchClose(s string, i int) int {
	var stack []byte
	inString, escaped := false, false
	for k := i; k < len(s); k++ {
		ch := s[k]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 {
				return -1
			}
			open := stack[len(stack)-1]
			if (open == '{') != (ch == '}') {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return k
			}
		}
	}
	return -1
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
