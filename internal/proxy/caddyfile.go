package proxy

import (
	"fmt"
	"strings"
)

// Subdomain returns the public host of an app
func Subdomain(name, domain string) string {
	return name + "." + domain
}

// RenderAppBlock returns the routing block for host, without a trailing newline
func RenderAppBlock(host string, port int) string {
	return fmt.Sprintf("%s {\n\ttls {\n\t\ton_demand\n\t}\n\treverse_proxy localhost:%d\n}", host, port)
}

// UpsertAppBlock routes host to port. An existing block for host is replaced
// where it stands; otherwise the block is appended after the existing content,
// separated by a blank line. A document without a trailing newline keeps
// lacking one so that RemoveAppBlock restores it exactly.
func UpsertAppBlock(doc, host string, port int) (string, error) {
	return ReplaceAppBlock(doc, host, RenderAppBlock(host, port))
}

// ReplaceAppBlock is UpsertAppBlock with caller supplied block text
func ReplaceAppBlock(doc, host, block string) (string, error) {
	spans, err := findAppBlocks(doc, host)
	if err != nil {
		return "", err
	}

	if len(spans) == 0 {
		switch {
		case doc == "":
			return block + "\n", nil
		case strings.HasSuffix(doc, "\n"):
			return doc + "\n" + block + "\n", nil
		default:
			return doc + "\n\n" + block, nil
		}
	}

	// duplicates after the first are dropped, last first so offsets hold
	for i := len(spans) - 1; i > 0; i-- {
		doc = cutBlock(doc, spans[i])
	}
	first := spans[0]
	return doc[:first.start] + block + doc[first.end:], nil
}

// AppBlock returns the text of the first block for host, or "" when the
// document has none
func AppBlock(doc, host string) (string, error) {
	spans, err := findAppBlocks(doc, host)
	if err != nil || len(spans) == 0 {
		return "", err
	}
	return doc[spans[0].start:spans[0].end], nil
}

// RemoveAppBlock deletes the block for host together with one leading blank
// line. A document without such a block is returned unchanged.
func RemoveAppBlock(doc, host string) (string, error) {
	spans, err := findAppBlocks(doc, host)
	if err != nil {
		return "", err
	}
	for i := len(spans) - 1; i >= 0; i-- {
		doc = cutBlock(doc, spans[i])
	}
	return doc, nil
}

// span covers a block from the start of its header line to its closing brace
type span struct {
	start int
	end   int
}

func cutBlock(doc string, s span) string {
	start, end := s.start, s.end
	if end < len(doc) && doc[end] == '\n' {
		end++
	} else if end == len(doc) && start >= 2 && doc[start-1] == '\n' && doc[start-2] == '\n' {
		// last block of a document without a trailing newline
		return doc[:start-2]
	}

	switch {
	case start >= 1 && doc[start-1] == '\n' && (start == 1 || doc[start-2] == '\n'):
		start--
	case start == 0 && end < len(doc) && doc[end] == '\n':
		end++
	}
	return doc[:start] + doc[end:]
}

// findAppBlocks locates every top-level block whose only address is host.
// Other top-level blocks may nest freely; a matching block may hold at most
// one level of sub-blocks.
func findAppBlocks(doc, host string) ([]span, error) {
	var (
		spans  []span
		header []token
		depth  int
		inApp  bool
		cur    span
	)

	for _, tok := range lex(doc) {
		switch tok.text {
		case "{":
			if depth == 0 {
				inApp = len(header) == 1 && header[0].text == host && header[0].line == tok.line
				if inApp {
					cur = span{start: lineStart(doc, header[0].start)}
				}
				header = header[:0]
			}
			depth++
			if inApp && depth > 2 {
				return nil, fmt.Errorf("%w: %s (line %d)", ErrUnexpectedNesting, host, tok.line)
			}
		case "}":
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: stray '}' on line %d", ErrUnbalancedBraces, tok.line)
			}
			if depth == 0 && inApp {
				cur.end = tok.end
				spans = append(spans, cur)
				inApp = false
			}
		default:
			if depth > 0 {
				continue
			}
			if len(header) > 0 && header[len(header)-1].line != tok.line {
				header = header[:0]
			}
			header = append(header, tok)
		}
	}

	if depth != 0 {
		return nil, fmt.Errorf("%w: %d unclosed block(s)", ErrUnbalancedBraces, depth)
	}
	return spans, nil
}

// lineStart moves pos back to the start of its line when only indentation
// precedes it
func lineStart(doc string, pos int) int {
	begin := strings.LastIndexByte(doc[:pos], '\n') + 1
	if strings.TrimSpace(doc[begin:pos]) == "" {
		return begin
	}
	return pos
}

type token struct {
	text  string
	start int
	end   int
	line  int
}

// lex splits a Caddyfile into whitespace separated tokens. Comments are
// dropped and quoted strings stay single tokens, quotes included, so a
// quoted brace is never mistaken for a block delimiter.
func lex(doc string) []token {
	var toks []token
	line := 1

	for i := 0; i < len(doc); {
		c := doc[i]
		switch {
		case c == '\n':
			line++
			i++
		case isSpace(c):
			i++
		case c == '#':
			for i < len(doc) && doc[i] != '\n' {
				i++
			}
		default:
			start, startLine := i, line
			if c == '"' || c == '`' {
				i++
				for i < len(doc) && doc[i] != c {
					if c == '"' && doc[i] == '\\' && i+1 < len(doc) {
						i++
					}
					if doc[i] == '\n' {
						line++
					}
					i++
				}
				if i < len(doc) {
					i++
				}
			} else {
				for i < len(doc) && !isSpace(doc[i]) && doc[i] != '\n' {
					i++
				}
			}
			toks = append(toks, token{text: doc[start:i], start: start, end: i, line: startLine})
		}
	}
	return toks
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r'
}
