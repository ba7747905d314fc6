// Package markdown turns model output into plain text suitable for display
// in the transcript and for speech.
package markdown

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// emptyHeadingPattern matches heading markers left on a line of their own.
// goldmark gives an empty heading no source position, so those are
// cleaned up after splicing.
var emptyHeadingPattern = regexp.MustCompile(`(?m)^[ \t]*#{1,6}[ \t]*$`)

// Strip removes markdown formatting while keeping the readable text:
// emphasis markers are dropped, fenced code blocks are removed entirely,
// inline code is unwrapped, heading markers are removed and links are
// replaced by their label. List bullets and anything goldmark does not
// recognize as formatting are kept byte for byte.
//
// Strip is idempotent: Strip(Strip(s)) == Strip(s).
func Strip(s string) string {
	// Every pass returns either its input or a strictly shorter
	// subsequence of it, so this terminates.
	for {
		next := pass(s)
		if next == s {
			return s
		}
		s = next
	}
}

func pass(s string) string {
	src := []byte(s)
	doc := md.Parser().Parse(text.NewReader(src))

	sp := &splicer{src: src}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.FencedCodeBlock:
			sp.fence(n)
		case *ast.Heading:
			sp.heading(n)
		case *ast.Paragraph, *ast.TextBlock:
			if n.Lines().Len() > 0 {
				sp.copyTo(n.Lines().At(0).Start)
				sp.inline(n)
			}
		case *ast.CodeBlock, *ast.HTMLBlock:
			if l := n.Lines(); l.Len() > 0 {
				sp.copyTo(l.At(l.Len() - 1).Stop)
			}
		default:
			return ast.WalkContinue, nil
		}
		return ast.WalkSkipChildren, nil
	})
	sp.copyTo(len(src))

	out := emptyHeadingPattern.ReplaceAllString(sp.out.String(), "")
	return strings.TrimSpace(out)
}

// splicer copies source ranges in order. Bytes it skips are dropped.
type splicer struct {
	src    []byte
	out    strings.Builder
	cursor int
}

func (s *splicer) copyTo(pos int) {
	if pos > len(s.src) {
		pos = len(s.src)
	}
	if pos > s.cursor {
		s.out.Write(s.src[s.cursor:pos])
		s.cursor = pos
	}
}

func (s *splicer) skipTo(pos int) {
	if pos > s.cursor {
		s.cursor = pos
	}
}

func (s *splicer) keep(seg text.Segment) {
	s.skipTo(seg.Start)
	s.copyTo(seg.Stop)
}

// inline emits the text of a leaf block's inline content. Delimiters of
// emphasis, code spans, links and images fall in the gaps between text
// segments and are dropped. Line breaks and the container prefix of each
// continuation line are kept.
func (s *splicer) inline(block ast.Node) {
	lines := block.Lines()
	next := 1

	breakBefore := func(pos int) {
		for ; next < lines.Len() && lines.At(next).Start <= pos; next++ {
			start := lines.At(next).Start
			if nl := bytes.LastIndexByte(s.src[:start], '\n'); nl >= s.cursor {
				s.skipTo(nl)
				s.copyTo(start)
			}
		}
	}

	_ = ast.Walk(block, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n == block {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Text:
			breakBefore(n.Segment.Start)
			s.keep(n.Segment)
		case *ast.RawHTML:
			for i := 0; i < n.Segments.Len(); i++ {
				seg := n.Segments.At(i)
				breakBefore(seg.Start)
				s.keep(seg)
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			label := n.Label(s.src)
			if i := bytes.Index(s.src[s.cursor:], label); i >= 0 {
				start := s.cursor + i
				breakBefore(start)
				s.keep(text.NewSegment(start, start+len(label)))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	end := lines.At(lines.Len() - 1).Stop
	breakBefore(end)
	s.skipTo(end)
}

// heading drops the ATX markers (opening and closing) or the setext
// underline around the heading text.
func (s *splicer) heading(h *ast.Heading) {
	lines := h.Lines()
	if lines.Len() == 0 {
		return
	}
	start := lines.At(0).Start

	i := start
	for i > s.cursor && isBlank(s.src[i-1]) {
		i--
	}
	j := i
	for j > s.cursor && s.src[j-1] == '#' {
		j--
	}
	atx := j < i && i < start

	if atx {
		s.copyTo(j)
		s.skipTo(start)
	} else {
		s.copyTo(start)
	}
	s.inline(h)

	eol := lineEnd(s.src, s.cursor)
	if atx {
		if strings.Trim(string(s.src[s.cursor:eol]), " \t\r#") == "" {
			s.skipTo(eol)
		}
		return
	}
	if eol < len(s.src) {
		under := strings.Trim(string(s.src[eol+1:lineEnd(s.src, eol+1)]), " \t\r>")
		if under != "" && (strings.Trim(under, "=") == "" || strings.Trim(under, "-") == "") {
			s.skipTo(lineEnd(s.src, eol+1))
		}
	}
}

// fence removes a fenced code block from its opening fence through its
// closing fence, if any.
func (s *splicer) fence(n *ast.FencedCodeBlock) {
	open := indexFence(s.src, s.cursor)
	if open < 0 {
		return
	}
	char := s.src[open]
	width := 0
	for open+width < len(s.src) && s.src[open+width] == char {
		width++
	}

	end := lineEnd(s.src, open)
	if lines := n.Lines(); lines.Len() > 0 {
		end = lines.At(lines.Len() - 1).Stop
		if end > 0 && s.src[end-1] == '\n' {
			end--
		}
	}
	if end < len(s.src) {
		stop := lineEnd(s.src, end+1)
		if isClosingFence(s.src[end+1:stop], char, width) {
			end = stop
		}
	}

	s.copyTo(open)
	s.skipTo(end)
}

func indexFence(src []byte, from int) int {
	if from >= len(src) {
		return -1
	}
	rest := src[from:]
	i := bytes.Index(rest, []byte("```"))
	if k := bytes.Index(rest, []byte("~~~")); k >= 0 && (i < 0 || k < i) {
		i = k
	}
	if i < 0 {
		return -1
	}
	return from + i
}

func isClosingFence(line []byte, char byte, width int) bool {
	l := bytes.TrimLeft(line, " \t>")
	n := 0
	for n < len(l) && l[n] == char {
		n++
	}
	return n >= width && len(bytes.TrimSpace(l[n:])) == 0
}

func lineEnd(src []byte, from int) int {
	if from >= len(src) {
		return len(src)
	}
	if i := bytes.IndexByte(src[from:], '\n'); i >= 0 {
		return from + i
	}
	return len(src)
}

func isBlank(b byte) bool {
	return b == ' ' || b == '\t'
}
