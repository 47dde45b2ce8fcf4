// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2024 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package davlock

import (
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// Condition is one predicate inside an If list, matching a WebDAV resource
// based on a state token or an entity tag. Exactly one of Token and ETag is
// non-empty.
type Condition struct {
	Not   bool
	Token string
	ETag  string
}

// Holds evaluates the condition against the entity tag of the resource and
// the set of lock tokens covering it.
func (c Condition) Holds(entityTag string, hasToken func(string) bool) bool {
	var ok bool
	if c.Token != "" {
		ok = hasToken(c.Token)
	} else {
		ok = entityTag != "" && c.ETag == entityTag
	}
	if c.Not {
		return !ok
	}
	return ok
}

// IfList is one parenthesized conjunction of conditions, optionally tagged
// with the resource it applies to. An untagged list applies to the request
// URI.
type IfList struct {
	// ResourceTag is the raw Coded-URL target, verbatim as sent (without
	// the angle brackets). Empty for an untagged list.
	ResourceTag string
	// Path is the normalized path extracted from ResourceTag, or "" for an
	// untagged list.
	Path       string
	Conditions []Condition
}

// Tagged reports whether the list names its own resource.
func (l IfList) Tagged() bool { return l.ResourceTag != "" }

// Match reports whether every condition of the list holds. A list with no
// conditions never matches.
func (l IfList) Match(entityTag string, hasToken func(string) bool) bool {
	if len(l.Conditions) == 0 {
		return false
	}
	for _, c := range l.Conditions {
		if !c.Holds(entityTag, hasToken) {
			return false
		}
	}
	return true
}

// RequiresStateToken reports whether the list asserts possession of at
// least one lock token (a non-negated token condition).
func (l IfList) RequiresStateToken() bool {
	for _, c := range l.Conditions {
		if c.Token != "" && !c.Not {
			return true
		}
	}
	return false
}

// RequiresEntityTag reports whether evaluating the list needs the resource
// entity tag.
func (l IfList) RequiresEntityTag() bool {
	for _, c := range l.Conditions {
		if c.ETag != "" {
			return true
		}
	}
	return false
}

// StateTokens returns the tokens asserted by the list's non-negated token
// conditions, in order.
func (l IfList) StateTokens() []string {
	var tokens []string
	for _, c := range l.Conditions {
		if c.Token != "" && !c.Not {
			tokens = append(tokens, c.Token)
		}
	}
	return tokens
}

// IfHeader is the parsed form of a client If header: a disjunction of
// lists. The zero value stands for an absent header.
type IfHeader struct {
	Lists []IfList
}

// Empty reports whether the header carries no lists.
func (h IfHeader) Empty() bool { return len(h.Lists) == 0 }

// Match reports whether any list matches (OR across lists, AND within).
func (h IfHeader) Match(entityTag string, hasToken func(string) bool) bool {
	for _, l := range h.Lists {
		if l.Match(entityTag, hasToken) {
			return true
		}
	}
	return false
}

// String re-serializes the header in wire form.
func (h IfHeader) String() string {
	if h.Empty() {
		return ""
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	lastTag := ""
	for i, l := range h.Lists {
		if i > 0 {
			buf.WriteByte(' ')
		}
		if l.Tagged() && l.ResourceTag != lastTag {
			buf.WriteByte('<')
			buf.WriteString(l.ResourceTag)
			buf.WriteString("> ")
		}
		lastTag = l.ResourceTag
		buf.WriteByte('(')
		for j, c := range l.Conditions {
			if j > 0 {
				buf.WriteByte(' ')
			}
			if c.Not {
				buf.WriteString("Not ")
			}
			if c.Token != "" {
				buf.WriteByte('<')
				buf.WriteString(c.Token)
				buf.WriteByte('>')
			} else {
				buf.WriteByte('[')
				buf.WriteString(c.ETag)
				buf.WriteByte(']')
			}
		}
		buf.WriteByte(')')
	}
	return buf.String()
}

// ParseIfHeader parses an If header per RFC 4918 section 10.4. An empty or
// all-whitespace value parses to the empty header, which callers treat as
// no If at all. Malformed input yields ErrProtocol.
func ParseIfHeader(s string) (IfHeader, error) {
	p := &ifParser{input: s}
	p.skipSpace()
	if p.done() {
		return IfHeader{}, nil
	}
	var h IfHeader
	switch p.peek() {
	case '(':
		for {
			list, err := p.parseList()
			if err != nil {
				return IfHeader{}, err
			}
			h.Lists = append(h.Lists, list)
			p.skipSpace()
			if p.done() {
				return h, nil
			}
			if p.peek() != '(' {
				return IfHeader{}, p.errorf("expected list")
			}
		}
	case '<':
		for {
			tag, err := p.parseCodedURL()
			if err != nil {
				return IfHeader{}, err
			}
			path := defaultResolver.PathOf(tag)
			n := 0
			for {
				p.skipSpace()
				if p.done() || p.peek() != '(' {
					break
				}
				list, err := p.parseList()
				if err != nil {
					return IfHeader{}, err
				}
				list.ResourceTag = tag
				list.Path = path
				h.Lists = append(h.Lists, list)
				n++
			}
			if n == 0 {
				return IfHeader{}, p.errorf("resource tag without list")
			}
			if p.done() {
				return h, nil
			}
			if p.peek() != '<' {
				return IfHeader{}, p.errorf("expected resource tag")
			}
		}
	default:
		return IfHeader{}, p.errorf("expected list or resource tag")
	}
}

// ifParser is a cursor over the header text. The grammar needs one byte of
// lookahead only.
type ifParser struct {
	input string
	pos   int
}

func (p *ifParser) done() bool { return p.pos >= len(p.input) }

func (p *ifParser) peek() byte { return p.input[p.pos] }

func (p *ifParser) skipSpace() {
	for !p.done() {
		switch p.input[p.pos] {
		case ' ', '\t', '\r', '\n':
			p.pos++
		default:
			return
		}
	}
}

func (p *ifParser) errorf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: malformed If header at byte %d: %s", ErrProtocol, p.pos, msg)
}

// parseCodedURL consumes "<" absolute-URI ">" and returns the URI.
func (p *ifParser) parseCodedURL() (string, error) {
	p.skipSpace()
	if p.done() || p.peek() != '<' {
		return "", p.errorf("expected '<'")
	}
	end := strings.IndexByte(p.input[p.pos:], '>')
	if end < 0 {
		return "", p.errorf("unterminated coded URL")
	}
	uri := p.input[p.pos+1 : p.pos+end]
	p.pos += end + 1
	if uri == "" {
		return "", p.errorf("empty coded URL")
	}
	return uri, nil
}

// parseEntityTag consumes "[" entity-tag "]" and returns the tag verbatim,
// quotes and weakness marker included.
func (p *ifParser) parseEntityTag() (string, error) {
	end := strings.IndexByte(p.input[p.pos:], ']')
	if end < 0 {
		return "", p.errorf("unterminated entity tag")
	}
	tag := strings.TrimSpace(p.input[p.pos+1 : p.pos+end])
	p.pos += end + 1
	if tag == "" {
		return "", p.errorf("empty entity tag")
	}
	return tag, nil
}

func (p *ifParser) parseList() (IfList, error) {
	var list IfList
	p.pos++ // consume '('
	for {
		p.skipSpace()
		if p.done() {
			return IfList{}, p.errorf("unterminated list")
		}
		switch p.peek() {
		case ')':
			p.pos++
			if len(list.Conditions) == 0 {
				return IfList{}, p.errorf("empty list")
			}
			return list, nil
		case '<':
			uri, err := p.parseCodedURL()
			if err != nil {
				return IfList{}, err
			}
			list.Conditions = append(list.Conditions, Condition{Token: uri})
		case '[':
			tag, err := p.parseEntityTag()
			if err != nil {
				return IfList{}, err
			}
			list.Conditions = append(list.Conditions, Condition{ETag: tag})
		case 'N', 'n':
			if !p.consumeNot() {
				return IfList{}, p.errorf("expected Not")
			}
			p.skipSpace()
			if p.done() {
				return IfList{}, p.errorf("dangling Not")
			}
			switch p.peek() {
			case '<':
				uri, err := p.parseCodedURL()
				if err != nil {
					return IfList{}, err
				}
				list.Conditions = append(list.Conditions, Condition{Not: true, Token: uri})
			case '[':
				tag, err := p.parseEntityTag()
				if err != nil {
					return IfList{}, err
				}
				list.Conditions = append(list.Conditions, Condition{Not: true, ETag: tag})
			default:
				return IfList{}, p.errorf("Not without condition")
			}
		default:
			return IfList{}, p.errorf("unexpected byte %q", p.peek())
		}
	}
}

// consumeNot consumes the literal "Not" (case-insensitive per the lenient
// reading most servers apply).
func (p *ifParser) consumeNot() bool {
	if len(p.input)-p.pos < 3 {
		return false
	}
	if !strings.EqualFold(p.input[p.pos:p.pos+3], "Not") {
		return false
	}
	p.pos += 3
	return true
}
