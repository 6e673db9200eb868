// Package command turns chat text into typed commands.
package command

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"qqbridge/internal/domain"
	"qqbridge/internal/onebot"
)

// Matcher recognizes one command family. It returns ok=false when the text
// is not for it, leaving the text to later matchers.
type Matcher interface {
	Match(text string) (domain.Command, bool)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(text string) (domain.Command, bool)

func (f MatcherFunc) Match(text string) (domain.Command, bool) { return f(text) }

// Parser evaluates its matchers in order and returns the first match.
type Parser struct {
	matchers []Matcher
}

// NewParser returns a parser with the built-in command families.
func NewParser() *Parser {
	return &Parser{matchers: []Matcher{
		MatcherFunc(matchBind),
		keyword(unbindPattern, domain.KindUnbind),
		keyword(checkInPattern, domain.KindCheckIn),
		keyword(latestPostsPattern, domain.KindListRecentPosts),
		MatcherFunc(matchTransfer),
	}}
}

// Append adds a matcher after the existing ones.
func (p *Parser) Append(m Matcher) {
	p.matchers = append(p.matchers, m)
}

// Parse classifies text. It never fails: text nobody claims is KindUnrecognized.
func (p *Parser) Parse(text string) domain.Command {
	text = strings.TrimSpace(text)
	for _, m := range p.matchers {
		if cmd, ok := m.Match(text); ok {
			return cmd
		}
	}
	return domain.Command{Kind: domain.KindUnrecognized}
}

var (
	bindPattern        = regexp.MustCompile(`(?i)^\+\s*论坛绑定\s+(.+@.+)$`)
	unbindPattern      = regexp.MustCompile(`(?i)^\+\s*论坛解绑$`)
	checkInPattern     = regexp.MustCompile(`(?i)^\+\s*论坛签到$`)
	latestPostsPattern = regexp.MustCompile(`(?i)^\+\s*最新帖子$`)
	transferPattern    = regexp.MustCompile(`(?i)^\+\s*积分转账(\s|\[|$)`)
	trailingInt        = regexp.MustCompile(`(-?\d+)\s*$`)
)

func keyword(re *regexp.Regexp, kind domain.CommandKind) Matcher {
	return MatcherFunc(func(text string) (domain.Command, bool) {
		if !re.MatchString(text) {
			return domain.Command{}, false
		}
		return domain.Command{Kind: kind}, true
	})
}

func matchBind(text string) (domain.Command, bool) {
	m := bindPattern.FindStringSubmatch(text)
	if m == nil {
		return domain.Command{}, false
	}
	return domain.Command{Kind: domain.KindBind, Email: strings.TrimSpace(m[1])}, true
}

// matchTransfer claims every "+ 积分转账" message. A missing mention or
// amount yields FormatError so the sender gets a usage hint.
func matchTransfer(text string) (domain.Command, bool) {
	if !transferPattern.MatchString(text) {
		return domain.Command{}, false
	}
	cmd := domain.Command{Kind: domain.KindTransferPoints}

	target, ok := onebot.FirstMention(text)
	if !ok {
		cmd.FormatError = true
		return cmd, true
	}
	cmd.Target = target

	tail := text[strings.LastIndex(text, "]")+1:]
	m := trailingInt.FindStringSubmatch(tail)
	if m == nil {
		cmd.FormatError = true
		return cmd, true
	}
	cmd.Amount = parseAmount(m[1])
	return cmd, true
}

// parseAmount saturates instead of failing so that huge inputs are still
// rejected by the amount range check rather than treated as malformed.
func parseAmount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err == nil {
		return n
	}
	if strings.HasPrefix(s, "-") {
		return math.MinInt64
	}
	return math.MaxInt64
}
