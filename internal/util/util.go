// Package util holds small ambient helpers shared across packages:
// versioning, pretty-printing, and the markdown/mention/hashtag text
// transforms used when building outbound Note content. Grounded on
// gnp-x-stegodon/util/util.go.
package util

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("stegodon-federate / %s", GetVersion())
}

func PrettyPrint(v interface{}) string {
	s, _ := json.MarshalIndent(v, "", " ")
	return string(s)
}

var markdownLinkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// MarkdownLinksToHTML converts Markdown links [text](url) to HTML <a> tags.
func MarkdownLinksToHTML(text string) string {
	return markdownLinkRe.ReplaceAllStringFunc(text, func(match string) string {
		m := markdownLinkRe.FindStringSubmatch(match)
		if len(m) != 3 {
			return match
		}
		return fmt.Sprintf(`<a href="%s" rel="noopener noreferrer" target="_blank">%s</a>`,
			html.EscapeString(m[2]), html.EscapeString(m[1]))
	})
}

var hashtagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z0-9_]+)`)

// ParseHashtags extracts the distinct #hashtag names (without '#') from text.
func ParseHashtags(text string) []string {
	matches := hashtagRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if !seen[tag] {
			seen[tag] = true
			out = append(out, m[1])
		}
	}
	return out
}

// HashtagsToActivityPubHTML replaces #hashtag occurrences in text with AP
// hashtag anchor markup pointing at tagURL(name).
func HashtagsToActivityPubHTML(text string, tagURL func(name string) string) string {
	return hashtagRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := hashtagRe.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		prefix := ""
		if strings.HasPrefix(match, " ") {
			prefix = " "
		}
		return fmt.Sprintf(`%s<a href="%s" class="hashtag" rel="tag">#%s</a>`, prefix, tagURL(sub[1]), sub[1])
	})
}

var mentionRe = regexp.MustCompile(`(?:^|\s)@([A-Za-z0-9_]+)(?:@([A-Za-z0-9.\-]+))?`)

// Mention is a parsed @user or @user@domain reference.
type Mention struct {
	Username string
	Domain   string // empty for bare "@user" (resolved against the local domain)
}

// ParseMentions extracts the distinct mentions from text.
func ParseMentions(text string) []Mention {
	matches := mentionRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]Mention, 0, len(matches))
	for _, m := range matches {
		key := m[1] + "@" + m[2]
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Mention{Username: m[1], Domain: m[2]})
	}
	return out
}

// MentionsToActivityPubHTML replaces @user / @user@domain occurrences in
// text with AP mention anchor markup, resolving each via resolveURL.
func MentionsToActivityPubHTML(text string, resolveURL func(m Mention) (url string, ok bool)) string {
	return mentionRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := mentionRe.FindStringSubmatch(match)
		if len(sub) != 3 {
			return match
		}
		prefix := ""
		if strings.HasPrefix(match, " ") {
			prefix = " "
		}
		url, ok := resolveURL(Mention{Username: sub[1], Domain: sub[2]})
		if !ok {
			return match
		}
		handle := "@" + sub[1]
		if sub[2] != "" {
			handle += "@" + sub[2]
		}
		return fmt.Sprintf(`%s<a href="%s" class="u-url mention">%s</a>`, prefix, url, handle)
	})
}

// IsURL reports whether text is a bare http(s) URL.
func IsURL(text string) bool {
	text = strings.TrimSpace(text)
	return regexp.MustCompile(`^https?://\S+$`).MatchString(text)
}

// ResolveFilePathWithSubdir joins subdir and filename with a "/". It does
// not prepend a configuration directory and does not create subdir.
func ResolveFilePathWithSubdir(subdir, filename string) string {
	return subdir + "/" + filename
}
