package poller

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultBodyLimit is how many characters of an issue body a prompt keeps.
const DefaultBodyLimit = 4000

const truncationMarker = "\n\n[... truncated]"

var (
	stripPolicy = bluemonday.StrictPolicy()
	blankRuns   = regexp.MustCompile(`\n{3,}`)
)

// Prompt builds the text injected for a single issue. A known task type is
// prefixed with its slash command; unknown types get a generic template.
func (r Router) Prompt(c Candidate, typ, command string) string {
	is := c.Issue
	key := is.Key()

	var b strings.Builder
	if command != "" {
		fmt.Fprintf(&b, "%s %s\n\n", command, key)
	} else {
		fmt.Fprintf(&b, "Please work on the following %s task from the issue queue.\n\n", typeOrDefault(typ))
	}

	fmt.Fprintf(&b, "Issue: %s\n", key)
	fmt.Fprintf(&b, "Repository: %s\n", is.Repo)
	fmt.Fprintf(&b, "Title: %s\n", is.Title)
	if len(is.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(is.Labels, ", "))
	}
	if is.URL != "" {
		fmt.Fprintf(&b, "URL: %s\n", is.URL)
	}

	if body := CleanBody(is.Body, r.bodyLimit()); body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nWhen you are done, reference #%d in your commit and open a pull request against %s.", is.Number, is.Repo)
	return b.String()
}

func (r Router) bodyLimit() int {
	if r.BodyLimit > 0 {
		return r.BodyLimit
	}
	return DefaultBodyLimit
}

func typeOrDefault(typ string) string {
	if typ == "" {
		return "queued"
	}
	return fmt.Sprintf("%q", typ)
}

// CleanBody strips HTML from body and truncates it to limit characters,
// appending a marker when anything was cut.
func CleanBody(body string, limit int) string {
	text := html.UnescapeString(stripPolicy.Sanitize(body))
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:limit]), " \n") + truncationMarker
}
