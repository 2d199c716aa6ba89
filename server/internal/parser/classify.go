package parser

import "regexp"

// Severity is the outcome of classifying a tool-reported error line.
type Severity int

const (
	// SeverityTransient marks errors worth a retry (network hiccups,
	// throttling, upstream 5xx). Surfaced as Warning events.
	SeverityTransient Severity = iota
	// SeverityFatal marks errors a retry cannot fix (unsupported URL,
	// no matching format). Surfaced as Failed events.
	SeverityFatal
)

// Rule maps a message pattern to a severity.
type Rule struct {
	Pattern  *regexp.Regexp
	Severity Severity
}

// Classifier decides the severity of "ERROR:" lines. The table is
// extensible because the exact message text is specific to the
// downloader release in use.
type Classifier struct {
	rules    []Rule
	fallback Severity
}

// DefaultRules covers the message families yt-dlp and youtube-dl have
// emitted for years. First match wins.
func DefaultRules() []Rule {
	return []Rule{
		{regexp.MustCompile(`(?i)unable to download webpage`), SeverityTransient},
		{regexp.MustCompile(`(?i)unable to download video data`), SeverityTransient},
		{regexp.MustCompile(`(?i)HTTP Error 5\d\d`), SeverityTransient},
		{regexp.MustCompile(`(?i)HTTP Error 429`), SeverityTransient},
		{regexp.MustCompile(`(?i)timed? ?out`), SeverityTransient},
		{regexp.MustCompile(`(?i)temporary failure`), SeverityTransient},
		{regexp.MustCompile(`(?i)connection reset`), SeverityTransient},
		{regexp.MustCompile(`(?i)unsupported url`), SeverityFatal},
		{regexp.MustCompile(`(?i)is not a valid url`), SeverityFatal},
		{regexp.MustCompile(`(?i)unable to extract`), SeverityFatal},
		{regexp.MustCompile(`(?i)requested format is not available`), SeverityFatal},
		{regexp.MustCompile(`(?i)unknown format`), SeverityFatal},
		{regexp.MustCompile(`(?i)video unavailable`), SeverityFatal},
		{regexp.MustCompile(`(?i)sign in to confirm`), SeverityFatal},
	}
}

// NewClassifier builds a classifier from rules; unmatched messages
// get the fallback severity.
func NewClassifier(rules []Rule, fallback Severity) *Classifier {
	return &Classifier{rules: rules, fallback: fallback}
}

// DefaultClassifier treats unknown error text as fatal. Retrying by
// default is not assumed without evidence from the tool.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultRules(), SeverityFatal)
}

func (c *Classifier) Classify(message string) Severity {
	for _, r := range c.rules {
		if r.Pattern.MatchString(message) {
			return r.Severity
		}
	}
	return c.fallback
}
