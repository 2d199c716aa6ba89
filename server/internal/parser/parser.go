// Package parser turns the line stream of a downloader subprocess
// into typed events. One Parser serves exactly one invocation: the
// sequence it produces is ordered, finite and not restartable.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/queued-dl/queued/server/internal"
)

// diagnosticTail is how many raw lines a Failed event carries.
const diagnosticTail = 20

var (
	rePercent     = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reSpeed       = regexp.MustCompile(`\bat\s+(~?[0-9.]+[KMGT]?i?B/s)`)
	reETA         = regexp.MustCompile(`\bETA\s+([0-9:]+|Unknown)`)
	reDestination = regexp.MustCompile(`^\[download\] Destination:\s+(.+)$`)
	reMerging     = regexp.MustCompile(`^\[(?:ffmpeg|Merger)\] Merging formats into "(.+)"$`)
	reConverting  = regexp.MustCompile(`^\[(?:ffmpeg|ExtractAudio)\] Destination:\s+(.+)$`)
	reAlready     = regexp.MustCompile(`^\[download\]\s+(.+) has already been downloaded`)
)

// Parser consumes one subprocess's output lines and yields events.
type Parser struct {
	jobID      string
	classifier *Classifier

	lastPercent float64
	filename    string
	completion  bool
	fatal       bool
	retryable   bool
	finished    bool
	raw         []string
}

// New returns a fresh parser for one invocation. A nil classifier
// falls back to the default table.
func New(jobID string, classifier *Classifier) *Parser {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Parser{jobID: jobID, classifier: classifier}
}

// Filename returns the destination observed so far, if any.
func (p *Parser) Filename() string { return p.filename }

// SawCompletion reports whether a destination or an already-downloaded
// notice has been observed.
func (p *Parser) SawCompletion() bool { return p.completion || p.filename != "" }

// Retryable reports whether the only errors seen were transient.
func (p *Parser) Retryable() bool { return p.retryable && !p.fatal }

// ParseLine consumes one output line. It returns the typed event for
// the line and true, or false when the line carries no typed meaning
// (such lines are still retained for the diagnostic tail).
func (p *Parser) ParseLine(line string) (internal.Event, bool) {
	line = strings.TrimRight(strings.TrimPrefix(line, "\r"), "\r\n")
	if line == "" {
		return internal.Event{}, false
	}

	p.keep(line)

	// The tool's own debug chatter must never classify as a failure.
	if strings.HasPrefix(line, "[debug]") {
		return internal.Event{}, false
	}

	if strings.HasPrefix(line, "ERROR:") {
		return p.parseError(strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))), true
	}

	if m := reDestination.FindStringSubmatch(line); m != nil {
		p.filename = strings.TrimSpace(m[1])
		return p.event(internal.EventProgress, internal.EventPayload{
			Percent:  p.lastPercent,
			Filename: p.filename,
		}), true
	}

	if m := reAlready.FindStringSubmatch(line); m != nil {
		p.filename = strings.Trim(strings.TrimSpace(m[1]), `"`)
		p.completion = true
		p.lastPercent = 100
		return p.event(internal.EventProgress, internal.EventPayload{
			Percent:  100,
			Filename: p.filename,
		}), true
	}

	if m := reMerging.FindStringSubmatch(line); m != nil {
		p.filename = strings.TrimSpace(m[1])
		return p.event(internal.EventPostProcessing, internal.EventPayload{
			Filename: p.filename,
			Message:  "merging formats",
		}), true
	}

	if m := reConverting.FindStringSubmatch(line); m != nil {
		p.filename = strings.TrimSpace(m[1])
		return p.event(internal.EventPostProcessing, internal.EventPayload{
			Filename: p.filename,
			Message:  "post-processing",
		}), true
	}

	if strings.HasPrefix(line, "[ffmpeg]") || strings.HasPrefix(line, "[Merger]") ||
		strings.HasPrefix(line, "[ExtractAudio]") || strings.HasPrefix(line, "[EmbedSubtitle]") {
		return p.event(internal.EventPostProcessing, internal.EventPayload{
			Message: strings.TrimSpace(line),
		}), true
	}

	if strings.HasPrefix(line, "[download]") && strings.Contains(line, "%") {
		return p.parseProgress(line), true
	}

	// Unrecognized output is kept in the raw log only, so newer tool
	// releases cannot break the event stream.
	return internal.Event{}, false
}

// Finish closes the stream and yields the terminal event plus the
// final job state. The second event return is false when a fatal
// Failed event was already emitted mid-stream.
func (p *Parser) Finish(exitCode int, canceled bool) (internal.JobState, internal.Event, bool) {
	if p.finished {
		return internal.StateError, internal.Event{}, false
	}
	p.finished = true

	if canceled {
		return internal.StateCanceled, p.event(internal.EventCanceled, internal.EventPayload{
			Message: "download canceled",
		}), true
	}

	if exitCode == 0 && !p.fatal {
		payload := internal.EventPayload{Percent: 100, Filename: p.filename}
		if !p.SawCompletion() {
			payload.Message = "process exited cleanly without reporting a destination"
		}
		return internal.StateCompleted, p.event(internal.EventCompleted, payload), true
	}

	if p.fatal {
		// The Failed event already went out when the ERROR line was read.
		return internal.StateError, internal.Event{}, false
	}

	return internal.StateError, p.event(internal.EventFailed, internal.EventPayload{
		Message: "process exited with code " + strconv.Itoa(exitCode),
		LogTail: p.tail(),
	}), true
}

func (p *Parser) parseProgress(line string) internal.Event {
	payload := internal.EventPayload{Percent: p.lastPercent, Filename: p.filename}

	// Malformed numeric tokens leave the previous value in place
	// instead of raising.
	if m := rePercent.FindStringSubmatch(line); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			payload.Percent = clamp(pct)
		}
	}
	if m := reSpeed.FindStringSubmatch(line); m != nil {
		payload.Speed = m[1]
	}
	if m := reETA.FindStringSubmatch(line); m != nil && m[1] != "Unknown" {
		payload.ETA = m[1]
	}

	p.lastPercent = payload.Percent
	return p.event(internal.EventProgress, payload)
}

func (p *Parser) parseError(message string) internal.Event {
	switch p.classifier.Classify(message) {
	case SeverityTransient:
		p.retryable = true
		return p.event(internal.EventWarning, internal.EventPayload{Message: message})
	default:
		p.fatal = true
		return p.event(internal.EventFailed, internal.EventPayload{
			Message: message,
			LogTail: p.tail(),
		})
	}
}

func (p *Parser) event(kind internal.EventKind, payload internal.EventPayload) internal.Event {
	return internal.NewEvent(p.jobID, kind, payload)
}

func (p *Parser) keep(line string) {
	p.raw = append(p.raw, line)
	if len(p.raw) > diagnosticTail {
		p.raw = p.raw[len(p.raw)-diagnosticTail:]
	}
}

func (p *Parser) tail() []string {
	tail := make([]string, len(p.raw))
	copy(tail, p.raw)
	return tail
}

func clamp(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
