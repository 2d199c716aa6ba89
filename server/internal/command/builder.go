// Package command turns a validated download request into the
// argument vector for the external downloader binary.
package command

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/queued-dl/queued/server/internal"
)

// ErrInvalidOptions is returned when a request can never produce a
// runnable command line. It is surfaced synchronously at submission
// and the request never reaches a subprocess.
var ErrInvalidOptions = errors.New("invalid download options")

const defaultOutputTemplate = "%(title)s.%(ext)s"

var unsafeArg = regexp.MustCompile(`(\$\{)|(\&\&)|(\|\|)|(;)`)

// Build produces the downloader argv for url with the given options.
// Pure and deterministic: equal inputs yield equal vectors, no side
// effects, safe to call repeatedly.
func Build(url string, opts internal.Options) ([]string, error) {
	if err := Validate(url, opts); err != nil {
		return nil, err
	}

	argv := []string{
		url,
		"--newline",
		"--no-colors",
		"--no-playlist",
		"--no-exec",
	}

	if opts.AudioOnly || opts.AudioFormat != "" {
		argv = append(argv, "-x")
		if opts.AudioFormat != "" {
			argv = append(argv, "--audio-format", opts.AudioFormat)
		}
		if opts.AudioQuality != "" {
			argv = append(argv, "--audio-quality", opts.AudioQuality)
		}
	} else if opts.Format != "" {
		argv = append(argv, "-f", opts.Format)
	}

	template := opts.OutputTemplate
	if template == "" {
		template = defaultOutputTemplate
	}
	if opts.OutputPath != "" {
		argv = append(argv, "-o", filepath.Join(opts.OutputPath, template))
	} else {
		argv = append(argv, "-o", template)
	}

	if opts.RateLimit != "" {
		argv = append(argv, "-r", opts.RateLimit)
	}
	if opts.Retries > 0 {
		argv = append(argv, "-R", strconv.Itoa(opts.Retries))
	}
	if opts.Proxy != "" {
		argv = append(argv, "--proxy", opts.Proxy)
	}

	if opts.WriteSubs {
		argv = append(argv, "--write-sub")
		if opts.SubsLang != "" {
			argv = append(argv, "--sub-lang", opts.SubsLang)
		}
	}
	if opts.EmbedSubs {
		argv = append(argv, "--embed-subs")
	}
	if opts.EmbedThumbnail {
		argv = append(argv, "--embed-thumbnail")
	}
	if opts.AddMetadata {
		argv = append(argv, "--add-metadata")
	}

	argv = append(argv, sanitizeArgs(opts.ExtraArgs)...)

	return argv, nil
}

// Validate rejects requests that can never run. All failures wrap
// ErrInvalidOptions.
func Validate(url string, opts internal.Options) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("%w: empty url", ErrInvalidOptions)
	}
	if opts.AudioOnly && opts.Format != "" {
		return fmt.Errorf("%w: audio-only cannot be combined with a video format selector", ErrInvalidOptions)
	}
	if opts.AudioQuality != "" {
		q, err := strconv.Atoi(opts.AudioQuality)
		if err != nil || q < 0 || q > 9 {
			return fmt.Errorf("%w: audio quality must be 0-9", ErrInvalidOptions)
		}
	}
	if opts.Retries < 0 {
		return fmt.Errorf("%w: negative retries", ErrInvalidOptions)
	}
	return nil
}

func sanitizeArgs(params []string) []string {
	params = slices.Clone(params)

	params = slices.DeleteFunc(params, func(e string) bool {
		return unsafeArg.MatchString(e)
	})

	return slices.DeleteFunc(params, func(e string) bool {
		return e == ""
	})
}
