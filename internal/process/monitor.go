package process

import (
	"context"
	"errors"
	"io"
	"regexp"
)

// Verdict tells Monitor whether to keep consuming lines.
type Verdict int

const (
	// Continue asks for the next line.
	Continue Verdict = iota
	// Stop ends monitoring normally.
	Stop
)

func (v Verdict) String() string {
	if v == Stop {
		return "stop"
	}
	return "continue"
}

// LineHandler processes one output line. Returning an error ends monitoring
// abnormally and the error is returned from Monitor.
type LineHandler func(line string) (Verdict, error)

// Monitor feeds lines from src to handle until the stream ends, the handler
// returns Stop, or ctx is cancelled.
//
// It returns nil on end of stream or Stop, ctx.Err() when cancelled while
// waiting for a line, and any decode or handler error unchanged. An empty
// line from the source is treated as end of stream.
func Monitor(ctx context.Context, src LineSource, handle LineHandler) error {
	for {
		line, err := src.NextLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if line == "" {
			return nil
		}

		verdict, err := handle(line)
		if err != nil {
			return err
		}
		if verdict == Stop {
			return nil
		}
	}
}

// WatchPattern returns a handler that passes every line to log and stops
// at the first line in which re finds a match anywhere.
func WatchPattern(re *regexp.Regexp, log func(line string)) LineHandler {
	return func(line string) (Verdict, error) {
		log(line)
		if re.MatchString(line) {
			return Stop, nil
		}
		return Continue, nil
	}
}

// LogLines returns a handler that passes every line to log and never stops.
func LogLines(log func(line string)) LineHandler {
	return func(line string) (Verdict, error) {
		log(line)
		return Continue, nil
	}
}
