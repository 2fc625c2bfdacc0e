// Package check holds polling assertions for tests driving a sandbox.
// Chain state converges asynchronously, so each check retries with a
// constant backoff instead of sleeping for a fixed time.
package check

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/p-arndt/chainsandbox/client"
	"github.com/p-arndt/chainsandbox/process"
	"github.com/sethvargo/go-retry"
)

// ErrNotReached is returned when a condition still fails after the last
// attempt.
var ErrNotReached = errors.New("condition not reached")

// Policy bounds a polling check: the condition is evaluated once and
// then retried up to Retries times, Interval apart.
type Policy struct {
	Retries  uint64
	Interval time.Duration
}

var (
	DefaultPolicy = Policy{Retries: 10, Interval: time.Second}
	// SyncPolicy is used for cross-node synchronization, which is slower.
	SyncPolicy = Policy{Retries: 20, Interval: 5 * time.Second}
)

// Retry evaluates cond until it returns nil, ctx is done or the policy
// is exhausted, in which case the last error is returned.
func Retry(ctx context.Context, p Policy, cond func(ctx context.Context) error) error {
	backoff, err := retry.NewConstant(p.Interval)
	if err != nil {
		return fmt.Errorf("%w: %v", process.ErrInvalidArgument, err)
	}
	backoff = retry.WithMaxRetries(p.Retries, backoff)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := cond(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Level waits until every client reports a head at exactly level.
func Level(ctx context.Context, p Policy, clients []*client.Client, level int) error {
	return Retry(ctx, p, func(ctx context.Context) error {
		levels, err := headLevels(ctx, clients)
		if err != nil {
			return err
		}
		for i, l := range levels {
			if l != level {
				return fmt.Errorf("%w: client %d at level %d, want %d", ErrNotReached, i, l, level)
			}
		}
		return nil
	})
}

// LevelAtLeast waits until every client reports a head at level or above.
func LevelAtLeast(ctx context.Context, p Policy, clients []*client.Client, level int) error {
	return Retry(ctx, p, func(ctx context.Context) error {
		levels, err := headLevels(ctx, clients)
		if err != nil {
			return err
		}
		for i, l := range levels {
			if l < level {
				return fmt.Errorf("%w: client %d at level %d, want at least %d", ErrNotReached, i, l, level)
			}
		}
		return nil
	})
}

// Synchronized waits until the head levels of all clients are within
// maxDiff of each other.
func Synchronized(ctx context.Context, p Policy, clients []*client.Client, maxDiff int) error {
	return Retry(ctx, p, func(ctx context.Context) error {
		levels, err := headLevels(ctx, clients)
		if err != nil || len(levels) == 0 {
			return err
		}
		lo, hi := levels[0], levels[0]
		for _, l := range levels[1:] {
			lo, hi = min(lo, l), max(hi, l)
		}
		if hi-lo > maxDiff {
			return fmt.Errorf("%w: levels %v spread over more than %d", ErrNotReached, levels, maxDiff)
		}
		return nil
	})
}

// Protocol waits until every client's head runs proto.
func Protocol(ctx context.Context, p Policy, clients []*client.Client, proto string) error {
	return Retry(ctx, p, func(ctx context.Context) error {
		for i, c := range clients {
			got, err := c.GetProtocol(ctx)
			if err != nil {
				return err
			}
			if got != proto {
				return fmt.Errorf("%w: client %d runs %s, want %s", ErrNotReached, i, got, proto)
			}
		}
		return nil
	})
}

func headLevels(ctx context.Context, clients []*client.Client) ([]int, error) {
	levels := make([]int, 0, len(clients))
	for _, c := range clients {
		l, err := c.GetLevel(ctx)
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, nil
}

// LogMatch is one log line matching a pattern.
type LogMatch struct {
	File string
	Line int
	Text string
}

// LogsMatch scans files line by line and returns every line matching
// pattern, in file order. Missing files are an error.
func LogsMatch(files []string, pattern string) ([]LogMatch, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", process.ErrInvalidArgument, pattern, err)
	}
	var out []LogMatch
	for _, file := range files {
		matches, err := scanFile(file, re)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

func scanFile(path string, re *regexp.Regexp) ([]LogMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []LogMatch
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for n := 1; sc.Scan(); n++ {
		if re.MatchString(sc.Text()) {
			out = append(out, LogMatch{File: path, Line: n, Text: sc.Text()})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return out, nil
}
