package client

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/p-arndt/chainsandbox/process"
)

// Scrubber rewrites volatile parts of captured output, such as hashes or
// timestamps, so captures can be compared across runs.
type Scrubber struct {
	re   *regexp.Regexp
	repl string
}

// Scrub replaces every match of pattern with repl. It panics if pattern
// does not compile.
func Scrub(pattern, repl string) Scrubber {
	return Scrubber{re: regexp.MustCompile(pattern), repl: repl}
}

// Capture writes client invocations and their output to w in a stable
// text format for regression comparison.
type Capture struct {
	mu        sync.Mutex
	w         io.Writer
	scrubbers []Scrubber
}

func NewCapture(w io.Writer, scrubbers ...Scrubber) *Capture {
	return &Capture{w: w, scrubbers: scrubbers}
}

func (c *Capture) scrub(s string) string {
	s = process.CleanOutput(s)
	for _, sc := range c.scrubbers {
		s = sc.re.ReplaceAllString(s, sc.repl)
	}
	return s
}

// Record writes the client parameters, without connection arguments, then
// stdout, then stderr when the command failed.
func (c *Capture) Record(params []string, res *process.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", c.scrub(strings.Join(params, " ")))
	b.WriteString(c.scrub(res.Stdout))
	if !res.Succeeded() {
		fmt.Fprintf(&b, "# exit code %d\n", res.ExitCode)
		b.WriteString(c.scrub(res.Stderr))
	}
	if !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	io.WriteString(c.w, b.String())
}
