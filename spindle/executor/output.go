package executor

import (
	"bytes"
	"io"
	"slices"
	"strings"
	"sync"

	"tangled.sh/tangled.sh/runner/spindle/models"
)

const (
	DefaultOutputLimit = 64 * 1024

	mask            = "***"
	setOutputPrefix = "::set-output "

	// longer lines are split
	maxLineLength = 1 << 20
)

// capture collects the output of one attempt of a step. Output is handled
// a line at a time: secrets are masked, ::set-output lines on stdout are
// recorded, and the masked line goes to the bounded buffer and the job log.
type capture struct {
	mu        sync.Mutex
	limit     int
	buf       bytes.Buffer
	truncated bool
	masker    *strings.Replacer
	outputs   map[string]string
	logger    *models.JobLogger
	stepId    string
}

func newCapture(limit int, secrets []string, logger *models.JobLogger, stepId string) *capture {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}

	var masker *strings.Replacer
	if patterns := maskPatterns(secrets); len(patterns) > 0 {
		pairs := make([]string, 0, len(patterns)*2)
		for _, p := range patterns {
			pairs = append(pairs, p, mask)
		}
		masker = strings.NewReplacer(pairs...)
	}

	return &capture{
		limit:   limit,
		masker:  masker,
		outputs: make(map[string]string),
		logger:  logger,
		stepId:  stepId,
	}
}

// maskPatterns expands secrets into the strings to hide. Output is masked a
// line at a time, so every line of a multi-line secret is a pattern of its
// own. Longer patterns come first and win over their prefixes.
func maskPatterns(secrets []string) []string {
	seen := make(map[string]struct{})
	var patterns []string
	add := func(p string) {
		if strings.TrimSpace(p) == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		patterns = append(patterns, p)
	}

	for _, s := range secrets {
		add(s)
		if strings.ContainsAny(s, "\r\n") {
			for _, line := range strings.Split(s, "\n") {
				add(strings.TrimSuffix(line, "\r"))
			}
		}
	}

	slices.SortStableFunc(patterns, func(a, b string) int {
		return len(b) - len(a)
	})
	return patterns
}

func (c *capture) Mask(s string) string {
	if c.masker == nil {
		return s
	}
	return c.masker.Replace(s)
}

// Stream returns the writer for one output stream. Flush must be called
// once the action returned to emit a trailing partial line.
func (c *capture) Stream(name string) *lineWriter {
	return &lineWriter{capture: c, stream: name}
}

func (c *capture) line(stream, line string) {
	line = strings.TrimSuffix(line, "\r")

	c.mu.Lock()
	defer c.mu.Unlock()

	if stream == "stdout" {
		if kv, ok := strings.CutPrefix(line, setOutputPrefix); ok {
			if key, value, ok := strings.Cut(kv, "="); ok && strings.TrimSpace(key) != "" {
				c.outputs[strings.TrimSpace(key)] = value
			}
		}
	}

	masked := c.Mask(line)

	if c.logger != nil {
		c.logger.DataWriter(c.stepId, stream).Write([]byte(masked))
	}

	if c.truncated {
		return
	}
	if c.buf.Len()+len(masked)+1 > c.limit {
		// keep what fits of the line, then stop
		if room := c.limit - c.buf.Len(); room > 0 {
			c.buf.WriteString(masked[:min(room, len(masked))])
		}
		c.truncated = true
		return
	}
	c.buf.WriteString(masked)
	c.buf.WriteByte('\n')
}

func (c *capture) Output() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String(), c.truncated
}

func (c *capture) Outputs() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.outputs))
	for k, v := range c.outputs {
		out[k] = v
	}
	return out
}

type lineWriter struct {
	capture *capture
	stream  string
	pending []byte
}

var _ io.Writer = (*lineWriter)(nil)

func (w *lineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.capture.line(w.stream, string(w.pending[:i]))
		w.pending = w.pending[i+1:]
	}
	if len(w.pending) >= maxLineLength {
		w.Flush()
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	if len(w.pending) > 0 {
		w.capture.line(w.stream, string(w.pending))
		w.pending = nil
	}
}
