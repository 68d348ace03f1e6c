package executor

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tangled.sh/tangled.sh/runner/spindle/models"
)

func TestCaptureSplitsLines(t *testing.T) {
	c := newCapture(1024, nil, nil, "s")
	w := c.Stream("stdout")

	w.Write([]byte("hel"))
	w.Write([]byte("lo\nwor"))
	w.Write([]byte("ld"))
	w.Flush()

	out, truncated := c.Output()
	assert.Equal(t, "hello\nworld\n", out)
	assert.False(t, truncated)
}

func TestCaptureSetOutput(t *testing.T) {
	c := newCapture(1024, nil, nil, "s")

	stdout := c.Stream("stdout")
	stdout.Write([]byte("::set-output a=1\n::set-output b=x=y\n::set-output =ignored\n"))
	stdout.Flush()

	// only stdout sets outputs
	stderr := c.Stream("stderr")
	stderr.Write([]byte("::set-output c=3\n"))
	stderr.Flush()

	assert.Equal(t, map[string]string{"a": "1", "b": "x=y"}, c.Outputs())
}

func TestCaptureMasksAcrossWrites(t *testing.T) {
	c := newCapture(1024, []string{"topsecret", "top"}, nil, "s")
	w := c.Stream("stdout")

	w.Write([]byte("value: tops"))
	w.Write([]byte("ecret and top\n"))
	w.Flush()

	out, _ := c.Output()
	assert.Equal(t, "value: *** and ***\n", out)
}

func TestCaptureMasksMultilineSecret(t *testing.T) {
	key := "-----BEGIN-----\r\nTOPSECRETLINE\n-----END-----"
	c := newCapture(1024, []string{key, ""}, nil, "s")
	w := c.Stream("stdout")

	w.Write([]byte("-----BEGIN-----\nTOPSECRETLINE\n-----END-----\n"))
	w.Write([]byte("prefix TOPSECRETLINE suffix\n"))
	w.Flush()

	out, _ := c.Output()
	assert.Equal(t, "***\n***\n***\nprefix *** suffix\n", out)
}

func TestMaskPatterns(t *testing.T) {
	assert.Empty(t, maskPatterns([]string{"", "  "}))
	assert.Equal(t,
		[]string{"ab\n\ncd", "ab", "cd"},
		maskPatterns([]string{"ab\n\ncd", "ab"}),
	)
}

func TestCaptureTruncates(t *testing.T) {
	c := newCapture(10, nil, nil, "s")
	w := c.Stream("stdout")

	w.Write([]byte("12345\n67890\nabc\n"))
	w.Flush()

	out, truncated := c.Output()
	assert.True(t, truncated)
	assert.Equal(t, "12345\n6789", out)
}

func TestCaptureWritesJobLog(t *testing.T) {
	dir := t.TempDir()
	jid := models.JobId{RunId: models.RunId{Workflow: "ci", Rkey: "1"}, Name: "build"}
	logger, err := models.NewJobLogger(dir, jid)
	require.NoError(t, err)

	c := newCapture(1024, []string{"pw"}, logger, "step-1")
	w := c.Stream("stderr")
	w.Write([]byte("password is pw\n"))
	w.Flush()
	require.NoError(t, logger.Close())

	f, err := os.Open(models.LogFilePath(dir, jid))
	require.NoError(t, err)
	defer f.Close()

	var lines []models.LogLine
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var l models.LogLine
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &l))
		lines = append(lines, l)
	}

	require.Len(t, lines, 1)
	assert.Equal(t, "password is ***", lines[0].Content)
	assert.Equal(t, "stderr", lines[0].Stream)
	assert.Equal(t, "step-1", lines[0].StepId)
	assert.False(t, strings.Contains(lines[0].Content, "pw"))
}
