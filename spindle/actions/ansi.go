package actions

import (
	"io"
	"regexp"
)

// CSI and OSC escape sequences: colors, cursor movement, window titles
var ansiEscape = regexp.MustCompile("[\u001B\u009B][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?\u0007)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))")

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// plainWriter forwards writes with escape sequences removed. It reports the
// unstripped length so io.Copy style callers see a full write.
type plainWriter struct {
	w io.Writer
}

func plain(w io.Writer) io.Writer {
	return &plainWriter{w: w}
}

func (p *plainWriter) Write(b []byte) (int, error) {
	if _, err := p.w.Write(ansiEscape.ReplaceAll(b, nil)); err != nil {
		return 0, err
	}
	return len(b), nil
}
