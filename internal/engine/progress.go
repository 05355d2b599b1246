package engine

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

var progressPattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)

// progressParser is an io.Writer that scans the engine's diagnostic stream
// for percentage markers and forwards them to a ProgressFunc. The engine
// redraws progress with carriage returns, so both \r and \n end a line.
type progressParser struct {
	progress ProgressFunc
	buf      bytes.Buffer
}

func newProgressParser(progress ProgressFunc) *progressParser {
	return &progressParser{progress: progress}
}

func (p *progressParser) Write(data []byte) (int, error) {
	p.buf.Write(data)
	for {
		raw := p.buf.Bytes()
		idx := bytes.IndexAny(raw, "\r\n")
		if idx < 0 {
			break
		}
		line := string(raw[:idx])
		p.buf.Next(idx + 1)
		p.parseLine(line)
	}
	return len(data), nil
}

func (p *progressParser) parseLine(line string) {
	if p.progress == nil {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return
	}
	percent, err := strconv.ParseFloat(match[1], 64)
	if err != nil || percent < 0 || percent > 100 {
		return
	}
	p.progress(percent, "transcribing")
}
