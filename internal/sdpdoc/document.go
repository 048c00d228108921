// Package sdpdoc holds a line-level view of a session description that keeps
// every line the engine produced while letting candidates be appended per
// media section.
package sdpdoc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	log "github.com/sirupsen/logrus"

	"github.com/po-studio/negotiator/internal/candidate"
)

// ErrMalformedSdp is returned when text fails strict SDP validation.
var ErrMalformedSdp = errors.New("malformed SDP")

const (
	crlf            = "\r\n"
	candidateKey    = "a=candidate"
	attributePrefix = "a="
)

type MediaSection struct {
	header string
	lines  []string
}

// Header is the section's "m=" line.
func (m *MediaSection) Header() string { return m.header }

// Kind is the media type named by the header, e.g. "audio".
func (m *MediaSection) Kind() string {
	fields := strings.Fields(strings.TrimPrefix(m.header, "m="))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Lines returns a copy of the lines that follow the header.
func (m *MediaSection) Lines() []string {
	return append([]string(nil), m.lines...)
}

// Candidates returns the candidate attribute values in this section.
func (m *MediaSection) Candidates() []string {
	var out []string
	for _, line := range m.lines {
		if strings.HasPrefix(line, candidateKey) {
			out = append(out, strings.TrimPrefix(line, attributePrefix))
		}
	}
	return out
}

func (m *MediaSection) hasCandidate(attr candidate.Attribute) bool {
	for _, existing := range m.Candidates() {
		parsed, err := candidate.Parse(existing)
		if err == nil && parsed.Equal(attr) {
			return true
		}
	}
	return false
}

type Document struct {
	session []string
	media   []*MediaSection
}

// Parse validates raw with pion/sdp before building the document. Nothing is
// returned for text that does not validate.
func Parse(raw string) (*Document, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSdp, err)
	}

	doc := &Document{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "m=") {
			doc.media = append(doc.media, &MediaSection{header: line})
			continue
		}
		if len(doc.media) == 0 {
			doc.session = append(doc.session, line)
		} else {
			last := doc.media[len(doc.media)-1]
			last.lines = append(last.lines, line)
		}
	}

	if len(doc.session) == 0 || !strings.HasPrefix(doc.session[0], "v=") {
		return nil, fmt.Errorf("%w: missing version line", ErrMalformedSdp)
	}
	if len(doc.media) != len(parsed.MediaDescriptions) {
		return nil, fmt.Errorf("%w: found %d media sections, validator saw %d",
			ErrMalformedSdp, len(doc.media), len(parsed.MediaDescriptions))
	}
	return doc, nil
}

// Len is the number of media sections.
func (d *Document) Len() int { return len(d.media) }

// Media returns the section at the given media line index.
func (d *Document) Media(index uint32) (*MediaSection, bool) {
	if uint64(index) >= uint64(len(d.media)) {
		return nil, false
	}
	return d.media[index], true
}

// Inject appends each candidate to the media section named by its index.
// Candidates with an out of range index, unparsable text, or an equal
// candidate already present are skipped. It returns how many were added.
func (d *Document) Inject(cands []candidate.Indexed) int {
	logger := log.WithField("src", "sdp")
	injected := 0
	for _, c := range cands {
		section, ok := d.Media(c.MLineIndex)
		if !ok {
			logger.Debugf("skipping candidate for media line %d of %d: %s", c.MLineIndex, d.Len(), c.Text)
			continue
		}
		attr, err := candidate.Parse(c.Text)
		if err != nil {
			logger.WithError(err).Debug("skipping candidate")
			continue
		}
		if section.hasCandidate(attr) {
			continue
		}
		section.lines = append(section.lines, attributePrefix+attr.String())
		injected++
	}
	return injected
}

// String renders the document with CRLF terminators.
func (d *Document) String() string {
	var b strings.Builder
	write := func(line string) {
		if line == "" {
			return
		}
		b.WriteString(line)
		b.WriteString(crlf)
	}
	for _, line := range d.session {
		write(line)
	}
	for _, m := range d.media {
		write(m.header)
		for _, line := range m.lines {
			write(line)
		}
	}
	return b.String()
}

// ExtractCandidates returns every candidate attribute value in raw, in order,
// without the leading "a=". raw is not validated.
func ExtractCandidates(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasPrefix(line, candidateKey) {
			out = append(out, strings.TrimPrefix(line, attributePrefix))
		}
	}
	return out
}
