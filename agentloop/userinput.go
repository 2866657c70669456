package agentloop

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// EndOfInput terminates a multi-line user message.
const EndOfInput = "<|END_OF_INPUT|>"

var (
	readPlanRe  = regexp.MustCompile(`<\|READ_PLAN_START\|>(.*?)<\|READ_PLAN_END\|>`)
	readImageRe = regexp.MustCompile(`<\|READ_IMAGE_START\|>(.*?)<\|READ_IMAGE_END\|>`)
)

// ReadUserMessage reads one user message from r, line by line, until a line
// containing EndOfInput. A <|READ_PLAN_START|>path<|READ_PLAN_END|> marker
// adds the text of that file as its own segment and a
// <|READ_IMAGE_START|>path<|READ_IMAGE_END|> marker attaches the image. Files
// are opened through fs. Nothing past the end marker line is consumed when r
// is a *bufio.Reader, so the same reader can be passed again for the next
// message. io.EOF is returned only if r ends before any input.
func ReadUserMessage(r io.Reader, fs afero.Fs) (Message, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	b := &segmentBuilder{}
	sawInput := false
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Message{}, fmt.Errorf("read user input: %w", err)
		}
		atEOF := err != nil
		if line == "" && atEOF {
			break
		}
		sawInput = true
		line = strings.TrimRight(line, "\r\n")

		if loc := readPlanRe.FindStringSubmatchIndex(line); loc != nil {
			b.text(strings.TrimSpace(line[:loc[0]]))
			b.flush()
			b.segs = append(b.segs, TextSegment(readPlan(fs, strings.TrimSpace(line[loc[2]:loc[3]]))))
			line = line[loc[1]:]
		}

		if loc := readImageRe.FindStringSubmatchIndex(line); loc != nil {
			b.text(strings.TrimSpace(line[:loc[0]]))
			b.flush()
			b.segs = append(b.segs, readImage(fs, strings.TrimSpace(line[loc[2]:loc[3]])))
			line = line[loc[1]:]
		}

		if strings.Contains(line, EndOfInput) {
			b.text(strings.TrimSpace(strings.ReplaceAll(line, EndOfInput, "")))
			return b.message(), nil
		}
		b.text(strings.TrimSpace(line))
		if atEOF {
			break
		}
	}
	if !sawInput {
		return Message{}, io.EOF
	}
	return b.message(), nil
}

// segmentBuilder collects consecutive text lines into one segment.
type segmentBuilder struct {
	segs  []Segment
	lines []string
}

func (b *segmentBuilder) text(line string) {
	if line != "" {
		b.lines = append(b.lines, line)
	}
}

func (b *segmentBuilder) flush() {
	if len(b.lines) > 0 {
		b.segs = append(b.segs, TextSegment(strings.Join(b.lines, "\n")))
		b.lines = nil
	}
}

func (b *segmentBuilder) message() Message {
	b.flush()
	return UserSegments(b.segs...)
}

func readPlan(fs afero.Fs, path string) string {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Sprintf("File at path %s does not exist.", path)
		}
		return fmt.Sprintf("File at path %s could not be read: %v", path, err)
	}
	return string(data)
}

// readImage returns an image segment, or a text segment explaining why the
// file could not be attached.
func readImage(fs afero.Fs, path string) Segment {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TextSegment(fmt.Sprintf("File at path %s does not exist.", path))
		}
		return TextSegment(fmt.Sprintf("Image at path %s could not be read: %v", path, err))
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return TextSegment(fmt.Sprintf("File at path %s is %s, not an image.", path, mt.String()))
	}
	return ImageSegment(data, mt.String())
}
