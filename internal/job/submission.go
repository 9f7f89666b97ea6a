package job

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultIdentifierType applies when a submission has no type directive.
const DefaultIdentifierType = IdentifierMRN

// ErrEmptySubmission is returned when a submission contains no identifiers.
var ErrEmptySubmission = errors.New("submission contains no identifiers")

// Submission is a parsed identifier list.
type Submission struct {
	IdentifierType IdentifierType
	Identifiers    []string
}

// ParseSubmission reads a newline-delimited identifier list.
//
// The first non-empty line may select the identifier type, written as the
// bare type name ("DOCID") or prefixed with "#" or "type:". Every other
// non-empty line is one identifier.
func ParseSubmission(r io.Reader) (*Submission, error) {
	sub := &Submission{IdentifierType: DefaultIdentifierType}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if first {
			first = false
			if t, ok := parseDirective(line); ok {
				sub.IdentifierType = t
				continue
			}
		}

		sub.Identifiers = append(sub.Identifiers, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read submission: %w", err)
	}

	if len(sub.Identifiers) == 0 {
		return nil, ErrEmptySubmission
	}

	return sub, nil
}

// Record creates a new queued record for the submission.
func (s *Submission) Record() *Record {
	return New(s.IdentifierType, s.Identifiers)
}

func parseDirective(line string) (IdentifierType, bool) {
	d := strings.TrimSpace(strings.TrimPrefix(line, "#"))
	if len(d) > 5 && strings.EqualFold(d[:5], "type:") {
		d = strings.TrimSpace(d[5:])
	}

	t, err := ParseIdentifierType(d)
	if err != nil {
		return "", false
	}
	return t, true
}
