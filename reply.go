package ftpcore

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ReplyType classifies a reply by the first digit of its code, per
// RFC 959 section 4.2 (plus the 6yz protected replies of RFC 2228).
type ReplyType int

const (
	// PositivePreliminary (1yz): the command was accepted and a further
	// reply will follow (e.g. 150 before a transfer).
	PositivePreliminary ReplyType = iota + 1

	// PositiveCompletion (2yz): the command completed successfully.
	PositiveCompletion

	// PositiveIntermediate (3yz): the command was accepted but the server
	// needs more information (e.g. 331 after USER).
	PositiveIntermediate

	// TransientNegativeCompletion (4yz): the command failed but may
	// succeed if retried.
	TransientNegativeCompletion

	// PermanentNegativeCompletion (5yz): the command failed.
	PermanentNegativeCompletion

	// ProtectedReply (6yz): base64-protected reply (RFC 2228).
	ProtectedReply
)

// Reply represents a complete FTP server reply. It is immutable once
// produced by the parser.
type Reply struct {
	// Code is the three-digit reply code (e.g., 220, 550)
	Code int

	// Message is the text after the code on the terminating line
	Message string

	// InfoMessages holds the intermediate lines of a multi-line reply,
	// newline-joined, in the order received. Empty for single-line
	// replies.
	InfoMessages string
}

// Success returns true if the reply is positive, i.e. the leading digit
// is 1, 2 or 3.
func (r *Reply) Success() bool {
	d := r.Code / 100
	return d >= 1 && d <= 3
}

// Type returns the reply classification derived from the leading digit.
func (r *Reply) Type() ReplyType {
	return ReplyType(r.Code / 100)
}

// Is2xx returns true if the reply code is in the 2xx range.
func (r *Reply) Is2xx() bool {
	return r.Code >= 200 && r.Code < 300
}

// Is3xx returns true if the reply code is in the 3xx range.
func (r *Reply) Is3xx() bool {
	return r.Code >= 300 && r.Code < 400
}

// String returns the reply formatted as a single line.
func (r *Reply) String() string {
	return fmt.Sprintf("%03d %s", r.Code, r.Message)
}

// replyEnd matches the line that terminates a reply: a three-digit code
// followed by a space.
var replyEnd = regexp.MustCompile(`^(\d{3}) (.*)$`)

// readReply assembles one reply from a stream of control-connection
// lines. nextLine returns one line at a time, without its terminator.
//
// Any line that is not a terminating "DDD text" line is treated as
// informational body, including "DDD-text" continuation markers. This is
// deliberately laxer than RFC 959 requires: real servers emit multi-line
// bodies whose lines carry no code at all, or codes that differ from the
// terminator.
//
// An EOF before the terminating line yields ErrUnexpectedDisconnect with
// whatever body text was accumulated.
func readReply(nextLine func() (string, error)) (*Reply, error) {
	var info []string

	for {
		line, err := nextLine()
		if err != nil {
			if isEOF(err) {
				return nil, fmt.Errorf("%w (partial reply: %q)", ErrUnexpectedDisconnect, strings.Join(info, "\n"))
			}
			return nil, err
		}

		if m := replyEnd.FindStringSubmatch(line); m != nil {
			code, err := strconv.Atoi(m[1])
			if err != nil {
				// Unreachable given the pattern, but don't panic on it.
				return nil, fmt.Errorf("ftpcore: invalid reply code %q", m[1])
			}
			return &Reply{
				Code:         code,
				Message:      m[2],
				InfoMessages: strings.Join(info, "\n"),
			}, nil
		}

		info = append(info, line)
	}
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
