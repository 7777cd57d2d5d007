package smf

import "github.com/pkg/errors"

// Fatal structural errors. Decode wraps them with offset context; match with
// errors.Is.
var (
	ErrHeaderTag    = errors.New("smf: header chunk tag is not MThd")
	ErrHeaderLength = errors.New("smf: header chunk length is not 6")
	ErrFormat       = errors.New("smf: unsupported file format")
	ErrTrackTag     = errors.New("smf: track chunk tag is not MTrk")
	ErrShortBuffer  = errors.New("smf: unexpected end of data")
	ErrVLQTooLong   = errors.New("smf: variable-length quantity exceeds 4 bytes")
)

// Warning records a recoverable anomaly found while decoding.
type Warning struct {
	Track  int // -1 for header level warnings
	Offset int // absolute byte offset in the file
	Msg    string
}
