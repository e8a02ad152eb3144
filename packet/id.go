package packet

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SeqFromID parses the sequence number encoded as the prefix of a packet
// identifier produced by Observed.ID (before the "-"). Returns an error if
// the identifier is malformed; callers should skip the entry and log once
// rather than propagate the error into the detection state machine.
func SeqFromID(id string) (uint32, error) {
	prefix, _, found := strings.Cut(id, "-")
	if !found {
		return 0, errors.Errorf("malformed packet id %q: missing '-' separator", id)
	}
	seq, err := strconv.ParseUint(prefix, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed packet id %q", id)
	}
	return uint32(seq), nil
}
