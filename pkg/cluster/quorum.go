package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// Quorum is the ack/from pair of a request: the operation targets the
// first From replicas of the key's preference order and succeeds once Ack
// of them acknowledge.
type Quorum struct {
	Ack  int
	From int
}

// DefaultQuorum returns the quorum used when the client omits the
// replicas parameter: from = cluster size, ack = majority.
func DefaultQuorum(clusterSize int) Quorum {
	return Quorum{
		Ack:  clusterSize/2 + 1,
		From: clusterSize,
	}
}

// ParseQuorum parses an "ack/from" clause, applying defaults for an empty
// string, and validates the result against the cluster size.
func ParseQuorum(s string, clusterSize int) (Quorum, error) {
	if s == "" {
		return DefaultQuorum(clusterSize), nil
	}

	ackStr, fromStr, ok := strings.Cut(s, "/")
	if !ok {
		return Quorum{}, fmt.Errorf("%w: %q", ErrBadQuorum, s)
	}
	ack, err := strconv.Atoi(ackStr)
	if err != nil {
		return Quorum{}, fmt.Errorf("%w: %q", ErrBadQuorum, s)
	}
	from, err := strconv.Atoi(fromStr)
	if err != nil {
		return Quorum{}, fmt.Errorf("%w: %q", ErrBadQuorum, s)
	}

	q := Quorum{Ack: ack, From: from}
	if err := q.Validate(clusterSize); err != nil {
		return Quorum{}, err
	}
	return q, nil
}

// Validate checks 1 <= ack <= from <= clusterSize
func (q Quorum) Validate(clusterSize int) error {
	if q.Ack < 1 || q.Ack > q.From || q.From > clusterSize {
		return fmt.Errorf("%w: ack=%d from=%d cluster=%d", ErrBadQuorum, q.Ack, q.From, clusterSize)
	}
	return nil
}

func (q Quorum) String() string {
	return fmt.Sprintf("%d/%d", q.Ack, q.From)
}
