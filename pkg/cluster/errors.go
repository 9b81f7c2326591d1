package cluster

import "errors"

var (
	// ErrQuorumUnmet is returned when fewer than ack replicas answered
	// before the request deadline
	ErrQuorumUnmet = errors.New("not enough replicas")

	// ErrBadQuorum is returned for an invalid ack/from pair
	ErrBadQuorum = errors.New("invalid replicas parameter")
)
