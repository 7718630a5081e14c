package protocol

import "errors"

// SignalRole identifies which side of the handshake produced a Signal.
type SignalRole string

const (
	RoleOffer  SignalRole = "offer"
	RoleAnswer SignalRole = "answer"
)

// Signal carries the connection metadata one device relays to the other,
// typically as one or more QR codes. It is immutable once created and is
// consumed exactly once by the peer to build the reciprocal side.
type Signal struct {
	Role         SignalRole `json:"role"`
	SDP          string     `json:"sdp"`
	OriginatorID string     `json:"originator_id,omitempty"`
}

// ValidateBasic performs basic validation on the signal.
// Returns an error if validation fails.
func (s Signal) ValidateBasic() error {
	if s.Role != RoleOffer && s.Role != RoleAnswer {
		return errors.New("role must be offer or answer")
	}
	if s.SDP == "" {
		return errors.New("sdp is required")
	}
	return nil
}
