package login

import (
	"github.com/Amorter/bili-ticket/internal/remote"
)

// Outcome tags the result of one poll.
type Outcome int

const (
	OutcomeNotYet Outcome = iota
	OutcomeAuthenticated
	OutcomeTransportError
	OutcomePlatformRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomePlatformRejected:
		return "platform_rejected"
	default:
		return "not_yet"
	}
}

// Classify maps one poll result to its outcome. The returned error describes
// a failed poll and is nil for OutcomeNotYet and OutcomeAuthenticated.
//
// Code 0 is a confirmed login. ExpiredCode is the only terminal rejection;
// the loop keeps polling through every other outcome.
func Classify(poll remote.LoginPoll, err error) (Outcome, error) {
	switch {
	case err != nil && remote.IsTransport(err):
		return OutcomeTransportError, err
	case err != nil:
		return OutcomePlatformRejected, err
	case poll.Code == 0 && poll.Cookie == "":
		return OutcomePlatformRejected, &remote.MalformedResponse{Op: "poll-login", Field: "Set-Cookie"}
	case poll.Code == 0:
		return OutcomeAuthenticated, nil
	case poll.Code == ExpiredCode:
		return OutcomePlatformRejected, ErrQRCodeExpired
	default:
		return OutcomeNotYet, nil
	}
}
