package allowlist

import "strings"

// responseClass buckets a free-text console response. The remote service is
// a human-oriented console, so classification is substring matching on
// known tokens. This is inherently fragile and documented as such; unknown
// phrasing lands in classAmbiguous rather than failing hard.
type responseClass int

const (
	classSuccess responseClass = iota
	classInProgress
	classError
	classAmbiguous
)

func (c responseClass) String() string {
	switch c {
	case classSuccess:
		return "success"
	case classInProgress:
		return "in_progress"
	case classError:
		return "rejected"
	default:
		return "ambiguous"
	}
}

// inProgressTokens mark an add that is waiting on the remote service to
// resolve a stable account id from the account directory before the entry
// lands.
var inProgressTokens = []string{
	"fetching uuid",
	"player is offline, fetching",
	"fetching profile",
}

// errorTokens are explicit failure phrasings seen from the console.
var errorTokens = []string{
	"error",
	"unknown command",
	"could not be found",
	"unable to",
	"failed",
	"invalid",
}

// classify buckets a console response. successToken is the operation's own
// confirmation word ("added" or "removed"); in-progress is checked first
// because those responses can also contain the success word.
func classify(response, successToken string) responseClass {
	lower := strings.ToLower(response)
	for _, token := range inProgressTokens {
		if strings.Contains(lower, token) {
			return classInProgress
		}
	}
	for _, token := range errorTokens {
		if strings.Contains(lower, token) {
			return classError
		}
	}
	if strings.Contains(lower, successToken) {
		return classSuccess
	}
	return classAmbiguous
}
