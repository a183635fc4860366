package bot

import (
	"fmt"
	"strings"

	"github.com/m3rciful/relaybot/access"
	"github.com/m3rciful/relaybot/relay"
)

func onboardReply(result access.OnboardResult) string {
	switch result {
	case access.OnboardAdmin:
		return "Welcome back. You are an administrator; photos will also arrive here."
	case access.OnboardVerified:
		return "Your access is active. Photos will arrive here."
	case access.OnboardPendingNew:
		return "Your request was sent to the administrators. You will be notified once it is decided."
	case access.OnboardPendingAgain:
		return "Your request is still waiting for an administrator decision."
	case access.OnboardRejected:
		return "Your request was declined."
	}
	return "Unexpected state; please try again."
}

func addReply(outcome access.AddOutcome, label string) string {
	if outcome == access.AlreadyPresent {
		return fmt.Sprintf("%s is already on the roster.", label)
	}
	return fmt.Sprintf("Added %s to the roster.", label)
}

func removeReply(outcome access.RemoveOutcome, label string) string {
	if outcome == access.NotPresent {
		return fmt.Sprintf("%s is not on the roster.", label)
	}
	return fmt.Sprintf("Removed %s from the roster.", label)
}

func rosterReply(entries []access.RosterEntry) string {
	if len(entries) == 0 {
		return "The roster is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Roster (%d):\n", len(entries))
	for _, e := range entries {
		label := e.Label
		if label == "" {
			label = fmt.Sprintf("id %d", e.ID)
		}
		fmt.Fprintf(&b, "- %s (%d)\n", label, e.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func decisionReply(outcome access.DecisionOutcome, verb string, id int64) string {
	switch outcome {
	case access.AlreadyDecided:
		return fmt.Sprintf("User %d was already decided.", id)
	case access.NothingPending:
		return fmt.Sprintf("User %d has no pending request.", id)
	}
	return fmt.Sprintf("User %d %s.", id, verb)
}

func reportReply(r relay.Report) string {
	return r.Summary()
}
