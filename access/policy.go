package access

import "sort"

// Action is a gated operation category.
type Action int

const (
	// ActionSelfOnboard is the /start-equivalent entry into the
	// verification workflow. It is always permitted; the outcome branches
	// on identity status.
	ActionSelfOnboard Action = iota
	// ActionManageRoster covers every roster mutation and listing.
	ActionManageRoster
	// ActionSendMedia covers triggering a distribution, by command or by
	// photo upload.
	ActionSendMedia
)

// String names the action for refusal messages and logs.
func (a Action) String() string {
	switch a {
	case ActionSelfOnboard:
		return "self_onboard"
	case ActionManageRoster:
		return "manage_roster"
	case ActionSendMedia:
		return "send_media"
	}
	return "unknown"
}

// AdminSet is the fixed-at-startup set of unconditionally authorized ids.
type AdminSet struct {
	ids map[int64]struct{}
}

// NewAdminSet builds the immutable admin set from configuration.
func NewAdminSet(ids []int64) *AdminSet {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id != 0 {
			set[id] = struct{}{}
		}
	}
	return &AdminSet{ids: set}
}

// Contains reports whether id is an admin.
func (s *AdminSet) Contains(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

// List returns the admin ids in ascending order.
func (s *AdminSet) List() []int64 {
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len reports the number of admins.
func (s *AdminSet) Len() int {
	return len(s.ids)
}

// Policy is the pure authorization decision over (caller, action).
// A denial is a normal outcome; callers render a refusal and move on.
type Policy struct {
	admins *AdminSet
}

// NewPolicy builds a policy over the given admin set.
func NewPolicy(admins *AdminSet) *Policy {
	return &Policy{admins: admins}
}

// Allow decides whether the caller may perform the action. Verified users
// are recipients, not senders: only admins manage the roster or distribute
// media.
func (p *Policy) Allow(callerID int64, action Action) bool {
	switch action {
	case ActionSelfOnboard:
		return true
	case ActionManageRoster, ActionSendMedia:
		return p.admins.Contains(callerID)
	}
	return false
}
