package models

// JoinResult is the closed set of outcomes of a join attempt. Rejections are
// values, not errors: callers branch on every variant.
type JoinResult string

const (
	JoinOk                 JoinResult = "ok"
	JoinArenaBanned        JoinResult = "arena_banned"
	JoinPrizeBanned        JoinResult = "prize_banned"
	JoinWrongEntryCode     JoinResult = "wrong_entry_code"
	JoinConditionsRejected JoinResult = "conditions_rejected"
	JoinPaused             JoinResult = "paused"
	JoinMissingTeam        JoinResult = "missing_team"
	JoinTournamentNotFound JoinResult = "tournament_not_found"
	JoinNope               JoinResult = "nope"
)

func (r JoinResult) OK() bool { return r == JoinOk }

// Message renders a user-facing message for a rejection.
func (r JoinResult) Message() string {
	switch r {
	case JoinOk:
		return ""
	case JoinArenaBanned:
		return "you are banned from arena tournaments"
	case JoinPrizeBanned:
		return "you are banned from prized tournaments"
	case JoinWrongEntryCode:
		return "wrong entry code"
	case JoinConditionsRejected:
		return "you do not meet the entry conditions"
	case JoinPaused:
		return "you paused too often, wait before rejoining"
	case JoinMissingTeam:
		return "you must join one of the competing teams"
	case JoinTournamentNotFound:
		return "tournament not found"
	default:
		return "could not join the tournament"
	}
}

// Verdict is the access gate outcome. It is the subset of JoinResult the gate can produce.
type Verdict = JoinResult

// ConditionVerdict is one rule's evaluation.
type ConditionVerdict struct {
	Condition string `json:"condition"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

// Verdicts is the outcome of evaluating every gating condition.
type Verdicts struct {
	List    []ConditionVerdict `json:"list"`
	Relaxed bool               `json:"relaxed"`
}

// Accepted reports whether every rule passed.
func (v Verdicts) Accepted() bool {
	for _, c := range v.List {
		if !c.Accepted {
			return false
		}
	}
	return true
}

// AcceptAll is the verdict of a tournament with no conditions.
var AcceptAll = Verdicts{}
