// Package audit provides the asynchronous audit trail: a shared taxonomy,
// a persistence repository, and a batching pipeline that keeps event
// emission off the request path.
package audit

import "strings"

// Action is the canonical vocabulary of auditable operations. Emitters must
// use these values so reports stay consistent across the codebase.
type Action string

const (
	ActionUserLogin              Action = "mark_login"
	ActionUserActivated          Action = "activate"
	ActionUserDeactivated        Action = "deactivate"
	ActionDoctorStateUpdated     Action = "update_state"
	ActionRecordCreated          Action = "create"
	ActionRecordUpdated          Action = "update"
	ActionRecordDeleted          Action = "delete"
	ActionTokenIssued            Action = "token_issued"
	ActionTokenRevoked           Action = "token_revoked"
	ActionPasswordResetRequested Action = "password_reset_requested"
	ActionPasswordResetCompleted Action = "password_reset_completed"
)

var knownActions = map[string]Action{
	string(ActionUserLogin):              ActionUserLogin,
	string(ActionUserActivated):          ActionUserActivated,
	string(ActionUserDeactivated):        ActionUserDeactivated,
	string(ActionDoctorStateUpdated):     ActionDoctorStateUpdated,
	string(ActionRecordCreated):          ActionRecordCreated,
	string(ActionRecordUpdated):          ActionRecordUpdated,
	string(ActionRecordDeleted):          ActionRecordDeleted,
	string(ActionTokenIssued):            ActionTokenIssued,
	string(ActionTokenRevoked):           ActionTokenRevoked,
	string(ActionPasswordResetRequested): ActionPasswordResetRequested,
	string(ActionPasswordResetCompleted): ActionPasswordResetCompleted,
}

// ParseAction maps a raw literal onto the taxonomy. Unknown literals collapse
// to ActionRecordUpdated rather than failing the emit path.
func ParseAction(raw string) Action {
	literal := strings.TrimSpace(raw)
	if action, ok := knownActions[literal]; ok {
		return action
	}
	if action, ok := knownActions[strings.ToLower(literal)]; ok {
		return action
	}
	return ActionRecordUpdated
}

// Severity ranks audit events: info < warning < critical.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Rank returns the ordering position of the severity. Unknown severities rank
// as info.
func (s Severity) Rank() int {
	return severityRank[s]
}

// ParseSeverity normalizes a raw literal; unknown or empty values become info.
func ParseSeverity(raw string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityWarning:
		return SeverityWarning
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// TargetType identifies the entity an audit event refers to.
type TargetType string

const (
	TargetUser         TargetType = "User"
	TargetDoctor       TargetType = "Doctor"
	TargetTurn         TargetType = "Turn"
	TargetPayment      TargetType = "Payment"
	TargetStorageEntry TargetType = "StorageEntry"
	TargetAuthToken    TargetType = "AuthToken"
	TargetWebSession   TargetType = "Session"
)

// targetAliases covers legacy plural spellings still emitted by old callers.
var targetAliases = map[string]TargetType{
	"Doctors":      TargetDoctor,
	"Turns":        TargetTurn,
	"Appointments": TargetTurn,
}

var knownTargets = map[string]TargetType{
	string(TargetUser):         TargetUser,
	string(TargetDoctor):       TargetDoctor,
	string(TargetTurn):         TargetTurn,
	string(TargetPayment):      TargetPayment,
	string(TargetStorageEntry): TargetStorageEntry,
	string(TargetAuthToken):    TargetAuthToken,
	string(TargetWebSession):   TargetWebSession,
}

// ParseTargetType maps a raw literal onto the taxonomy, resolving aliases.
// Unknown literals collapse to TargetStorageEntry.
func ParseTargetType(raw string) TargetType {
	literal := strings.TrimSpace(raw)
	if target, ok := targetAliases[literal]; ok {
		return target
	}
	if target, ok := knownTargets[literal]; ok {
		return target
	}
	for name, target := range knownTargets {
		if strings.EqualFold(name, literal) {
			return target
		}
	}
	return TargetStorageEntry
}
