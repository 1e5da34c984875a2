// Package escalation holds the pure chase policy: which escalation level a
// chase runs at, which channel it uses and what it says.
package escalation

import "github.com/unclebandit/chaser-backend/internal/model"

// MinEscalateAfter is the smallest usable escalate-after value. Anything lower
// would skip the firm level.
const MinEscalateAfter = 2

// EscalationLevel maps the number of chases already delivered to a level:
// 0 gentle, 1 reminder, 2..escalateAfter-1 firm, escalateAfter urgent, beyond
// that escalate. escalateAfter below MinEscalateAfter is clamped.
func EscalationLevel(chasesDelivered, escalateAfter int) model.Level {
	if escalateAfter < MinEscalateAfter {
		escalateAfter = MinEscalateAfter
	}
	switch {
	case chasesDelivered <= 0:
		return model.LevelGentle
	case chasesDelivered == 1:
		return model.LevelReminder
	case chasesDelivered < escalateAfter:
		return model.LevelFirm
	case chasesDelivered == escalateAfter:
		return model.LevelUrgent
	default:
		return model.LevelEscalate
	}
}

// Max returns the higher of two levels. The orchestrator never lets an
// enrollment's level go down, even if campaign settings change.
func Max(a, b model.Level) model.Level {
	if a > b {
		return a
	}
	return b
}

// SelectChannel picks the channel for a chase. chaseNumber is the 0-based
// attempt index: the first attempt is always email so the client gets the
// full context and upload link at least once. Later attempts use the client's
// preference, then the practice default, then email.
func SelectChannel(chaseNumber int, clientPreferred, practiceDefault model.Channel) model.Channel {
	if chaseNumber == 0 {
		return model.ChannelEmail
	}
	if clientPreferred.Valid() {
		return clientPreferred
	}
	if practiceDefault.Valid() {
		return practiceDefault
	}
	return model.ChannelEmail
}
