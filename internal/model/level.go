package model

import "fmt"

// Level is the escalation ladder position. The zero value is LevelGentle and
// levels compare with < in ladder order.
type Level int

const (
	LevelGentle Level = iota
	LevelReminder
	LevelFirm
	LevelUrgent
	LevelEscalate
)

var Levels = []Level{LevelGentle, LevelReminder, LevelFirm, LevelUrgent, LevelEscalate}

var levelNames = [...]string{"gentle", "reminder", "firm", "urgent", "escalate"}

func (l Level) Valid() bool { return l >= LevelGentle && l <= LevelEscalate }

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

func ParseLevel(s string) (Level, error) {
	for i, n := range levelNames {
		if n == s {
			return Level(i), nil
		}
	}
	return LevelGentle, fmt.Errorf("unknown escalation level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid escalation level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
