package telemetry

import "time"

// Timer - отменяемый отложенный вызов
type Timer interface {
	Stop() bool
}

// Clock планирует отложенные вызовы
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
