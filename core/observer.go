package core

import "time"

// Observer receives registry events. metrics.Collector implements it.
type Observer interface {
	PoolCreated(datasource string)
	Reconnected(datasource string, cause error)
	LeakSuspected(datasource string, held time.Duration)
	StatementDone(datasource string, kind StatementKind, took time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) PoolCreated(string)                                        {}
func (nopObserver) Reconnected(string, error)                                 {}
func (nopObserver) LeakSuspected(string, time.Duration)                       {}
func (nopObserver) StatementDone(string, StatementKind, time.Duration, error) {}
