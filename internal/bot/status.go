// Package bot 实现采购管线与调度主循环。
package bot

import (
	"fmt"
	"sync"
	"time"
)

// Phase 表示调度器所处的生命周期阶段。
type Phase string

const (
	PhaseIdle     Phase = "Idle"
	PhaseStarting Phase = "Starting"
	PhaseRunning  Phase = "Running"
	PhaseStopping Phase = "Stopping"
	PhaseStopped  Phase = "Stopped"
	PhaseError    Phase = "Error"
)

// Substate 细分 Running 阶段当前正在执行的环节，仅用于对外展示。
type Substate string

const (
	SubstateFetchingOffers     Substate = "Fetching Offers"
	SubstateProcessingOffers   Substate = "Processing Offers"
	SubstateAwaitingSellerInfo Substate = "Awaiting Seller Info"
	SubstateSendingPayment     Substate = "Sending Payment"
	SubstateConfirmingUpstream Substate = "Confirming Upstream"
	SubstateReleasingCrypto    Substate = "Releasing Crypto"
	SubstateProcessingPayouts  Substate = "Processing Payouts"
	SubstateSleeping           Substate = "Sleeping"
)

// Status 为调度器状态的一次快照。
type Status struct {
	Phase    Phase
	Substate Substate
	Reason   string
}

// String 渲染成面板展示用的单行文本，例如 "Running (Fetching Offers)"。
func (s Status) String() string {
	switch s.Phase {
	case PhaseRunning:
		if s.Substate != "" {
			return fmt.Sprintf("%s (%s)", s.Phase, s.Substate)
		}
	case PhaseError:
		if s.Reason != "" {
			return fmt.Sprintf("%s (%s)", s.Phase, s.Reason)
		}
	}
	return string(s.Phase)
}

// state 以互斥锁保护状态快照，调度循环写入、管理接口并发读取。
type state struct {
	mu          sync.Mutex
	status      Status
	lastRunTime time.Time
}

func newState() *state {
	return &state{status: Status{Phase: PhaseIdle}}
}

func (s *state) setPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{Phase: phase}
}

func (s *state) setSubstate(sub Substate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{Phase: PhaseRunning, Substate: sub}
}

func (s *state) setError(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{Phase: PhaseError, Reason: reason}
}

func (s *state) markRun(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunTime = t
}

// Snapshot 返回当前状态与最近一次完整循环的时间。
func (s *state) Snapshot() (Status, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.lastRunTime
}
