package browser

import (
	"sort"
	"sync"

	"github.com/guseggert/maestro/protocol/target"
	"github.com/guseggert/maestro/session"
	"go.uber.org/zap"
)

// TargetManager tracks targets and attached sessions from target lifecycle events.
// Target discovery must be enabled for creation and destruction to be observed.
//
// Handlers run concurrently, so a target's events may be observed out of order. Destroyed
// targets are remembered so a late creation or info change does not bring them back.
type TargetManager struct {
	log *zap.SugaredLogger

	mut       sync.Mutex
	targets   map[target.ID]target.Info
	destroyed map[target.ID]struct{}
	sessions  map[target.SessionID]target.ID
}

// NewTargetManager registers the target lifecycle handlers on s.
func NewTargetManager(s *session.Session, logger *zap.Logger) *TargetManager {
	m := &TargetManager{
		log:       logger.Named("target_manager").Sugar(),
		targets:   map[target.ID]target.Info{},
		destroyed: map[target.ID]struct{}{},
		sessions:  map[target.SessionID]target.ID{},
	}
	session.OnEvent(s, func(_ string, ev target.TargetCreatedEvent) { m.update(ev.TargetInfo) })
	session.OnEvent(s, func(_ string, ev target.TargetInfoChangedEvent) { m.update(ev.TargetInfo) })
	session.OnEvent(s, func(_ string, ev target.TargetDestroyedEvent) { m.destroy(ev.TargetID) })
	session.OnEvent(s, func(_ string, ev target.AttachedToTargetEvent) { m.attach(ev) })
	session.OnEvent(s, func(_ string, ev target.DetachedFromTargetEvent) { m.detach(ev.SessionID) })
	return m
}

func (m *TargetManager) update(info target.Info) {
	m.mut.Lock()
	defer m.mut.Unlock()
	if _, gone := m.destroyed[info.TargetID]; gone {
		return
	}
	m.targets[info.TargetID] = info
	m.log.Debugw("target updated", "TargetID", info.TargetID, "Type", info.Type, "URL", info.URL)
}

func (m *TargetManager) destroy(id target.ID) {
	m.mut.Lock()
	defer m.mut.Unlock()
	delete(m.targets, id)
	m.destroyed[id] = struct{}{}
	for sid, tid := range m.sessions {
		if tid == id {
			delete(m.sessions, sid)
		}
	}
	m.log.Debugw("target destroyed", "TargetID", id)
}

func (m *TargetManager) attach(ev target.AttachedToTargetEvent) {
	m.mut.Lock()
	defer m.mut.Unlock()
	if _, gone := m.destroyed[ev.TargetInfo.TargetID]; gone {
		return
	}
	m.sessions[ev.SessionID] = ev.TargetInfo.TargetID
	m.targets[ev.TargetInfo.TargetID] = ev.TargetInfo
	m.log.Debugw("attached to target", "TargetID", ev.TargetInfo.TargetID, "SessionID", ev.SessionID)
}

func (m *TargetManager) detach(id target.SessionID) {
	m.mut.Lock()
	defer m.mut.Unlock()
	delete(m.sessions, id)
	m.log.Debugw("detached from target", "SessionID", id)
}

// Targets returns the known targets ordered by id.
func (m *TargetManager) Targets() []target.Info {
	m.mut.Lock()
	defer m.mut.Unlock()
	infos := make([]target.Info, 0, len(m.targets))
	for _, info := range m.targets {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].TargetID < infos[j].TargetID })
	return infos
}

func (m *TargetManager) Lookup(id target.ID) (target.Info, bool) {
	m.mut.Lock()
	defer m.mut.Unlock()
	info, ok := m.targets[id]
	return info, ok
}

// SessionOf returns the target a debugging session is attached to.
func (m *TargetManager) SessionOf(id target.SessionID) (target.ID, bool) {
	m.mut.Lock()
	defer m.mut.Unlock()
	tid, ok := m.sessions[id]
	return tid, ok
}
