package tour

import "github.com/sable-inc/sable-smart-links-sub000/locator"

// watchAutoStart subscribes reg to presence changes of its required selector.
// Presence starts an auto-start tour when nothing runs; absence may end the
// running instance of reg.
func (e *Engine) watchAutoStart(reg *registration) {
	cfg := reg.Config
	id := reg.ID
	if cfg.RequiredSelector == "" {
		if cfg.AutoStart {
			e.sched.Post(func() { e.tryAutoStart(id) })
		}
		return
	}
	reg.unwatch = e.detector.Watch(cfg.RequiredSelector, func(present bool) {
		e.sched.Post(func() {
			if e.tours[id] != reg {
				return
			}
			if present {
				e.tryAutoStart(id)
			} else {
				e.autoEnd(id)
			}
		})
	})
}

// PageLoaded resets per-page auto-start memory and re-evaluates every tour.
// Tours flagged AutoStartOnce stay suppressed.
func (e *Engine) PageLoaded() {
	for id := range e.autoStarted {
		delete(e.autoStarted, id)
	}
	e.sched.Post(e.evaluateAutoStart)
}

func (e *Engine) evaluateAutoStart() {
	for _, id := range e.order {
		if e.inst != nil {
			return
		}
		reg := e.tours[id]
		if !reg.Config.AutoStart {
			continue
		}
		if sel := reg.Config.RequiredSelector; sel != "" && e.loc.Find(locator.Target{Selector: sel}) == nil {
			continue
		}
		e.tryAutoStart(id)
	}
}

func (e *Engine) tryAutoStart(id string) {
	reg, ok := e.tours[id]
	if !ok || !reg.Config.AutoStart || e.inst != nil || e.autoStarted[id] {
		return
	}
	key := AutoStartedKeyPrefix + id
	if reg.Config.AutoStartOnce {
		if e.onceStarted[id] {
			return
		}
		ctx, cancel := e.storeContext()
		_, seen, err := e.store.Get(ctx, key)
		cancel()
		switch {
		case err != nil:
			e.logger.Warn("tour: auto-start flag unreadable, starting anyway", "tour", id, "error", err)
		case seen:
			e.onceStarted[id] = true
			return
		}
	}

	e.autoStarted[id] = true
	if reg.Config.AutoStartOnce {
		e.onceStarted[id] = true
	}
	e.logger.Info("tour: auto-start", "tour", id)
	e.begin(reg, 0, false, "auto_start")

	if reg.Config.AutoStartOnce {
		ctx, cancel := e.storeContext()
		defer cancel()
		if err := e.store.Set(ctx, key, "1"); err != nil {
			e.logger.Warn("tour: auto-start flag not persisted", "tour", id, "error", err)
		}
	}
}

func (e *Engine) autoEnd(id string) {
	inst := e.inst
	if inst == nil || inst.tour.ID != id {
		return
	}
	if inst.rendered && !inst.tour.Config.EndWithoutSelector {
		return
	}
	e.logger.Info("tour: required selector gone, ending", "tour", id, "rendered", inst.rendered)
	e.finish(false, "selector_absent")
}
