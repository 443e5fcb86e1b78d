package trigger

import (
	"github.com/sable-inc/sable-smart-links-sub000/locator"
	"github.com/sable-inc/sable-smart-links-sub000/loop"
)

// Watch reports selector presence transitions. fn(true) runs as soon as the
// selector matches, including at call time; fn(false) runs when it stops
// matching. Checks run on every document change batch.
func (d *Detector) Watch(selector string, fn func(present bool)) loop.Cancel {
	t := locator.Target{Selector: selector}
	present := false
	check := func() {
		now := d.loc.Find(t) != nil
		if now == present {
			return
		}
		present = now
		fn(now)
	}
	done := false
	unsubscribe := d.doc.OnChange(func() {
		if !done {
			check()
		}
	})
	check()
	return func() {
		if done {
			return
		}
		done = true
		unsubscribe()
	}
}
