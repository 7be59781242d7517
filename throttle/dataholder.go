// Package throttle evaluates requests against the throttle state pushed
// by the traffic manager and emits usage events for requests that pass.
package throttle

import (
	"net/netip"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// IPCondition blocks or throttles by client address. Either FixedIP or
// the StartingIP and EndingIP range is set. Invert turns the condition
// into an allow-all-but rule.
type IPCondition struct {
	FixedIP    string
	StartingIP string
	EndingIP   string
	Invert     bool
}

func (c *IPCondition) matches(ip netip.Addr) bool {
	var m bool
	if c.FixedIP != "" {
		fixed, err := netip.ParseAddr(c.FixedIP)
		m = err == nil && fixed == ip
	} else {
		start, err1 := netip.ParseAddr(c.StartingIP)
		end, err2 := netip.ParseAddr(c.EndingIP)
		m = err1 == nil && err2 == nil &&
			start.Compare(ip) <= 0 && ip.Compare(end) <= 0
	}
	if c.Invert {
		return !m
	}
	return m
}

// DataHolder is the throttle decision state: which keys are currently
// over their limit and until when, plus the blocking conditions and the
// custom policy key templates. The traffic manager feeds it, the filter
// reads it.
type DataHolder struct {
	now func() time.Time

	mu           sync.RWMutex
	throttled    map[string]int64 // key -> resetAt unix ms
	blockedAPIs  map[string]struct{}
	blockedApps  map[string]struct{}
	blockedUsers map[string]struct{}
	blockedSubs  map[string]struct{}
	ipConditions []*IPCondition
	keyTemplates map[string]struct{}
}

// NewDataHolder returns an empty holder.
func NewDataHolder() *DataHolder {
	return &DataHolder{
		now:          time.Now,
		throttled:    map[string]int64{},
		blockedAPIs:  map[string]struct{}{},
		blockedApps:  map[string]struct{}{},
		blockedUsers: map[string]struct{}{},
		blockedSubs:  map[string]struct{}{},
		keyTemplates: map[string]struct{}{},
	}
}

// AddThrottledKey marks a key throttled until resetAt (unix millis).
func (d *DataHolder) AddThrottledKey(key string, resetAt int64) {
	d.mu.Lock()
	d.throttled[key] = resetAt
	d.mu.Unlock()
	log.Debugf("throttle key added: %s until %d", key, resetAt)
}

// RemoveThrottledKey clears a throttled key.
func (d *DataHolder) RemoveThrottledKey(key string) {
	d.mu.Lock()
	delete(d.throttled, key)
	d.mu.Unlock()
}

// IsThrottled reports whether key is over its limit and when the window
// resets. Expired entries are dropped on the way.
func (d *DataHolder) IsThrottled(key string) (bool, int64) {
	d.mu.RLock()
	resetAt, ok := d.throttled[key]
	d.mu.RUnlock()
	if !ok {
		return false, 0
	}
	if d.now().UnixMilli() >= resetAt {
		d.mu.Lock()
		// recheck, the entry may have been replaced meanwhile
		if current, ok := d.throttled[key]; ok && current == resetAt {
			delete(d.throttled, key)
		}
		d.mu.Unlock()
		return false, 0
	}
	return true, resetAt
}

// SetBlockingConditions replaces all blocking conditions at once.
func (d *DataHolder) SetBlockingConditions(apis, apps, users, subs []string, ips []*IPCondition) {
	d.mu.Lock()
	d.blockedAPIs = toSet(apis)
	d.blockedApps = toSet(apps)
	d.blockedUsers = toSet(users)
	d.blockedSubs = toSet(subs)
	d.ipConditions = ips
	d.mu.Unlock()
}

// AddKeyTemplate registers a custom policy key template.
func (d *DataHolder) AddKeyTemplate(template string) {
	d.mu.Lock()
	d.keyTemplates[template] = struct{}{}
	d.mu.Unlock()
}

// RemoveKeyTemplate unregisters a custom policy key template.
func (d *DataHolder) RemoveKeyTemplate(template string) {
	d.mu.Lock()
	delete(d.keyTemplates, template)
	d.mu.Unlock()
}

func (d *DataHolder) isBlocked(apiContext, appKey, user, subKey, clientIP string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.blockedAPIs[apiContext]; ok {
		return true
	}
	if _, ok := d.blockedApps[appKey]; ok {
		return true
	}
	if _, ok := d.blockedUsers[user]; ok {
		return true
	}
	if _, ok := d.blockedSubs[subKey]; ok {
		return true
	}
	if len(d.ipConditions) > 0 {
		if ip, err := netip.ParseAddr(clientIP); err == nil {
			for _, c := range d.ipConditions {
				if c.matches(ip) {
					return true
				}
			}
		}
	}
	return false
}

// templates returns the registered key templates.
func (d *DataHolder) templates() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.keyTemplates))
	for t := range d.keyTemplates {
		out = append(out, t)
	}
	return out
}

func toSet(keys []string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}
