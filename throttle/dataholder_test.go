package throttle

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsThrottledUnknownKey(t *testing.T) {
	d := NewDataHolder()

	throttled, _ := d.IsThrottled("nope")
	assert.False(t, throttled)
}

func TestIsThrottledActiveKey(t *testing.T) {
	d := NewDataHolder()
	resetAt := time.Now().Add(time.Minute).UnixMilli()
	d.AddThrottledKey("k", resetAt)

	throttled, at := d.IsThrottled("k")
	assert.True(t, throttled)
	assert.Equal(t, resetAt, at)
}

func TestExpiredKeyRemovedLazily(t *testing.T) {
	d := NewDataHolder()
	now := time.Now()
	d.now = func() time.Time { return now }
	d.AddThrottledKey("k", now.Add(time.Second).UnixMilli())

	throttled, _ := d.IsThrottled("k")
	assert.True(t, throttled)

	now = now.Add(2 * time.Second)
	d.now = func() time.Time { return now }
	throttled, _ = d.IsThrottled("k")
	assert.False(t, throttled)

	d.mu.RLock()
	_, present := d.throttled["k"]
	d.mu.RUnlock()
	assert.False(t, present, "expired entry should be dropped")
}

func TestRemoveThrottledKey(t *testing.T) {
	d := NewDataHolder()
	d.AddThrottledKey("k", time.Now().Add(time.Minute).UnixMilli())
	d.RemoveThrottledKey("k")

	throttled, _ := d.IsThrottled("k")
	assert.False(t, throttled)
}

func TestKeyTemplates(t *testing.T) {
	d := NewDataHolder()
	d.AddKeyTemplate("$userId")
	d.AddKeyTemplate("$appId")
	assert.ElementsMatch(t, []string{"$userId", "$appId"}, d.templates())

	d.RemoveKeyTemplate("$appId")
	assert.Equal(t, []string{"$userId"}, d.templates())
}

func TestIPConditionMatching(t *testing.T) {
	for _, tc := range []struct {
		name string
		cond IPCondition
		ip   string
		want bool
	}{
		{"fixed match", IPCondition{FixedIP: "10.0.0.1"}, "10.0.0.1", true},
		{"fixed mismatch", IPCondition{FixedIP: "10.0.0.1"}, "10.0.0.2", false},
		{"range inside", IPCondition{StartingIP: "10.0.0.0", EndingIP: "10.0.0.255"}, "10.0.0.7", true},
		{"range outside", IPCondition{StartingIP: "10.0.0.0", EndingIP: "10.0.0.255"}, "10.0.1.7", false},
		{"range boundary", IPCondition{StartingIP: "10.0.0.0", EndingIP: "10.0.0.255"}, "10.0.0.255", true},
		{"inverted", IPCondition{FixedIP: "10.0.0.1", Invert: true}, "10.0.0.2", true},
		{"ipv6 range", IPCondition{StartingIP: "2001:db8::", EndingIP: "2001:db8::ffff"}, "2001:db8::42", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ip, err := netip.ParseAddr(tc.ip)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, tc.cond.matches(ip))
		})
	}
}
