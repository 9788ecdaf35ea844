package audience

import (
	"testing"

	"github.com/lysyi3m/inapp-sync/app/message"
	"github.com/stretchr/testify/assert"
)

func boolPtr(v bool) *bool { return &v }

func newTestChecker(deviceCtx DeviceContext) *Checker {
	cache := NewContextCache("")
	cache.Set(deviceCtx)
	return NewChecker(cache)
}

func TestCheckForSchedulingNewUser(t *testing.T) {
	checker := newTestChecker(DeviceContext{})

	assert.True(t, checker.CheckForScheduling(nil, false))
	assert.True(t, checker.CheckForScheduling(&message.Audience{}, false))

	newUsersOnly := &message.Audience{NewUser: boolPtr(true)}
	assert.True(t, checker.CheckForScheduling(newUsersOnly, true))
	assert.False(t, checker.CheckForScheduling(newUsersOnly, false))

	existingUsersOnly := &message.Audience{NewUser: boolPtr(false)}
	assert.True(t, checker.CheckForScheduling(existingUsersOnly, false))
	assert.False(t, checker.CheckForScheduling(existingUsersOnly, true))
}

func TestCheckAudience(t *testing.T) {
	deviceCtx := DeviceContext{
		ChannelID:         "channel-1",
		Locale:            "en-US",
		NotificationOptIn: true,
		Tags:              []string{"sports"},
	}
	checker := newTestChecker(deviceCtx)

	tests := []struct {
		name     string
		audience message.Audience
		want     bool
	}{
		{"empty", message.Audience{}, true},
		{"notification opt-in", message.Audience{NotificationOptIn: boolPtr(true)}, true},
		{"notification opt-out", message.Audience{NotificationOptIn: boolPtr(false)}, false},
		{"location opt-in", message.Audience{LocationOptIn: boolPtr(true)}, false},
		{"language only", message.Audience{Locales: []string{"en"}}, true},
		{"exact locale", message.Audience{Locales: []string{"fr", "en-US"}}, true},
		{"other region", message.Audience{Locales: []string{"en-GB"}}, false},
		{"other language", message.Audience{Locales: []string{"de"}}, false},
		{"tag", message.Audience{Tags: &message.TagSelector{Tag: "sports"}}, true},
		{"missing tag", message.Audience{Tags: &message.TagSelector{Tag: "music"}}, false},
		{"test device", message.Audience{TestDevices: []string{deviceCtx.ChannelHash()}}, true},
		{"other test device", message.Audience{TestDevices: []string{"0000"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checker.Check(&tt.audience))
		})
	}
}

func TestCheckLocaleWithoutDeviceLocale(t *testing.T) {
	checker := newTestChecker(DeviceContext{})
	assert.False(t, checker.Check(&message.Audience{Locales: []string{"en"}}))
}
