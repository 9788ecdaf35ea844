package audience

import (
	"slices"

	"github.com/lysyi3m/inapp-sync/app/message"
	"golang.org/x/text/language"
)

type ContextProvider interface {
	Get() DeviceContext
}

// Checker decides whether a message audience matches this device.
type Checker struct {
	contexts ContextProvider
}

func NewChecker(contexts ContextProvider) *Checker {
	return &Checker{contexts: contexts}
}

// CheckForScheduling reports whether a message with the given audience may be
// scheduled. A message that sets new_user is only scheduled when it agrees
// with isNewUser.
func (c *Checker) CheckForScheduling(a *message.Audience, isNewUser bool) bool {
	if a == nil {
		return true
	}
	if a.NewUser != nil && *a.NewUser != isNewUser {
		return false
	}
	return c.Check(a)
}

// Check evaluates every device attribute the audience constrains.
func (c *Checker) Check(a *message.Audience) bool {
	if a == nil {
		return true
	}
	deviceCtx := c.contexts.Get()

	if len(a.TestDevices) > 0 {
		hash := deviceCtx.ChannelHash()
		if hash == "" || !slices.Contains(a.TestDevices, hash) {
			return false
		}
	}
	if a.NotificationOptIn != nil && *a.NotificationOptIn != deviceCtx.NotificationOptIn {
		return false
	}
	if a.LocationOptIn != nil && *a.LocationOptIn != deviceCtx.LocationOptIn {
		return false
	}
	if len(a.Locales) > 0 && !matchesLocale(a.Locales, deviceCtx.LanguageTag()) {
		return false
	}
	if a.Tags != nil && !a.Tags.Apply(deviceCtx.TagSet()) {
		return false
	}
	return true
}

// matchesLocale requires the same base language, and the same region when the
// audience locale names one.
func matchesLocale(locales []string, device language.Tag) bool {
	if device == language.Und {
		return false
	}
	deviceBase, _ := device.Base()
	deviceRegion, _ := device.Region()

	for _, locale := range locales {
		tag, err := language.Parse(locale)
		if err != nil {
			continue
		}
		base, _ := tag.Base()
		if base != deviceBase {
			continue
		}
		region, confidence := tag.Region()
		if confidence == language.Exact && region != deviceRegion {
			continue
		}
		return true
	}
	return false
}
