package audience

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/text/language"
)

// DeviceContext is the device state audiences are evaluated against.
type DeviceContext struct {
	ChannelID         string   `yaml:"channel_id"`
	Locale            string   `yaml:"locale"`
	NotificationOptIn bool     `yaml:"notification_opt_in"`
	LocationOptIn     bool     `yaml:"location_opt_in"`
	Tags              []string `yaml:"tags"`
}

// LanguageTag returns the parsed device locale, or language.Und when it is
// unset or invalid.
func (d DeviceContext) LanguageTag() language.Tag {
	if d.Locale == "" {
		return language.Und
	}
	tag, err := language.Parse(d.Locale)
	if err != nil {
		return language.Und
	}
	return tag
}

func (d DeviceContext) TagSet() map[string]struct{} {
	set := make(map[string]struct{}, len(d.Tags))
	for _, tag := range d.Tags {
		set[tag] = struct{}{}
	}
	return set
}

// ChannelHash is the hex SHA-256 digest of the channel id, the form test
// device lists are published in.
func (d DeviceContext) ChannelHash() string {
	if d.ChannelID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(d.ChannelID))
	return hex.EncodeToString(sum[:])
}
