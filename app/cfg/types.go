package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath     string
	DeviceFile string

	// Remote data
	AppKey         string
	RemoteDataURL  string
	Platform       string
	RequestTimeout int

	// Application configuration
	Port            string
	WorkerCount     int
	RefreshInterval int
	APIAccessKey    string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

func (c *Cfg) RefreshIntervalDuration() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

func (c *Cfg) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
