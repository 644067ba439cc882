package instance

import "os"

const fallbackID = "local"

// GetID identifies the running process in logs. KEYMARKET_INSTANCE_ID wins,
// then the platform dyno name, then the hostname.
func GetID() string {
	return resolve(os.Getenv, os.Hostname)
}

func resolve(getenv func(string) string, hostname func() (string, error)) string {
	for _, key := range []string{"KEYMARKET_INSTANCE_ID", "DYNO"} {
		if id := getenv(key); id != "" {
			return id
		}
	}
	if host, err := hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
