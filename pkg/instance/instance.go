package instance

import "os"

// GetID returns the gateway instance identifier used to tag leases and logs.
func GetID() string {
	if id := os.Getenv("PAYCORE_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "gateway-0"
}
