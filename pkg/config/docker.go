package config

import (
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the process runs inside a Docker container.
// Detection relies on /.dockerenv and is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// resolveHost maps loopback addresses to host.docker.internal when inDocker is set.
func resolveHost(host string, inDocker bool) string {
	if !inDocker {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}

// ResolveHostsForDocker rewrites loopback database and Redis hosts so a
// containerized reconciler can reach services published on the host machine.
func (c *Config) ResolveHostsForDocker() {
	c.resolveHosts(IsRunningInDocker())
}

func (c *Config) resolveHosts(inDocker bool) {
	c.Database.Host = resolveHost(c.Database.Host, inDocker)
	if c.Redis.Host != "" {
		c.Redis.Host = resolveHost(c.Redis.Host, inDocker)
	}
}
