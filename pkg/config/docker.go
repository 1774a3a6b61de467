package config

import (
	"net"
	"net/url"
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker returns true if the process runs inside a Docker container,
// detected by the /.dockerenv marker. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts to host.docker.internal when running
// in Docker, so a containerised engine can reach Postgres, Redis or a storage
// emulator running on the developer's machine.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	return rewriteLoopback(host)
}

func rewriteLoopback(host string) string {
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}

// resolveEndpointForDocker applies ResolveHostForDocker to the host part of
// an http(s) endpoint, leaving anything unparseable untouched.
func resolveEndpointForDocker(endpoint string, rewrite func(string) string) string {
	if endpoint == "" {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		u.Host = rewrite(u.Host)
		return u.String()
	}
	u.Host = net.JoinHostPort(rewrite(host), port)
	return u.String()
}

// ResolveDockerHosts rewrites every loopback dependency address in the config.
// It is a no-op outside Docker.
func (c *Config) ResolveDockerHosts() {
	if !IsRunningInDocker() {
		return
	}
	c.resolveHosts(rewriteLoopback)
}

func (c *Config) resolveHosts(rewrite func(string) string) {
	c.Database.Host = rewrite(c.Database.Host)
	c.Redis.Host = rewrite(c.Redis.Host)
	c.BlobStore.EmulatorHost = resolveEndpointForDocker(c.BlobStore.EmulatorHost, rewrite)
	c.Extraction.Endpoint = resolveEndpointForDocker(c.Extraction.Endpoint, rewrite)
}
