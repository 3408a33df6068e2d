// Package config loads a node's static configuration from an INI file,
// the way the teacher's object-dictionary parser loads EDS files
// (gopkg.in/ini.v1), mapped onto this node's own sections rather than
// CANopen's index/subindex ones.
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// Identity is this node's own IPN address: the node number every locally
// originated bundle's source EID carries.
type Identity struct {
	NodeNumber uint64
}

// PoolSizing mirrors the pool's construction-time Options.
type PoolSizing struct {
	Capacity               int
	BblockAllocThreshold   uint32
	InternalAllocThreshold uint32
}

// CLAEndpoints holds the UDP convergence-layer adapter's egress/ingress
// addresses, defaulting to the pair spec.md §6 names.
type CLAEndpoints struct {
	EgressAddr  string
	IngressAddr string
}

// Policy holds the cache's delivery and retry knobs.
type Policy struct {
	DefaultLifetime   time.Duration
	LocalRetxInterval time.Duration
	FastRetryInterval time.Duration
	IdleRetryInterval time.Duration
	AgeOutInterval    time.Duration
	TimeSyncStatePath string
}

// Config is the fully parsed node configuration.
type Config struct {
	Identity Identity
	Pool     PoolSizing
	CLA      CLAEndpoints
	Policy   Policy
}

// defaults matches spec.md §6's stated UDP CLA defaults and reasonable
// pool/policy fallbacks for a single-node demo deployment.
func defaults() Config {
	return Config{
		Pool: PoolSizing{Capacity: 4096},
		CLA: CLAEndpoints{
			EgressAddr:  "127.0.0.1:4551",
			IngressAddr: "127.0.0.1:4501",
		},
		Policy: Policy{
			DefaultLifetime:   24 * time.Hour,
			LocalRetxInterval: 10 * time.Second,
			FastRetryInterval: 500 * time.Millisecond,
			IdleRetryInterval: 5 * time.Second,
			AgeOutInterval:    time.Minute,
			TimeSyncStatePath: "dtn_time.json",
		},
	}
}

// Load parses path as an INI file with [identity], [pool], [cla] and
// [policy] sections, falling back to defaults() for any key left unset.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg := defaults()

	id := f.Section("identity")
	if id.HasKey("node") {
		n, err := id.Key("node").Uint64()
		if err != nil {
			return nil, fmt.Errorf("config: identity.node: %w", err)
		}
		cfg.Identity.NodeNumber = n
	}

	pl := f.Section("pool")
	if pl.HasKey("capacity") {
		cfg.Pool.Capacity = pl.Key("capacity").MustInt(cfg.Pool.Capacity)
	}
	cfg.Pool.BblockAllocThreshold = uint32(pl.Key("bblock_alloc_threshold").MustUint(0))
	cfg.Pool.InternalAllocThreshold = uint32(pl.Key("internal_alloc_threshold").MustUint(0))

	cla := f.Section("cla")
	cfg.CLA.EgressAddr = cla.Key("egress_addr").MustString(cfg.CLA.EgressAddr)
	cfg.CLA.IngressAddr = cla.Key("ingress_addr").MustString(cfg.CLA.IngressAddr)

	pol := f.Section("policy")
	cfg.Policy.DefaultLifetime = mustDuration(pol, "default_lifetime", cfg.Policy.DefaultLifetime)
	cfg.Policy.LocalRetxInterval = mustDuration(pol, "local_retx_interval", cfg.Policy.LocalRetxInterval)
	cfg.Policy.FastRetryInterval = mustDuration(pol, "fast_retry_interval", cfg.Policy.FastRetryInterval)
	cfg.Policy.IdleRetryInterval = mustDuration(pol, "idle_retry_interval", cfg.Policy.IdleRetryInterval)
	cfg.Policy.AgeOutInterval = mustDuration(pol, "age_out_interval", cfg.Policy.AgeOutInterval)
	cfg.Policy.TimeSyncStatePath = pol.Key("time_sync_state_path").MustString(cfg.Policy.TimeSyncStatePath)

	return &cfg, nil
}

func mustDuration(s *ini.Section, key string, fallback time.Duration) time.Duration {
	if !s.HasKey(key) {
		return fallback
	}
	d, err := time.ParseDuration(s.Key(key).Value())
	if err != nil {
		return fallback
	}
	return d
}
