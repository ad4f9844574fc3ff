// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

// Overrides is an instance's local configuration: an optional profile
// reference plus service additions and removals applied on top of the
// profile's service list.
type Overrides struct {
	// Profile names the base profile, empty for a profile-less
	// instance.
	Profile string

	// Services are the instance's own service declarations, in
	// document order. A declaration whose kind exists in the profile
	// merges into it; a new kind is appended after the profile's
	// services.
	Services []Service

	// Removed lists service kinds dropped from the resolved
	// configuration regardless of profile origin.
	Removed []Kind
}

// Resolved is the flattened, conflict-checked configuration a launch
// compiles from. It is produced only by Resolve and never mutated
// afterwards.
type Resolved struct {
	services   []Service
	namespaces NamespaceSet
}

// Services returns the resolved service sequence. The returned slice
// is a copy; the services themselves are shared and treated as
// immutable.
func (r *Resolved) Services() []Service {
	services := make([]Service, len(r.services))
	copy(services, r.services)
	return services
}

// Namespaces returns the combined namespace policy: for each
// namespace, NamespaceShare if any service requires host sharing,
// otherwise the baseline isolation.
func (r *Resolved) Namespaces() NamespaceSet {
	set := make(NamespaceSet, len(r.namespaces))
	for ns, policy := range r.namespaces {
		set[ns] = policy
	}
	return set
}

// Lookup returns the resolved service of the given kind, or nil.
func (r *Resolved) Lookup(kind Kind) Service {
	for _, svc := range r.services {
		if svc.Kind() == kind {
			return svc
		}
	}
	return nil
}

// Resolve merges a profile's service list with instance overrides into
// one resolved configuration.
//
// The merge is deterministic: profile order is preserved, same-kind
// overrides merge in place via the per-kind merge policy, removed
// kinds are dropped wherever they came from, and override-only kinds
// are appended in override-declaration order. Resolve is a pure
// function of its inputs; identical inputs always produce the
// identical service ordering, which keeps sandbox launches
// reproducible and auditable.
func Resolve(profile []Service, overrides *Overrides) (*Resolved, error) {
	if overrides == nil {
		overrides = &Overrides{}
	}

	removed := make(map[Kind]bool, len(overrides.Removed))
	for _, kind := range overrides.Removed {
		removed[kind] = true
	}

	merged := make([]Service, 0, len(profile)+len(overrides.Services))
	position := make(map[Kind]int, len(profile))
	for _, svc := range profile {
		if removed[svc.Kind()] {
			continue
		}
		position[svc.Kind()] = len(merged)
		merged = append(merged, svc)
	}

	for _, override := range overrides.Services {
		kind := override.Kind()
		if removed[kind] {
			continue
		}
		if at, ok := position[kind]; ok {
			combined, err := merged[at].merge(override)
			if err != nil {
				return nil, err
			}
			merged[at] = combined
			continue
		}
		position[kind] = len(merged)
		merged = append(merged, override)
	}

	namespaces, err := combineNamespaces(merged)
	if err != nil {
		return nil, err
	}
	if err := checkMountTargets(merged); err != nil {
		return nil, err
	}

	return &Resolved{services: merged, namespaces: namespaces}, nil
}

// combineNamespaces folds each service's namespace requirements into
// one set, reporting a ConflictError when one service requires host
// sharing and another requires isolation of the same namespace.
func combineNamespaces(services []Service) (NamespaceSet, error) {
	combined := make(NamespaceSet)
	claimant := make(map[Namespace]Kind)
	for _, svc := range services {
		for _, ns := range AllNamespaces {
			policy := svc.Namespaces()[ns]
			if policy == NamespaceDefault {
				continue
			}
			existing, claimed := combined[ns]
			if !claimed {
				combined[ns] = policy
				claimant[ns] = svc.Kind()
				continue
			}
			if existing == policy {
				continue
			}
			conflict := &ConflictError{Namespace: ns}
			if existing == NamespaceShare {
				conflict.First, conflict.Second = claimant[ns], svc.Kind()
			} else {
				conflict.First, conflict.Second = svc.Kind(), claimant[ns]
			}
			return nil, conflict
		}
	}
	return combined, nil
}

// checkMountTargets rejects two services claiming the same destination
// with different grants. Identical claims (the shared session bus
// bind) are permitted and de-duplicated at compile time.
func checkMountTargets(services []Service) error {
	// Namespace and mount requirements are structural, not host
	// dependent, so a neutral environment is sufficient here. Compile
	// re-derives mounts with the real environment.
	env := RuntimeEnv{HostHome: "/home/host", RuntimeDir: "/run/user/1000"}
	type claim struct {
		mount Mount
		kind  Kind
	}
	claims := make(map[string]claim)
	for _, svc := range services {
		for _, mount := range svc.Mounts(env) {
			prior, ok := claims[mount.Dest]
			if !ok {
				claims[mount.Dest] = claim{mount: mount, kind: svc.Kind()}
				continue
			}
			if prior.kind == svc.Kind() {
				// A single service may layer its own entries; order
				// within one service is the shadowing mechanism.
				continue
			}
			if prior.mount.Source == mount.Source &&
				prior.mount.Mode == mount.Mode &&
				prior.mount.Type == mount.Type {
				continue
			}
			return &ConflictError{First: prior.kind, Second: svc.Kind(), Dest: mount.Dest}
		}
	}
	return nil
}
