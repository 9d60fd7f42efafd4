package models

import "errors"

// ErrNotFound wraps record lookups that matched nothing. Callers test with
// errors.Is to map it onto a 404.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by compare-and-set tracker updates when
// another writer committed first.
var ErrVersionConflict = errors.New("version conflict")

// ErrInvalidURL is returned when a URL cannot be canonicalized. Maps to a 400.
var ErrInvalidURL = errors.New("invalid url")

// ErrDomainBlocked is returned when the allowlist rejects a host at tracker
// creation. Maps to a 422; the same policy inside the pipeline produces a
// HardFail(domain_blocked) outcome instead.
var ErrDomainBlocked = errors.New("domain not allowed")
