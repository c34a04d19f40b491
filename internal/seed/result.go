// Package seed loads users and contact links from a JSON fixture into a
// contact store. The API server uses it to populate the in-memory backend;
// proxctl uses it against Postgres.
package seed

import "fmt"

// Result tracks counts and errors from a seeding operation.
type Result struct {
	UsersUpserted int
	LinksUpserted int
	Errors        []string
}

// Add merges another Result into this one.
func (r *Result) Add(other Result) {
	r.UsersUpserted += other.UsersUpserted
	r.LinksUpserted += other.LinksUpserted
	r.Errors = append(r.Errors, other.Errors...)
}

// AddErrorf records a formatted error message.
func (r *Result) AddErrorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary returns a human-readable summary of the seed operation.
func (r *Result) Summary() string {
	return fmt.Sprintf("users=%d links=%d errors=%d", r.UsersUpserted, r.LinksUpserted, len(r.Errors))
}
