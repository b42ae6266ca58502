package pool

import "time"

// StalenessPolicy decides whether an idle connection should be pruned.
// It is evaluated under the pool lock and must not perform I/O.
type StalenessPolicy interface {
	IsStale(conn *Connection, now time.Time) bool
}

// StalenessFunc adapts a function to StalenessPolicy.
type StalenessFunc func(conn *Connection, now time.Time) bool

// IsStale calls f(conn, now).
func (f StalenessFunc) IsStale(conn *Connection, now time.Time) bool {
	return f(conn, now)
}

// MaxIdleTime prunes connections that have been idle longer than d.
func MaxIdleTime(d time.Duration) StalenessPolicy {
	return StalenessFunc(func(conn *Connection, now time.Time) bool {
		return now.Sub(conn.LastUsedAt()) > d
	})
}

// MaxLifetime prunes connections older than d.
func MaxLifetime(d time.Duration) StalenessPolicy {
	return StalenessFunc(func(conn *Connection, now time.Time) bool {
		return now.Sub(conn.CreatedAt()) > d
	})
}

// AnyOf prunes a connection if any of the policies does.
func AnyOf(policies ...StalenessPolicy) StalenessPolicy {
	return StalenessFunc(func(conn *Connection, now time.Time) bool {
		for _, policy := range policies {
			if policy != nil && policy.IsStale(conn, now) {
				return true
			}
		}

		return false
	})
}
