// Package repmon implements the replication monitor (spec §4.I):
// parameterized queries against pg_stat_replication (source) and
// pg_stat_subscription (target), classifying caught-up/lagging/inactive.
package repmon

import (
	"context"
	"time"

	"github.com/jackc/pglogrepl"

	"github.com/serenorg/pgreplicator/internal/pgiface"
	"github.com/serenorg/pgreplicator/pkg/lsn"
)

// SourceReplicationStats is §3's SourceReplicationStats, one row per
// publisher slot.
type SourceReplicationStats struct {
	ApplicationName string
	State           string
	SentLSN         pglogrepl.LSN
	WriteLSN        pglogrepl.LSN
	FlushLSN        pglogrepl.LSN
	ReplayLSN       pglogrepl.LSN
	WriteLagMs      *float64
	FlushLagMs      *float64
	ReplayLagMs     *float64
}

// SubscriptionStats is §3's SubscriptionStats, one row per subscriber.
type SubscriptionStats struct {
	Name         string
	WorkerPID    *int32
	ReceivedLSN  *pglogrepl.LSN
	LatestEndLSN *pglogrepl.LSN
	State        string
}

// SourceStats queries pg_stat_replication on the source, optionally
// filtered by application_name.
func SourceStats(ctx context.Context, src pgiface.Pool, applicationName string) ([]SourceReplicationStats, error) {
	query := `
		SELECT application_name, state,
			sent_lsn, write_lsn, flush_lsn, replay_lsn,
			EXTRACT(EPOCH FROM write_lag) * 1000,
			EXTRACT(EPOCH FROM flush_lag) * 1000,
			EXTRACT(EPOCH FROM replay_lag) * 1000
		FROM pg_stat_replication`
	args := []any{}
	if applicationName != "" {
		query += " WHERE application_name = $1"
		args = append(args, applicationName)
	}

	rows, err := src.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceReplicationStats
	for rows.Next() {
		var s SourceReplicationStats
		var sent, write, flush, replay string
		if err := rows.Scan(&s.ApplicationName, &s.State, &sent, &write, &flush, &replay,
			&s.WriteLagMs, &s.FlushLagMs, &s.ReplayLagMs); err != nil {
			return nil, err
		}
		s.SentLSN, err = pglogrepl.ParseLSN(sent)
		if err != nil {
			return nil, err
		}
		s.WriteLSN, err = pglogrepl.ParseLSN(write)
		if err != nil {
			return nil, err
		}
		s.FlushLSN, err = pglogrepl.ParseLSN(flush)
		if err != nil {
			return nil, err
		}
		s.ReplayLSN, err = pglogrepl.ParseLSN(replay)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SubscriptionStatsFor queries pg_stat_subscription on the target,
// optionally filtered by subname.
func SubscriptionStatsFor(ctx context.Context, dst pgiface.Pool, subname string) ([]SubscriptionStats, error) {
	query := `
		SELECT subname, pid, received_lsn, latest_end_lsn, srsubstate
		FROM pg_stat_subscription`
	args := []any{}
	if subname != "" {
		query += " WHERE subname = $1"
		args = append(args, subname)
	}

	rows, err := dst.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubscriptionStats
	for rows.Next() {
		var s SubscriptionStats
		var received, latestEnd *string
		if err := rows.Scan(&s.Name, &s.WorkerPID, &received, &latestEnd, &s.State); err != nil {
			return nil, err
		}
		if received != nil {
			lsn, err := pglogrepl.ParseLSN(*received)
			if err != nil {
				return nil, err
			}
			s.ReceivedLSN = &lsn
		}
		if latestEnd != nil {
			lsn, err := pglogrepl.ParseLSN(*latestEnd)
			if err != nil {
				return nil, err
			}
			s.LatestEndLSN = &lsn
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// caughtUpThresholdMs is the maximum replay lag considered caught up (§4.I).
const caughtUpThresholdMs = 1000

// CaughtUp implements §4.I: all returned slots have non-null replay_lag_ms
// <= 1000ms; an empty result set is NOT caught up.
func CaughtUp(stats []SourceReplicationStats) bool {
	if len(stats) == 0 {
		return false
	}
	for _, s := range stats {
		if s.ReplayLagMs == nil || *s.ReplayLagMs < 0 || *s.ReplayLagMs > caughtUpThresholdMs {
			return false
		}
	}
	return true
}

// Status classifies a database's replication state for Phase 4.
type Status int

const (
	StatusInactive Status = iota
	StatusLagging
	StatusCaughtUp
)

func (s Status) String() string {
	switch s {
	case StatusCaughtUp:
		return "caught_up"
	case StatusLagging:
		return "lagging"
	default:
		return "inactive"
	}
}

// Classify derives a per-database status from its source replication
// stats.
func Classify(stats []SourceReplicationStats) Status {
	if len(stats) == 0 {
		return StatusInactive
	}
	if CaughtUp(stats) {
		return StatusCaughtUp
	}
	return StatusLagging
}

// WorstLagDisplay formats the largest replay lag across stats as a
// human-friendly "<size> (latency: <duration>)" string, for
// presentation in `status` output. Returns "" for an empty slice.
func WorstLagDisplay(stats []SourceReplicationStats) string {
	var worstBytes uint64
	var worstMs float64
	for _, s := range stats {
		if b := lsn.Lag(s.ReplayLSN, s.SentLSN); b > worstBytes {
			worstBytes = b
		}
		if s.ReplayLagMs != nil && *s.ReplayLagMs > worstMs {
			worstMs = *s.ReplayLagMs
		}
	}
	if len(stats) == 0 {
		return ""
	}
	return lsn.FormatLag(worstBytes, time.Duration(worstMs*float64(time.Millisecond)))
}
