package repmon

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
)

func f64(v float64) *float64 { return &v }

func TestSourceStatsParsesLSNsAndLag(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{
		"application_name", "state", "sent_lsn", "write_lsn", "flush_lsn", "replay_lsn",
		"write_lag", "flush_lag", "replay_lag",
	}).AddRow("pgreplicator", "streaming", "0/16B3748", "0/16B3748", "0/16B3748", "0/16B3748",
		f64(10), f64(20), f64(30))
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_stat_replication")).WillReturnRows(rows)

	stats, err := SourceStats(context.Background(), mock, "")
	if err != nil {
		t.Fatalf("SourceStats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 row, got %d", len(stats))
	}
	if stats[0].ApplicationName != "pgreplicator" || *stats[0].ReplayLagMs != 30 {
		t.Fatalf("unexpected stats: %+v", stats[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSourceStatsFiltersByApplicationName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{
		"application_name", "state", "sent_lsn", "write_lsn", "flush_lsn", "replay_lsn",
		"write_lag", "flush_lag", "replay_lag",
	}).AddRow("pgreplicator", "streaming", "0/0", "0/0", "0/0", "0/0", f64(0), f64(0), f64(0))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE application_name = $1")).
		WithArgs("pgreplicator").WillReturnRows(rows)

	if _, err := SourceStats(context.Background(), mock, "pgreplicator"); err != nil {
		t.Fatalf("SourceStats: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCaughtUpRequiresNonEmptyAndLowLag(t *testing.T) {
	if CaughtUp(nil) {
		t.Fatalf("empty stats must not be considered caught up")
	}
	if CaughtUp([]SourceReplicationStats{{ReplayLagMs: nil}}) {
		t.Fatalf("nil lag must not be considered caught up")
	}
	over := f64(1500)
	if CaughtUp([]SourceReplicationStats{{ReplayLagMs: over}}) {
		t.Fatalf("lag over threshold must not be caught up")
	}
	under := f64(250)
	if !CaughtUp([]SourceReplicationStats{{ReplayLagMs: under}}) {
		t.Fatalf("lag under threshold should be caught up")
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != StatusInactive {
		t.Fatalf("no rows should classify as inactive")
	}
	lagging := f64(5000)
	if Classify([]SourceReplicationStats{{ReplayLagMs: lagging}}) != StatusLagging {
		t.Fatalf("high lag should classify as lagging")
	}
	ok := f64(1)
	if Classify([]SourceReplicationStats{{ReplayLagMs: ok}}) != StatusCaughtUp {
		t.Fatalf("low lag should classify as caught up")
	}
}

func TestSubscriptionStatsForHandlesNullLSNs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"subname", "pid", "received_lsn", "latest_end_lsn", "srsubstate"}).
		AddRow("sub1", nil, nil, nil, "i")
	mock.ExpectQuery(regexp.QuoteMeta("FROM pg_stat_subscription")).WillReturnRows(rows)

	stats, err := SubscriptionStatsFor(context.Background(), mock, "")
	if err != nil {
		t.Fatalf("SubscriptionStatsFor: %v", err)
	}
	if len(stats) != 1 || stats[0].ReceivedLSN != nil || stats[0].State != "i" {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
