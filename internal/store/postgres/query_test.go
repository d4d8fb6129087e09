package postgres

import (
	"testing"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

func TestQueryBuild(t *testing.T) {
	since := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name     string
		filter   func(*query)
		opts     domain.ListOpts
		wantSQL  string
		wantArgs int
	}{
		{
			name:     "no filter",
			filter:   func(*query) {},
			wantSQL:  "SELECT payload FROM pool_events ORDER BY seq DESC",
			wantArgs: 0,
		},
		{
			name:     "collection and page",
			filter:   func(q *query) { q.where("collection = $%d", "0xabc") },
			opts:     domain.ListOpts{Limit: 10, Offset: 20},
			wantSQL:  "SELECT payload FROM pool_events WHERE collection = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3",
			wantArgs: 3,
		},
		{
			name: "time range",
			filter: func(q *query) {
				q.where("collection = $%d", "0xabc")
				q.timeRange("occurred_at", domain.ListOpts{Since: &since, Until: &since})
			},
			opts:     domain.ListOpts{Limit: 5},
			wantSQL:  "SELECT payload FROM pool_events WHERE collection = $1 AND occurred_at >= $2 AND occurred_at <= $3 ORDER BY seq DESC LIMIT $4",
			wantArgs: 4,
		},
	}
	for _, tt := range tests {
		var q query
		tt.filter(&q)
		sql, args := q.build("SELECT payload FROM pool_events", "seq DESC", tt.opts)
		if sql != tt.wantSQL {
			t.Fatalf("%s: got %q", tt.name, sql)
		}
		if len(args) != tt.wantArgs {
			t.Fatalf("%s: expected %d args, got %d", tt.name, tt.wantArgs, len(args))
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("unexpected migrations %v", names)
	}
}

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "callpool", User: "u", Password: "p"})
	if got != "postgres://u:p@db:5432/callpool?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", got)
	}
	got = DSN(ClientConfig{Host: "db", Port: 6432, Database: "callpool", User: "u", Password: "p@ss/word", SSLMode: "require"})
	if got != "postgres://u:p%40ss%2Fword@db:6432/callpool?sslmode=require" {
		t.Fatalf("credentials should be escaped, got %q", got)
	}
	if DSN(ClientConfig{DSN: "postgres://x"}) != "postgres://x" {
		t.Fatal("explicit dsn should win")
	}
}
