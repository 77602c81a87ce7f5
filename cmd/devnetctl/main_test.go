package main

import (
	"context"
	"testing"

	"github.com/danmuck/relaychat/internal/chat"
	"github.com/danmuck/relaychat/internal/testutil/testlog"
)

func TestRunRelaysToEverySpoke(t *testing.T) {
	testlog.Start(t)
	opts, err := parseOptions("neutron,stargaze,kujira", "stargaze", "stars1alice", "hi")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	logs, err := run(context.Background(), opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, network := range opts.networks {
		msgs := logs[network]
		if len(msgs) != 1 {
			t.Fatalf("%s: expected one message, got %d", network, len(msgs))
		}
		if msgs[0].Msg.Origin != chat.NetworkStargaze || msgs[0].Msg.Text != "hi" || msgs[0].LocalID != 1 {
			t.Fatalf("%s: unexpected message %+v", network, msgs[0])
		}
	}
}

func TestParseOptionsRejects(t *testing.T) {
	testlog.Start(t)
	cases := []struct{ spokes, from string }{
		{"neutron,osmosis", "neutron"},
		{"neutron,neutron", "neutron"},
		{"neutron,kujira", "nois"},
	}
	for _, tc := range cases {
		if _, err := parseOptions(tc.spokes, tc.from, "a", "b"); err == nil {
			t.Fatalf("expected error for spokes=%q from=%q", tc.spokes, tc.from)
		}
	}
}
