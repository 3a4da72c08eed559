package allowlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/quingcraft/gatekeeper/internal/backoff"
)

// fakeRemote simulates the allow-list console. Time does not pass on its
// own: the fake sleeper advances the clock, and the remote's behavior keys
// off that clock.
type fakeRemote struct {
	now         time.Duration
	members     []string
	addReply    func(call int) string
	listReply   func(call int) string
	addCalls    int
	removeCalls int
	listCalls   int
	// appearsAt, when set, puts pendingName on the list once the fake
	// clock reaches it.
	appearsAt   time.Duration
	pendingName string
	dialErr     error
}

func (r *fakeRemote) Execute(ctx context.Context, command string) (string, error) {
	if r.dialErr != nil {
		return "", r.dialErr
	}
	switch {
	case strings.HasPrefix(command, "vpw add "):
		r.addCalls++
		if r.addReply != nil {
			return r.addReply(r.addCalls), nil
		}
		return "added to whitelist", nil
	case strings.HasPrefix(command, "vpw remove "):
		r.removeCalls++
		name := strings.TrimPrefix(command, "vpw remove ")
		for i, m := range r.members {
			if strings.EqualFold(m, name) {
				r.members = append(r.members[:i], r.members[i+1:]...)
				return fmt.Sprintf("%s removed from whitelist", name), nil
			}
		}
		return "removed", nil
	case command == "vpw list":
		r.listCalls++
		if r.listReply != nil {
			return r.listReply(r.listCalls), nil
		}
		members := r.members
		if r.pendingName != "" && r.now >= r.appearsAt {
			members = append(members, r.pendingName)
		}
		if len(members) == 0 {
			return "Whitelisted players:", nil
		}
		return "Whitelisted players: " + strings.Join(members, ", "), nil
	}
	return "Unknown command", nil
}

func (r *fakeRemote) sleeper() backoff.Sleeper {
	return backoff.SleeperFunc(func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.now += d
		return nil
	})
}

func newTestClient(t *testing.T, remote *fakeRemote) *Client {
	t.Helper()
	client, err := NewClient(remote, Config{
		Sleeper: remote.sleeper(),
		Logger:  slog.New(slog.NewTextHandler(testWriter{t}, nil)),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func TestAddImmediateSuccess(t *testing.T) {
	remote := &fakeRemote{
		addReply: func(int) string { return "Steve added to whitelist" },
	}
	client := newTestClient(t, remote)

	ok, err := client.Add(context.Background(), "Steve")
	if err != nil || !ok {
		t.Fatalf("Add = (%v, %v), want (true, nil)", ok, err)
	}
	if remote.addCalls != 1 {
		t.Fatalf("add commands = %d, want 1", remote.addCalls)
	}
}

func TestAddAlreadyPresentSkipsCommand(t *testing.T) {
	remote := &fakeRemote{members: []string{"steve"}}
	client := newTestClient(t, remote)

	ok, err := client.Add(context.Background(), "Steve")
	if err != nil || !ok {
		t.Fatalf("Add = (%v, %v), want (true, nil)", ok, err)
	}
	if remote.addCalls != 0 {
		t.Fatalf("add commands = %d, want 0 for an already-present account", remote.addCalls)
	}
}

func TestAddPollConvergence(t *testing.T) {
	// The console answers "fetching uuid" and the account appears 12s
	// later. With the 5s/10s/15s schedule the second poll (t=15s) sees
	// it, well inside the 30s budget.
	remote := &fakeRemote{
		addReply:    func(int) string { return "Player is offline, fetching uuid..." },
		appearsAt:   12 * time.Second,
		pendingName: "Steve",
	}
	client := newTestClient(t, remote)

	ok, err := client.Add(context.Background(), "Steve")
	if err != nil || !ok {
		t.Fatalf("Add = (%v, %v), want (true, nil)", ok, err)
	}
	if remote.now > 30*time.Second {
		t.Fatalf("waited %v, beyond the 30s budget", remote.now)
	}
	if remote.now != 15*time.Second {
		t.Fatalf("waited %v, want convergence at 15s", remote.now)
	}
}

func TestAddAssumesSuccessWithoutErrorToken(t *testing.T) {
	// Never appears, but the console never said "error" either: the
	// client exhausts the budget and assumes the add will converge.
	remote := &fakeRemote{
		addReply: func(int) string { return "Player is offline, fetching uuid..." },
	}
	client := newTestClient(t, remote)

	ok, err := client.Add(context.Background(), "Steve")
	if err != nil || !ok {
		t.Fatalf("Add = (%v, %v), want assumed success", ok, err)
	}
	if remote.now != 30*time.Second {
		t.Fatalf("waited %v, want the full 30s budget", remote.now)
	}
}

func TestAddExplicitErrorRetriesOnce(t *testing.T) {
	remote := &fakeRemote{
		addReply: func(call int) string {
			if call == 1 {
				return "Error: something broke"
			}
			return "Steve added to whitelist"
		},
	}
	client := newTestClient(t, remote)

	ok, err := client.Add(context.Background(), "Steve")
	if err != nil || !ok {
		t.Fatalf("Add = (%v, %v), want retry success", ok, err)
	}
	if remote.addCalls != 2 {
		t.Fatalf("add commands = %d, want 2", remote.addCalls)
	}
}

func TestAddExplicitErrorTwiceRejects(t *testing.T) {
	remote := &fakeRemote{
		addReply: func(int) string { return "Error: no such account" },
	}
	client := newTestClient(t, remote)

	ok, err := client.Add(context.Background(), "Steve")
	if ok {
		t.Fatal("Add succeeded, want rejection")
	}
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("err = %v, want ErrRemoteRejected", err)
	}
}

func TestAddConnectionFailure(t *testing.T) {
	remote := &fakeRemote{dialErr: errors.New("connection refused")}
	client := newTestClient(t, remote)

	ok, err := client.Add(context.Background(), "Steve")
	if ok {
		t.Fatal("Add succeeded against an unreachable console")
	}
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
	}
}

func TestAddAbandonedByContext(t *testing.T) {
	remote := &fakeRemote{
		addReply: func(int) string { return "fetching uuid" },
	}
	ctx, cancel := context.WithCancel(context.Background())
	client, err := NewClient(remote, Config{
		Sleeper: backoff.SleeperFunc(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.Add(ctx, "Steve")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRemoveVerifiedByCheck(t *testing.T) {
	remote := &fakeRemote{members: []string{"Steve"}}
	client := newTestClient(t, remote)

	ok, err := client.Remove(context.Background(), "Steve")
	if err != nil || !ok {
		t.Fatalf("Remove = (%v, %v), want (true, nil)", ok, err)
	}
	present, err := client.Check(context.Background(), "Steve")
	if err != nil || present {
		t.Fatalf("Check after remove = (%v, %v), want (false, nil)", present, err)
	}
}

func TestRemoveAbsentIsIdempotent(t *testing.T) {
	remote := &fakeRemote{}
	client := newTestClient(t, remote)

	ok, err := client.Remove(context.Background(), "Steve")
	if err != nil || !ok {
		t.Fatalf("Remove = (%v, %v), want (true, nil) for absent account", ok, err)
	}
}

func TestCheckEmptyListIsAuthoritative(t *testing.T) {
	remote := &fakeRemote{}
	client := newTestClient(t, remote)

	present, err := client.Check(context.Background(), "Steve")
	if err != nil {
		t.Fatalf("Check returned error on empty list: %v", err)
	}
	if present {
		t.Fatal("Check = true on an empty list")
	}
}

func TestCheckErrorResponseIsNotAbsence(t *testing.T) {
	remote := &fakeRemote{
		listReply: func(int) string { return "Error: unable to query whitelist" },
	}
	client := newTestClient(t, remote)

	present, err := client.Check(context.Background(), "Steve")
	if present {
		t.Fatal("Check = true off an error reply")
	}
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("err = %v, want ErrRemoteRejected", err)
	}
}

func TestRemoveNotConfirmedByErroringList(t *testing.T) {
	// The list command errors on every call: the pre-check cannot prove
	// absence, so the remove command must still go out, and the failed
	// verification must surface instead of a claimed success.
	remote := &fakeRemote{
		listReply: func(int) string { return "Error: unable to query whitelist" },
	}
	client := newTestClient(t, remote)

	ok, err := client.Remove(context.Background(), "Steve")
	if ok {
		t.Fatal("Remove claimed success without a verifying list")
	}
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("err = %v, want ErrRemoteRejected", err)
	}
	if remote.removeCalls == 0 {
		t.Fatal("no remove command issued")
	}
}

func TestCheckCaseInsensitive(t *testing.T) {
	remote := &fakeRemote{members: []string{"StEvE", "Alex"}}
	client := newTestClient(t, remote)

	for _, name := range []string{"steve", "STEVE", "Steve"} {
		present, err := client.Check(context.Background(), name)
		if err != nil || !present {
			t.Fatalf("Check(%q) = (%v, %v), want (true, nil)", name, present, err)
		}
	}
	present, _ := client.Check(context.Background(), "Stev")
	if present {
		t.Fatal("Check matched a prefix, want exact name matching")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		response string
		token    string
		want     responseClass
	}{
		{"Steve added to whitelist", "added", classSuccess},
		{"Player is offline, fetching uuid", "added", classInProgress},
		{"Fetching profile for Steve", "added", classInProgress},
		{"Error: kaboom", "added", classError},
		{"Unknown command. Type /help", "added", classError},
		{"ok", "added", classAmbiguous},
		{"", "added", classAmbiguous},
		{"Steve removed from whitelist", "removed", classSuccess},
	}
	for _, tt := range tests {
		if got := classify(tt.response, tt.token); got != tt.want {
			t.Errorf("classify(%q, %q) = %v, want %v", tt.response, tt.token, got, tt.want)
		}
	}
}
