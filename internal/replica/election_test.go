package replica

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TestElection_SingleInstance — единственный экземпляр становится лидером.
func TestElection_SingleInstance(t *testing.T) {
	tmpDir := t.TempDir()

	leaderCalled := false
	election := NewElection(tmpDir, "cm-0:8020", 0, ElectionCallbacks{
		OnBecomeLeader: func() { leaderCalled = true },
	}, newTestLogger())

	if err := election.Start(); err != nil {
		t.Fatalf("Ошибка Start: %v", err)
	}
	defer election.Stop()

	if !leaderCalled {
		t.Error("OnBecomeLeader не был вызван")
	}
	if election.CurrentRole() != RoleLeader {
		t.Errorf("Ожидалась роль leader, получена %s", election.CurrentRole())
	}
	if election.LeaderAddr() != "cm-0:8020" {
		t.Errorf("LeaderAddr() = %q", election.LeaderAddr())
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, leaderInfoFile))
	if err != nil {
		t.Fatalf("Ошибка чтения .leader.info: %v", err)
	}
	if strings.TrimSpace(string(data)) != "cm-0:8020" {
		t.Errorf(".leader.info = %q", data)
	}
}

// TestElection_TwoInstances — второй экземпляр становится follower и знает адрес лидера.
func TestElection_TwoInstances(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newTestLogger()

	leader := NewElection(tmpDir, "cm-0:8020", 0, ElectionCallbacks{}, logger)
	if err := leader.Start(); err != nil {
		t.Fatalf("Ошибка Start leader: %v", err)
	}
	defer leader.Stop()

	var followerHint string
	follower := NewElection(tmpDir, "cm-1:8021", 0, ElectionCallbacks{
		OnBecomeFollower: func(addr string) { followerHint = addr },
	}, logger)
	if err := follower.Start(); err != nil {
		t.Fatalf("Ошибка Start follower: %v", err)
	}
	defer follower.Stop()

	if follower.IsLeader() {
		t.Fatal("Второй экземпляр не должен быть leader")
	}
	if followerHint != "cm-0:8020" {
		t.Errorf("OnBecomeFollower получил %q, ожидался cm-0:8020", followerHint)
	}
	if follower.LeaderAddr() != "cm-0:8020" {
		t.Errorf("LeaderAddr() follower = %q", follower.LeaderAddr())
	}
}

// TestElection_FollowerBecomesLeader — после остановки лидера follower захватывает lock.
func TestElection_FollowerBecomesLeader(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newTestLogger()

	leader := NewElection(tmpDir, "cm-0:8020", 0, ElectionCallbacks{}, logger)
	if err := leader.Start(); err != nil {
		t.Fatalf("Ошибка Start leader: %v", err)
	}

	became := make(chan struct{})
	follower := NewElection(tmpDir, "cm-1:8021", 20*time.Millisecond, ElectionCallbacks{
		OnBecomeLeader: func() { close(became) },
	}, logger)
	if err := follower.Start(); err != nil {
		t.Fatalf("Ошибка Start follower: %v", err)
	}
	defer follower.Stop()

	leader.Stop()

	select {
	case <-became:
	case <-time.After(5 * time.Second):
		t.Fatal("Follower не стал leader за 5 секунд")
	}
	if follower.LeaderAddr() != "cm-1:8021" {
		t.Errorf("LeaderAddr() = %q, ожидался собственный адрес", follower.LeaderAddr())
	}
}

// TestElection_LeaderAddrRefresh — follower замечает смену адреса в .leader.info.
func TestElection_LeaderAddrRefresh(t *testing.T) {
	tmpDir := t.TempDir()
	logger := newTestLogger()

	leader := NewElection(tmpDir, "cm-0:8020", 0, ElectionCallbacks{}, logger)
	if err := leader.Start(); err != nil {
		t.Fatalf("Ошибка Start leader: %v", err)
	}
	defer leader.Stop()

	seen := make(chan string, 4)
	follower := NewElection(tmpDir, "cm-1:8021", 10*time.Millisecond, ElectionCallbacks{
		OnLeaderAddr: func(addr string) { seen <- addr },
	}, logger)
	if err := follower.Start(); err != nil {
		t.Fatalf("Ошибка Start follower: %v", err)
	}
	defer follower.Stop()

	if err := leader.writeLeaderInfo("cm-0.new:8020"); err != nil {
		t.Fatalf("writeLeaderInfo: %v", err)
	}

	select {
	case addr := <-seen:
		if addr != "cm-0.new:8020" {
			t.Errorf("OnLeaderAddr получил %q", addr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("OnLeaderAddr не вызван")
	}
}

func TestSelfAddr(t *testing.T) {
	if addr := SelfAddr(8020); !strings.HasSuffix(addr, ":8020") {
		t.Errorf("SelfAddr(8020) = %q", addr)
	}
}
