package session

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestSubscribeIdempotent(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")

	if n := s.Subscribe("news"); n != 1 {
		t.Errorf("first Subscribe = %d, want 1", n)
	}
	if n := s.Subscribe("news"); n != 0 {
		t.Errorf("duplicate Subscribe = %d, want 0", n)
	}
	if s.ChannelCount() != 1 {
		t.Errorf("ChannelCount = %d, want 1", s.ChannelCount())
	}
	if n := s.Subscribe("sports"); n != 1 {
		t.Errorf("second channel Subscribe = %d, want 1", n)
	}
	if s.ChannelCount() != 2 {
		t.Errorf("ChannelCount = %d, want 2", s.ChannelCount())
	}

	if n := s.UnSubscribe("news"); n != 1 {
		t.Errorf("UnSubscribe = %d, want 1", n)
	}
	if n := s.UnSubscribe("news"); n != 0 {
		t.Errorf("second UnSubscribe = %d, want 0", n)
	}

	if n := s.PSubscribe("news.*"); n != 1 {
		t.Errorf("PSubscribe = %d, want 1", n)
	}
	if n := s.PSubscribe("news.*"); n != 0 {
		t.Errorf("duplicate PSubscribe = %d, want 0", n)
	}
	if s.PatternChannelCount() != 1 {
		t.Errorf("PatternChannelCount = %d, want 1", s.PatternChannelCount())
	}
}

func TestMultiQueueAndExec(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")

	if !s.BeginMulti() {
		t.Fatal("BeginMulti failed")
	}
	if s.BeginMulti() {
		t.Error("nested BeginMulti should fail")
	}
	s.QueueCommand([]string{"SET", "a", "1"})
	s.QueueCommand([]string{"GET", "a"})
	if s.QueuedCount() != 2 {
		t.Fatalf("QueuedCount = %d, want 2", s.QueuedCount())
	}

	var replayed [][]string
	n, err := s.Exec(func(argv []string) {
		replayed = append(replayed, argv)
	})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if n != 2 || len(replayed) != 2 {
		t.Fatalf("replayed %d commands, want 2", len(replayed))
	}
	if replayed[0][0] != "SET" || replayed[1][0] != "GET" {
		t.Errorf("replay order broken: %v", replayed)
	}
	if s.IsFlagOn(FlagMulti) || s.QueuedCount() != 0 {
		t.Error("Exec should clear transaction state")
	}
}

func TestExecWrongAborts(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")

	s.BeginMulti()
	s.QueueCommand([]string{"SET", "a", "1"})
	s.FlagExecWrong()

	ran := 0
	_, err := s.Exec(func([]string) { ran++ })
	if !errors.Is(err, ErrExecWrong) {
		t.Fatalf("Exec error = %v, want ErrExecWrong", err)
	}
	if ran != 0 {
		t.Error("no queued command may run after a wrong-exec abort")
	}
	if s.IsFlagOn(FlagWrongExec) || s.IsFlagOn(FlagMulti) {
		t.Error("abort should clear transaction flags")
	}
}

func TestWrongExecRequiresMulti(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")

	s.FlagExecWrong()
	if s.IsFlagOn(FlagWrongExec) {
		t.Error("FlagExecWrong outside MULTI must be a no-op")
	}
}

func TestWatchNotifyDirtyAbortsExec(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")

	if !s.Watch(0, "k") {
		t.Fatal("Watch failed")
	}
	s.BeginMulti()
	s.QueueCommand([]string{"GET", "k"})

	// another actor mutates the watched key
	reg.NotifyDirty(0, "k")

	ran := 0
	_, err := s.Exec(func([]string) { ran++ })
	if !errors.Is(err, ErrExecDirty) {
		t.Fatalf("Exec error = %v, want ErrExecDirty", err)
	}
	if ran != 0 {
		t.Error("no queued command may run after a watch abort")
	}
}

func TestNotifyDirtyOtherDBUntouched(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")

	s.Watch(1, "k")
	reg.NotifyDirty(0, "k") // same key name, different database
	if s.IsFlagOn(FlagDirty) {
		t.Error("dirty flag set for a different database")
	}
	reg.NotifyDirty(1, "k")
	if !s.IsFlagOn(FlagDirty) {
		t.Error("dirty flag not set for the watched database")
	}
}

func TestDiscardClearsWatch(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")

	s.Watch(0, "k")
	s.BeginMulti()
	s.QueueCommand([]string{"GET", "k"})
	if !s.Discard() {
		t.Fatal("Discard failed")
	}
	if s.Discard() {
		t.Error("Discard outside MULTI should fail")
	}

	// watch registration must be gone: a later write does not dirty us
	reg.NotifyDirty(0, "k")
	if s.IsFlagOn(FlagDirty) {
		t.Error("watch survived DISCARD")
	}
}

func TestCloseClearsWatchersAndDropsWrites(t *testing.T) {
	reg := NewRegistry()
	var sink bytes.Buffer
	s := reg.Create(&sink, "test")
	s.Watch(0, "k")

	reg.Close(s.ID())

	if _, ok := reg.Get(s.ID()); ok {
		t.Error("closed session still in registry")
	}
	reg.NotifyDirty(0, "k") // must not panic or find the watcher

	s.Reply.AppendStatus("OK")
	if s.SendPacket() {
		t.Error("SendPacket on closed session should report failure")
	}
	if sink.Len() != 0 {
		t.Error("closed session wrote to its connection")
	}
}

func TestWaitForExclusive(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")

	if err := s.WaitFor("k", nil); err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if err := s.WaitFor("j", nil); !errors.Is(err, ErrAlreadyBlocked) {
		t.Errorf("second WaitFor = %v, want ErrAlreadyBlocked", err)
	}
	s.ClearWaitingKeys()
	if err := s.WaitFor("j", []byte("target")); err != nil {
		t.Fatalf("WaitFor after clear: %v", err)
	}
	target, ok := s.WaitTarget()
	if !ok || string(target) != "target" {
		t.Errorf("WaitTarget = %q ok=%v", target, ok)
	}
}

func TestCommandStats(t *testing.T) {
	stats := NewCommandStats()
	stats.Record("get", 100*time.Microsecond)
	stats.Record("get", 200*time.Microsecond)
	stats.Record("config|set", time.Millisecond)

	st, ok := stats.Get("get")
	if !ok {
		t.Fatal("missing entry for get")
	}
	if st.Count.Load() != 2 {
		t.Errorf("count = %d, want 2", st.Count.Load())
	}
	if st.TimeConsuming.Load() != 300 {
		t.Errorf("micros = %d, want 300", st.TimeConsuming.Load())
	}

	seen := map[string]bool{}
	stats.Range(func(name string, count, micros uint64) bool {
		seen[name] = true
		return true
	})
	if !seen["get"] || !seen["config|set"] {
		t.Errorf("Range missed entries: %v", seen)
	}
}

func TestSendPacketClearsReply(t *testing.T) {
	reg := NewRegistry()
	var sink bytes.Buffer
	s := reg.Create(&sink, "test")

	s.Reply.AppendStatus("OK")
	if !s.SendPacket() {
		t.Fatal("SendPacket failed")
	}
	if sink.String() != "+OK\r\n" {
		t.Errorf("wire = %q", sink.String())
	}
	if !s.Reply.None() {
		t.Error("reply not cleared after send")
	}
}

func TestFullCmdName(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")
	s.SetCmdName("config")
	if s.FullCmdName() != "config" {
		t.Errorf("FullCmdName = %q", s.FullCmdName())
	}
	s.SetSubCmdName("set")
	if s.FullCmdName() != "config|set" {
		t.Errorf("FullCmdName = %q", s.FullCmdName())
	}
}

func TestCloseDuringMembershipChurn(t *testing.T) {
	// teardown runs on the transport goroutine while a worker may still be
	// mutating the same session's subscription and watch sets; both sides
	// must be safe to interleave
	reg := NewRegistry()
	for i := 0; i < 50; i++ {
		s := reg.Create(&bytes.Buffer{}, "test")
		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 100; j++ {
				s.Subscribe("events")
				s.PSubscribe("events.*")
				s.Watch(0, "k")
				_ = s.ChannelCount()
				for range s.Channels() {
				}
				s.UnSubscribe("events")
				s.PUnSubscribe("events.*")
				s.ClearWatch()
			}
		}()
		reg.Close(s.ID())
		<-done
	}
	if reg.Count() != 0 {
		t.Errorf("Count = %d after closing every session", reg.Count())
	}
}

func TestCloseDropsSubscriptionIndexes(t *testing.T) {
	reg := NewRegistry()
	s := reg.Create(&bytes.Buffer{}, "test")
	s.Subscribe("events")
	s.PSubscribe("events.*")
	reg.Close(s.ID())

	if got := reg.Subscribers("events"); len(got) != 0 {
		t.Errorf("Subscribers after close = %v", got)
	}
	reg.RangePatterns(func(pattern string, ids []uint64) bool {
		if len(ids) != 0 {
			t.Errorf("pattern %q still has subscribers %v after close", pattern, ids)
		}
		return true
	})
	if s.ChannelCount() != 0 || s.PatternChannelCount() != 0 {
		t.Error("subscription sets not emptied on close")
	}
}
