package store

import (
	"bytes"
	"sync"
	"testing"
)

func TestStringOps(t *testing.T) {
	e := NewMemoryEngine(nil)

	if _, found, err := e.Get(0, "missing"); err != nil || found {
		t.Fatalf("Get missing: found=%v err=%v", found, err)
	}

	if err := e.Set(0, "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, found, err := e.Get(0, "k")
	if err != nil || !found || string(v) != "v" {
		t.Fatalf("Get: v=%q found=%v err=%v", v, found, err)
	}

	// databases are independent
	if _, found, _ := e.Get(1, "k"); found {
		t.Error("key leaked into another database")
	}

	existed, err := e.Delete(0, "k")
	if err != nil || !existed {
		t.Fatalf("Delete: existed=%v err=%v", existed, err)
	}
	if existed, _ := e.Delete(0, "k"); existed {
		t.Error("second delete should report missing")
	}
}

func TestIncrBy(t *testing.T) {
	e := NewMemoryEngine(nil)

	n, err := e.IncrBy(0, "n", 5)
	if err != nil || n != 5 {
		t.Fatalf("IncrBy on missing key: n=%d err=%v", n, err)
	}
	n, err = e.IncrBy(0, "n", -7)
	if err != nil || n != -2 {
		t.Fatalf("IncrBy: n=%d err=%v", n, err)
	}

	_ = e.Set(0, "s", []byte("abc"))
	if _, err := e.IncrBy(0, "s", 1); CodeOf(err) != RetCInvalidInt {
		t.Errorf("IncrBy on non-integer: got %v", err)
	}

	_ = e.Set(0, "max", []byte("9223372036854775807"))
	if _, err := e.IncrBy(0, "max", 1); CodeOf(err) != RetCOverflow {
		t.Errorf("IncrBy overflow: got %v", err)
	}
}

func TestIncrByConcurrent(t *testing.T) {
	e := NewMemoryEngine(nil)

	const workers = 8
	const perWorker = 500
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := e.IncrBy(0, "ctr", 1); err != nil {
					t.Errorf("IncrBy: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	v, found, err := e.Get(0, "ctr")
	if err != nil || !found {
		t.Fatalf("Get ctr: found=%v err=%v", found, err)
	}
	if string(v) != "4000" {
		t.Errorf("ctr = %s, want 4000", v)
	}
}

func TestListOps(t *testing.T) {
	e := NewMemoryEngine(nil)

	n, err := e.ListPush(0, "l", [][]byte{[]byte("a"), []byte("b")}, false)
	if err != nil || n != 2 {
		t.Fatalf("ListPush: n=%d err=%v", n, err)
	}
	n, err = e.ListPush(0, "l", [][]byte{[]byte("z")}, true)
	if err != nil || n != 3 {
		t.Fatalf("ListPush left: n=%d err=%v", n, err)
	}

	if n, _ := e.ListLen(0, "l"); n != 3 {
		t.Errorf("ListLen = %d, want 3", n)
	}

	v, found, err := e.ListPop(0, "l", true)
	if err != nil || !found || string(v) != "z" {
		t.Fatalf("ListPop left: v=%q found=%v err=%v", v, found, err)
	}
	v, _, _ = e.ListPop(0, "l", false)
	if string(v) != "b" {
		t.Errorf("ListPop right = %q, want b", v)
	}
	_, _, _ = e.ListPop(0, "l", true)

	// empty list is removed entirely
	if found, _ := e.Exists(0, "l"); found {
		t.Error("drained list should be deleted")
	}
	if _, found, _ := e.ListPop(0, "l", true); found {
		t.Error("pop from missing key should report not found")
	}
}

func TestWrongTypeErrors(t *testing.T) {
	e := NewMemoryEngine(nil)
	_ = e.Set(0, "s", []byte("v"))
	_, _ = e.ListPush(0, "l", [][]byte{[]byte("a")}, false)

	if _, _, err := e.Get(0, "l"); CodeOf(err) != RetCWrongType {
		t.Errorf("Get on list: got %v", err)
	}
	if _, err := e.ListPush(0, "s", [][]byte{[]byte("x")}, false); CodeOf(err) != RetCWrongType {
		t.Errorf("ListPush on string: got %v", err)
	}
	if _, _, err := e.ListPop(0, "s", true); CodeOf(err) != RetCWrongType {
		t.Errorf("ListPop on string: got %v", err)
	}
	if _, err := e.ListLen(0, "s"); CodeOf(err) != RetCWrongType {
		t.Errorf("ListLen on string: got %v", err)
	}
}

func TestWriteHook(t *testing.T) {
	var mu sync.Mutex
	var events []string
	e := NewMemoryEngine(&Options{OnWrite: func(db int, key string) {
		mu.Lock()
		events = append(events, key)
		mu.Unlock()
	}})

	_ = e.Set(0, "a", []byte("1"))
	_, _ = e.IncrBy(0, "b", 1)
	_, _ = e.ListPush(0, "c", [][]byte{[]byte("x")}, false)
	_, _ = e.Delete(0, "a")
	_, _ = e.Delete(0, "missing") // no-op, no event
	_, _, _ = e.Get(0, "b")       // read, no event

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c", "a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestFlushDBFiresWriteHook(t *testing.T) {
	var mu sync.Mutex
	events := make(map[string]int)
	e := NewMemoryEngine(&Options{OnWrite: func(db int, key string) {
		mu.Lock()
		events[key]++
		mu.Unlock()
	}})

	_ = e.Set(0, "a", []byte("1"))
	_ = e.Set(0, "b", []byte("2"))
	_ = e.Set(1, "other", []byte("3"))
	mu.Lock()
	events = make(map[string]int)
	mu.Unlock()

	if err := e.FlushDB(0); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if events["a"] != 1 || events["b"] != 1 {
		t.Errorf("flushed keys not reported: %v", events)
	}
	if events["other"] != 0 {
		t.Error("flush of db 0 reported a key from db 1")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := NewMemoryEngine(&Options{Databases: 4})
	_ = e.Set(0, "k1", []byte("v1"))
	_ = e.Set(2, "k2", []byte("v2"))
	_, _ = e.ListPush(0, "l", [][]byte{[]byte("a"), []byte("b")}, false)

	var buf bytes.Buffer
	if err := e.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := NewMemoryEngine(&Options{Databases: 4})
	_ = restored.Set(1, "stale", []byte("x")) // must be flushed by Load
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if v, found, _ := restored.Get(0, "k1"); !found || string(v) != "v1" {
		t.Errorf("k1 = %q found=%v", v, found)
	}
	if v, found, _ := restored.Get(2, "k2"); !found || string(v) != "v2" {
		t.Errorf("k2 = %q found=%v", v, found)
	}
	if n, _ := restored.ListLen(0, "l"); n != 2 {
		t.Errorf("list length = %d, want 2", n)
	}
	if found, _ := restored.Exists(1, "stale"); found {
		t.Error("Load should replace existing state")
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	e := NewMemoryEngine(nil)
	if err := e.Load(bytes.NewReader([]byte("not a snapshot"))); err == nil {
		t.Error("expected error for garbage stream")
	}
}
