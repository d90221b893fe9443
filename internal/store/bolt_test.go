package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func newTestJournal(t *testing.T, maxFrames int) *Journal {
	t.Helper()
	dir := t.TempDir()
	j, err := OpenJournal(filepath.Join(dir, "test.db"), maxFrames, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalAppendGet(t *testing.T) {
	j := newTestJournal(t, 0)

	seq, err := j.Append(`{"c":"loginok"}`)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}

	f, err := j.Get(seq)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f.Text != `{"c":"loginok"}` {
		t.Errorf("Text = %q", f.Text)
	}
	if f.Seq != 1 {
		t.Errorf("Seq = %d", f.Seq)
	}
	if f.At.IsZero() {
		t.Error("At not set")
	}
}

func TestJournalGetMissing(t *testing.T) {
	j := newTestJournal(t, 0)
	_, err := j.Get(42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestJournalEachInOrder(t *testing.T) {
	j := newTestJournal(t, 0)
	for i := range 12 {
		j.HandleMessage(fmt.Sprintf("frame-%d", i))
	}

	var got []string
	err := j.Each(func(f Frame) error {
		got = append(got, f.Text)
		return nil
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("got %d frames, want 12", len(got))
	}
	// frame-10 must come after frame-9: keys sort numerically, not lexically.
	for i, text := range got {
		if want := fmt.Sprintf("frame-%d", i); text != want {
			t.Errorf("got[%d] = %q, want %q", i, text, want)
		}
	}
}

func TestJournalEachStops(t *testing.T) {
	j := newTestJournal(t, 0)
	for range 3 {
		j.Append("x")
	}
	stop := errors.New("stop")
	n := 0
	err := j.Each(func(Frame) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("err = %v, want stop", err)
	}
	if n != 1 {
		t.Errorf("visited %d frames, want 1", n)
	}
}

func TestJournalTrim(t *testing.T) {
	j := newTestJournal(t, 0)
	for i := range 10 {
		j.Append(fmt.Sprintf("f%d", i))
	}

	deleted, err := j.Trim(4)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if deleted != 6 {
		t.Errorf("deleted = %d, want 6", deleted)
	}
	n, _ := j.Len()
	if n != 4 {
		t.Errorf("Len = %d, want 4", n)
	}

	if _, err := j.Get(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest frame still present: %v", err)
	}
	f, err := j.Get(10)
	if err != nil || f.Text != "f9" {
		t.Errorf("newest frame = %+v, %v", f, err)
	}

	if deleted, _ := j.Trim(100); deleted != 0 {
		t.Errorf("Trim above size deleted %d", deleted)
	}
}

func TestJournalAutoTrim(t *testing.T) {
	j := newTestJournal(t, 10)
	for i := range 25 {
		j.Append(fmt.Sprintf("f%d", i))
	}
	n, err := j.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n > 11 {
		t.Errorf("Len = %d, want at most 11", n)
	}

	var last string
	j.Each(func(f Frame) error {
		last = f.Text
		return nil
	})
	if last != "f24" {
		t.Errorf("last = %q, want f24", last)
	}
}

func TestJournalReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	j, err := OpenJournal(path, 0, logger)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	j.Append("a")
	j.Append("b")
	j.Close()

	j, err = OpenJournal(path, 0, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	seq, _ := j.Append("c")
	if seq != 3 {
		t.Errorf("seq after reopen = %d, want 3", seq)
	}
}
