package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"transparencyd/internal/identity"
	"transparencyd/internal/state"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAndClose(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestEnabledFlag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Read(ctx, func(tx *ReadTx) error {
		enabled, err := tx.IsEnabled()
		if err != nil {
			return err
		}
		if enabled {
			t.Error("expected disabled before any write")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	err = s.Write(ctx, func(tx *WriteTx) error {
		return tx.SetEnabled(true)
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	err = s.Read(ctx, func(tx *ReadTx) error {
		enabled, err := tx.IsEnabled()
		if err != nil {
			return err
		}
		if !enabled {
			t.Error("expected enabled after write")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
}

func TestSelfCheckStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Read(ctx, func(tx *ReadTx) error {
		_, present, err := tx.SelfCheckState()
		if err != nil {
			return err
		}
		if present {
			t.Error("expected absent state before any write")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	for _, st := range []state.SelfCheck{
		state.Succeeded, state.FailedOnce, state.FailedRepeatedly, state.FailedRepeatedlyAndWarned,
	} {
		err = s.Write(ctx, func(tx *WriteTx) error {
			return tx.SetSelfCheckState(st)
		})
		if err != nil {
			t.Fatalf("SetSelfCheckState(%v) failed: %v", st, err)
		}

		err = s.Read(ctx, func(tx *ReadTx) error {
			got, present, err := tx.SelfCheckState()
			if err != nil {
				return err
			}
			if !present {
				t.Errorf("state %v not present after write", st)
			}
			if got != st {
				t.Errorf("state mismatch: wrote %v, read %v", st, got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}

	err = s.Write(ctx, func(tx *WriteTx) error {
		return tx.ClearSelfCheckState()
	})
	if err != nil {
		t.Fatalf("ClearSelfCheckState failed: %v", err)
	}
	err = s.Read(ctx, func(tx *ReadTx) error {
		_, present, err := tx.SelfCheckState()
		if err != nil {
			return err
		}
		if present {
			t.Error("expected absent state after clear")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
}

func TestCorruptSelfCheckStateFailsLoudly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Write a raw value outside the known set directly.
	err := s.Write(ctx, func(tx *WriteTx) error {
		return tx.setValue(collectionCheck, keySelfCheckState, []byte{0, 0, 0, 0, 0, 0, 0, 99})
	})
	if err != nil {
		t.Fatalf("raw write failed: %v", err)
	}

	err = s.Read(ctx, func(tx *ReadTx) error {
		_, _, err := tx.SelfCheckState()
		return err
	})
	if err == nil {
		t.Fatal("expected error for unknown stored value")
	}
	if !errors.Is(err, state.ErrCorruptState) {
		t.Errorf("expected ErrCorruptState, got %v", err)
	}
}

func TestDistinguishedTreeHead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Read(ctx, func(tx *ReadTx) error {
		head, err := tx.DistinguishedTreeHead()
		if err != nil {
			return err
		}
		if head != nil {
			t.Error("expected nil head before any write")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	first := []byte{1, 2, 3}
	second := []byte{4, 5, 6, 7}
	for _, head := range [][]byte{first, second} {
		err = s.Write(ctx, func(tx *WriteTx) error {
			return tx.SetDistinguishedTreeHead(head)
		})
		if err != nil {
			t.Fatalf("SetDistinguishedTreeHead failed: %v", err)
		}
	}

	// Latest write wins.
	err = s.Read(ctx, func(tx *ReadTx) error {
		head, err := tx.DistinguishedTreeHead()
		if err != nil {
			return err
		}
		if string(head) != string(second) {
			t.Errorf("head mismatch: got %v, want %v", head, second)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
}

func TestAccountData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	aci := identity.ACI{1, 2, 3, 4}
	other := identity.ACI{9, 9, 9}

	err := s.Read(ctx, func(tx *ReadTx) error {
		blob, err := tx.AccountData(aci)
		if err != nil {
			return err
		}
		if blob != nil {
			t.Error("expected nil blob for unenrolled account")
		}
		has, err := tx.HasAccountData(aci)
		if err != nil {
			return err
		}
		if has {
			t.Error("expected HasAccountData false for unenrolled account")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	err = s.Write(ctx, func(tx *WriteTx) error {
		if err := tx.SetAccountData(aci, []byte("blob-1")); err != nil {
			return err
		}
		return tx.SetAccountData(other, []byte("blob-2"))
	})
	if err != nil {
		t.Fatalf("SetAccountData failed: %v", err)
	}

	err = s.Read(ctx, func(tx *ReadTx) error {
		blob, err := tx.AccountData(aci)
		if err != nil {
			return err
		}
		if string(blob) != "blob-1" {
			t.Errorf("blob mismatch: got %q", blob)
		}
		n, err := tx.CountAccountData()
		if err != nil {
			return err
		}
		if n != 2 {
			t.Errorf("expected 2 enrolled accounts, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	err = s.Write(ctx, func(tx *WriteTx) error {
		return tx.DeleteAllAccountData()
	})
	if err != nil {
		t.Fatalf("DeleteAllAccountData failed: %v", err)
	}
	err = s.Read(ctx, func(tx *ReadTx) error {
		n, err := tx.CountAccountData()
		if err != nil {
			return err
		}
		if n != 0 {
			t.Errorf("expected 0 enrolled accounts after delete, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
}

func TestScheduleBookkeeping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Read(ctx, func(tx *ReadTx) error {
		_, _, ok, err := tx.LastSelfCheck()
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected no schedule record before any write")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	now := time.Now().Truncate(time.Nanosecond)
	err = s.Write(ctx, func(tx *WriteTx) error {
		return tx.SetLastSelfCheck(now, 24*time.Hour)
	})
	if err != nil {
		t.Fatalf("SetLastSelfCheck failed: %v", err)
	}

	err = s.Read(ctx, func(tx *ReadTx) error {
		at, override, ok, err := tx.LastSelfCheck()
		if err != nil {
			return err
		}
		if !ok {
			t.Fatal("expected schedule record")
		}
		if !at.Equal(now) {
			t.Errorf("timestamp mismatch: got %v, want %v", at, now)
		}
		if override != 24*time.Hour {
			t.Errorf("override mismatch: got %v", override)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	// Zero override clears the stored interval.
	err = s.Write(ctx, func(tx *WriteTx) error {
		return tx.SetLastSelfCheck(now, 0)
	})
	if err != nil {
		t.Fatalf("SetLastSelfCheck failed: %v", err)
	}
	err = s.Read(ctx, func(tx *ReadTx) error {
		_, override, _, err := tx.LastSelfCheck()
		if err != nil {
			return err
		}
		if override != 0 {
			t.Errorf("expected cleared override, got %v", override)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	err = s.Write(ctx, func(tx *WriteTx) error {
		return tx.ClearSchedule()
	})
	if err != nil {
		t.Fatalf("ClearSchedule failed: %v", err)
	}
	err = s.Read(ctx, func(tx *ReadTx) error {
		_, _, ok, err := tx.LastSelfCheck()
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected no schedule record after clear")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
}

func TestAfterCommitRunsOnlyOnCommit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var order []int
	err := s.Write(ctx, func(tx *WriteTx) error {
		tx.AfterCommit(func() { order = append(order, 1) })
		tx.AfterCommit(func() { order = append(order, 2) })
		if len(order) != 0 {
			t.Error("hooks must not run before commit")
		}
		return tx.SetEnabled(true)
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("hooks ran out of order: %v", order)
	}

	// A failed transaction must not run hooks.
	ran := false
	boom := errors.New("boom")
	err = s.Write(ctx, func(tx *WriteTx) error {
		tx.AfterCommit(func() { ran = true })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback error, got %v", err)
	}
	if ran {
		t.Error("hook ran despite rollback")
	}
}

func TestFirstTimeEducationDefaultsDue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Read(ctx, func(tx *ReadTx) error {
		show, err := tx.ShouldShowFirstTimeEducation()
		if err != nil {
			return err
		}
		if !show {
			t.Error("education should be due before any write")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	err = s.Write(ctx, func(tx *WriteTx) error {
		return tx.SetShouldShowFirstTimeEducation(false)
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	err = s.Read(ctx, func(tx *ReadTx) error {
		show, err := tx.ShouldShowFirstTimeEducation()
		if err != nil {
			return err
		}
		if show {
			t.Error("education should not be due after being marked shown")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
}
