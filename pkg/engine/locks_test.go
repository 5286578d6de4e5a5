package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openfroyo/webplane/pkg/errdefs"
	"github.com/openfroyo/webplane/pkg/model"
)

func TestSubtreeLocks(t *testing.T) {
	l := newSubtreeLocks()
	ctx := context.Background()

	hold, err := l.acquire(ctx, []model.Address{connAddr("http")})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	other, err := l.acquire(ctx, []model.Address{connAddr("ajp")})
	if err != nil {
		t.Fatalf("Expected a disjoint subtree to be lockable: %v", err)
	}
	other.release()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := l.acquire(short, []model.Address{webAddr}); !errors.Is(err, errdefs.ErrTimeout) {
		t.Fatalf("Expected an ancestor lock to time out, got %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		rel, err := l.acquire(ctx, []model.Address{connAddr("http").Append(model.Element("configuration", "ssl"))})
		if err == nil {
			rel.release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Expected a descendant lock to wait")
	case <-time.After(20 * time.Millisecond):
	}

	hold.release()
	hold.release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Expected the waiting lock to be granted after release")
	}
}

func TestSubtreeLocks_Extend(t *testing.T) {
	l := newSubtreeLocks()
	ctx := context.Background()

	hold, err := l.acquire(ctx, []model.Address{connAddr("http")})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer hold.release()

	// already covered
	if err := hold.extend(ctx, connAddr("http").Append(model.Element("configuration", "ssl"))); err != nil {
		t.Fatalf("Expected a descendant of a held subtree to be covered: %v", err)
	}

	other, err := l.acquire(ctx, []model.Address{connAddr("ajp")})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := hold.extend(short, webAddr); !errors.Is(err, errdefs.ErrTimeout) {
		t.Fatalf("Expected extending over another operation's subtree to time out, got %v", err)
	}

	extended := make(chan error, 1)
	go func() { extended <- hold.extend(ctx, webAddr) }()
	select {
	case err := <-extended:
		t.Fatalf("Expected the extension to wait, got %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	other.release()
	select {
	case err := <-extended:
		if err != nil {
			t.Fatalf("extend failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected the extension to be granted after release")
	}

	// The ancestor is now held, so nothing below it can be taken.
	short2, cancel2 := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel2()
	if _, err := l.acquire(short2, []model.Address{connAddr("ajp")}); !errors.Is(err, errdefs.ErrTimeout) {
		t.Fatalf("Expected the extended hold to block its subtree, got %v", err)
	}
}
