package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"lanchat/models"
)

func TestPeerDirectoryInsertIfAbsent(t *testing.T) {
	peers := NewPeerDirectory()

	if !peers.Add(models.Peer{Nickname: "bob", IP: "10.0.0.2", Port: 5000}) {
		t.Fatalf("expected first add to insert")
	}
	if peers.Add(models.Peer{Nickname: "bob", IP: "10.0.0.9", Port: 6000}) {
		t.Fatalf("expected second add with same nickname to be rejected")
	}

	got, err := peers.Get("bob")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.IP != "10.0.0.2" || got.Port != 5000 {
		t.Fatalf("expected original entry to be kept, got %+v", got)
	}
	if peers.Len() != 1 {
		t.Fatalf("expected 1 peer, got %d", peers.Len())
	}
}

func TestPeerDirectoryConcurrentAddsYieldOneEntry(t *testing.T) {
	peers := NewPeerDirectory()

	var inserted sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		inserted.Add(1)
		go func(i int) {
			defer inserted.Done()
			if peers.Add(models.Peer{Nickname: "carol", IP: fmt.Sprintf("10.0.0.%d", i), Port: 7000}) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	inserted.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winning insert, got %d", wins)
	}
	if peers.Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", peers.Len())
	}
}

func TestPeerDirectoryRemoveAndList(t *testing.T) {
	peers := NewPeerDirectory()
	peers.Add(models.Peer{Nickname: "zed", IP: "10.0.0.3", Port: 1})
	peers.Add(models.Peer{Nickname: "amy", IP: "10.0.0.4", Port: 2})

	list := peers.List()
	if len(list) != 2 || list[0].Nickname != "amy" || list[1].Nickname != "zed" {
		t.Fatalf("unexpected list order: %+v", list)
	}

	removed, ok := peers.Remove("zed")
	if !ok || removed.Nickname != "zed" {
		t.Fatalf("expected zed to be removed, got %+v ok=%v", removed, ok)
	}
	if _, ok := peers.Remove("zed"); ok {
		t.Fatalf("expected second remove to report absence")
	}
	if _, err := peers.Get("zed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPeerDirectoryRejectsEmptyNickname(t *testing.T) {
	peers := NewPeerDirectory()
	if peers.Add(models.Peer{Nickname: "  ", IP: "10.0.0.1", Port: 1}) {
		t.Fatalf("expected blank nickname to be rejected")
	}
}
