package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// runCheckpointerContract exercises the behavior every Checkpointer
// must share. Each backend test wires its own instance in.
func runCheckpointerContract(t *testing.T, cp Checkpointer) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown thread", func(t *testing.T) {
		if _, err := cp.Latest(ctx, "no-such-thread"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Latest: got %v, want ErrNotFound", err)
		}
		if _, err := cp.LoadByID(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
			t.Errorf("LoadByID: got %v, want ErrNotFound", err)
		}
		list, err := cp.List(ctx, "no-such-thread")
		if err != nil {
			t.Errorf("List: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("List: got %d checkpoints, want 0", len(list))
		}
	})

	t.Run("save assigns identity", func(t *testing.T) {
		id, err := cp.Save(ctx, &Checkpoint{
			ThreadID: "c-identity",
			Step:     0,
			State:    map[string]any{"k": "v"},
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if id == "" {
			t.Fatal("empty checkpoint id")
		}

		loaded, err := cp.LoadByID(ctx, id)
		if err != nil {
			t.Fatalf("LoadByID: %v", err)
		}
		if loaded.ID != id || loaded.ThreadID != "c-identity" {
			t.Errorf("loaded = %+v", loaded)
		}
		if loaded.CreatedAt.IsZero() {
			t.Error("CreatedAt not assigned")
		}
	})

	t.Run("chain and ordering", func(t *testing.T) {
		var parent string
		for step := 0; step < 3; step++ {
			id, err := cp.Save(ctx, &Checkpoint{
				ThreadID: "c-chain",
				ParentID: parent,
				Step:     step,
				State:    map[string]any{"step": step},
			})
			if err != nil {
				t.Fatalf("Save step %d: %v", step, err)
			}
			parent = id
		}

		latest, err := cp.Latest(ctx, "c-chain")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if latest.Step != 2 {
			t.Errorf("latest step = %d, want 2", latest.Step)
		}

		list, err := cp.List(ctx, "c-chain")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("got %d checkpoints, want 3", len(list))
		}
		for i, wantStep := range []int{2, 1, 0} {
			if list[i].Step != wantStep {
				t.Errorf("list[%d].Step = %d, want %d (most recent first)", i, list[i].Step, wantStep)
			}
		}
		if list[0].ParentID != list[1].ID || list[1].ParentID != list[2].ID {
			t.Error("parent links broken")
		}
	})

	t.Run("pause fields round trip", func(t *testing.T) {
		id, err := cp.Save(ctx, &Checkpoint{
			ThreadID:     "c-pause",
			Step:         2,
			State:        map[string]any{"draft": "v1", "count": float64(3), "tags": []any{"a", "b"}},
			PendingNodes: []string{"approve", "publish"},
			Pause:        PauseBefore,
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}

		loaded, err := cp.LoadByID(ctx, id)
		if err != nil {
			t.Fatalf("LoadByID: %v", err)
		}
		if loaded.Pause != PauseBefore {
			t.Errorf("pause = %q, want before", loaded.Pause)
		}
		if !reflect.DeepEqual(loaded.PendingNodes, []string{"approve", "publish"}) {
			t.Errorf("pending = %v", loaded.PendingNodes)
		}
		want := map[string]any{"draft": "v1", "count": float64(3), "tags": []any{"a", "b"}}
		if !reflect.DeepEqual(loaded.State, want) {
			t.Errorf("state = %v, want %v", loaded.State, want)
		}
	})

	t.Run("thread isolation", func(t *testing.T) {
		for _, thread := range []string{"c-iso-1", "c-iso-2"} {
			if _, err := cp.Save(ctx, &Checkpoint{
				ThreadID: thread,
				State:    map[string]any{"owner": thread},
			}); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}

		latest, err := cp.Latest(ctx, "c-iso-1")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if latest.State["owner"] != "c-iso-1" {
			t.Errorf("cross-thread leak: %v", latest.State)
		}
	})

	t.Run("loaded state is a copy", func(t *testing.T) {
		id, err := cp.Save(ctx, &Checkpoint{
			ThreadID: "c-copy",
			State:    map[string]any{"k": "original"},
		})
		if err != nil {
			t.Fatalf("Save: %v", err)
		}

		first, err := cp.LoadByID(ctx, id)
		if err != nil {
			t.Fatalf("LoadByID: %v", err)
		}
		first.State["k"] = "mutated"

		second, err := cp.LoadByID(ctx, id)
		if err != nil {
			t.Fatalf("LoadByID: %v", err)
		}
		if second.State["k"] != "original" {
			t.Error("mutation through a loaded checkpoint reached the store")
		}
	})

	t.Run("delete", func(t *testing.T) {
		var ids []string
		for i := 0; i < 2; i++ {
			id, err := cp.Save(ctx, &Checkpoint{
				ThreadID: "c-del",
				Step:     i,
				State:    map[string]any{},
			})
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			ids = append(ids, id)
		}

		if err := cp.Delete(ctx, "c-del"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := cp.Latest(ctx, "c-del"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Latest after delete: got %v, want ErrNotFound", err)
		}
		for _, id := range ids {
			if _, err := cp.LoadByID(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Errorf("LoadByID(%s) after delete: got %v, want ErrNotFound", id, err)
			}
		}
	})

	t.Run("concurrent threads", func(t *testing.T) {
		done := make(chan error, 4)
		for w := 0; w < 4; w++ {
			go func(w int) {
				thread := fmt.Sprintf("c-conc-%d", w)
				for step := 0; step < 5; step++ {
					if _, err := cp.Save(ctx, &Checkpoint{
						ThreadID: thread,
						Step:     step,
						State:    map[string]any{"w": w},
					}); err != nil {
						done <- err
						return
					}
				}
				done <- nil
			}(w)
		}
		for w := 0; w < 4; w++ {
			if err := <-done; err != nil {
				t.Fatalf("concurrent save: %v", err)
			}
		}
		for w := 0; w < 4; w++ {
			list, err := cp.List(ctx, fmt.Sprintf("c-conc-%d", w))
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(list) != 5 {
				t.Errorf("thread %d: got %d checkpoints, want 5", w, len(list))
			}
		}
	})
}
