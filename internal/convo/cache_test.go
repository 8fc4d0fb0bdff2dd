package convo

import (
	"path/filepath"
	"testing"

	"github.com/halcyonchat/halcyon/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "halcyon.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"11111111", "22222222"} {
		if err := db.CreateUser(&store.User{Username: n, Password: "Password1"}); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func TestKeyOfIsOrderIndependent(t *testing.T) {
	if KeyOf("u2", "u1") != KeyOf("u1", "u2") {
		t.Error("pair keys must canonicalize")
	}
	if k := KeyOf("u2", "u1"); k.A != "u1" || k.B != "u2" {
		t.Errorf("key = %+v", k)
	}
}

func TestUpdateBothDirectionsSameEntry(t *testing.T) {
	db := openTestDB(t)
	c := NewCache(db)

	id, err := db.InsertMessage(&store.Message{
		Sender: "11111111", Receiver: "22222222", Body: "hi", WriteTime: store.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	m, err := db.GetMessage(id)
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Update("22222222", "11111111", m); err != nil {
		t.Fatal(err)
	}
	e, ok := c.Get("11111111", "22222222")
	if !ok || e.LastMessage == nil || e.LastMessage.ID != id {
		t.Errorf("entry = %+v, ok = %v", e, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestLoadWarmsFromTable(t *testing.T) {
	db := openTestDB(t)
	id, err := db.InsertMessage(&store.Message{
		Sender: "11111111", Receiver: "22222222", Body: "persisted", WriteTime: store.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation("11111111", "22222222", id, store.Now()); err != nil {
		t.Fatal(err)
	}

	c := NewCache(db)
	if err := c.Load(); err != nil {
		t.Fatal(err)
	}
	e, ok := c.Get("22222222", "11111111")
	if !ok || e.LastMessage == nil || e.LastMessage.Body != "persisted" {
		t.Errorf("entry = %+v, ok = %v", e, ok)
	}
}

func TestRederiveAfterDeletion(t *testing.T) {
	db := openTestDB(t)
	c := NewCache(db)

	first, err := db.InsertMessage(&store.Message{
		Sender: "11111111", Receiver: "22222222", Body: "old", WriteTime: store.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.InsertMessage(&store.Message{
		Sender: "22222222", Receiver: "11111111", Body: "new", WriteTime: store.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	m2, _ := db.GetMessage(second)
	if err := c.Update("11111111", "22222222", m2); err != nil {
		t.Fatal(err)
	}

	if _, err := db.DeleteMessages("22222222", []int64{second}); err != nil {
		t.Fatal(err)
	}
	latest, err := c.Rederive("11111111", "22222222")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.ID != first {
		t.Errorf("latest = %+v, want id %d", latest, first)
	}

	if _, err := db.DeleteMessages("11111111", []int64{first}); err != nil {
		t.Fatal(err)
	}
	latest, err = c.Rederive("11111111", "22222222")
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Errorf("latest = %+v, want nil", latest)
	}
	e, ok := c.Get("11111111", "22222222")
	if !ok || e.LastMessage != nil {
		t.Errorf("entry = %+v, ok = %v", e, ok)
	}
}

func TestPreviewText(t *testing.T) {
	cases := []struct {
		m    *store.Message
		want string
	}{
		{nil, ""},
		{&store.Message{Body: "plain text"}, "plain text"},
		{&store.Message{AttachmentType: "image", OriginalFileName: "a.png"}, "[image]"},
		{&store.Message{AttachmentType: "video"}, "[video]"},
		{&store.Message{AttachmentType: "file"}, "[file]"},
	}
	for _, tc := range cases {
		if got := PreviewText(tc.m); got != tc.want {
			t.Errorf("PreviewText(%+v) = %q, want %q", tc.m, got, tc.want)
		}
	}
}
