package services

import (
	"testing"

	"aiconsole/internal/models"
)

type recordingRelay struct {
	refs []string
	all  int
}

func (r *recordingRelay) PublishToRef(msg models.ServerMessage, ref models.AnyRef, exceptConnID string) {
	r.refs = append(r.refs, ref.Key())
}

func (r *recordingRelay) PublishToAll(msg models.ServerMessage) { r.all++ }

func TestConnectionManager_DeliverToRefFollowsSubscriptions(t *testing.T) {
	cm := NewConnectionManager()

	chatWatcher := models.NewConnection("conn-chat", nil, 4)
	chatWatcher.Subscribe(models.AssetRef("c1"))
	cm.Add(chatWatcher)

	otherWatcher := models.NewConnection("conn-other", nil, 4)
	otherWatcher.Subscribe(models.AssetRef("c2"))
	cm.Add(otherWatcher)

	msg := models.ServerMessage{Type: "asset_mutation"}
	delivered := cm.DeliverToRef(msg, messageRef("c1"), "")
	if delivered != 1 {
		t.Errorf("Expected 1 delivery, got %d", delivered)
	}
	if len(chatWatcher.WriteChan) != 1 {
		t.Errorf("Expected message queued for conn-chat, got %d", len(chatWatcher.WriteChan))
	}
	if len(otherWatcher.WriteChan) != 0 {
		t.Errorf("Expected nothing for conn-other, got %d", len(otherWatcher.WriteChan))
	}

	if delivered := cm.DeliverToRef(msg, messageRef("c1"), "conn-chat"); delivered != 0 {
		t.Errorf("Expected the excepted connection to be skipped, got %d deliveries", delivered)
	}

	chatWatcher.Unsubscribe(models.AssetRef("c1"))
	if delivered := cm.DeliverToRef(msg, messageRef("c1"), ""); delivered != 0 {
		t.Errorf("Expected no delivery after unsubscribe, got %d", delivered)
	}
}

func TestConnectionManager_FullQueueDoesNotBlock(t *testing.T) {
	cm := NewConnectionManager()
	conn := models.NewConnection("conn-1", nil, 1)
	cm.Add(conn)

	if n := cm.DeliverToAll(models.ServerMessage{Type: "pong"}); n != 1 {
		t.Fatalf("Expected first message delivered, got %d", n)
	}
	if n := cm.DeliverToAll(models.ServerMessage{Type: "pong"}); n != 0 {
		t.Errorf("Expected second message dropped on a full queue, got %d", n)
	}
}

func TestConnectionManager_RemoveClosesConnection(t *testing.T) {
	cm := NewConnectionManager()
	conn := models.NewConnection("conn-1", nil, 4)
	cm.Add(conn)

	cm.Remove("conn-1")

	if cm.Count() != 0 {
		t.Errorf("Expected 0 connections, got %d", cm.Count())
	}
	if !conn.IsClosed() {
		t.Error("Expected connection marked closed")
	}
	if conn.TrySend(models.ServerMessage{Type: "pong"}) {
		t.Error("Expected send on a removed connection to fail")
	}
	// Removing twice is a no-op.
	cm.Remove("conn-1")
}

func TestConnectionManager_RelaysBroadcasts(t *testing.T) {
	cm := NewConnectionManager()
	relay := &recordingRelay{}
	cm.SetRelay(relay)

	cm.SendToRef(models.ServerMessage{Type: "asset_mutation"}, models.AssetRef("c1"), "")
	cm.SendToAll(models.ServerMessage{Type: "assets_updated"})

	if len(relay.refs) != 1 || relay.refs[0] != models.AssetRef("c1").Key() {
		t.Errorf("Expected one relayed ref broadcast for c1, got %v", relay.refs)
	}
	if relay.all != 1 {
		t.Errorf("Expected one relayed broadcast to all, got %d", relay.all)
	}
}
