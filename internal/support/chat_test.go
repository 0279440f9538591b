package support

import (
	"errors"
	"testing"
	"time"

	"github.com/example/hilbu/internal/apperr"
)

func TestChatRepliesAfterDelay(t *testing.T) {
	c := NewChat(10 * time.Millisecond)
	defer c.Close()

	if msgs := c.Messages(); len(msgs) != 1 || msgs[0].Text != Greeting || msgs[0].FromUser {
		t.Fatalf("unexpected initial messages %+v", msgs)
	}
	if _, err := c.Send("my car broke down"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if msgs := c.Messages(); len(msgs) != 2 || !msgs[1].FromUser {
		t.Fatalf("user message should appear immediately, got %+v", msgs)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(c.Messages()) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("no reply received")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if last := c.Messages()[2]; last.Text != CannedReply || last.FromUser {
		t.Fatalf("unexpected reply %+v", last)
	}
}

func TestChatRejectsBlank(t *testing.T) {
	c := NewChat(time.Hour)
	defer c.Close()
	if _, err := c.Send("   "); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(c.Messages()) != 1 {
		t.Fatal("blank message must not be stored")
	}
}

func TestCloseDropsPendingReplies(t *testing.T) {
	c := NewChat(20 * time.Millisecond)
	_, _ = c.Send("hello")
	c.Close()
	time.Sleep(60 * time.Millisecond)
	if n := len(c.Messages()); n != 2 {
		t.Fatalf("expected no reply after close, got %d messages", n)
	}
}

func TestDeskKeepsOneChatPerUser(t *testing.T) {
	d := NewDesk(time.Hour)
	defer d.Close()
	if d.For("u1") != d.For("u1") {
		t.Fatal("expected the same chat for the same user")
	}
	if d.For("u1") == d.For("u2") {
		t.Fatal("users must not share a chat")
	}
}
