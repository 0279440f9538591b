package ingest

import (
	"testing"

	"github.com/example/hilbu/internal/models"
)

func TestEventType(t *testing.T) {
	cases := []struct {
		from, to models.RequestStatus
		want     string
	}{
		{"", models.StatusPending, "request.created"},
		{models.StatusPending, models.StatusAccepted, "request.accepted"},
		{models.StatusAccepted, models.StatusCompleted, "request.completed"},
		{models.StatusPending, models.StatusCancelled, "request.cancelled"},
	}
	for _, c := range cases {
		if got := EventType(models.Transition{From: c.from, To: c.to}); got != c.want {
			t.Fatalf("%s→%s: expected %s, got %s", c.from, c.to, c.want, got)
		}
	}
}
