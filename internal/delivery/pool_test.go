package delivery

import (
	"testing"

	"github.com/google/uuid"
)

func TestSubscriptionLimiter(t *testing.T) {
	lim := newSubscriptionLimiter(2)
	a, b := uuid.New(), uuid.New()

	if !lim.tryAcquire(a) || !lim.tryAcquire(a) {
		t.Fatal("tryAcquire() failed below the cap")
	}
	if lim.tryAcquire(a) {
		t.Error("tryAcquire() succeeded above the cap")
	}
	// Another subscription has its own cap.
	if !lim.tryAcquire(b) {
		t.Error("tryAcquire() for a different subscription blocked by the first")
	}

	lim.release(a)
	if !lim.tryAcquire(a) {
		t.Error("tryAcquire() failed after release freed a slot")
	}
}
