package auth

import (
	"context"
	"testing"
)

func TestWithUserID(t *testing.T) {
	ctx := WithUserID(context.Background(), 7)
	if UserID(ctx) != 7 {
		t.Errorf("UserID = %d, want 7", UserID(ctx))
	}
}

func TestUserIDMissing(t *testing.T) {
	if UserID(context.Background()) != 0 {
		t.Error("expected 0 for missing context")
	}
}
