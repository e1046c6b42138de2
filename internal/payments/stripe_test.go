package payments

import (
	"context"
	"errors"
	"testing"
)

func TestHoldWithoutKey(t *testing.T) {
	a := NewStripeAuthorizer("", "")
	if a.currency != "xof" {
		t.Fatalf("expected default currency xof, got %q", a.currency)
	}
	if _, err := a.Hold(context.Background(), 1500); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSettleWithoutHoldIsNoop(t *testing.T) {
	a := NewStripeAuthorizer("", "XOF").WithCustomer("cus_1")
	if a.currency != "xof" || a.customerID != "cus_1" {
		t.Fatalf("unexpected authorizer %+v", a)
	}
	if err := a.Capture(context.Background(), ""); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := a.Cancel(context.Background(), ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}
