//go:build !integration

package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"payportal/internal/domain/ports/adapter"
)

func TestVerifier(t *testing.T) {
	ctx := context.Background()

	t.Run("should auto-confirm unmarked references", func(t *testing.T) {
		r, err := New().CheckTransaction(ctx, 1, "0xany")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !r.Found || r.Reverted || r.Confirmations != AutoConfirmations || !r.SkipTermsCheck {
			t.Errorf("unexpected receipt %+v", r)
		}
	})

	t.Run("should honor forced states", func(t *testing.T) {
		v := New()
		v.MarkPending("p")
		v.MarkFailed("f")
		v.MarkUnknown("u")

		if r, _ := v.CheckTransaction(ctx, 1, "p"); !r.Found || r.Confirmations != 0 {
			t.Errorf("pending: unexpected receipt %+v", r)
		}
		if r, _ := v.CheckTransaction(ctx, 1, "f"); !r.Reverted {
			t.Errorf("failed: unexpected receipt %+v", r)
		}
		if _, err := v.CheckTransaction(ctx, 1, "u"); !errors.Is(err, adapter.ErrUnknownTransaction) {
			t.Errorf("unknown: expected ErrUnknownTransaction, got %v", err)
		}
	})

	t.Run("should match hex references regardless of case", func(t *testing.T) {
		v := New()
		v.MarkFailed("0xABCdef")
		v.MarkPending("0xpending")
		if r, _ := v.CheckTransaction(ctx, 1, "0xabcdef"); !r.Reverted {
			t.Errorf("failed: unexpected receipt %+v", r)
		}
		if r, _ := v.CheckTransaction(ctx, 1, "0XABCDEF"); !r.Reverted {
			t.Errorf("failed upper: unexpected receipt %+v", r)
		}
		if r, _ := v.CheckTransaction(ctx, 1, "0xPENDING"); r.SkipTermsCheck || r.Confirmations != 0 {
			t.Errorf("pending: unexpected receipt %+v", r)
		}
	})

	t.Run("should keep base58 references case-sensitive", func(t *testing.T) {
		v := New()
		v.MarkFailed("5VfYd")
		if r, _ := v.CheckTransaction(ctx, 101, "5vfyd"); !r.SkipTermsCheck {
			t.Errorf("expected a different base58 spelling to auto-confirm, got %+v", r)
		}
	})

	t.Run("should return explicit receipts verbatim", func(t *testing.T) {
		v := New()
		want := adapter.Receipt{Found: true, Confirmations: 3, Amount: "0.5", TokenSymbol: "ETH", Recipient: "0xB"}
		v.SetReceipt("r", want)
		if got, _ := v.CheckTransaction(ctx, 1, "r"); got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}
		v.Reset()
		if got, _ := v.CheckTransaction(ctx, 1, "r"); !got.SkipTermsCheck {
			t.Error("expected reset to restore auto-confirm")
		}
	})

	t.Run("should block unavailable references until the deadline", func(t *testing.T) {
		v := New()
		v.MarkUnavailable("slow")
		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, err := v.CheckTransaction(cctx, 1, "slow"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}
