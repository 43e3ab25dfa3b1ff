package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/polzovatel/browser-pilot/internal/host"
)

// Session binds exactly one target for its whole life. The control channel
// is only held for the bracket of one discrete operation.
type Session struct {
	host   host.Host
	target host.TargetID
}

func NewSession(h host.Host, target host.TargetID) *Session {
	return &Session{host: h, target: target}
}

func (s *Session) Target() host.TargetID { return s.target }

// Done is closed once the bound target disappears.
func (s *Session) Done() <-chan struct{} { return s.host.Removed(s.target) }

func (s *Session) Alive() bool {
	select {
	case <-s.Done():
		return false
	default:
		return true
	}
}

// withLease attaches, runs fn, and always detaches, even when ctx is
// already cancelled.
func (s *Session) withLease(ctx context.Context, fn func(host.Lease) error) (err error) {
	if !s.Alive() {
		return host.ErrTargetClosed
	}
	lease, err := s.host.Attach(ctx, s.target)
	if err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	defer func() {
		if derr := lease.Detach(context.WithoutCancel(ctx)); derr != nil && err == nil {
			err = fmt.Errorf("detach: %w", derr)
		}
	}()
	return fn(lease)
}

// eval runs script with arg and decodes the JSON result into out.
func (s *Session) eval(ctx context.Context, script string, arg, out any) error {
	if !s.Alive() {
		return host.ErrTargetClosed
	}
	raw, err := s.host.Evaluate(ctx, s.target, script, arg)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode script result: %w", err)
	}
	return nil
}

func (s *Session) evalRaw(ctx context.Context, script string, arg any) ([]byte, error) {
	if !s.Alive() {
		return nil, host.ErrTargetClosed
	}
	return s.host.Evaluate(ctx, s.target, script, arg)
}

// URL returns the target's current URL.
func (s *Session) URL(ctx context.Context) (string, error) {
	if !s.Alive() {
		return "", host.ErrTargetClosed
	}
	info, err := s.host.Get(ctx, s.target)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (s *Session) navigate(ctx context.Context, url string) error {
	if !s.Alive() {
		return host.ErrTargetClosed
	}
	return s.host.Update(ctx, s.target, url)
}
